package scheduling

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/medassist/clinic-scheduling/internal/redis"
)

// Engine books, reschedules, and cancels single appointments against single
// slots. Every operation runs inside one transaction; the per-slot Redis
// lock bounds contention the same way row locks do, so a losing booking
// fails fast instead of queueing on the database.
type Engine struct {
	store   TxStore
	locker  redisclient.Locker
	gateway NotificationGateway
	log     zerolog.Logger
	now     func() time.Time
}

func NewEngine(store TxStore, locker redisclient.Locker, gateway NotificationGateway, log zerolog.Logger) *Engine {
	return &Engine{
		store:   store,
		locker:  locker,
		gateway: gateway,
		log:     log,
		now:     time.Now,
	}
}

type BookInput struct {
	SlotID              uuid.UUID
	PatientID           uuid.UUID
	Notes               string
	ExpectedCheckInTime *time.Time
}

type BookResult struct {
	AppointmentID uuid.UUID
	Status        AppointmentStatus
}

// checkBookable applies the type-specific capacity rule from the slot's
// current state.
func checkBookable(slot *Slot, now time.Time) error {
	if slot.StartTime.Before(now) {
		return ErrSlotInPast
	}
	switch slot.Type {
	case SlotWave:
		if slot.MaxCapacity == nil {
			return ErrWaveCapacityMissing
		}
		if slot.BookedCount >= *slot.MaxCapacity {
			return ErrSlotFullyBooked
		}
	default:
		if !slot.IsAvailable {
			return ErrSlotUnavailable
		}
	}
	return nil
}

// consume marks the slot as holding one more active appointment.
func consume(slot *Slot) {
	if slot.Type == SlotWave {
		slot.BookedCount++
	} else {
		slot.IsAvailable = false
	}
}

// release undoes consume for one active appointment leaving the slot.
func release(slot *Slot) {
	if slot.Type == SlotWave {
		if slot.BookedCount > 0 {
			slot.BookedCount--
		}
	} else {
		slot.IsAvailable = true
	}
}

// Book reserves the slot for the patient and creates a pending appointment
// at the slot's start time.
func (e *Engine) Book(ctx context.Context, in BookInput) (*BookResult, error) {
	// Cheap pre-checks before taking the slot lock.
	slot, err := e.store.GetSlot(ctx, in.SlotID)
	if err != nil {
		return nil, err
	}
	if err := checkBookable(slot, e.now()); err != nil {
		return nil, err
	}

	patient, err := e.store.GetPatient(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}
	doctor, err := e.store.GetDoctor(ctx, slot.DoctorID)
	if err != nil {
		return nil, err
	}

	var (
		created *Appointment
		ev      Event
	)

	err = e.locker.WithSlotLock(ctx, in.SlotID, func(lockCtx context.Context) error {
		return e.store.InTx(lockCtx, func(tx Store) error {
			// Re-check under the row lock: a concurrent booking may have won.
			locked, err := tx.GetSlotForUpdate(lockCtx, in.SlotID)
			if err != nil {
				return err
			}
			if err := checkBookable(locked, e.now()); err != nil {
				return err
			}

			now := e.now()
			appt := &Appointment{
				ID:                  uuid.New(),
				DoctorID:            locked.DoctorID,
				PatientID:           patient.ID,
				SlotID:              &locked.ID,
				AppointmentTime:     locked.StartTime,
				Status:              StatusPending,
				Notes:               in.Notes,
				ExpectedCheckInTime: in.ExpectedCheckInTime,
				CreatedAt:           now,
				UpdatedAt:           now,
			}
			if err := tx.CreateAppointment(lockCtx, appt); err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}

			consume(locked)
			if err := tx.UpdateSlot(lockCtx, locked); err != nil {
				return fmt.Errorf("update slot: %w", err)
			}

			created = appt
			ev = Event{
				Kind:            EventBooked,
				AppointmentID:   appt.ID,
				DoctorID:        locked.DoctorID,
				PatientID:       patient.ID,
				AppointmentTime: locked.Range(),
				PatientEmail:    patient.Email,
				DoctorEmail:     doctor.Email,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	e.notify(ctx, ev)

	return &BookResult{AppointmentID: created.ID, Status: created.Status}, nil
}

// Reschedule moves an active appointment owned by patientID onto newSlotID.
// The old slot is released if it still exists; a slot deleted by a prior
// session adjustment is skipped with a log line rather than failing.
func (e *Engine) Reschedule(ctx context.Context, appointmentID, newSlotID, patientID uuid.UUID) (*Appointment, error) {
	appt, err := e.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.PatientID != patientID {
		return nil, ErrAppointmentNotFound
	}
	if !appt.Status.Active() {
		return nil, ErrNotReschedulable
	}

	newSlot, err := e.store.GetSlot(ctx, newSlotID)
	if err != nil {
		return nil, err
	}
	if err := checkBookable(newSlot, e.now()); err != nil {
		return nil, err
	}

	patient, err := e.store.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	doctor, err := e.store.GetDoctor(ctx, newSlot.DoctorID)
	if err != nil {
		return nil, err
	}

	var (
		updated *Appointment
		ev      Event
	)

	err = e.locker.WithSlotLock(ctx, newSlotID, func(lockCtx context.Context) error {
		return e.store.InTx(lockCtx, func(tx Store) error {
			var oldSlot, lockedNew *Slot

			lockOld := func() error {
				s, err := tx.GetSlotForUpdate(lockCtx, *appt.SlotID)
				switch {
				case err == nil:
					oldSlot = s
				case errors.Is(err, ErrSlotNotFound):
					e.log.Warn().
						Stringer("appointment_id", appt.ID).
						Stringer("old_slot_id", *appt.SlotID).
						Msg("old slot missing during reschedule, likely deleted by a session adjustment")
				default:
					return err
				}
				return nil
			}
			lockNew := func() error {
				s, err := tx.GetSlotForUpdate(lockCtx, newSlotID)
				if err != nil {
					return err
				}
				lockedNew = s
				return nil
			}

			// Take the two row locks in id order so opposing reschedules
			// between the same pair of slots cannot deadlock each other.
			switch {
			case appt.SlotID == nil:
				if err := lockNew(); err != nil {
					return err
				}
			case *appt.SlotID == newSlotID:
				if err := lockOld(); err != nil {
					return err
				}
				if oldSlot == nil {
					return ErrSlotNotFound
				}
				lockedNew = oldSlot
			case bytes.Compare(appt.SlotID[:], newSlotID[:]) < 0:
				if err := lockOld(); err != nil {
					return err
				}
				if err := lockNew(); err != nil {
					return err
				}
			default:
				if err := lockNew(); err != nil {
					return err
				}
				if err := lockOld(); err != nil {
					return err
				}
			}

			var oldRange *TimeRange
			if oldSlot != nil {
				r := oldSlot.Range()
				oldRange = &r
				release(oldSlot)
				if err := tx.UpdateSlot(lockCtx, oldSlot); err != nil {
					return fmt.Errorf("release old slot: %w", err)
				}
			}

			if err := checkBookable(lockedNew, e.now()); err != nil {
				return err
			}
			consume(lockedNew)
			if err := tx.UpdateSlot(lockCtx, lockedNew); err != nil {
				return fmt.Errorf("consume new slot: %w", err)
			}

			appt.SlotID = &lockedNew.ID
			appt.AppointmentTime = lockedNew.StartTime
			appt.Status = StatusRescheduled
			if lockedNew.Type == SlotWave {
				t := lockedNew.StartTime
				appt.ExpectedCheckInTime = &t
			} else {
				appt.ExpectedCheckInTime = nil
			}
			appt.UpdatedAt = e.now()
			if err := tx.UpdateAppointment(lockCtx, appt); err != nil {
				return fmt.Errorf("update appointment: %w", err)
			}

			updated = appt
			newRange := lockedNew.Range()
			ev = Event{
				Kind:            EventRescheduled,
				AppointmentID:   appt.ID,
				DoctorID:        appt.DoctorID,
				PatientID:       appt.PatientID,
				AppointmentTime: newRange,
				PatientEmail:    patient.Email,
				DoctorEmail:     doctor.Email,
				OldRange:        oldRange,
				NewRange:        &newRange,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	e.notify(ctx, ev)

	return updated, nil
}

// Cancel cancels an appointment on behalf of its patient or its doctor and
// releases the slot. Terminal cancelled/completed appointments cannot be
// cancelled again.
func (e *Engine) Cancel(ctx context.Context, appointmentID, actorID uuid.UUID, role ActorRole) (*Appointment, error) {
	appt, err := e.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	switch role {
	case RolePatient:
		if appt.PatientID != actorID {
			return nil, ErrForbidden
		}
	case RoleDoctor:
		if appt.DoctorID != actorID {
			return nil, ErrForbidden
		}
	default:
		return nil, ErrForbidden
	}

	if appt.Status == StatusCancelled || appt.Status == StatusCompleted {
		return nil, ErrAppointmentFinalized
	}

	var ev Event

	err = e.store.InTx(ctx, func(tx Store) error {
		if appt.SlotID != nil {
			slot, err := tx.GetSlotForUpdate(ctx, *appt.SlotID)
			switch {
			case err == nil:
				release(slot)
				if err := tx.UpdateSlot(ctx, slot); err != nil {
					return fmt.Errorf("release slot: %w", err)
				}
			case errors.Is(err, ErrSlotNotFound):
				e.log.Warn().
					Stringer("appointment_id", appt.ID).
					Stringer("slot_id", *appt.SlotID).
					Msg("slot missing during cancellation, likely deleted by a session adjustment")
			default:
				return err
			}
		}

		appt.Status = StatusCancelled
		appt.UpdatedAt = e.now()
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}

		ev = Event{
			Kind:            EventCancelled,
			AppointmentID:   appt.ID,
			DoctorID:        appt.DoctorID,
			PatientID:       appt.PatientID,
			AppointmentTime: TimeRange{Start: appt.AppointmentTime, End: appt.AppointmentTime},
			Reason:          "appointment cancelled by " + string(role),
		}
		if patient, err := tx.GetPatient(ctx, appt.PatientID); err == nil {
			ev.PatientEmail = patient.Email
		}
		if doctor, err := tx.GetDoctor(ctx, appt.DoctorID); err == nil {
			ev.DoctorEmail = doctor.Email
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.notify(ctx, ev)

	return appt, nil
}

// notify dispatches after the transaction committed; failures are logged and
// never surfaced to the caller.
func (e *Engine) notify(ctx context.Context, ev Event) {
	if err := e.gateway.Notify(ctx, ev); err != nil {
		e.log.Warn().Err(err).
			Str("kind", string(ev.Kind)).
			Stringer("appointment_id", ev.AppointmentID).
			Msg("notification dispatch failed")
	}
}

// AppointmentDetail pairs an appointment with its slot. Slot is nil when the
// appointment never referenced one or the slot was deleted by a session
// adjustment.
type AppointmentDetail struct {
	Appointment Appointment
	Slot        *Slot
}

// PatientAppointments returns the patient's appointment history ordered by
// appointment time, each with its slot embedded.
func (e *Engine) PatientAppointments(ctx context.Context, patientID uuid.UUID) ([]AppointmentDetail, error) {
	if _, err := e.store.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}
	appts, err := e.store.ListAppointmentsByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return e.withSlots(ctx, appts)
}

// DoctorAppointments returns the doctor's appointment history ordered by
// appointment time, each with its slot embedded.
func (e *Engine) DoctorAppointments(ctx context.Context, doctorID uuid.UUID) ([]AppointmentDetail, error) {
	if _, err := e.store.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	appts, err := e.store.ListAppointmentsByDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	return e.withSlots(ctx, appts)
}

func (e *Engine) withSlots(ctx context.Context, appts []Appointment) ([]AppointmentDetail, error) {
	slots := make(map[uuid.UUID]*Slot)
	out := make([]AppointmentDetail, 0, len(appts))
	for _, appt := range appts {
		var slot *Slot
		if appt.SlotID != nil {
			cached, ok := slots[*appt.SlotID]
			if !ok {
				loaded, err := e.store.GetSlot(ctx, *appt.SlotID)
				if err != nil && !errors.Is(err, ErrSlotNotFound) {
					return nil, err
				}
				cached = loaded
				slots[*appt.SlotID] = cached
			}
			slot = cached
		}
		out = append(out, AppointmentDetail{Appointment: appt, Slot: slot})
	}
	return out, nil
}
