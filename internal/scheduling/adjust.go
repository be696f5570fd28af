package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/medassist/clinic-scheduling/internal/redis"
)

const DefaultConsultationMinutes = 15

// Planner re-derives a doctor's slot set for one day under a new working
// window, consultation duration, and optional per-slot capacity override.
// The whole transformation runs as one transaction under the doctor+day
// session lock: out-of-window appointments are cancelled, stale slots are
// deleted, surviving stream slots are resized or regenerated, wave
// over-booking is reconciled, and the remaining gaps are refilled with fresh
// stream slots so the window ends up covered with no overlaps.
type Planner struct {
	store           TxStore
	locker          redisclient.Locker
	gateway         NotificationGateway
	log             zerolog.Logger
	now             func() time.Time
	defaultDuration time.Duration
}

// NewPlanner builds a planner. defaultMinutes is the consultation duration
// used when an adjustment omits one; values <= 0 fall back to
// DefaultConsultationMinutes.
func NewPlanner(store TxStore, locker redisclient.Locker, gateway NotificationGateway, log zerolog.Logger, defaultMinutes int) *Planner {
	if defaultMinutes <= 0 {
		defaultMinutes = DefaultConsultationMinutes
	}
	return &Planner{
		store:           store,
		locker:          locker,
		gateway:         gateway,
		log:             log,
		now:             time.Now,
		defaultDuration: time.Duration(defaultMinutes) * time.Minute,
	}
}

type AdjustSessionInput struct {
	DoctorID            uuid.UUID
	Date                time.Time
	NewStart            time.Time
	NewEnd              time.Time
	ConsultationMinutes int // 0 means DefaultConsultationMinutes

	// Optional single capacity override, both fields set together.
	CapacitySlotID *uuid.UUID
	NewMaxCapacity *int
}

type AdjustSessionResult struct {
	AppointmentsCancelled int
	SlotsDeleted          int
	SlotsCreated          int
	SlotsResized          int
	SlotsCapacityAdjusted int
}

const (
	reasonSessionAdjusted = "doctor session was adjusted and the appointment falls outside the new time range"
	reasonCapacityReduced = "doctor session capacity was reduced and the appointment was affected"
)

// AdjustSession applies the day transformation. On success the doctor's day
// consists of: surviving in-window slots (resized to the new duration where
// applicable) and fresh stream slots of the new duration covering every gap
// of [NewStart, NewEnd).
func (p *Planner) AdjustSession(ctx context.Context, in AdjustSessionInput) (*AdjustSessionResult, error) {
	if !in.NewEnd.After(in.NewStart) {
		return nil, ErrInvalidWindow
	}
	if in.CapacitySlotID != nil && (in.NewMaxCapacity == nil || *in.NewMaxCapacity <= 0) {
		return nil, ErrInvalidCapacity
	}

	if _, err := p.store.GetDoctor(ctx, in.DoctorID); err != nil {
		return nil, err
	}

	duration := time.Duration(in.ConsultationMinutes) * time.Minute
	if in.ConsultationMinutes <= 0 {
		duration = p.defaultDuration
	}

	dayStart := time.Date(in.Date.Year(), in.Date.Month(), in.Date.Day(), 0, 0, 0, 0, in.Date.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	var (
		result AdjustSessionResult
		events []Event
	)

	err := p.locker.WithSessionLock(ctx, in.DoctorID, dayStart, func(lockCtx context.Context) error {
		return p.store.InTx(lockCtx, func(tx Store) error {
			res, evs, err := p.adjustDay(lockCtx, tx, in, duration, dayStart, dayEnd)
			if err != nil {
				return err
			}
			result = *res
			events = evs
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	for _, ev := range events {
		if err := p.gateway.Notify(ctx, ev); err != nil {
			p.log.Warn().Err(err).
				Stringer("appointment_id", ev.AppointmentID).
				Msg("notification dispatch failed")
		}
	}

	return &result, nil
}

func (p *Planner) adjustDay(ctx context.Context, tx Store, in AdjustSessionInput, duration time.Duration, dayStart, dayEnd time.Time) (*AdjustSessionResult, []Event, error) {
	var (
		result AdjustSessionResult
		events []Event
	)

	// Locking every slot of the day up front serializes the adjustment
	// against concurrent bookings on any of them.
	daySlots, err := tx.FindSlotsByDoctorAndRangeForUpdate(ctx, in.DoctorID, dayStart, dayEnd)
	if err != nil {
		return nil, nil, fmt.Errorf("load day slots: %w", err)
	}

	activeAppts, err := tx.FindActiveByDoctorAndDateRange(ctx, in.DoctorID, dayStart, dayEnd)
	if err != nil {
		return nil, nil, fmt.Errorf("load active appointments: %w", err)
	}

	slotByID := make(map[uuid.UUID]*Slot, len(daySlots))
	for i := range daySlots {
		slotByID[daySlots[i].ID] = &daySlots[i]
	}

	outsideWindow := func(s *Slot) bool {
		return s.StartTime.Before(in.NewStart) || s.EndTime.After(in.NewEnd)
	}

	// Steps 1-2: cancel active appointments whose slot no longer fits the
	// window, sever the slot link, and queue those slots for deletion.
	toDelete := make(map[uuid.UUID]bool)
	for i := range activeAppts {
		appt := &activeAppts[i]
		if appt.SlotID == nil {
			continue
		}
		slot, ok := slotByID[*appt.SlotID]
		if !ok || !outsideWindow(slot) {
			continue
		}

		toDelete[slot.ID] = true
		ev, err := p.cancelForAdjustment(ctx, tx, appt, slot.Range(), reasonSessionAdjusted, true)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, ev)
		result.AppointmentsCancelled++
	}

	// Step 3: remaining out-of-window slots go too, booked or not.
	for i := range daySlots {
		slot := &daySlots[i]
		if !toDelete[slot.ID] && outsideWindow(slot) {
			toDelete[slot.ID] = true
		}
	}

	// Step 4.
	for id := range toDelete {
		if err := tx.DeleteSlot(ctx, id); err != nil {
			return nil, nil, fmt.Errorf("delete slot %s: %w", id, err)
		}
		result.SlotsDeleted++
	}

	// Step 5: bring surviving stream slots to the new duration. Booked slots
	// shrink in place, anchored at their start, and the freed tail becomes a
	// new open slot. Unbooked slots are regenerated as consecutive sub-slots
	// over their original span. Wave slots are never split.
	var generated []TimeRange
	for i := range daySlots {
		slot := &daySlots[i]
		if toDelete[slot.ID] || slot.Type != SlotStream || slot.Duration() == duration {
			continue
		}

		active, err := tx.CountActiveBySlot(ctx, slot.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("count active for slot %s: %w", slot.ID, err)
		}

		if active > 0 {
			shrunkEnd := slot.StartTime.Add(duration)
			if shrunkEnd.Before(slot.EndTime) {
				originalEnd := slot.EndTime
				slot.EndTime = shrunkEnd
				slot.UpdatedAt = p.now()
				if err := tx.UpdateSlot(ctx, slot); err != nil {
					return nil, nil, fmt.Errorf("resize slot %s: %w", slot.ID, err)
				}
				result.SlotsResized++
				generated = append(generated, TimeRange{Start: shrunkEnd, End: originalEnd})
			}
			continue
		}

		if err := tx.DeleteSlot(ctx, slot.ID); err != nil {
			return nil, nil, fmt.Errorf("regenerate slot %s: %w", slot.ID, err)
		}
		toDelete[slot.ID] = true
		result.SlotsDeleted++
		generated = append(generated, sliceIntoSlots(slot.StartTime, slot.EndTime, duration)...)
	}

	// Step 6: optional capacity override on one slot of this doctor.
	if in.CapacitySlotID != nil {
		evs, err := p.adjustCapacity(ctx, tx, in.DoctorID, *in.CapacitySlotID, *in.NewMaxCapacity, toDelete, slotByID, &result)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, evs...)
	}

	// Steps 7-8: merge the occupied spans of surviving and generated slots,
	// then refill the uncovered parts of the window.
	occupied := make([]TimeRange, 0, len(daySlots)+len(generated))
	for i := range daySlots {
		if !toDelete[daySlots[i].ID] {
			occupied = append(occupied, daySlots[i].Range())
		}
	}
	occupied = append(occupied, generated...)

	fill := generateSlotRanges(in.NewStart, in.NewEnd, duration, mergeRanges(occupied))
	generated = append(generated, fill...)

	// Step 9: persist everything generated above as open stream slots.
	for _, r := range generated {
		now := p.now()
		slot := &Slot{
			ID:          uuid.New(),
			DoctorID:    in.DoctorID,
			StartTime:   r.Start,
			EndTime:     r.End,
			Type:        SlotStream,
			IsAvailable: true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.CreateSlot(ctx, slot); err != nil {
			return nil, nil, fmt.Errorf("create slot: %w", err)
		}
		result.SlotsCreated++
	}

	return &result, events, nil
}

// adjustCapacity converts the target slot to wave type if needed and applies
// the new capacity. When the new capacity is below the current booked count,
// the newest active appointments are evicted until the count fits.
func (p *Planner) adjustCapacity(ctx context.Context, tx Store, doctorID, slotID uuid.UUID, newCapacity int, deleted map[uuid.UUID]bool, slotByID map[uuid.UUID]*Slot, result *AdjustSessionResult) ([]Event, error) {
	if deleted[slotID] {
		p.log.Warn().Stringer("slot_id", slotID).
			Msg("capacity adjustment target was deleted by the window change, skipping")
		return nil, nil
	}

	target, ok := slotByID[slotID]
	if !ok {
		// The target may live on another day; it still belongs to this
		// doctor's adjustment request, so lock and load it directly.
		loaded, err := tx.GetSlotForUpdate(ctx, slotID)
		if errors.Is(err, ErrSlotNotFound) {
			p.log.Warn().Stringer("slot_id", slotID).
				Msg("capacity adjustment target not found, skipping")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		target = loaded
	}
	if target.DoctorID != doctorID {
		p.log.Warn().Stringer("slot_id", slotID).
			Msg("capacity adjustment target belongs to another doctor, skipping")
		return nil, nil
	}

	var events []Event

	if target.Type != SlotWave {
		// Conversion seeds the counter from the appointments that actually
		// hold the slot, so the wave invariant holds from the first moment.
		active, err := tx.CountActiveBySlot(ctx, target.ID)
		if err != nil {
			return nil, fmt.Errorf("count active for slot %s: %w", target.ID, err)
		}
		target.Type = SlotWave
		target.BookedCount = active
	}

	if newCapacity < target.BookedCount {
		excess := target.BookedCount - newCapacity
		victims, err := tx.FindActiveBySlotNewestFirst(ctx, target.ID, excess)
		if err != nil {
			return nil, fmt.Errorf("load excess appointments: %w", err)
		}
		for i := range victims {
			ev, err := p.cancelForAdjustment(ctx, tx, &victims[i], target.Range(), reasonCapacityReduced, false)
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
			target.BookedCount--
			result.AppointmentsCancelled++
		}
	}

	target.MaxCapacity = &newCapacity
	target.IsAvailable = target.BookedCount < newCapacity
	target.UpdatedAt = p.now()
	if err := tx.UpdateSlot(ctx, target); err != nil {
		return nil, fmt.Errorf("update capacity for slot %s: %w", target.ID, err)
	}
	result.SlotsCapacityAdjusted++

	return events, nil
}

// cancelForAdjustment cancels one appointment on the planner's behalf and
// builds the cancellation event. sever clears the slot link; it is set only
// when the slot itself is being deleted, so capacity evictions keep the
// historical reference to their surviving slot.
func (p *Planner) cancelForAdjustment(ctx context.Context, tx Store, appt *Appointment, slotRange TimeRange, reason string, sever bool) (Event, error) {
	appt.Status = StatusCancelled
	if sever {
		appt.SlotID = nil
	}
	appt.UpdatedAt = p.now()
	if err := tx.UpdateAppointment(ctx, appt); err != nil {
		return Event{}, fmt.Errorf("cancel appointment %s: %w", appt.ID, err)
	}

	ev := Event{
		Kind:            EventCancelled,
		AppointmentID:   appt.ID,
		DoctorID:        appt.DoctorID,
		PatientID:       appt.PatientID,
		AppointmentTime: slotRange,
		Reason:          reason,
	}
	if patient, err := tx.GetPatient(ctx, appt.PatientID); err == nil {
		ev.PatientEmail = patient.Email
	} else {
		p.log.Warn().Stringer("appointment_id", appt.ID).
			Msg("patient contact unavailable for cancellation notice")
	}
	if doctor, err := tx.GetDoctor(ctx, appt.DoctorID); err == nil {
		ev.DoctorEmail = doctor.Email
	}
	return ev, nil
}

type AddSlotInput struct {
	DoctorID    uuid.UUID
	StartTime   time.Time
	EndTime     time.Time
	Type        SlotType // empty means stream
	MaxCapacity *int     // required positive for wave slots
}

// AddSlot publishes a single new open slot for a doctor.
func (p *Planner) AddSlot(ctx context.Context, in AddSlotInput) (*Slot, error) {
	if !in.EndTime.After(in.StartTime) {
		return nil, ErrInvalidWindow
	}
	if in.StartTime.Before(p.now()) {
		return nil, ErrSlotInPast
	}

	slotType := in.Type
	switch slotType {
	case "":
		slotType = SlotStream
	case SlotStream:
	case SlotWave:
		if in.MaxCapacity == nil || *in.MaxCapacity <= 0 {
			return nil, ErrInvalidCapacity
		}
	default:
		return nil, ErrInvalidSlotType
	}

	if _, err := p.store.GetDoctor(ctx, in.DoctorID); err != nil {
		return nil, err
	}

	now := p.now()
	slot := &Slot{
		ID:          uuid.New(),
		DoctorID:    in.DoctorID,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		Type:        slotType,
		IsAvailable: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if slotType == SlotWave {
		slot.MaxCapacity = in.MaxCapacity
	}

	if err := p.store.CreateSlot(ctx, slot); err != nil {
		return nil, fmt.Errorf("create slot: %w", err)
	}
	return slot, nil
}

// DoctorSlots lists every slot of a doctor ordered by start time.
func (p *Planner) DoctorSlots(ctx context.Context, doctorID uuid.UUID) ([]Slot, error) {
	if _, err := p.store.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	return p.store.ListSlotsByDoctor(ctx, doctorID)
}

// UpdateSlotInput carries partial slot edits. Nil fields are left unchanged.
type UpdateSlotInput struct {
	DoctorID    uuid.UUID
	SlotID      uuid.UUID
	StartTime   *time.Time
	EndTime     *time.Time
	IsAvailable *bool
	Type        *SlotType
	MaxCapacity *int
}

// UpdateSlot edits one of the doctor's slots. Type and capacity can only
// change while no active appointment holds the slot; a wave slot's capacity
// must stay positive and at or above its booked count.
func (p *Planner) UpdateSlot(ctx context.Context, in UpdateSlotInput) (*Slot, error) {
	if _, err := p.store.GetDoctor(ctx, in.DoctorID); err != nil {
		return nil, err
	}

	var updated *Slot
	err := p.store.InTx(ctx, func(tx Store) error {
		slot, err := tx.GetSlotForUpdate(ctx, in.SlotID)
		if err != nil {
			return err
		}
		if slot.DoctorID != in.DoctorID {
			return ErrSlotNotFound
		}

		if in.Type != nil || in.MaxCapacity != nil {
			active, err := tx.CountActiveBySlot(ctx, slot.ID)
			if err != nil {
				return fmt.Errorf("count active for slot %s: %w", slot.ID, err)
			}
			if active > 0 {
				return ErrSlotInUse
			}
		}

		if in.StartTime != nil {
			slot.StartTime = *in.StartTime
		}
		if in.EndTime != nil {
			slot.EndTime = *in.EndTime
		}
		if !slot.EndTime.After(slot.StartTime) {
			return ErrInvalidWindow
		}
		if in.IsAvailable != nil {
			slot.IsAvailable = *in.IsAvailable
		}

		if in.Type != nil {
			switch *in.Type {
			case SlotStream, SlotWave:
				slot.Type = *in.Type
			default:
				return ErrInvalidSlotType
			}
		}

		if slot.Type == SlotStream {
			slot.MaxCapacity = nil
		} else if in.MaxCapacity != nil {
			if *in.MaxCapacity <= 0 {
				return ErrInvalidCapacity
			}
			slot.MaxCapacity = in.MaxCapacity
		}
		if slot.Type == SlotWave {
			if slot.MaxCapacity == nil {
				return ErrWaveCapacityMissing
			}
			if slot.BookedCount > *slot.MaxCapacity {
				return ErrInvalidCapacity
			}
		}

		slot.UpdatedAt = p.now()
		if err := tx.UpdateSlot(ctx, slot); err != nil {
			return fmt.Errorf("update slot %s: %w", slot.ID, err)
		}
		updated = slot
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RemoveSlot deletes one of the doctor's slots. A slot still holding active
// appointments cannot be removed.
func (p *Planner) RemoveSlot(ctx context.Context, doctorID, slotID uuid.UUID) error {
	if _, err := p.store.GetDoctor(ctx, doctorID); err != nil {
		return err
	}

	return p.store.InTx(ctx, func(tx Store) error {
		slot, err := tx.GetSlotForUpdate(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.DoctorID != doctorID {
			return ErrSlotNotFound
		}

		active, err := tx.CountActiveBySlot(ctx, slot.ID)
		if err != nil {
			return fmt.Errorf("count active for slot %s: %w", slot.ID, err)
		}
		if active > 0 {
			return ErrSlotInUse
		}

		return tx.DeleteSlot(ctx, slot.ID)
	})
}
