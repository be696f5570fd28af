package scheduling

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newTestEngine() (*Engine, *memStore, *recordingGateway) {
	store := newMemStore()
	gateway := &recordingGateway{}
	engine := NewEngine(store, noopLocker{}, gateway, zerolog.Nop())
	engine.now = func() time.Time { return at(8, 0) }
	return engine, store, gateway
}

func seedDoctor(store *memStore) uuid.UUID {
	id := uuid.New()
	email := "doctor@example.com"
	store.doctors[id] = Doctor{ID: id, Name: "Dr. Reyes", Email: &email}
	return id
}

func seedPatient(store *memStore) uuid.UUID {
	id := uuid.New()
	email := "patient@example.com"
	store.patients[id] = Patient{ID: id, Name: "Sam Okafor", Email: &email}
	return id
}

func seedStreamSlot(store *memStore, doctorID uuid.UUID, start, end time.Time) uuid.UUID {
	id := uuid.New()
	store.slots[id] = Slot{
		ID:          id,
		DoctorID:    doctorID,
		StartTime:   start,
		EndTime:     end,
		Type:        SlotStream,
		IsAvailable: true,
	}
	return id
}

func seedWaveSlot(store *memStore, doctorID uuid.UUID, start, end time.Time, capacity *int) uuid.UUID {
	id := uuid.New()
	store.slots[id] = Slot{
		ID:          id,
		DoctorID:    doctorID,
		StartTime:   start,
		EndTime:     end,
		Type:        SlotWave,
		MaxCapacity: capacity,
		IsAvailable: true,
	}
	return id
}

func TestBookStreamSlot(t *testing.T) {
	engine, store, gateway := newTestEngine()
	doctorID := seedDoctor(store)
	patientID := seedPatient(store)
	slotID := seedStreamSlot(store, doctorID, at(9, 0), at(9, 15))

	result, err := engine.Book(context.Background(), BookInput{SlotID: slotID, PatientID: patientID, Notes: "first visit"})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if result.Status != StatusPending {
		t.Fatalf("status = %s, want %s", result.Status, StatusPending)
	}

	appt := store.appointments[result.AppointmentID]
	if !appt.AppointmentTime.Equal(at(9, 0)) {
		t.Fatalf("appointment time = %v, want slot start", appt.AppointmentTime)
	}
	if appt.SlotID == nil || *appt.SlotID != slotID {
		t.Fatal("appointment not linked to the booked slot")
	}
	if store.slots[slotID].IsAvailable {
		t.Fatal("stream slot still available after booking")
	}
	if got := gateway.byKind(EventBooked); len(got) != 1 {
		t.Fatalf("booked events = %d, want 1", len(got))
	}
}

func TestBookStreamSlotTwiceConflicts(t *testing.T) {
	engine, store, _ := newTestEngine()
	doctorID := seedDoctor(store)
	patientID := seedPatient(store)
	otherPatient := seedPatient(store)
	slotID := seedStreamSlot(store, doctorID, at(9, 0), at(9, 15))

	if _, err := engine.Book(context.Background(), BookInput{SlotID: slotID, PatientID: patientID}); err != nil {
		t.Fatalf("first Book: %v", err)
	}
	_, err := engine.Book(context.Background(), BookInput{SlotID: slotID, PatientID: otherPatient})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("second Book err = %v, want ErrSlotUnavailable", err)
	}
}

func TestConcurrentStreamBookingsOnlyOneWins(t *testing.T) {
	store := newMemStore()
	gateway := &recordingGateway{}
	engine := NewEngine(store, newMutexLocker(), gateway, zerolog.Nop())
	engine.now = func() time.Time { return at(8, 0) }

	doctorID := seedDoctor(store)
	slotID := seedStreamSlot(store, doctorID, at(9, 0), at(9, 15))
	patients := []uuid.UUID{seedPatient(store), seedPatient(store)}

	errs := make([]error, len(patients))
	var wg sync.WaitGroup
	for i, patientID := range patients {
		wg.Add(1)
		go func(i int, patientID uuid.UUID) {
			defer wg.Done()
			_, errs[i] = engine.Book(context.Background(), BookInput{SlotID: slotID, PatientID: patientID})
		}(i, patientID)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotUnavailable):
			conflicts++
		default:
			t.Fatalf("unexpected booking error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("wins = %d, conflicts = %d, want exactly one of each", wins, conflicts)
	}
	if store.slots[slotID].IsAvailable {
		t.Fatal("slot still available after a winning booking")
	}
	if len(store.appointments) != 1 {
		t.Fatalf("appointments = %d, want 1", len(store.appointments))
	}
}

func TestBookWaveSlotUpToCapacity(t *testing.T) {
	engine, store, _ := newTestEngine()
	doctorID := seedDoctor(store)
	capacity := 3
	slotID := seedWaveSlot(store, doctorID, at(14, 0), at(16, 0), &capacity)

	for i := 0; i < 3; i++ {
		patientID := seedPatient(store)
		if _, err := engine.Book(context.Background(), BookInput{SlotID: slotID, PatientID: patientID}); err != nil {
			t.Fatalf("Book %d: %v", i+1, err)
		}
	}

	overflow := seedPatient(store)
	_, err := engine.Book(context.Background(), BookInput{SlotID: slotID, PatientID: overflow})
	if !errors.Is(err, ErrSlotFullyBooked) {
		t.Fatalf("overflow Book err = %v, want ErrSlotFullyBooked", err)
	}
	if got := store.slots[slotID].BookedCount; got != 3 {
		t.Fatalf("booked count = %d, want 3 after rejected overflow", got)
	}
}

func TestBookWaveSlotWithoutCapacity(t *testing.T) {
	engine, store, _ := newTestEngine()
	doctorID := seedDoctor(store)
	patientID := seedPatient(store)
	slotID := seedWaveSlot(store, doctorID, at(14, 0), at(16, 0), nil)

	_, err := engine.Book(context.Background(), BookInput{SlotID: slotID, PatientID: patientID})
	if !errors.Is(err, ErrWaveCapacityMissing) {
		t.Fatalf("err = %v, want ErrWaveCapacityMissing", err)
	}
}

func TestBookPastSlot(t *testing.T) {
	engine, store, _ := newTestEngine()
	doctorID := seedDoctor(store)
	patientID := seedPatient(store)
	slotID := seedStreamSlot(store, doctorID, at(7, 0), at(7, 15))

	_, err := engine.Book(context.Background(), BookInput{SlotID: slotID, PatientID: patientID})
	if !errors.Is(err, ErrSlotInPast) {
		t.Fatalf("err = %v, want ErrSlotInPast", err)
	}
}

func TestBookUnknownPatient(t *testing.T) {
	engine, store, _ := newTestEngine()
	doctorID := seedDoctor(store)
	slotID := seedStreamSlot(store, doctorID, at(9, 0), at(9, 15))

	_, err := engine.Book(context.Background(), BookInput{SlotID: slotID, PatientID: uuid.New()})
	if !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("err = %v, want ErrPatientNotFound", err)
	}
}

func TestCancelReleasesStreamSlotForRebooking(t *testing.T) {
	engine, store, gateway := newTestEngine()
	doctorID := seedDoctor(store)
	patientID := seedPatient(store)
	slotID := seedStreamSlot(store, doctorID, at(9, 0), at(9, 15))

	result, err := engine.Book(context.Background(), BookInput{SlotID: slotID, PatientID: patientID})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	cancelled, err := engine.Cancel(context.Background(), result.AppointmentID, patientID, RolePatient)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("status = %s, want %s", cancelled.Status, StatusCancelled)
	}
	if !store.slots[slotID].IsAvailable {
		t.Fatal("slot not released by cancellation")
	}
	if got := gateway.byKind(EventCancelled); len(got) != 1 {
		t.Fatalf("cancelled events = %d, want 1", len(got))
	}

	// The freed slot is immediately bookable again.
	other := seedPatient(store)
	if _, err := engine.Book(context.Background(), BookInput{SlotID: slotID, PatientID: other}); err != nil {
		t.Fatalf("rebook after cancel: %v", err)
	}
}

func TestCancelAuthorization(t *testing.T) {
	engine, store, _ := newTestEngine()
	doctorID := seedDoctor(store)
	patientID := seedPatient(store)
	slotID := seedStreamSlot(store, doctorID, at(9, 0), at(9, 15))

	result, err := engine.Book(context.Background(), BookInput{SlotID: slotID, PatientID: patientID})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	if _, err := engine.Cancel(context.Background(), result.AppointmentID, uuid.New(), RolePatient); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger patient cancel err = %v, want ErrForbidden", err)
	}
	if _, err := engine.Cancel(context.Background(), result.AppointmentID, uuid.New(), RoleDoctor); !errors.Is(err, ErrForbidden) {
		t.Fatalf("other doctor cancel err = %v, want ErrForbidden", err)
	}
	if _, err := engine.Cancel(context.Background(), result.AppointmentID, patientID, ActorRole("admin")); !errors.Is(err, ErrForbidden) {
		t.Fatalf("unknown role cancel err = %v, want ErrForbidden", err)
	}

	// The appointment's own doctor may cancel.
	if _, err := engine.Cancel(context.Background(), result.AppointmentID, doctorID, RoleDoctor); err != nil {
		t.Fatalf("doctor cancel: %v", err)
	}
}

func TestCancelFinalizedAppointment(t *testing.T) {
	engine, store, _ := newTestEngine()
	doctorID := seedDoctor(store)
	patientID := seedPatient(store)

	for _, status := range []AppointmentStatus{StatusCancelled, StatusCompleted} {
		appt := Appointment{
			ID:              uuid.New(),
			DoctorID:        doctorID,
			PatientID:       patientID,
			AppointmentTime: at(9, 0),
			Status:          status,
		}
		store.appointments[appt.ID] = appt

		_, err := engine.Cancel(context.Background(), appt.ID, patientID, RolePatient)
		if !errors.Is(err, ErrAppointmentFinalized) {
			t.Fatalf("cancel %s appointment err = %v, want ErrAppointmentFinalized", status, err)
		}
	}
}

func TestRescheduleMovesBetweenStreamSlots(t *testing.T) {
	engine, store, gateway := newTestEngine()
	doctorID := seedDoctor(store)
	patientID := seedPatient(store)
	oldSlotID := seedStreamSlot(store, doctorID, at(9, 0), at(9, 15))
	newSlotID := seedStreamSlot(store, doctorID, at(10, 0), at(10, 15))

	result, err := engine.Book(context.Background(), BookInput{SlotID: oldSlotID, PatientID: patientID})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	appt, err := engine.Reschedule(context.Background(), result.AppointmentID, newSlotID, patientID)
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}

	if appt.Status != StatusRescheduled {
		t.Fatalf("status = %s, want %s", appt.Status, StatusRescheduled)
	}
	if appt.SlotID == nil || *appt.SlotID != newSlotID {
		t.Fatal("appointment not moved to the new slot")
	}
	if !appt.AppointmentTime.Equal(at(10, 0)) {
		t.Fatalf("appointment time = %v, want new slot start", appt.AppointmentTime)
	}
	if appt.ExpectedCheckInTime != nil {
		t.Fatal("expected check-in time should be cleared for a stream slot")
	}
	if !store.slots[oldSlotID].IsAvailable {
		t.Fatal("old slot not released")
	}
	if store.slots[newSlotID].IsAvailable {
		t.Fatal("new slot not consumed")
	}
	if got := gateway.byKind(EventRescheduled); len(got) != 1 {
		t.Fatalf("rescheduled events = %d, want 1", len(got))
	}
}

func TestRescheduleOntoWaveSlotSetsCheckInTime(t *testing.T) {
	engine, store, _ := newTestEngine()
	doctorID := seedDoctor(store)
	patientID := seedPatient(store)
	oldSlotID := seedStreamSlot(store, doctorID, at(9, 0), at(9, 15))
	capacity := 5
	waveSlotID := seedWaveSlot(store, doctorID, at(14, 0), at(16, 0), &capacity)

	result, err := engine.Book(context.Background(), BookInput{SlotID: oldSlotID, PatientID: patientID})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	appt, err := engine.Reschedule(context.Background(), result.AppointmentID, waveSlotID, patientID)
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if appt.ExpectedCheckInTime == nil || !appt.ExpectedCheckInTime.Equal(at(14, 0)) {
		t.Fatalf("expected check-in time = %v, want wave slot start", appt.ExpectedCheckInTime)
	}
	if got := store.slots[waveSlotID].BookedCount; got != 1 {
		t.Fatalf("wave booked count = %d, want 1", got)
	}
}

func TestRescheduleLocksSlotRowsInStableOrder(t *testing.T) {
	engine, store, _ := newTestEngine()
	doctorID := seedDoctor(store)

	assertOrder := func(t *testing.T, got []uuid.UUID, low, high uuid.UUID) {
		t.Helper()
		if len(got) != 2 || got[0] != low || got[1] != high {
			t.Fatalf("row lock order = %v, want [%s %s]", got, low, high)
		}
	}

	// Appointment on the higher id moving to the lower one.
	patientA := seedPatient(store)
	s1 := seedStreamSlot(store, doctorID, at(9, 0), at(9, 15))
	s2 := seedStreamSlot(store, doctorID, at(10, 0), at(10, 15))
	low, high := s1, s2
	if bytes.Compare(s2[:], s1[:]) < 0 {
		low, high = s2, s1
	}
	result, err := engine.Book(context.Background(), BookInput{SlotID: high, PatientID: patientA})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	store.forUpdateOrder = nil
	if _, err := engine.Reschedule(context.Background(), result.AppointmentID, low, patientA); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	assertOrder(t, store.forUpdateOrder, low, high)

	// And the opposite direction on a fresh pair.
	patientB := seedPatient(store)
	s3 := seedStreamSlot(store, doctorID, at(11, 0), at(11, 15))
	s4 := seedStreamSlot(store, doctorID, at(12, 0), at(12, 15))
	low, high = s3, s4
	if bytes.Compare(s4[:], s3[:]) < 0 {
		low, high = s4, s3
	}
	result, err = engine.Book(context.Background(), BookInput{SlotID: low, PatientID: patientB})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	store.forUpdateOrder = nil
	if _, err := engine.Reschedule(context.Background(), result.AppointmentID, high, patientB); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	assertOrder(t, store.forUpdateOrder, low, high)
}

func TestRescheduleOntoSameSlot(t *testing.T) {
	engine, store, _ := newTestEngine()
	doctorID := seedDoctor(store)
	patientID := seedPatient(store)
	slotID := seedStreamSlot(store, doctorID, at(9, 0), at(9, 15))

	result, err := engine.Book(context.Background(), BookInput{SlotID: slotID, PatientID: patientID})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	appt, err := engine.Reschedule(context.Background(), result.AppointmentID, slotID, patientID)
	if err != nil {
		t.Fatalf("Reschedule onto same slot: %v", err)
	}
	if appt.Status != StatusRescheduled {
		t.Fatalf("status = %s, want %s", appt.Status, StatusRescheduled)
	}
	if appt.SlotID == nil || *appt.SlotID != slotID {
		t.Fatal("appointment lost its slot")
	}
	if store.slots[slotID].IsAvailable {
		t.Fatal("slot should remain consumed after a same-slot reschedule")
	}
}

func TestRescheduleSurvivesSeveredOldSlot(t *testing.T) {
	engine, store, _ := newTestEngine()
	doctorID := seedDoctor(store)
	patientID := seedPatient(store)
	oldSlotID := seedStreamSlot(store, doctorID, at(9, 0), at(9, 15))
	newSlotID := seedStreamSlot(store, doctorID, at(10, 0), at(10, 15))

	result, err := engine.Book(context.Background(), BookInput{SlotID: oldSlotID, PatientID: patientID})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	// A session adjustment deleted the old slot in the meantime.
	delete(store.slots, oldSlotID)

	appt, err := engine.Reschedule(context.Background(), result.AppointmentID, newSlotID, patientID)
	if err != nil {
		t.Fatalf("Reschedule with missing old slot: %v", err)
	}
	if appt.SlotID == nil || *appt.SlotID != newSlotID {
		t.Fatal("appointment not moved to the new slot")
	}
}

func TestRescheduleWrongOwner(t *testing.T) {
	engine, store, _ := newTestEngine()
	doctorID := seedDoctor(store)
	patientID := seedPatient(store)
	stranger := seedPatient(store)
	oldSlotID := seedStreamSlot(store, doctorID, at(9, 0), at(9, 15))
	newSlotID := seedStreamSlot(store, doctorID, at(10, 0), at(10, 15))

	result, err := engine.Book(context.Background(), BookInput{SlotID: oldSlotID, PatientID: patientID})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	_, err = engine.Reschedule(context.Background(), result.AppointmentID, newSlotID, stranger)
	if !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("err = %v, want ErrAppointmentNotFound", err)
	}
}

func TestRescheduleNonActiveAppointment(t *testing.T) {
	engine, store, _ := newTestEngine()
	doctorID := seedDoctor(store)
	patientID := seedPatient(store)
	newSlotID := seedStreamSlot(store, doctorID, at(10, 0), at(10, 15))

	for _, status := range []AppointmentStatus{StatusCancelled, StatusCompleted, StatusRescheduled, StatusRejected} {
		appt := Appointment{
			ID:              uuid.New(),
			DoctorID:        doctorID,
			PatientID:       patientID,
			AppointmentTime: at(9, 0),
			Status:          status,
		}
		store.appointments[appt.ID] = appt

		_, err := engine.Reschedule(context.Background(), appt.ID, newSlotID, patientID)
		if !errors.Is(err, ErrNotReschedulable) {
			t.Fatalf("reschedule %s appointment err = %v, want ErrNotReschedulable", status, err)
		}
	}
}

func TestPatientAppointmentsRequiresKnownPatient(t *testing.T) {
	engine, store, _ := newTestEngine()
	doctorID := seedDoctor(store)
	patientID := seedPatient(store)
	slotID := seedStreamSlot(store, doctorID, at(9, 0), at(9, 15))

	if _, err := engine.Book(context.Background(), BookInput{SlotID: slotID, PatientID: patientID}); err != nil {
		t.Fatalf("Book: %v", err)
	}

	appts, err := engine.PatientAppointments(context.Background(), patientID)
	if err != nil {
		t.Fatalf("PatientAppointments: %v", err)
	}
	if len(appts) != 1 {
		t.Fatalf("appointments = %d, want 1", len(appts))
	}
	if appts[0].Slot == nil || appts[0].Slot.ID != slotID {
		t.Fatal("listing did not embed the booked slot")
	}

	if _, err := engine.PatientAppointments(context.Background(), uuid.New()); !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("unknown patient err = %v, want ErrPatientNotFound", err)
	}
}
