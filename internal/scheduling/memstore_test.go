package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory TxStore for exercising the engine and planner
// without Postgres. InTx snapshots all tables and restores them when fn
// fails, mirroring transactional rollback.
type memStore struct {
	mu           sync.Mutex
	doctors      map[uuid.UUID]Doctor
	patients     map[uuid.UUID]Patient
	slots        map[uuid.UUID]Slot
	appointments map[uuid.UUID]Appointment

	// forUpdateOrder records the slot ids passed to GetSlotForUpdate, the
	// order row locks would be taken in.
	forUpdateOrder []uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{
		doctors:      make(map[uuid.UUID]Doctor),
		patients:     make(map[uuid.UUID]Patient),
		slots:        make(map[uuid.UUID]Slot),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *memStore) InTx(_ context.Context, fn func(Store) error) error {
	s.mu.Lock()
	snapDoctors := copyMap(s.doctors)
	snapPatients := copyMap(s.patients)
	snapSlots := copyMap(s.slots)
	snapAppts := copyMap(s.appointments)
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.doctors = snapDoctors
		s.patients = snapPatients
		s.slots = snapSlots
		s.appointments = snapAppts
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) GetDoctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (s *memStore) GetPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (s *memStore) GetSlot(_ context.Context, id uuid.UUID) (*Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &sl, nil
}

func (s *memStore) GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error) {
	s.mu.Lock()
	s.forUpdateOrder = append(s.forUpdateOrder, id)
	s.mu.Unlock()
	return s.GetSlot(ctx, id)
}

func (s *memStore) findSlots(doctorID uuid.UUID, from, to time.Time) []Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Slot
	for _, sl := range s.slots {
		if sl.DoctorID != doctorID {
			continue
		}
		if sl.StartTime.Before(from) || !sl.StartTime.Before(to) {
			continue
		}
		out = append(out, sl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (s *memStore) FindSlotsByDoctorAndRange(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error) {
	return s.findSlots(doctorID, from, to), nil
}

func (s *memStore) FindSlotsByDoctorAndRangeForUpdate(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error) {
	return s.findSlots(doctorID, from, to), nil
}

func (s *memStore) ListSlotsByDoctor(_ context.Context, doctorID uuid.UUID) ([]Slot, error) {
	return s.findSlots(doctorID, time.Time{}, time.Unix(1<<40, 0)), nil
}

func (s *memStore) CreateSlot(_ context.Context, sl *Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[sl.ID] = *sl
	return nil
}

func (s *memStore) UpdateSlot(_ context.Context, sl *Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slots[sl.ID]; !ok {
		return ErrSlotNotFound
	}
	s.slots[sl.ID] = *sl
	return nil
}

func (s *memStore) DeleteSlot(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slots[id]; !ok {
		return ErrSlotNotFound
	}
	delete(s.slots, id)
	return nil
}

func (s *memStore) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (s *memStore) CreateAppointment(_ context.Context, a *Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments[a.ID] = *a
	return nil
}

func (s *memStore) UpdateAppointment(_ context.Context, a *Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.appointments[a.ID]; !ok {
		return ErrAppointmentNotFound
	}
	s.appointments[a.ID] = *a
	return nil
}

func (s *memStore) CountActiveBySlot(_ context.Context, slotID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.appointments {
		if a.SlotID != nil && *a.SlotID == slotID && a.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (s *memStore) FindActiveByDoctorAndDateRange(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Appointment
	for _, a := range s.appointments {
		if a.DoctorID != doctorID || !a.Status.Active() {
			continue
		}
		if a.AppointmentTime.Before(from) || !a.AppointmentTime.Before(to) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppointmentTime.Before(out[j].AppointmentTime) })
	return out, nil
}

func (s *memStore) FindActiveBySlotNewestFirst(_ context.Context, slotID uuid.UUID, limit int) ([]Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Appointment
	for _, a := range s.appointments {
		if a.SlotID != nil && *a.SlotID == slotID && a.Status.Active() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) listAppointments(match func(Appointment) bool) []Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Appointment
	for _, a := range s.appointments {
		if match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppointmentTime.Before(out[j].AppointmentTime) })
	return out
}

func (s *memStore) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID) ([]Appointment, error) {
	return s.listAppointments(func(a Appointment) bool { return a.PatientID == patientID }), nil
}

func (s *memStore) ListAppointmentsByDoctor(_ context.Context, doctorID uuid.UUID) ([]Appointment, error) {
	return s.listAppointments(func(a Appointment) bool { return a.DoctorID == doctorID }), nil
}

// mutexLocker serializes critical sections per key with in-process mutexes,
// standing in for the Redis lease where tests need real mutual exclusion.
type mutexLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newMutexLocker() *mutexLocker {
	return &mutexLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *mutexLocker) forKey(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

func (l *mutexLocker) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	m := l.forKey("slot:" + slotID.String())
	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

func (l *mutexLocker) WithSessionLock(ctx context.Context, doctorID uuid.UUID, day time.Time, fn func(ctx context.Context) error) error {
	m := l.forKey("session:" + doctorID.String() + ":" + day.Format("2006-01-02"))
	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

// noopLocker runs critical sections directly, for tests that do not exercise
// contention.
type noopLocker struct{}

func (noopLocker) WithSlotLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (noopLocker) WithSessionLock(ctx context.Context, _ uuid.UUID, _ time.Time, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// recordingGateway captures dispatched events for assertions.
type recordingGateway struct {
	mu     sync.Mutex
	events []Event
}

func (g *recordingGateway) Notify(_ context.Context, ev Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events = append(g.events, ev)
	return nil
}

func (g *recordingGateway) byKind(kind EventKind) []Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Event
	for _, ev := range g.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
