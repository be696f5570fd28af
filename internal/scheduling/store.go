package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store contains all persistence interactions needed by the booking engine
// and the session adjustment planner. Every method is safe to call on a
// transaction-scoped store obtained through TxStore.InTx.
//
// Finders return the typed not-found error for their entity. Range queries
// treat [from, to) as half-open and order results by start/appointment time.
type Store interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)

	GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	// GetSlotForUpdate locks the slot row for the rest of the transaction so
	// that concurrent check-then-update sequences serialize per slot.
	GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error)
	FindSlotsByDoctorAndRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error)
	// FindSlotsByDoctorAndRangeForUpdate locks every returned row, giving a
	// session adjustment exclusive hold over a doctor's day.
	FindSlotsByDoctorAndRangeForUpdate(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error)
	ListSlotsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Slot, error)
	CreateSlot(ctx context.Context, s *Slot) error
	UpdateSlot(ctx context.Context, s *Slot) error
	DeleteSlot(ctx context.Context, id uuid.UUID) error

	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	CreateAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointment(ctx context.Context, a *Appointment) error
	CountActiveBySlot(ctx context.Context, slotID uuid.UUID) (int, error)
	FindActiveByDoctorAndDateRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error)
	// FindActiveBySlotNewestFirst returns up to limit active appointments on
	// the slot ordered by creation time descending, the eviction order used
	// when a wave slot's capacity is reduced.
	FindActiveBySlotNewestFirst(ctx context.Context, slotID uuid.UUID, limit int) ([]Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Appointment, error)
}

// TxStore is a Store that can open an atomic transaction. The store passed
// to fn sees uncommitted writes of the transaction; returning an error rolls
// everything back.
type TxStore interface {
	Store
	InTx(ctx context.Context, fn func(Store) error) error
}
