package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type SlotType string

const (
	SlotStream SlotType = "stream"
	SlotWave   SlotType = "wave"
)

type AppointmentStatus string

const (
	StatusPending     AppointmentStatus = "pending"
	StatusConfirmed   AppointmentStatus = "confirmed"
	StatusCompleted   AppointmentStatus = "completed"
	StatusCancelled   AppointmentStatus = "cancelled"
	StatusRescheduled AppointmentStatus = "rescheduled"
	StatusRejected    AppointmentStatus = "rejected"
)

// Active reports whether an appointment in this status still holds its slot.
// Slot counters (bookedCount, isAvailable) are maintained against active
// appointments only.
func (s AppointmentStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

type ActorRole string

const (
	RolePatient ActorRole = "patient"
	RoleDoctor  ActorRole = "doctor"
)

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Slot is a doctor's bookable interval [StartTime, EndTime).
//
// Stream slots are exclusive: IsAvailable is true iff no active appointment
// references the slot. Wave slots admit up to MaxCapacity concurrent active
// appointments, tracked by BookedCount; MaxCapacity is nil for stream slots.
type Slot struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	StartTime   time.Time
	EndTime     time.Time
	Type        SlotType
	IsAvailable bool
	MaxCapacity *int
	BookedCount int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s *Slot) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

func (s *Slot) Range() TimeRange {
	return TimeRange{Start: s.StartTime, End: s.EndTime}
}

// Appointment references exactly one doctor, one patient, and at most one
// slot. SlotID is severed (set to nil) when the slot is deleted by a session
// adjustment; the appointment row itself is retained as history.
type Appointment struct {
	ID                  uuid.UUID
	DoctorID            uuid.UUID
	PatientID           uuid.UUID
	SlotID              *uuid.UUID
	AppointmentTime     time.Time
	Status              AppointmentStatus
	Notes               string
	ExpectedCheckInTime *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
