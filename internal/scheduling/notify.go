package scheduling

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventKind string

const (
	EventBooked      EventKind = "booked"
	EventCancelled   EventKind = "cancelled"
	EventRescheduled EventKind = "rescheduled"
)

// Event is the payload handed to the notification gateway after a booking or
// adjustment commits. Contact fields are nil when the profile carries no
// address; the gateway decides what to do with partial contact data.
type Event struct {
	Kind            EventKind
	AppointmentID   uuid.UUID
	DoctorID        uuid.UUID
	PatientID       uuid.UUID
	AppointmentTime TimeRange
	PatientEmail    *string
	DoctorEmail     *string
	Reason          string
	OldRange        *TimeRange
	NewRange        *TimeRange
}

// NotificationGateway dispatches an event to the patient (and doctor, when a
// contact is known). Dispatch is synchronous and best-effort: callers log
// failures and never roll back the surrounding transaction because of them.
type NotificationGateway interface {
	Notify(ctx context.Context, ev Event) error
}

// LogGateway writes notifications to the service log instead of an outbound
// channel. It stands in for the mail/SMS integration in development.
type LogGateway struct {
	log zerolog.Logger
}

func NewLogGateway(log zerolog.Logger) *LogGateway {
	return &LogGateway{log: log}
}

func (g *LogGateway) Notify(_ context.Context, ev Event) error {
	e := g.log.Info().
		Str("kind", string(ev.Kind)).
		Stringer("appointment_id", ev.AppointmentID).
		Stringer("doctor_id", ev.DoctorID).
		Stringer("patient_id", ev.PatientID).
		Time("appointment_start", ev.AppointmentTime.Start)
	if ev.PatientEmail != nil {
		e = e.Str("patient_email", *ev.PatientEmail)
	}
	if ev.DoctorEmail != nil {
		e = e.Str("doctor_email", *ev.DoctorEmail)
	}
	if ev.Reason != "" {
		e = e.Str("reason", ev.Reason)
	}
	if ev.OldRange != nil {
		e = e.Time("old_start", ev.OldRange.Start).Time("old_end", ev.OldRange.End)
	}
	if ev.NewRange != nil {
		e = e.Time("new_start", ev.NewRange.Start).Time("new_end", ev.NewRange.End)
	}
	e.Msg("appointment notification")
	return nil
}
