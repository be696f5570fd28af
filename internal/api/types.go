package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medassist/clinic-scheduling/internal/scheduling"
)

type BookAppointmentRequest struct {
	SlotID              string     `json:"slot_id"`
	PatientID           string     `json:"patient_id"`
	Notes               string     `json:"notes,omitempty"`
	ExpectedCheckInTime *time.Time `json:"expected_check_in_time,omitempty"`
}

type BookAppointmentResponse struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Status        string    `json:"status"`
}

type RescheduleRequest struct {
	NewSlotID string `json:"new_slot_id"`
}

type AppointmentResponse struct {
	ID                  uuid.UUID  `json:"id"`
	DoctorID            uuid.UUID  `json:"doctor_id"`
	PatientID           uuid.UUID  `json:"patient_id"`
	SlotID              *uuid.UUID `json:"slot_id,omitempty"`
	AppointmentTime     time.Time  `json:"appointment_time"`
	Status              string     `json:"status"`
	Notes               string     `json:"notes,omitempty"`
	ExpectedCheckInTime *time.Time `json:"expected_check_in_time,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	Slot *SlotResponse `json:"slot,omitempty"`
}

func toAppointmentDetailResponse(d *scheduling.AppointmentDetail) AppointmentDetailResponse {
	resp := AppointmentDetailResponse{AppointmentResponse: toAppointmentResponse(&d.Appointment)}
	if d.Slot != nil {
		s := toSlotResponse(d.Slot)
		resp.Slot = &s
	}
	return resp
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                  a.ID,
		DoctorID:            a.DoctorID,
		PatientID:           a.PatientID,
		SlotID:              a.SlotID,
		AppointmentTime:     a.AppointmentTime,
		Status:              string(a.Status),
		Notes:               a.Notes,
		ExpectedCheckInTime: a.ExpectedCheckInTime,
		CreatedAt:           a.CreatedAt,
		UpdatedAt:           a.UpdatedAt,
	}
}

type CreateSlotRequest struct {
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	SlotType    string    `json:"slot_type,omitempty"`
	MaxCapacity *int      `json:"max_capacity,omitempty"`
}

// UpdateSlotRequest is a partial edit; absent fields keep their value.
type UpdateSlotRequest struct {
	StartTime   *time.Time `json:"start_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	IsAvailable *bool      `json:"is_available,omitempty"`
	SlotType    *string    `json:"slot_type,omitempty"`
	MaxCapacity *int       `json:"max_capacity,omitempty"`
}

type SlotResponse struct {
	ID          uuid.UUID `json:"id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	SlotType    string    `json:"slot_type"`
	IsAvailable bool      `json:"is_available"`
	MaxCapacity *int      `json:"max_capacity,omitempty"`
	BookedCount int       `json:"booked_count"`
}

func toSlotResponse(s *scheduling.Slot) SlotResponse {
	return SlotResponse{
		ID:          s.ID,
		DoctorID:    s.DoctorID,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		SlotType:    string(s.Type),
		IsAvailable: s.IsAvailable,
		MaxCapacity: s.MaxCapacity,
		BookedCount: s.BookedCount,
	}
}

type AdjustSessionRequest struct {
	Date                string     `json:"date"` // yyyy-mm-dd
	NewStartTime        time.Time  `json:"new_start_time"`
	NewEndTime          time.Time  `json:"new_end_time"`
	ConsultationMinutes int        `json:"consultation_minutes,omitempty"`
	CapacitySlotID      *uuid.UUID `json:"capacity_slot_id,omitempty"`
	NewMaxCapacity      *int       `json:"new_max_capacity,omitempty"`
}

type AdjustSessionResponse struct {
	AppointmentsCancelled int `json:"appointments_cancelled"`
	SlotsDeleted          int `json:"slots_deleted"`
	SlotsCreated          int `json:"slots_created"`
	SlotsResized          int `json:"slots_resized"`
	SlotsCapacityAdjusted int `json:"slots_capacity_adjusted"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
