package scheduling

import "errors"

// Not found.
var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient profile not found")
	ErrSlotNotFound        = errors.New("availability slot not found, it may have been adjusted or removed by the doctor")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Invalid input.
var (
	ErrSlotInPast           = errors.New("slot has already started or passed")
	ErrInvalidWindow        = errors.New("session end time must be after start time")
	ErrInvalidCapacity      = errors.New("max capacity must be a positive number")
	ErrInvalidSlotType      = errors.New("slot type must be stream or wave")
	ErrWaveCapacityMissing  = errors.New("wave slot has no defined max capacity")
	ErrNotReschedulable     = errors.New("only pending or confirmed appointments can be rescheduled")
	ErrAppointmentFinalized = errors.New("appointment is already cancelled or completed")
	ErrSlotInUse            = errors.New("slot has active appointments, cancel them first")
)

// Conflict.
var (
	ErrSlotUnavailable = errors.New("stream slot is already booked or not available")
	ErrSlotFullyBooked = errors.New("wave slot is fully booked")
)

// Forbidden.
var ErrForbidden = errors.New("forbidden: not allowed to act on this appointment")
