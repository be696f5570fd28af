package api

import (
	"encoding/json"
	"errors"
	"net/http"

	redisclient "github.com/medassist/clinic-scheduling/internal/redis"
	"github.com/medassist/clinic-scheduling/internal/scheduling"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeDomainError maps domain sentinels onto HTTP statuses. Anything
// unrecognized is reported as a 500 without leaking internals.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduling.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, scheduling.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, scheduling.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())

	case errors.Is(err, scheduling.ErrSlotInPast):
		writeError(w, http.StatusBadRequest, "slot_in_past", err.Error())
	case errors.Is(err, scheduling.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, "invalid_time_window", err.Error())
	case errors.Is(err, scheduling.ErrInvalidCapacity):
		writeError(w, http.StatusBadRequest, "invalid_capacity", err.Error())
	case errors.Is(err, scheduling.ErrInvalidSlotType):
		writeError(w, http.StatusBadRequest, "invalid_slot_type", err.Error())
	case errors.Is(err, scheduling.ErrWaveCapacityMissing):
		writeError(w, http.StatusBadRequest, "wave_capacity_missing", err.Error())
	case errors.Is(err, scheduling.ErrNotReschedulable):
		writeError(w, http.StatusBadRequest, "not_reschedulable", err.Error())
	case errors.Is(err, scheduling.ErrAppointmentFinalized):
		writeError(w, http.StatusBadRequest, "appointment_finalized", err.Error())
	case errors.Is(err, scheduling.ErrSlotInUse):
		writeError(w, http.StatusBadRequest, "slot_in_use", err.Error())

	case errors.Is(err, scheduling.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, scheduling.ErrSlotFullyBooked):
		writeError(w, http.StatusConflict, "slot_fully_booked", err.Error())
	case errors.Is(err, redisclient.ErrSlotLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, redisclient.ErrSessionLockNotAcquired):
		writeError(w, http.StatusConflict, "session_being_adjusted", "doctor session is currently being adjusted, please retry shortly")

	case errors.Is(err, scheduling.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())

	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
	}
}
