package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/medassist/clinic-scheduling/internal/scheduling"
)

func parseUUIDParam(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}

// actorIdentity reads the caller identity forwarded by the auth layer.
func actorIdentity(r *http.Request) (uuid.UUID, scheduling.ActorRole, bool) {
	id, err := uuid.Parse(r.Header.Get("X-Actor-ID"))
	if err != nil {
		return uuid.Nil, "", false
	}
	role := scheduling.ActorRole(r.Header.Get("X-Actor-Role"))
	if role != scheduling.RolePatient && role != scheduling.RoleDoctor {
		return uuid.Nil, "", false
	}
	return id, role, true
}

func bookAppointmentHandler(engine *scheduling.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		result, err := engine.Book(r.Context(), scheduling.BookInput{
			SlotID:              slotID,
			PatientID:           patientID,
			Notes:               req.Notes,
			ExpectedCheckInTime: req.ExpectedCheckInTime,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, BookAppointmentResponse{
			AppointmentID: result.AppointmentID,
			Status:        string(result.Status),
		})
	}
}

func rescheduleAppointmentHandler(engine *scheduling.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apptID, ok := parseUUIDParam(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		actorID, role, ok := actorIdentity(r)
		if !ok || role != scheduling.RolePatient {
			writeError(w, http.StatusForbidden, "forbidden", "only the patient can reschedule an appointment")
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		newSlotID, err := uuid.Parse(req.NewSlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "new_slot_id must be a valid UUID")
			return
		}

		appt, err := engine.Reschedule(r.Context(), apptID, newSlotID, actorID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(engine *scheduling.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apptID, ok := parseUUIDParam(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		actorID, role, ok := actorIdentity(r)
		if !ok {
			writeError(w, http.StatusForbidden, "forbidden", "caller identity headers are missing or invalid")
			return
		}

		appt, err := engine.Cancel(r.Context(), apptID, actorID, role)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func patientAppointmentsHandler(engine *scheduling.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := parseUUIDParam(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a valid UUID")
			return
		}

		appts, err := engine.PatientAppointments(r.Context(), patientID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := make([]AppointmentDetailResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentDetailResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func doctorAppointmentsHandler(engine *scheduling.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUIDParam(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		appts, err := engine.DoctorAppointments(r.Context(), doctorID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := make([]AppointmentDetailResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentDetailResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createSlotHandler(planner *scheduling.Planner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUIDParam(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		var req CreateSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		slot, err := planner.AddSlot(r.Context(), scheduling.AddSlotInput{
			DoctorID:    doctorID,
			StartTime:   req.StartTime,
			EndTime:     req.EndTime,
			Type:        scheduling.SlotType(req.SlotType),
			MaxCapacity: req.MaxCapacity,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toSlotResponse(slot))
	}
}

func listDoctorSlotsHandler(planner *scheduling.Planner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUIDParam(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		slots, err := planner.DoctorSlots(r.Context(), doctorID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for i := range slots {
			resp = append(resp, toSlotResponse(&slots[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func updateSlotHandler(planner *scheduling.Planner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUIDParam(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}
		slotID, ok := parseUUIDParam(r, "slotID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slotID must be a valid UUID")
			return
		}

		actorID, role, ok := actorIdentity(r)
		if !ok || role != scheduling.RoleDoctor || actorID != doctorID {
			writeError(w, http.StatusForbidden, "forbidden", "only the doctor can update their own slots")
			return
		}

		var req UpdateSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		in := scheduling.UpdateSlotInput{
			DoctorID:    doctorID,
			SlotID:      slotID,
			StartTime:   req.StartTime,
			EndTime:     req.EndTime,
			IsAvailable: req.IsAvailable,
			MaxCapacity: req.MaxCapacity,
		}
		if req.SlotType != nil {
			st := scheduling.SlotType(*req.SlotType)
			in.Type = &st
		}

		slot, err := planner.UpdateSlot(r.Context(), in)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toSlotResponse(slot))
	}
}

func deleteSlotHandler(planner *scheduling.Planner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUIDParam(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}
		slotID, ok := parseUUIDParam(r, "slotID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slotID must be a valid UUID")
			return
		}

		actorID, role, ok := actorIdentity(r)
		if !ok || role != scheduling.RoleDoctor || actorID != doctorID {
			writeError(w, http.StatusForbidden, "forbidden", "only the doctor can delete their own slots")
			return
		}

		if err := planner.RemoveSlot(r.Context(), doctorID, slotID); err != nil {
			writeDomainError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func adjustSessionHandler(planner *scheduling.Planner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUIDParam(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		actorID, role, ok := actorIdentity(r)
		if !ok || role != scheduling.RoleDoctor || actorID != doctorID {
			writeError(w, http.StatusForbidden, "forbidden", "only the doctor can adjust their own session")
			return
		}

		var req AdjustSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		date, err := time.ParseInLocation("2006-01-02", req.Date, req.NewStartTime.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be formatted as yyyy-mm-dd")
			return
		}

		result, err := planner.AdjustSession(r.Context(), scheduling.AdjustSessionInput{
			DoctorID:            doctorID,
			Date:                date,
			NewStart:            req.NewStartTime,
			NewEnd:              req.NewEndTime,
			ConsultationMinutes: req.ConsultationMinutes,
			CapacitySlotID:      req.CapacitySlotID,
			NewMaxCapacity:      req.NewMaxCapacity,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, AdjustSessionResponse{
			AppointmentsCancelled: result.AppointmentsCancelled,
			SlotsDeleted:          result.SlotsDeleted,
			SlotsCreated:          result.SlotsCreated,
			SlotsResized:          result.SlotsResized,
			SlotsCapacityAdjusted: result.SlotsCapacityAdjusted,
		})
	}
}
