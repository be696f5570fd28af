package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medassist/clinic-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Engine  *scheduling.Engine
	Planner *scheduling.Planner
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Log     zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Post("/appointments", bookAppointmentHandler(cfg.Engine))
	r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Engine))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Engine))

	r.Get("/doctors/{id}/slots", listDoctorSlotsHandler(cfg.Planner))
	r.Post("/doctors/{id}/slots", createSlotHandler(cfg.Planner))
	r.Patch("/doctors/{id}/slots/{slotID}", updateSlotHandler(cfg.Planner))
	r.Delete("/doctors/{id}/slots/{slotID}", deleteSlotHandler(cfg.Planner))
	r.Post("/doctors/{id}/session-adjustments", adjustSessionHandler(cfg.Planner))
	r.Get("/doctors/{id}/appointments", doctorAppointmentsHandler(cfg.Engine))

	r.Get("/patients/{id}/appointments", patientAppointmentsHandler(cfg.Engine))

	return r
}
