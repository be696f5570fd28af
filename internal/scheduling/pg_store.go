package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same store
// code serves pooled reads and transaction-scoped work.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PgStore struct {
	pool *pgxpool.Pool
	q    querier
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, q: pool}
}

// InTx runs fn against a transaction-scoped store. fn returning an error (or
// a panic unwinding through) rolls the whole transaction back.
func (s *PgStore) InTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PgStore{pool: s.pool, q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Scan helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Name, &d.Specialty, &d.Email, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.StartTime,
		&s.EndTime,
		&s.Type,
		&s.IsAvailable,
		&s.MaxCapacity,
		&s.BookedCount,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.SlotID,
		&a.AppointmentTime,
		&a.Status,
		&a.Notes,
		&a.ExpectedCheckInTime,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

const slotColumns = `id, doctor_id, start_time, end_time, slot_type, is_available, max_capacity, booked_count, created_at, updated_at`

const appointmentColumns = `id, doctor_id, patient_id, slot_id, appointment_time, status, notes, expected_check_in_time, created_at, updated_at`

// Doctors and patients

func (s *PgStore) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, name, specialty, email, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (s *PgStore) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, name, email, phone, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

// Slots

func (s *PgStore) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (s *PgStore) GetSlotForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanSlot(row)
}

func (s *PgStore) FindSlotsByDoctorAndRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error) {
	return s.querySlots(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE doctor_id = $1 AND start_time >= $2 AND start_time < $3
		ORDER BY start_time
	`, doctorID, from, to)
}

func (s *PgStore) FindSlotsByDoctorAndRangeForUpdate(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Slot, error) {
	return s.querySlots(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE doctor_id = $1 AND start_time >= $2 AND start_time < $3
		ORDER BY start_time
		FOR UPDATE
	`, doctorID, from, to)
}

func (s *PgStore) querySlots(ctx context.Context, sql string, args ...any) ([]Slot, error) {
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		sl, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *sl)
	}
	return result, rows.Err()
}

func (s *PgStore) CreateSlot(ctx context.Context, sl *Slot) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO availability_slots (`+slotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, sl.ID, sl.DoctorID, sl.StartTime, sl.EndTime, sl.Type, sl.IsAvailable, sl.MaxCapacity, sl.BookedCount, sl.CreatedAt, sl.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert slot: %w", err)
	}
	return nil
}

func (s *PgStore) UpdateSlot(ctx context.Context, sl *Slot) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE availability_slots
		SET start_time = $2,
		    end_time = $3,
		    slot_type = $4,
		    is_available = $5,
		    max_capacity = $6,
		    booked_count = $7,
		    updated_at = $8
		WHERE id = $1
	`, sl.ID, sl.StartTime, sl.EndTime, sl.Type, sl.IsAvailable, sl.MaxCapacity, sl.BookedCount, sl.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (s *PgStore) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM availability_slots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

// Appointments

func (s *PgStore) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (s *PgStore) CreateAppointment(ctx context.Context, a *Appointment) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.DoctorID, a.PatientID, a.SlotID, a.AppointmentTime, a.Status, a.Notes, a.ExpectedCheckInTime, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (s *PgStore) UpdateAppointment(ctx context.Context, a *Appointment) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE appointments
		SET slot_id = $2,
		    appointment_time = $3,
		    status = $4,
		    notes = $5,
		    expected_check_in_time = $6,
		    updated_at = $7
		WHERE id = $1
	`, a.ID, a.SlotID, a.AppointmentTime, a.Status, a.Notes, a.ExpectedCheckInTime, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (s *PgStore) CountActiveBySlot(ctx context.Context, slotID uuid.UUID) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE slot_id = $1 AND status IN ('pending', 'confirmed')
	`, slotID).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *PgStore) FindActiveByDoctorAndDateRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	return s.queryAppointments(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_time >= $2 AND appointment_time < $3
		  AND status IN ('pending', 'confirmed')
		ORDER BY appointment_time
	`, doctorID, from, to)
}

func (s *PgStore) FindActiveBySlotNewestFirst(ctx context.Context, slotID uuid.UUID, limit int) ([]Appointment, error) {
	return s.queryAppointments(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE slot_id = $1 AND status IN ('pending', 'confirmed')
		ORDER BY created_at DESC
		LIMIT $2
	`, slotID, limit)
}

func (s *PgStore) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	return s.queryAppointments(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appointment_time
	`, patientID)
}

func (s *PgStore) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Appointment, error) {
	return s.queryAppointments(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY appointment_time
	`, doctorID)
}

func (s *PgStore) queryAppointments(ctx context.Context, sql string, args ...any) ([]Appointment, error) {
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (s *PgStore) ListSlotsByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Slot, error) {
	return s.querySlots(ctx, `
		SELECT `+slotColumns+`
		FROM availability_slots
		WHERE doctor_id = $1
		ORDER BY start_time
	`, doctorID)
}
