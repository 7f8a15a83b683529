package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	pgErrSerializationFailure = "40001"
	pgErrDeadlockDetected     = "40P01"
	pgErrLockNotAvailable     = "55P03"
	pgErrQueryCanceled        = "57014"
	pgErrUniqueViolation      = "23505"
)

// PgRepository keeps doctors, patients and every booking record in Postgres.
// Booking transactions run at READ COMMITTED; same-slot transactions serialize
// on the availability and counter rows, taken in that order.
type PgRepository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
	retry       RetryPolicy
	log         *zap.Logger
}

func NewPgRepository(pool *pgxpool.Pool, lockTimeout time.Duration, retry RetryPolicy, log *zap.Logger) *PgRepository {
	if log == nil {
		log = zap.NewNop()
	}
	return &PgRepository{pool: pool, lockTimeout: lockTimeout, retry: retry, log: log}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgTxKey struct{}

// db returns the transaction carried by ctx, so directory lookups made during
// a booking reuse its connection instead of taking a second one from the pool.
func (r *PgRepository) db(ctx context.Context) querier {
	if tx, ok := ctx.Value(pgTxKey{}).(pgx.Tx); ok {
		return tx
	}
	return r.pool
}

func classifyPgError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrSerializationFailure, pgErrDeadlockDetected, pgErrLockNotAvailable, pgErrQueryCanceled:
			return Conflict(op, err)
		}
	}
	return classify(op, err)
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Name)
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
	err := row.Scan(&p.ID, &p.Name, &p.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.Key.DoctorID,
		&a.Key.Date,
		&a.Key.StartTime,
		&a.Key.PatientID,
		&a.SeqNumber,
		&a.Reason,
		&a.RegisteredAt,
		&a.Canceled,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	a.Key.Date = DateOf(a.Key.Date)
	return &a, nil
}

func scanSummary(row pgx.Row) (*AppointmentSummary, error) {
	var s AppointmentSummary
	err := row.Scan(
		&s.DoctorID,
		&s.DoctorName,
		&s.PatientID,
		&s.PatientName,
		&s.PatientPhone,
		&s.Date,
		&s.StartTime,
		&s.SeqNumber,
		&s.RegisteredAt,
		&s.Canceled,
	)
	if err != nil {
		return nil, err
	}
	s.Date = DateOf(s.Date)
	return &s, nil
}

// Directory

func (r *PgRepository) FindDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	q := r.db(ctx)

	d, err := scanDoctor(q.QueryRow(ctx, `
		SELECT id, name
		FROM doctors
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, classifyPgError("find doctor", err)
	}

	rows, err := q.Query(ctx, `
		SELECT day_of_week, start_time, max_patients
		FROM doctor_schedules
		WHERE doctor_id = $1
		ORDER BY day_of_week, start_time
	`, id)
	if err != nil {
		return nil, classifyPgError("load schedule", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s ScheduleSlot
		var day int16
		if err := rows.Scan(&day, &s.StartTime, &s.MaxCapacity); err != nil {
			return nil, classifyPgError("scan schedule", err)
		}
		s.DayOfWeek = time.Weekday(day)
		d.Schedule = append(d.Schedule, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError("load schedule", err)
	}

	return d, nil
}

func (r *PgRepository) FindPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.db(ctx).QueryRow(ctx, `
		SELECT id, name, phone
		FROM patients
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, classifyPgError("find patient", err)
	}
	return p, nil
}

// SaveDoctor replaces the doctor and its whole weekly schedule.
func (r *PgRepository) SaveDoctor(ctx context.Context, d *Doctor) error {
	schedule, err := NormalizeSchedule(d.Schedule)
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name)
			VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
		`, d.ID, d.Name)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM doctor_schedules WHERE doctor_id = $1`, d.ID); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, s := range schedule {
			batch.Queue(`
				INSERT INTO doctor_schedules (doctor_id, day_of_week, start_time, max_patients)
				VALUES ($1, $2, $3, $4)
			`, d.ID, int16(s.DayOfWeek), s.StartTime, s.MaxCapacity)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	return classifyPgError("save doctor", err)
}

func (r *PgRepository) SavePatient(ctx context.Context, p *Patient) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO patients (id, name, phone)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, phone = EXCLUDED.phone
	`, p.ID, p.Name, p.Phone)
	return classifyPgError("save patient", err)
}

// Store

func (r *PgRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return r.retry.Run(ctx, func(ctx context.Context) error {
		return r.runInTx(ctx, fn)
	})
}

func (r *PgRepository) runInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classifyPgError("begin tx", err)
	}

	defer func() {
		if err == nil {
			return
		}
		// the caller's ctx may already be done; the rollback still has to reach the server
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			r.log.Warn("rollback failed", zap.Error(rbErr))
		}
	}()

	if r.lockTimeout > 0 {
		ms := fmt.Sprintf("%dms", r.lockTimeout.Milliseconds())
		if _, err = tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, ms); err != nil {
			return classifyPgError("set lock timeout", err)
		}
	}

	txCtx := context.WithValue(ctx, pgTxKey{}, tx)
	if err = fn(txCtx, &pgTx{tx: tx}); err != nil {
		return classifyPgError("booking tx", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return classifyPgError("commit", err)
	}
	return nil
}

func (r *PgRepository) ReadAvailability(ctx context.Context, key SlotKey) (AvailabilityRecord, bool, error) {
	rec := AvailabilityRecord{Key: key}
	err := r.pool.QueryRow(ctx, `
		SELECT available
		FROM doctor_appointments
		WHERE doctor_id = $1 AND appointment_date = $2 AND start_time = $3
	`, key.DoctorID, key.Date, key.StartTime).Scan(&rec.AcceptingBookings)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, false, nil
		}
		return rec, false, classifyPgError("read availability", err)
	}
	return rec, true, nil
}

func (r *PgRepository) ReadCounter(ctx context.Context, key SlotKey) (SequenceCounter, bool, error) {
	c := SequenceCounter{Key: key}
	err := r.pool.QueryRow(ctx, `
		SELECT seq_number
		FROM appointment_seqs
		WHERE doctor_id = $1 AND appointment_date = $2 AND start_time = $3
	`, key.DoctorID, key.Date, key.StartTime).Scan(&c.Count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c, false, nil
		}
		return c, false, classifyPgError("read counter", err)
	}
	return c, true, nil
}

// Searcher

func (r *PgRepository) SearchAppointments(ctx context.Context, f SearchFilter) ([]AppointmentSummary, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.DoctorName != "" {
		where = append(where, `lower(d.name) LIKE lower(`+arg(EscapeLike(f.DoctorName)+"%")+`) ESCAPE '\'`)
	}
	if f.PatientName != "" {
		where = append(where, `lower(p.name) LIKE lower(`+arg(EscapeLike(f.PatientName)+"%")+`) ESCAPE '\'`)
	}
	if f.PatientPhone != "" {
		where = append(where, `p.phone LIKE `+arg(EscapeLike(f.PatientPhone)+"%")+` ESCAPE '\'`)
	}
	if f.StartTime != "" {
		where = append(where, `a.start_time = `+arg(f.StartTime))
	}
	if f.From != nil {
		where = append(where, `a.appointment_date >= `+arg(*f.From))
	}
	if f.To != nil {
		where = append(where, `a.appointment_date <= `+arg(*f.To))
	}
	if f.Canceled != nil {
		where = append(where, `a.canceled = `+arg(*f.Canceled))
	}

	sql := `
		SELECT d.id, d.name, p.id, p.name, p.phone,
		       a.appointment_date, a.start_time, a.seq_number, a.regist_at, a.canceled
		FROM appointments a
		JOIN doctors d ON d.id = a.doctor_id
		JOIN patients p ON p.id = a.patient_id`
	if len(where) > 0 {
		sql += "\n\t\tWHERE " + strings.Join(where, "\n\t\t  AND ")
	}
	sql += "\n\t\tORDER BY a.appointment_date, a.start_time, d.name, a.seq_number"

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classifyPgError("search appointments", err)
	}
	defer rows.Close()

	var result []AppointmentSummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, classifyPgError("scan appointment", err)
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError("search appointments", err)
	}
	return result, nil
}

// SlotStateLister

// ListSlotStates reads every materialized slot from one snapshot.
func (r *PgRepository) ListSlotStates(ctx context.Context) ([]SlotState, error) {
	var result []SlotState

	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			WITH slots AS (
				SELECT doctor_id, appointment_date, start_time FROM appointment_seqs
				UNION
				SELECT doctor_id, appointment_date, start_time FROM doctor_appointments
				UNION
				SELECT doctor_id, appointment_date, start_time FROM appointments
			)
			SELECT s.doctor_id, s.appointment_date, s.start_time,
			       COALESCE(q.seq_number, 0),
			       COALESCE(v.available, false),
			       v.doctor_id IS NOT NULL,
			       ARRAY(
			           SELECT a.seq_number
			           FROM appointments a
			           WHERE a.doctor_id = s.doctor_id
			             AND a.appointment_date = s.appointment_date
			             AND a.start_time = s.start_time
			           ORDER BY a.seq_number
			       )
			FROM slots s
			LEFT JOIN appointment_seqs q
			       ON q.doctor_id = s.doctor_id AND q.appointment_date = s.appointment_date AND q.start_time = s.start_time
			LEFT JOIN doctor_appointments v
			       ON v.doctor_id = s.doctor_id AND v.appointment_date = s.appointment_date AND v.start_time = s.start_time
			ORDER BY s.appointment_date, s.start_time, s.doctor_id
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var st SlotState
			var seqs []int32
			if err := rows.Scan(
				&st.Key.DoctorID,
				&st.Key.Date,
				&st.Key.StartTime,
				&st.Count,
				&st.AcceptingBookings,
				&st.HasAvailability,
				&seqs,
			); err != nil {
				return err
			}
			st.Key.Date = DateOf(st.Key.Date)
			for _, n := range seqs {
				st.SeqNumbers = append(st.SeqNumbers, int(n))
			}
			result = append(result, st)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, classifyPgError("list slot states", err)
	}
	return result, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) FindAppointment(ctx context.Context, key AppointmentKey) (*Appointment, error) {
	a, err := scanAppointment(t.tx.QueryRow(ctx, `
		SELECT doctor_id, appointment_date, start_time, patient_id, seq_number, reason, regist_at, canceled
		FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2 AND start_time = $3 AND patient_id = $4
	`, key.DoctorID, key.Date, key.StartTime, key.PatientID))
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, classifyPgError("find appointment", err)
	}
	return a, nil
}

func (t *pgTx) EnsureAvailability(ctx context.Context, key SlotKey) (AvailabilityRecord, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO doctor_appointments (doctor_id, appointment_date, start_time, available)
		VALUES ($1, $2, $3, true)
		ON CONFLICT DO NOTHING
	`, key.DoctorID, key.Date, key.StartTime)
	if err != nil {
		return AvailabilityRecord{}, classifyPgError("create availability", err)
	}

	rec := AvailabilityRecord{Key: key}
	err = t.tx.QueryRow(ctx, `
		SELECT available
		FROM doctor_appointments
		WHERE doctor_id = $1 AND appointment_date = $2 AND start_time = $3
		FOR UPDATE
	`, key.DoctorID, key.Date, key.StartTime).Scan(&rec.AcceptingBookings)
	if err != nil {
		return AvailabilityRecord{}, classifyPgError("lock availability", err)
	}
	return rec, nil
}

func (t *pgTx) SetAvailability(ctx context.Context, key SlotKey, accepting bool) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE doctor_appointments
		SET available = $4
		WHERE doctor_id = $1 AND appointment_date = $2 AND start_time = $3
	`, key.DoctorID, key.Date, key.StartTime, accepting)
	return classifyPgError("update availability", err)
}

func (t *pgTx) EnsureCounter(ctx context.Context, key SlotKey) (SequenceCounter, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointment_seqs (doctor_id, appointment_date, start_time, seq_number)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT DO NOTHING
	`, key.DoctorID, key.Date, key.StartTime)
	if err != nil {
		return SequenceCounter{}, classifyPgError("create counter", err)
	}

	c := SequenceCounter{Key: key}
	err = t.tx.QueryRow(ctx, `
		SELECT seq_number
		FROM appointment_seqs
		WHERE doctor_id = $1 AND appointment_date = $2 AND start_time = $3
		FOR UPDATE
	`, key.DoctorID, key.Date, key.StartTime).Scan(&c.Count)
	if err != nil {
		return SequenceCounter{}, classifyPgError("lock counter", err)
	}
	return c, nil
}

func (t *pgTx) SetCounter(ctx context.Context, key SlotKey, count int) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE appointment_seqs
		SET seq_number = $4
		WHERE doctor_id = $1 AND appointment_date = $2 AND start_time = $3
	`, key.DoctorID, key.Date, key.StartTime, count)
	return classifyPgError("update counter", err)
}

func (t *pgTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments (doctor_id, appointment_date, start_time, patient_id, seq_number, reason, regist_at, canceled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.Key.DoctorID, a.Key.Date, a.Key.StartTime, a.Key.PatientID, a.SeqNumber, a.Reason, a.RegisteredAt, a.Canceled)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation && pgErr.ConstraintName == "appointments_pkey" {
			return Duplicate(a.Key)
		}
		return classifyPgError("insert appointment", err)
	}
	return nil
}
