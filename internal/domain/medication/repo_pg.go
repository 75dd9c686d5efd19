package medication

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthmate/healthmate/internal/platform/db"
	"github.com/healthmate/healthmate/internal/platform/fieldcrypt"
)

// =========== Medication Repository ===========

type medicationRepoPG struct{ pool *pgxpool.Pool }

func NewMedicationRepoPG(pool *pgxpool.Pool) MedicationRepository {
	return &medicationRepoPG{pool: pool}
}

const medCols = `id, profile_id, user_id, name, dosage, unit, frequency, times_per_day, schedule_times,
	start_date, end_date, prescriber, instructions, status, created_at, updated_at`

func scanMedication(row pgx.Row) (*EnhancedMedication, error) {
	var m EnhancedMedication
	err := row.Scan(&m.ID, &m.ProfileID, &m.UserID, &m.Name, &m.Dosage, &m.Unit, &m.Frequency,
		&m.TimesPerDay, &m.ScheduleTimes, &m.StartDate, &m.EndDate, &m.Prescriber, &m.Instructions,
		&m.Status, &m.CreatedAt, &m.UpdatedAt)
	return &m, err
}

func (r *medicationRepoPG) Create(ctx context.Context, m *EnhancedMedication) error {
	m.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO enhanced_medication (id, profile_id, user_id, name, dosage, unit, frequency,
			times_per_day, schedule_times, start_date, end_date, prescriber, instructions, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`,
		m.ID, m.ProfileID, m.UserID, m.Name, m.Dosage, m.Unit, m.Frequency,
		m.TimesPerDay, m.ScheduleTimes, m.StartDate, m.EndDate, m.Prescriber, m.Instructions, m.Status,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	return db.MapErr(err, "medication", m.ID)
}

func (r *medicationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*EnhancedMedication, error) {
	m, err := scanMedication(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+medCols+` FROM enhanced_medication WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapErr(err, "medication", id)
	}
	return m, nil
}

func (r *medicationRepoPG) Update(ctx context.Context, m *EnhancedMedication) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE enhanced_medication SET name=$2, dosage=$3, unit=$4, frequency=$5, times_per_day=$6,
			schedule_times=$7, start_date=$8, end_date=$9, prescriber=$10, instructions=$11, status=$12,
			updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		m.ID, m.Name, m.Dosage, m.Unit, m.Frequency, m.TimesPerDay,
		m.ScheduleTimes, m.StartDate, m.EndDate, m.Prescriber, m.Instructions, m.Status,
	).Scan(&m.UpdatedAt)
	return db.MapErr(err, "medication", m.ID)
}

func (r *medicationRepoPG) ListByUser(ctx context.Context, userID, status string, limit, offset int) ([]*EnhancedMedication, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM enhanced_medication
		WHERE user_id = $1 AND ($2 = '' OR status = $2)`, userID, status).Scan(&total); err != nil {
		return nil, 0, db.MapErr(err, "medication", userID)
	}
	rows, err := conn.Query(ctx, `SELECT `+medCols+` FROM enhanced_medication
		WHERE user_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`, userID, status, limit, offset)
	if err != nil {
		return nil, 0, db.MapErr(err, "medication", userID)
	}
	items, err := collectMedications(rows)
	return items, total, err
}

func (r *medicationRepoPG) ListActive(ctx context.Context) ([]*EnhancedMedication, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+medCols+` FROM enhanced_medication WHERE status = $1 ORDER BY user_id, created_at`, StatusActive)
	if err != nil {
		return nil, db.MapErr(err, "medication", "active")
	}
	return collectMedications(rows)
}

func collectMedications(rows pgx.Rows) ([]*EnhancedMedication, error) {
	defer rows.Close()
	var items []*EnhancedMedication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, db.MapErr(err, "medication", "")
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// =========== Dose Log Repository ===========

type doseLogRepoPG struct {
	pool  *pgxpool.Pool
	crypt *fieldcrypt.Service
}

// NewDoseLogRepoPG stores notes encrypted with crypt.
func NewDoseLogRepoPG(pool *pgxpool.Pool, crypt *fieldcrypt.Service) DoseLogRepository {
	return &doseLogRepoPG{pool: pool, crypt: crypt}
}

const doseCols = `id, medication_id, user_id, scheduled_at, taken_at, status, notes, created_at`

func (r *doseLogRepoPG) scan(row pgx.Row) (*DoseLog, error) {
	var l DoseLog
	if err := row.Scan(&l.ID, &l.MedicationID, &l.UserID, &l.ScheduledAt, &l.TakenAt,
		&l.Status, &l.Notes, &l.CreatedAt); err != nil {
		return nil, err
	}
	if err := r.crypt.DecryptPtr(l.Notes); err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *doseLogRepoPG) Create(ctx context.Context, l *DoseLog) error {
	l.ID = uuid.New()
	notes, err := r.crypt.EncryptPtr(l.Notes)
	if err != nil {
		return err
	}
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO medication_dose_log (id, medication_id, user_id, scheduled_at, taken_at, status, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		l.ID, l.MedicationID, l.UserID, l.ScheduledAt, l.TakenAt, l.Status, notes,
	).Scan(&l.CreatedAt)
	return db.MapErr(err, "dose log", l.ID)
}

func (r *doseLogRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*DoseLog, error) {
	l, err := r.scan(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+doseCols+` FROM medication_dose_log WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapErr(err, "dose log", id)
	}
	return l, nil
}

func (r *doseLogRepoPG) ListByMedication(ctx context.Context, medicationID uuid.UUID, from, to time.Time) ([]*DoseLog, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+doseCols+` FROM medication_dose_log
		WHERE medication_id = $1 AND scheduled_at >= $2 AND scheduled_at < $3
		ORDER BY scheduled_at`, medicationID, from, to)
	if err != nil {
		return nil, db.MapErr(err, "dose log", medicationID)
	}
	defer rows.Close()
	var items []*DoseLog
	for rows.Next() {
		l, err := r.scan(rows)
		if err != nil {
			return nil, db.MapErr(err, "dose log", medicationID)
		}
		items = append(items, l)
	}
	return items, rows.Err()
}

func (r *doseLogRepoPG) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*DoseLog, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM medication_dose_log WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, db.MapErr(err, "dose log", userID)
	}
	rows, err := conn.Query(ctx, `SELECT `+doseCols+` FROM medication_dose_log
		WHERE user_id = $1 ORDER BY scheduled_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, db.MapErr(err, "dose log", userID)
	}
	defer rows.Close()
	var items []*DoseLog
	for rows.Next() {
		l, err := r.scan(rows)
		if err != nil {
			return nil, 0, db.MapErr(err, "dose log", userID)
		}
		items = append(items, l)
	}
	return items, total, rows.Err()
}
