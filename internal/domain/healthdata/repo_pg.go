package healthdata

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthmate/healthmate/internal/platform/db"
	"github.com/healthmate/healthmate/internal/platform/fieldcrypt"
)

// farFuture bounds open-ended range queries.
var farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

func rangeOrAll(from, to time.Time) (time.Time, time.Time) {
	if to.IsZero() {
		to = farFuture
	}
	return from, to
}

// =========== Health Data Repository ===========

type repoPG struct {
	pool  *pgxpool.Pool
	crypt *fieldcrypt.Service
}

// NewRepoPG stores notes encrypted with crypt.
func NewRepoPG(pool *pgxpool.Pool, crypt *fieldcrypt.Service) Repository {
	return &repoPG{pool: pool, crypt: crypt}
}

const dataCols = `id, user_id, metric_type, value, unit, recorded_at, source, notes, created_at`

func (r *repoPG) scan(row pgx.Row) (*HealthData, error) {
	var d HealthData
	if err := row.Scan(&d.ID, &d.UserID, &d.MetricType, &d.Value, &d.Unit, &d.RecordedAt,
		&d.Source, &d.Notes, &d.CreatedAt); err != nil {
		return nil, err
	}
	if err := r.crypt.DecryptPtr(d.Notes); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repoPG) collect(rows pgx.Rows) ([]*HealthData, error) {
	defer rows.Close()
	var items []*HealthData
	for rows.Next() {
		d, err := r.scan(rows)
		if err != nil {
			return nil, db.MapErr(err, "health data", "")
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, d *HealthData) error {
	d.ID = uuid.New()
	notes, err := r.crypt.EncryptPtr(d.Notes)
	if err != nil {
		return err
	}
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO health_data (id, user_id, metric_type, value, unit, recorded_at, source, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		d.ID, d.UserID, d.MetricType, d.Value, d.Unit, d.RecordedAt, d.Source, notes,
	).Scan(&d.CreatedAt)
	return db.MapErr(err, "health data", d.ID)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*HealthData, error) {
	d, err := r.scan(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+dataCols+` FROM health_data WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapErr(err, "health data", id)
	}
	return d, nil
}

func (r *repoPG) Update(ctx context.Context, d *HealthData) error {
	notes, err := r.crypt.EncryptPtr(d.Notes)
	if err != nil {
		return err
	}
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE health_data SET metric_type=$2, value=$3, unit=$4, recorded_at=$5, source=$6, notes=$7
		WHERE id = $1`,
		d.ID, d.MetricType, d.Value, d.Unit, d.RecordedAt, d.Source, notes)
	if err != nil {
		return db.MapErr(err, "health data", d.ID)
	}
	if tag.RowsAffected() == 0 {
		return db.MapErr(pgx.ErrNoRows, "health data", d.ID)
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM health_data WHERE id = $1`, id)
	if err != nil {
		return db.MapErr(err, "health data", id)
	}
	if tag.RowsAffected() == 0 {
		return db.MapErr(pgx.ErrNoRows, "health data", id)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, userID string, f Filter) ([]*HealthData, int, error) {
	from, to := rangeOrAll(f.From, f.To)
	conn := db.Conn(ctx, r.pool)
	const where = ` WHERE user_id = $1 AND ($2 = '' OR metric_type = $2) AND recorded_at >= $3 AND recorded_at < $4`

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM health_data`+where,
		userID, f.MetricType, from, to).Scan(&total); err != nil {
		return nil, 0, db.MapErr(err, "health data", userID)
	}
	rows, err := conn.Query(ctx, `SELECT `+dataCols+` FROM health_data`+where+
		` ORDER BY recorded_at DESC LIMIT $5 OFFSET $6`,
		userID, f.MetricType, from, to, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, db.MapErr(err, "health data", userID)
	}
	items, err := r.collect(rows)
	return items, total, err
}

func (r *repoPG) Series(ctx context.Context, userID, metric string, from, to time.Time) ([]*HealthData, error) {
	from, to = rangeOrAll(from, to)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+dataCols+` FROM health_data
		WHERE user_id = $1 AND metric_type = $2 AND recorded_at >= $3 AND recorded_at < $4
		ORDER BY recorded_at`, userID, metric, from, to)
	if err != nil {
		return nil, db.MapErr(err, "health data", userID)
	}
	return r.collect(rows)
}

// =========== Symptom Repository ===========

type symptomRepoPG struct {
	pool  *pgxpool.Pool
	crypt *fieldcrypt.Service
}

func NewSymptomRepoPG(pool *pgxpool.Pool, crypt *fieldcrypt.Service) SymptomRepository {
	return &symptomRepoPG{pool: pool, crypt: crypt}
}

const symptomCols = `id, user_id, symptom, severity, duration_minutes, triggers, notes, logged_at, created_at`

func (r *symptomRepoPG) scan(row pgx.Row) (*SymptomLog, error) {
	var s SymptomLog
	if err := row.Scan(&s.ID, &s.UserID, &s.Symptom, &s.Severity, &s.DurationMinutes,
		&s.Triggers, &s.Notes, &s.LoggedAt, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := r.crypt.DecryptPtr(s.Notes); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *symptomRepoPG) Create(ctx context.Context, s *SymptomLog) error {
	s.ID = uuid.New()
	notes, err := r.crypt.EncryptPtr(s.Notes)
	if err != nil {
		return err
	}
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO symptom_log (id, user_id, symptom, severity, duration_minutes, triggers, notes, logged_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		s.ID, s.UserID, s.Symptom, s.Severity, s.DurationMinutes, s.Triggers, notes, s.LoggedAt,
	).Scan(&s.CreatedAt)
	return db.MapErr(err, "symptom", s.ID)
}

func (r *symptomRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*SymptomLog, error) {
	s, err := r.scan(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+symptomCols+` FROM symptom_log WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapErr(err, "symptom", id)
	}
	return s, nil
}

func (r *symptomRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM symptom_log WHERE id = $1`, id)
	if err != nil {
		return db.MapErr(err, "symptom", id)
	}
	if tag.RowsAffected() == 0 {
		return db.MapErr(pgx.ErrNoRows, "symptom", id)
	}
	return nil
}

func (r *symptomRepoPG) List(ctx context.Context, userID string, from, to time.Time, limit, offset int) ([]*SymptomLog, int, error) {
	from, to = rangeOrAll(from, to)
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM symptom_log
		WHERE user_id = $1 AND logged_at >= $2 AND logged_at < $3`, userID, from, to).Scan(&total); err != nil {
		return nil, 0, db.MapErr(err, "symptom", userID)
	}
	rows, err := conn.Query(ctx, `SELECT `+symptomCols+` FROM symptom_log
		WHERE user_id = $1 AND logged_at >= $2 AND logged_at < $3
		ORDER BY logged_at DESC LIMIT $4 OFFSET $5`, userID, from, to, limit, offset)
	if err != nil {
		return nil, 0, db.MapErr(err, "symptom", userID)
	}
	defer rows.Close()
	var items []*SymptomLog
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, 0, db.MapErr(err, "symptom", userID)
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}
