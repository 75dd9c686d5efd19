package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthmate/healthmate/internal/platform/db"
)

type jobRepoPG struct {
	pool *pgxpool.Pool
}

func NewJobRepoPG(pool *pgxpool.Pool) JobRepository {
	return &jobRepoPG{pool: pool}
}

const jobCols = `id, name, mode, source_table, target, config, batch_size, min_quality_score,
	schedule_interval, kafka_topic, enabled, watermark, watermark_id::text, created_at, updated_at`

func scanJob(row pgx.Row) (*ETLJobConfig, error) {
	var (
		j        ETLJobConfig
		source   *string
		topic    *string
		wmID     *string
		spec     []byte
		interval int64
	)
	if err := row.Scan(&j.ID, &j.Name, &j.Mode, &source, &j.Target, &spec, &j.BatchSize, &j.MinQualityScore,
		&interval, &topic, &j.Enabled, &j.Watermark, &wmID, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	if wmID != nil {
		j.WatermarkID = *wmID
	}
	if source != nil {
		j.SourceTable = *source
	}
	if topic != nil {
		j.KafkaTopic = *topic
	}
	j.ScheduleInterval = Duration(time.Duration(interval) * time.Second)
	if err := json.Unmarshal(spec, &j.Spec); err != nil {
		return nil, err
	}
	return &j, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *jobRepoPG) Create(ctx context.Context, j *ETLJobConfig) error {
	j.ID = uuid.New()
	spec, err := json.Marshal(j.Spec)
	if err != nil {
		return err
	}
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO etl_job (id, name, mode, source_table, target, config, batch_size, min_quality_score,
			schedule_interval, kafka_topic, enabled)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		j.ID, j.Name, j.Mode, nullable(j.SourceTable), j.Target, spec, j.BatchSize, j.MinQualityScore,
		int64(time.Duration(j.ScheduleInterval)/time.Second), nullable(j.KafkaTopic), j.Enabled,
	).Scan(&j.CreatedAt, &j.UpdatedAt)
	return db.MapErr(err, "etl job", j.ID)
}

func (r *jobRepoPG) Upsert(ctx context.Context, j *ETLJobConfig) error {
	spec, err := json.Marshal(j.Spec)
	if err != nil {
		return err
	}
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO etl_job (id, name, mode, source_table, target, config, batch_size, min_quality_score,
			schedule_interval, kafka_topic, enabled)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (name) DO UPDATE SET
			mode = EXCLUDED.mode, source_table = EXCLUDED.source_table, target = EXCLUDED.target,
			config = EXCLUDED.config, batch_size = EXCLUDED.batch_size,
			min_quality_score = EXCLUDED.min_quality_score, schedule_interval = EXCLUDED.schedule_interval,
			kafka_topic = EXCLUDED.kafka_topic, enabled = EXCLUDED.enabled, updated_at = NOW()
		RETURNING id, watermark, COALESCE(watermark_id::text, ''), created_at, updated_at`,
		uuid.New(), j.Name, j.Mode, nullable(j.SourceTable), j.Target, spec, j.BatchSize, j.MinQualityScore,
		int64(time.Duration(j.ScheduleInterval)/time.Second), nullable(j.KafkaTopic), j.Enabled,
	).Scan(&j.ID, &j.Watermark, &j.WatermarkID, &j.CreatedAt, &j.UpdatedAt)
	return db.MapErr(err, "etl job", j.Name)
}

func (r *jobRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ETLJobConfig, error) {
	j, err := scanJob(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+jobCols+` FROM etl_job WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapErr(err, "etl job", id)
	}
	return j, nil
}

func (r *jobRepoPG) GetByName(ctx context.Context, name string) (*ETLJobConfig, error) {
	j, err := scanJob(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+jobCols+` FROM etl_job WHERE name = $1`, name))
	if err != nil {
		return nil, db.MapErr(err, "etl job", name)
	}
	return j, nil
}

func (r *jobRepoPG) Update(ctx context.Context, j *ETLJobConfig) error {
	spec, err := json.Marshal(j.Spec)
	if err != nil {
		return err
	}
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE etl_job SET name=$2, mode=$3, source_table=$4, target=$5, config=$6, batch_size=$7,
			min_quality_score=$8, schedule_interval=$9, kafka_topic=$10, enabled=$11, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		j.ID, j.Name, j.Mode, nullable(j.SourceTable), j.Target, spec, j.BatchSize, j.MinQualityScore,
		int64(time.Duration(j.ScheduleInterval)/time.Second), nullable(j.KafkaTopic), j.Enabled,
	).Scan(&j.UpdatedAt)
	return db.MapErr(err, "etl job", j.ID)
}

func (r *jobRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM etl_job WHERE id = $1`, id)
	if err != nil {
		return db.MapErr(err, "etl job", id)
	}
	if tag.RowsAffected() == 0 {
		return db.MapErr(pgx.ErrNoRows, "etl job", id)
	}
	return nil
}

func (r *jobRepoPG) List(ctx context.Context, limit, offset int) ([]*ETLJobConfig, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM etl_job`).Scan(&total); err != nil {
		return nil, 0, db.MapErr(err, "etl job", "")
	}
	rows, err := conn.Query(ctx, `SELECT `+jobCols+` FROM etl_job ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, db.MapErr(err, "etl job", "")
	}
	defer rows.Close()
	var items []*ETLJobConfig
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, db.MapErr(err, "etl job", "")
		}
		items = append(items, j)
	}
	return items, total, rows.Err()
}

func (r *jobRepoPG) SetWatermark(ctx context.Context, id uuid.UUID, wm Cursor) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE etl_job SET watermark = $2, watermark_id = $3::uuid
		WHERE id = $1 AND (watermark IS NULL
			OR (watermark, COALESCE(watermark_id, '`+maxID+`'::uuid)) < ($2, $3::uuid))`,
		id, wm.At, wm.ID)
	return db.MapErr(err, "etl job", id)
}

const runCols = `id, job_id, status, records_extracted, records_loaded, records_dropped,
	quality_score, quality_level, error, started_at, finished_at`

func (r *jobRepoPG) CreateRun(ctx context.Context, run *JobRun) error {
	run.ID = uuid.New()
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO etl_job_run (id, job_id, status, started_at) VALUES ($1,$2,$3,$4)`,
		run.ID, run.JobID, run.Status, run.StartedAt)
	return db.MapErr(err, "etl job run", run.ID)
}

func (r *jobRepoPG) FinishRun(ctx context.Context, run *JobRun) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE etl_job_run SET status=$2, records_extracted=$3, records_loaded=$4, records_dropped=$5,
			quality_score=$6, quality_level=$7, error=$8, finished_at=$9
		WHERE id = $1`,
		run.ID, run.Status, run.RecordsExtracted, run.RecordsLoaded, run.RecordsDropped,
		run.QualityScore, run.QualityLevel, run.Error, run.FinishedAt)
	return db.MapErr(err, "etl job run", run.ID)
}

func (r *jobRepoPG) ListRuns(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]*JobRun, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM etl_job_run WHERE job_id = $1`, jobID).Scan(&total); err != nil {
		return nil, 0, db.MapErr(err, "etl job run", "")
	}
	rows, err := conn.Query(ctx, `SELECT `+runCols+` FROM etl_job_run WHERE job_id = $1
		ORDER BY started_at DESC LIMIT $2 OFFSET $3`, jobID, limit, offset)
	if err != nil {
		return nil, 0, db.MapErr(err, "etl job run", "")
	}
	defer rows.Close()
	var items []*JobRun
	for rows.Next() {
		var run JobRun
		if err := rows.Scan(&run.ID, &run.JobID, &run.Status, &run.RecordsExtracted, &run.RecordsLoaded,
			&run.RecordsDropped, &run.QualityScore, &run.QualityLevel, &run.Error, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, 0, db.MapErr(err, "etl job run", "")
		}
		items = append(items, &run)
	}
	return items, total, rows.Err()
}
