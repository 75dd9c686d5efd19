package backup

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthmate/healthmate/internal/platform/db"
)

type runRepoPG struct {
	pool *pgxpool.Pool
}

func NewRunRepoPG(pool *pgxpool.Pool) Repository {
	return &runRepoPG{pool: pool}
}

const runCols = `id, status, bucket, objects, row_count, byte_count, error, started_at, finished_at`

func scanRun(row pgx.Row) (*Run, error) {
	var r Run
	if err := row.Scan(&r.ID, &r.Status, &r.Bucket, &r.Objects, &r.RowCount, &r.ByteCount,
		&r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	if r.Objects == nil {
		r.Objects = []string{}
	}
	return &r, nil
}

func (r *runRepoPG) Create(ctx context.Context, run *Run) error {
	run.ID = uuid.New()
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO backup_run (id, status, bucket, started_at) VALUES ($1,$2,$3,$4)`,
		run.ID, run.Status, run.Bucket, run.StartedAt)
	return db.MapErr(err, "backup run", run.ID)
}

func (r *runRepoPG) Finish(ctx context.Context, run *Run) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE backup_run SET status=$2, objects=$3, row_count=$4, byte_count=$5, error=$6, finished_at=$7
		WHERE id = $1`,
		run.ID, run.Status, run.Objects, run.RowCount, run.ByteCount, run.Error, run.FinishedAt)
	return db.MapErr(err, "backup run", run.ID)
}

func (r *runRepoPG) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	run, err := scanRun(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+runCols+` FROM backup_run WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapErr(err, "backup run", id)
	}
	return run, nil
}

func (r *runRepoPG) List(ctx context.Context, limit, offset int) ([]*Run, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM backup_run`).Scan(&total); err != nil {
		return nil, 0, db.MapErr(err, "backup run", "")
	}
	rows, err := conn.Query(ctx, `SELECT `+runCols+` FROM backup_run ORDER BY started_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, db.MapErr(err, "backup run", "")
	}
	defer rows.Close()
	var items []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, db.MapErr(err, "backup run", "")
		}
		items = append(items, run)
	}
	return items, total, rows.Err()
}
