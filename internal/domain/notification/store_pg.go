package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthmate/healthmate/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const cols = `id, user_id, type, title, message, channel, urgency, status, scheduled_for,
	sent_at, delivered_at, error, retry_count, metadata, created_at, updated_at`

func scan(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Channel, &n.Urgency,
		&n.Status, &n.ScheduledFor, &n.SentAt, &n.DeliveredAt, &n.Error, &n.RetryCount,
		&n.Metadata, &n.CreatedAt, &n.UpdatedAt)
	return &n, err
}

func collect(rows pgx.Rows) ([]*Notification, error) {
	defer rows.Close()
	var items []*Notification
	for rows.Next() {
		n, err := scan(rows)
		if err != nil {
			return nil, db.MapErr(err, "notification", "")
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, n *Notification) error {
	n.ID = uuid.New()
	if n.Metadata == nil {
		n.Metadata = map[string]interface{}{}
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO notification (id, user_id, type, title, message, channel, urgency, status,
			scheduled_for, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		n.ID, n.UserID, n.Type, n.Title, n.Message, n.Channel, n.Urgency, n.Status,
		n.ScheduledFor, n.Metadata,
	).Scan(&n.CreatedAt, &n.UpdatedAt)
	return db.MapErr(err, "notification", n.ID)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	n, err := scan(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+cols+` FROM notification WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapErr(err, "notification", id)
	}
	return n, nil
}

func (r *repoPG) Update(ctx context.Context, n *Notification) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE notification SET status=$2, scheduled_for=$3, sent_at=$4, delivered_at=$5, error=$6,
			retry_count=$7, metadata=$8, claimed_until=NULL, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		n.ID, n.Status, n.ScheduledFor, n.SentAt, n.DeliveredAt, n.Error, n.RetryCount, n.Metadata,
	).Scan(&n.UpdatedAt)
	return db.MapErr(err, "notification", n.ID)
}

func (r *repoPG) Claim(ctx context.Context, id uuid.UUID, status string, now, until time.Time) (bool, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE notification SET claimed_until = $4
		WHERE id = $1 AND status = $2 AND (claimed_until IS NULL OR claimed_until <= $3)`,
		id, status, now, until)
	if err != nil {
		return false, db.MapErr(err, "notification", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) ListByUser(ctx context.Context, userID, status string, limit, offset int) ([]*Notification, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM notification
		WHERE user_id = $1 AND ($2 = '' OR status = $2)`, userID, status).Scan(&total); err != nil {
		return nil, 0, db.MapErr(err, "notification", userID)
	}
	rows, err := conn.Query(ctx, `SELECT `+cols+` FROM notification
		WHERE user_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`, userID, status, limit, offset)
	if err != nil {
		return nil, 0, db.MapErr(err, "notification", userID)
	}
	items, err := collect(rows)
	return items, total, err
}

func (r *repoPG) ListDue(ctx context.Context, now time.Time, limit int) ([]*Notification, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+cols+` FROM notification
		WHERE status = 'pending' AND (scheduled_for IS NULL OR scheduled_for <= $1)
			AND (claimed_until IS NULL OR claimed_until <= $1)
		ORDER BY scheduled_for NULLS FIRST, created_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, db.MapErr(err, "notification", "due")
	}
	return collect(rows)
}

func (r *repoPG) Stats(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT status, COUNT(*) FROM notification
		WHERE ($1 = '' OR user_id = $1) GROUP BY status`, userID)
	if err != nil {
		return nil, db.MapErr(err, "notification", userID)
	}
	defer rows.Close()
	stats := map[string]int{StatusPending: 0, StatusSent: 0, StatusDelivered: 0, StatusFailed: 0}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, db.MapErr(err, "notification", userID)
		}
		stats[status] = n
	}
	return stats, rows.Err()
}
