package webhook

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthmate/healthmate/internal/platform/db"
)

type pgStore struct{ pool *pgxpool.Pool }

// NewPGStore returns a Store backed by the webhook_endpoint and
// webhook_delivery tables.
func NewPGStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

const endpointCols = `id, owner_id, url, secret, events, active, COALESCE(description, ''), created_at, updated_at`

func scanEndpoint(row pgx.Row) (*Endpoint, error) {
	var ep Endpoint
	err := row.Scan(&ep.ID, &ep.OwnerID, &ep.URL, &ep.Secret, &ep.Events, &ep.Active,
		&ep.Description, &ep.CreatedAt, &ep.UpdatedAt)
	return &ep, err
}

func (s *pgStore) CreateEndpoint(ctx context.Context, ep *Endpoint) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO webhook_endpoint (id, owner_id, url, secret, events, active, description, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		ep.ID, ep.OwnerID, ep.URL, ep.Secret, ep.Events, ep.Active, ep.Description, ep.CreatedAt, ep.UpdatedAt)
	return db.MapErr(err, "webhook endpoint", ep.ID)
}

func (s *pgStore) GetEndpoint(ctx context.Context, id string) (*Endpoint, error) {
	ep, err := scanEndpoint(db.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+endpointCols+` FROM webhook_endpoint WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapErr(err, "webhook endpoint", id)
	}
	return ep, nil
}

func (s *pgStore) ListEndpoints(ctx context.Context, ownerID string, limit, offset int) ([]*Endpoint, int, error) {
	conn := db.Conn(ctx, s.pool)
	var total int
	if err := conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM webhook_endpoint WHERE $1 = '' OR owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, db.MapErr(err, "webhook endpoint", ownerID)
	}
	rows, err := conn.Query(ctx, `SELECT `+endpointCols+` FROM webhook_endpoint
		WHERE $1 = '' OR owner_id = $1 ORDER BY created_at LIMIT $2 OFFSET $3`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, db.MapErr(err, "webhook endpoint", ownerID)
	}
	defer rows.Close()
	var items []*Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, 0, db.MapErr(err, "webhook endpoint", ownerID)
		}
		items = append(items, ep)
	}
	return items, total, rows.Err()
}

func (s *pgStore) ListActive(ctx context.Context) ([]*Endpoint, error) {
	rows, err := db.Conn(ctx, s.pool).Query(ctx,
		`SELECT `+endpointCols+` FROM webhook_endpoint WHERE active ORDER BY created_at`)
	if err != nil {
		return nil, db.MapErr(err, "webhook endpoint", "active")
	}
	defer rows.Close()
	var items []*Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, db.MapErr(err, "webhook endpoint", "active")
		}
		items = append(items, ep)
	}
	return items, rows.Err()
}

func (s *pgStore) UpdateEndpoint(ctx context.Context, ep *Endpoint) error {
	tag, err := db.Conn(ctx, s.pool).Exec(ctx, `
		UPDATE webhook_endpoint SET url=$2, events=$3, active=$4, description=$5, updated_at=$6
		WHERE id = $1`,
		ep.ID, ep.URL, ep.Events, ep.Active, ep.Description, ep.UpdatedAt)
	if err != nil {
		return db.MapErr(err, "webhook endpoint", ep.ID)
	}
	if tag.RowsAffected() == 0 {
		return db.MapErr(pgx.ErrNoRows, "webhook endpoint", ep.ID)
	}
	return nil
}

func (s *pgStore) DeleteEndpoint(ctx context.Context, id string) error {
	tag, err := db.Conn(ctx, s.pool).Exec(ctx, `DELETE FROM webhook_endpoint WHERE id = $1`, id)
	if err != nil {
		return db.MapErr(err, "webhook endpoint", id)
	}
	if tag.RowsAffected() == 0 {
		return db.MapErr(pgx.ErrNoRows, "webhook endpoint", id)
	}
	return nil
}

const deliveryCols = `id, endpoint_id, event_type, payload, status_code, COALESCE(response_body, ''),
	attempt, success, COALESCE(error, ''), duration_ms, created_at`

func scanDelivery(row pgx.Row) (*Delivery, error) {
	var d Delivery
	var payload []byte
	err := row.Scan(&d.ID, &d.EndpointID, &d.EventType, &payload, &d.StatusCode, &d.ResponseBody,
		&d.Attempt, &d.Success, &d.Error, &d.DurationMS, &d.CreatedAt)
	d.Payload = payload
	return &d, err
}

func (s *pgStore) RecordDelivery(ctx context.Context, d *Delivery) error {
	_, err := db.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO webhook_delivery (id, endpoint_id, event_type, payload, status_code, response_body,
			attempt, success, error, duration_ms, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		d.ID, d.EndpointID, d.EventType, []byte(d.Payload), d.StatusCode, d.ResponseBody,
		d.Attempt, d.Success, d.Error, d.DurationMS, d.CreatedAt)
	return db.MapErr(err, "webhook delivery", d.ID)
}

func (s *pgStore) GetDelivery(ctx context.Context, id string) (*Delivery, error) {
	d, err := scanDelivery(db.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+deliveryCols+` FROM webhook_delivery WHERE id = $1`, id))
	if err != nil {
		return nil, db.MapErr(err, "webhook delivery", id)
	}
	return d, nil
}

func (s *pgStore) ListDeliveries(ctx context.Context, endpointID string, limit, offset int) ([]*Delivery, int, error) {
	conn := db.Conn(ctx, s.pool)
	var total int
	if err := conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM webhook_delivery WHERE endpoint_id = $1`, endpointID).Scan(&total); err != nil {
		return nil, 0, db.MapErr(err, "webhook delivery", endpointID)
	}
	rows, err := conn.Query(ctx, `SELECT `+deliveryCols+` FROM webhook_delivery
		WHERE endpoint_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, endpointID, limit, offset)
	if err != nil {
		return nil, 0, db.MapErr(err, "webhook delivery", endpointID)
	}
	defer rows.Close()
	var items []*Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, 0, db.MapErr(err, "webhook delivery", endpointID)
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}
