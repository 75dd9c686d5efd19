package conversation

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthmate/healthmate/internal/platform/db"
	"github.com/healthmate/healthmate/internal/platform/fieldcrypt"
)

type repoPG struct {
	pool  *pgxpool.Pool
	crypt *fieldcrypt.Service
}

// NewRepoPG stores message and response encrypted with crypt.
func NewRepoPG(pool *pgxpool.Pool, crypt *fieldcrypt.Service) Repository {
	return &repoPG{pool: pool, crypt: crypt}
}

func (r *repoPG) Create(ctx context.Context, h *ConversationHistory) error {
	h.ID = uuid.New()
	msg, err := r.crypt.Encrypt(h.Message)
	if err != nil {
		return err
	}
	resp, err := r.crypt.EncryptPtr(h.Response)
	if err != nil {
		return err
	}
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO conversation_history (id, user_id, session_id, message, response, intent)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		h.ID, h.UserID, h.SessionID, msg, resp, h.Intent,
	).Scan(&h.CreatedAt)
	return db.MapErr(err, "conversation", h.ID)
}

func (r *repoPG) ListBySession(ctx context.Context, userID, sessionID string) ([]*ConversationHistory, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, user_id, session_id, message, response, intent, created_at
		FROM conversation_history WHERE user_id = $1 AND session_id = $2
		ORDER BY created_at`, userID, sessionID)
	if err != nil {
		return nil, db.MapErr(err, "conversation", sessionID)
	}
	defer rows.Close()

	var items []*ConversationHistory
	for rows.Next() {
		var h ConversationHistory
		if err := rows.Scan(&h.ID, &h.UserID, &h.SessionID, &h.Message, &h.Response, &h.Intent, &h.CreatedAt); err != nil {
			return nil, db.MapErr(err, "conversation", sessionID)
		}
		if h.Message, err = r.crypt.Decrypt(h.Message); err != nil {
			return nil, err
		}
		if err := r.crypt.DecryptPtr(h.Response); err != nil {
			return nil, err
		}
		items = append(items, &h)
	}
	return items, rows.Err()
}

func (r *repoPG) ListSessions(ctx context.Context, userID string, limit, offset int) ([]*Session, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(DISTINCT session_id) FROM conversation_history
		WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, db.MapErr(err, "conversation", userID)
	}
	rows, err := conn.Query(ctx, `
		SELECT session_id, COUNT(*), MIN(created_at), MAX(created_at)
		FROM conversation_history WHERE user_id = $1
		GROUP BY session_id ORDER BY MAX(created_at) DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, db.MapErr(err, "conversation", userID)
	}
	defer rows.Close()

	var items []*Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.SessionID, &s.MessageCount, &s.StartedAt, &s.LastAt); err != nil {
			return nil, 0, db.MapErr(err, "conversation", userID)
		}
		items = append(items, &s)
	}
	return items, total, rows.Err()
}

func (r *repoPG) DeleteSession(ctx context.Context, userID, sessionID string) (int64, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM conversation_history WHERE user_id = $1 AND session_id = $2`, userID, sessionID)
	if err != nil {
		return 0, db.MapErr(err, "conversation", sessionID)
	}
	return tag.RowsAffected(), nil
}
