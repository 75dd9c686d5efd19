package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	// Update stores n and releases its delivery lease.
	Update(ctx context.Context, n *Notification) error
	// Claim leases a notification for delivery until until. It reports false
	// when the notification is no longer in status or holds a lease that has
	// not expired at now.
	Claim(ctx context.Context, id uuid.UUID, status string, now, until time.Time) (bool, error)
	// ListByUser filters by status when status is non-empty.
	ListByUser(ctx context.Context, userID, status string, limit, offset int) ([]*Notification, int, error)
	// ListDue returns unclaimed pending notifications scheduled at or before
	// now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Notification, error)
	// Stats counts notifications by status, for one user or all when
	// userID is empty.
	Stats(ctx context.Context, userID string) (map[string]int, error)
}
