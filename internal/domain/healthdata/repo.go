package healthdata

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, d *HealthData) error
	GetByID(ctx context.Context, id uuid.UUID) (*HealthData, error)
	Update(ctx context.Context, d *HealthData) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, userID string, f Filter) ([]*HealthData, int, error)
	// Series returns every reading of metric in [from, to) oldest first.
	Series(ctx context.Context, userID, metric string, from, to time.Time) ([]*HealthData, error)
}

type SymptomRepository interface {
	Create(ctx context.Context, s *SymptomLog) error
	GetByID(ctx context.Context, id uuid.UUID) (*SymptomLog, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, userID string, from, to time.Time, limit, offset int) ([]*SymptomLog, int, error)
}
