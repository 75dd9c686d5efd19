package profile

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *UserHealthProfile) error
	GetByID(ctx context.Context, id uuid.UUID) (*UserHealthProfile, error)
	GetByUserID(ctx context.Context, userID string) (*UserHealthProfile, error)
	Update(ctx context.Context, p *UserHealthProfile) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*UserHealthProfile, int, error)
}
