package medication

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type MedicationRepository interface {
	Create(ctx context.Context, m *EnhancedMedication) error
	GetByID(ctx context.Context, id uuid.UUID) (*EnhancedMedication, error)
	Update(ctx context.Context, m *EnhancedMedication) error
	// ListByUser filters by status when status is non-empty.
	ListByUser(ctx context.Context, userID, status string, limit, offset int) ([]*EnhancedMedication, int, error)
	ListActive(ctx context.Context) ([]*EnhancedMedication, error)
}

type DoseLogRepository interface {
	Create(ctx context.Context, l *DoseLog) error
	GetByID(ctx context.Context, id uuid.UUID) (*DoseLog, error)
	// ListByMedication returns logs with scheduled_at in [from, to).
	ListByMedication(ctx context.Context, medicationID uuid.UUID, from, to time.Time) ([]*DoseLog, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*DoseLog, int, error)
}
