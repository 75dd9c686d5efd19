package pipeline

import (
	"context"

	"github.com/google/uuid"
)

type JobRepository interface {
	Create(ctx context.Context, j *ETLJobConfig) error
	GetByID(ctx context.Context, id uuid.UUID) (*ETLJobConfig, error)
	GetByName(ctx context.Context, name string) (*ETLJobConfig, error)
	Update(ctx context.Context, j *ETLJobConfig) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*ETLJobConfig, int, error)
	// Upsert creates or replaces the job with the same name, keeping its
	// watermark.
	Upsert(ctx context.Context, j *ETLJobConfig) error
	// SetWatermark moves the job's resume cursor forward, never back.
	SetWatermark(ctx context.Context, id uuid.UUID, wm Cursor) error

	CreateRun(ctx context.Context, r *JobRun) error
	FinishRun(ctx context.Context, r *JobRun) error
	ListRuns(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]*JobRun, int, error)
}
