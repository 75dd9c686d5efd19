package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/healthmate/healthmate/internal/domain/healthdata"
	"github.com/healthmate/healthmate/internal/platform/apperr"
)

// HealthDataSource lists a user's readings for quality scoring.
type HealthDataSource interface {
	List(ctx context.Context, userID string, f healthdata.Filter) ([]*healthdata.HealthData, int, error)
}

// MaxInlineRecords bounds the records accepted by Validate and Transform
// requests.
const MaxInlineRecords = 10000

// Service is the application surface of the data pipeline.
type Service struct {
	jobs      JobRepository
	runner    JobRunner
	health    HealthDataSource
	validator *DataValidator
	logger    zerolog.Logger
}

func NewService(jobs JobRepository, runner JobRunner, health HealthDataSource, logger zerolog.Logger) *Service {
	return &Service{
		jobs:      jobs,
		runner:    runner,
		health:    health,
		validator: NewDataValidator(),
		logger:    logger,
	}
}

// Validate scores inline records. A nil schema uses the health data schema.
func (s *Service) Validate(records []Record, schema *Schema) (*QualityReport, error) {
	if len(records) > MaxInlineRecords {
		return nil, apperr.ValidationField("records", "too many records")
	}
	sc := HealthDataSchema()
	if schema != nil {
		sc = *schema
	}
	return s.validator.Validate(records, sc), nil
}

func (s *Service) Transform(records []Record, rules []Rule, dropOnError bool) (*TransformResult, error) {
	if len(records) > MaxInlineRecords {
		return nil, apperr.ValidationField("records", "too many records")
	}
	tr, err := NewDataTransformer(rules, dropOnError)
	if err != nil {
		return nil, apperr.ValidationField("rules", err.Error())
	}
	return tr.Transform(records), nil
}

func (s *Service) CreateJob(ctx context.Context, j *ETLJobConfig) error {
	j.ApplyDefaults()
	if err := j.Validate(); err != nil {
		return err
	}
	return s.jobs.Create(ctx, j)
}

func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (*ETLJobConfig, error) {
	return s.jobs.GetByID(ctx, id)
}

func (s *Service) UpdateJob(ctx context.Context, j *ETLJobConfig) error {
	j.ApplyDefaults()
	if err := j.Validate(); err != nil {
		return err
	}
	return s.jobs.Update(ctx, j)
}

func (s *Service) DeleteJob(ctx context.Context, id uuid.UUID) error {
	return s.jobs.Delete(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, limit, offset int) ([]*ETLJobConfig, int, error) {
	return s.jobs.List(ctx, limit, offset)
}

// SyncJobs upserts job definitions loaded from a jobs file.
func (s *Service) SyncJobs(ctx context.Context, defs []ETLJobConfig) ([]*ETLJobConfig, error) {
	out := make([]*ETLJobConfig, 0, len(defs))
	for i := range defs {
		j := defs[i]
		j.ApplyDefaults()
		if err := j.Validate(); err != nil {
			return nil, err
		}
		if err := s.jobs.Upsert(ctx, &j); err != nil {
			return nil, err
		}
		out = append(out, &j)
	}
	s.logger.Info().Int("jobs", len(out)).Msg("etl jobs synced")
	return out, nil
}

// RunJob runs a batch job synchronously.
func (s *Service) RunJob(ctx context.Context, id uuid.UUID) (*JobRun, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.Enabled {
		return nil, apperr.Conflict("job is disabled")
	}
	return s.runner.Run(ctx, job)
}

// RunJobByName is used by the CLI.
func (s *Service) RunJobByName(ctx context.Context, name string) (*JobRun, error) {
	job, err := s.jobs.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.runner.Run(ctx, job)
}

func (s *Service) ListRuns(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]*JobRun, int, error) {
	if _, err := s.jobs.GetByID(ctx, jobID); err != nil {
		return nil, 0, err
	}
	return s.jobs.ListRuns(ctx, jobID, limit, offset)
}

// MaxQualitySample bounds the readings scored by UserQuality.
const MaxQualitySample = 5000

// UserQuality scores a user's health data recorded in the last days days.
func (s *Service) UserQuality(ctx context.Context, userID string, days int) (*QualityReport, error) {
	if days <= 0 {
		days = 30
	}
	from := s.validator.Now().AddDate(0, 0, -days)
	items, _, err := s.health.List(ctx, userID, healthdata.Filter{From: from, Limit: MaxQualitySample})
	if err != nil {
		return nil, err
	}
	records := lo.Map(items, func(d *healthdata.HealthData, _ int) Record {
		return Record{
			"id":          d.ID.String(),
			"user_id":     d.UserID,
			"metric_type": d.MetricType,
			"value":       d.Value,
			"unit":        d.Unit,
			"recorded_at": d.RecordedAt.UTC().Format(time.RFC3339Nano),
			"source":      d.Source,
		}
	})
	return s.validator.Validate(records, HealthDataSchema()), nil
}
