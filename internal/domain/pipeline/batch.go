package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/healthmate/healthmate/internal/platform/apperr"
	"github.com/healthmate/healthmate/internal/platform/db"
	"github.com/healthmate/healthmate/internal/platform/metrics"
)

// Cursor is a position in a source table. Rows are ordered by timestamp and
// then id, so rows sharing a timestamp are neither skipped nor repeated.
type Cursor struct {
	At time.Time
	ID string
}

// Past reports whether c comes after o.
func (c Cursor) Past(o Cursor) bool {
	if !c.At.Equal(o.At) {
		return c.At.After(o.At)
	}
	return c.ID > o.ID
}

// Cursor bounds assigned to a watermark without a recorded id, and to the
// start of a table.
const (
	maxID = "ffffffff-ffff-ffff-ffff-ffffffffffff"
	minID = "00000000-0000-0000-0000-000000000000"
)

// Extractor reads up to limit source rows past after, in cursor order.
type Extractor interface {
	Extract(ctx context.Context, job *ETLJobConfig, after Cursor, limit int) ([]Record, error)
}

// Loader writes transformed records to a target and returns how many were
// written.
type Loader interface {
	Load(ctx context.Context, job *ETLJobConfig, records []Record) (int, error)
}

// excludedColumns never leave the primary database; they hold ciphertext.
var excludedColumns = []string{"notes", "message", "response"}

type tableExtractor struct {
	pool *pgxpool.Pool
}

// NewTableExtractor extracts rows from the whitelisted source tables as JSON
// objects.
func NewTableExtractor(pool *pgxpool.Pool) Extractor {
	return &tableExtractor{pool: pool}
}

func (e *tableExtractor) Extract(ctx context.Context, job *ETLJobConfig, after Cursor, limit int) ([]Record, error) {
	tsCol, ok := sourceTables[job.SourceTable]
	if !ok {
		return nil, apperr.Pipeline(job.Name, fmt.Sprintf("unsupported source table %q", job.SourceTable), nil)
	}
	id := after.ID
	if id == "" {
		id = minID
	}
	// Table and column names come from sourceTables, never from input.
	query := fmt.Sprintf(`SELECT to_jsonb(t) - $1::text[] FROM %s t
		WHERE (t.%s, t.id) > ($2, $3::uuid) ORDER BY t.%s, t.id LIMIT $4`,
		job.SourceTable, tsCol, tsCol)
	rows, err := db.Conn(ctx, e.pool).Query(ctx, query, excludedColumns, after.At, id, limit)
	if err != nil {
		return nil, db.MapErr(err, job.SourceTable, "")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, db.MapErr(err, job.SourceTable, "")
		}
		rec := Record{}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, apperr.Pipeline(job.Name, "decoding source row", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// BatchDataProcessor runs extract, validate, transform and load for batch
// jobs. A job never runs twice concurrently.
type BatchDataProcessor struct {
	repo      JobRepository
	extractor Extractor
	loaders   map[string]Loader
	validator *DataValidator
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	running map[uuid.UUID]bool
}

func NewBatchDataProcessor(repo JobRepository, extractor Extractor, loaders map[string]Loader,
	m *metrics.Metrics, logger zerolog.Logger) *BatchDataProcessor {
	return &BatchDataProcessor{
		repo:      repo,
		extractor: extractor,
		loaders:   loaders,
		validator: NewDataValidator(),
		metrics:   m,
		logger:    logger,
		now:       time.Now,
		running:   make(map[uuid.UUID]bool),
	}
}

func (p *BatchDataProcessor) acquire(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running[id] {
		return false
	}
	p.running[id] = true
	return true
}

func (p *BatchDataProcessor) release(id uuid.UUID) {
	p.mu.Lock()
	delete(p.running, id)
	p.mu.Unlock()
}

// Running reports whether job id is executing.
func (p *BatchDataProcessor) Running(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running[id]
}

// Run executes job once and records the run. The returned run is populated
// even when the job fails.
func (p *BatchDataProcessor) Run(ctx context.Context, job *ETLJobConfig) (*JobRun, error) {
	if job.Mode != ModeBatch {
		return nil, apperr.ValidationField("mode", "only batch jobs can be run on demand")
	}
	if !p.acquire(job.ID) {
		return nil, apperr.Conflict(fmt.Sprintf("job %s is already running", job.Name))
	}
	defer p.release(job.ID)

	run := &JobRun{JobID: job.ID, Status: RunRunning, StartedAt: p.now().UTC()}
	if err := p.repo.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	log := p.logger.With().Str("job", job.Name).Str("run_id", run.ID.String()).Logger()
	log.Info().Msg("etl job started")

	runErr := p.execute(ctx, job, run)

	finished := p.now().UTC()
	run.FinishedAt = &finished
	run.Status = RunSucceeded
	if runErr != nil {
		run.Status = RunFailed
		msg := runErr.Error()
		run.Error = &msg
	}
	// Record the outcome even if ctx was cancelled mid-run.
	if err := p.repo.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		log.Error().Err(err).Msg("recording etl run")
	}
	p.metrics.PipelineDuration(job.Name, finished.Sub(run.StartedAt))

	ev := log.Info()
	if runErr != nil {
		ev = log.Error().Err(runErr)
	}
	ev.Int("extracted", run.RecordsExtracted).Int("loaded", run.RecordsLoaded).
		Int("dropped", run.RecordsDropped).Str("status", run.Status).Msg("etl job finished")
	return run, runErr
}

func (p *BatchDataProcessor) execute(ctx context.Context, job *ETLJobConfig, run *JobRun) error {
	loader, ok := p.loaders[job.Target]
	if !ok {
		return apperr.Pipeline(job.Name, fmt.Sprintf("no loader for target %q", job.Target), nil)
	}
	transformer, err := NewDataTransformer(job.Spec.Transforms, job.Spec.DropOnError)
	if err != nil {
		return apperr.Pipeline(job.Name, "invalid transforms", err)
	}
	batchSize := job.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var weightedScore float64
	start := job.cursor()
	after := start
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := p.extractor.Extract(ctx, job, after, batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
		run.RecordsExtracted += len(batch)
		p.metrics.PipelineRecords(job.Name, "extracted", len(batch))

		report := p.validator.Validate(batch, job.Spec.Schema)
		weightedScore += report.OverallScore * float64(len(batch))
		score := weightedScore / float64(run.RecordsExtracted)
		level := QualityLevel(score)
		run.QualityScore, run.QualityLevel = &score, &level
		p.metrics.PipelineQuality(job.Name, report.OverallScore)
		if report.OverallScore < job.MinQualityScore {
			return apperr.Pipeline(job.Name,
				fmt.Sprintf("batch %d scored %.3f (%s), below minimum %.3f",
					page, report.OverallScore, report.Level, job.MinQualityScore), nil)
		}

		res := transformer.Transform(batch)
		run.RecordsDropped += res.Dropped
		p.metrics.PipelineRecords(job.Name, "dropped", res.Dropped)

		if len(res.Records) > 0 {
			n, err := loader.Load(ctx, job, res.Records)
			run.RecordsLoaded += n
			p.metrics.PipelineRecords(job.Name, "loaded", n)
			if err != nil {
				return err
			}
		}

		next, ok := lastCursor(batch, job.Spec.TimestampColumn)
		if !ok || !next.Past(after) {
			return apperr.Pipeline(job.Name, fmt.Sprintf("batch %d has no usable %s and id to continue from",
				page, job.Spec.TimestampColumn), nil)
		}
		after = next
		if len(batch) < batchSize {
			break
		}
	}

	if after.Past(start) {
		if err := p.repo.SetWatermark(ctx, job.ID, after); err != nil {
			return err
		}
		job.Watermark, job.WatermarkID = &after.At, after.ID
	}
	return nil
}

// lastCursor is the position of the last record in a batch, which the
// extractor returns in cursor order.
func lastCursor(records []Record, field string) (Cursor, bool) {
	if field == "" || len(records) == 0 {
		return Cursor{}, false
	}
	last := records[len(records)-1]
	at, ok := toTime(last[field])
	id, _ := last["id"].(string)
	if !ok || id == "" {
		return Cursor{}, false
	}
	return Cursor{At: at, ID: id}, true
}
