// Package backup exports application tables as gzip-compressed NDJSON and
// uploads them to object storage.
package backup

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthmate/healthmate/internal/platform/apperr"
	"github.com/healthmate/healthmate/internal/platform/blobstore"
	"github.com/healthmate/healthmate/internal/platform/metrics"
)

const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

const (
	DefaultPrefix   = "backups"
	DefaultInterval = 24 * time.Hour
	contentType     = "application/x-ndjson"
	keyTimeLayout   = "20060102T150405Z"
)

// Tables lists the tables exported by default, parents before children.
// Sensitive columns stay encrypted in the export.
var Tables = []string{
	"user_health_profile",
	"enhanced_medication",
	"medication_dose_log",
	"health_data",
	"symptom_log",
	"conversation_history",
	"notification",
	"webhook_endpoint",
	"webhook_delivery",
	"etl_job",
	"etl_job_run",
}

// Run is one backup execution, stored in backup_run.
type Run struct {
	ID         uuid.UUID  `json:"id"`
	Status     string     `json:"status"`
	Bucket     string     `json:"bucket"`
	Objects    []string   `json:"objects"`
	RowCount   int64      `json:"row_count"`
	ByteCount  int64      `json:"byte_count"`
	Error      *string    `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Exporter writes every row of table to w as one JSON document per line.
type Exporter interface {
	Export(ctx context.Context, table string, w io.Writer) (int64, error)
}

// countingWriter tracks compressed bytes written.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type Backup struct {
	repo     Repository
	exporter Exporter
	store    blobstore.Store
	bucket   string
	prefix   string
	tables   []string
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
}

func New(repo Repository, exporter Exporter, store blobstore.Store, bucket string, m *metrics.Metrics, logger zerolog.Logger) *Backup {
	return &Backup{
		repo:     repo,
		exporter: exporter,
		store:    store,
		bucket:   bucket,
		prefix:   DefaultPrefix,
		tables:   Tables,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// SetTables overrides the exported tables.
func (b *Backup) SetTables(tables []string) { b.tables = tables }

// SetPrefix overrides the key prefix.
func (b *Backup) SetPrefix(p string) {
	if p != "" {
		b.prefix = p
	}
}

// Key is <prefix>/<table>/<timestamp>.ndjson.gz.
func (b *Backup) Key(table string, at time.Time) string {
	return path.Join(b.prefix, table, at.UTC().Format(keyTimeLayout)+".ndjson.gz")
}

// Run exports every table and records the outcome. The first failing table
// fails the run; objects already uploaded are kept and listed on the run.
func (b *Backup) Run(ctx context.Context) (*Run, error) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil, apperr.Conflict("backup already running")
	}
	b.running = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	started := b.now().UTC()
	run := &Run{Status: StatusRunning, Bucket: b.bucket, Objects: []string{}, StartedAt: started}
	if err := b.repo.Create(ctx, run); err != nil {
		return nil, err
	}
	log := b.logger.With().Str("backup_id", run.ID.String()).Logger()
	log.Info().Int("tables", len(b.tables)).Msg("backup started")

	runErr := b.export(ctx, run, started)

	finished := b.now().UTC()
	run.FinishedAt = &finished
	run.Status = StatusSucceeded
	if runErr != nil {
		run.Status = StatusFailed
		msg := runErr.Error()
		run.Error = &msg
	}
	if err := b.repo.Finish(context.WithoutCancel(ctx), run); err != nil {
		log.Error().Err(err).Msg("recording backup result")
	}
	b.metrics.BackupRun(run.Status)

	ev := log.Info()
	if runErr != nil {
		ev = log.Error().Err(runErr)
	}
	ev.Int64("rows", run.RowCount).Int64("bytes", run.ByteCount).Int("objects", len(run.Objects)).
		Dur("duration", finished.Sub(started)).Msg("backup finished")
	return run, runErr
}

func (b *Backup) export(ctx context.Context, run *Run, at time.Time) error {
	for _, table := range b.tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := b.Key(table, at)
		rows, size, err := b.exportTable(ctx, table, key)
		if err != nil {
			return fmt.Errorf("backing up %s: %w", table, err)
		}
		run.Objects = append(run.Objects, key)
		run.RowCount += rows
		run.ByteCount += size
	}
	return nil
}

// exportTable streams the gzip output through a pipe into the store.
func (b *Backup) exportTable(ctx context.Context, table, key string) (int64, int64, error) {
	pr, pw := io.Pipe()
	cw := &countingWriter{w: pw}
	var rows int64
	done := make(chan struct{})

	go func() {
		defer close(done)
		zw := gzip.NewWriter(cw)
		n, err := b.exporter.Export(ctx, table, zw)
		rows = n
		if cerr := zw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	meta := map[string]string{"table": table}
	_, err := b.store.Put(ctx, key, contentType, pr, meta)
	// Drain so the exporter goroutine never blocks on an abandoned pipe.
	_, _ = io.Copy(io.Discard, pr)
	<-done
	if err != nil {
		return 0, 0, err
	}
	return rows, cw.n, nil
}

