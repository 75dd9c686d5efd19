package backup

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/healthmate/healthmate/internal/platform/apperr"
	"github.com/healthmate/healthmate/internal/platform/blobstore"
)

// RunWorker runs a backup every interval until ctx is cancelled. Failures
// are logged by Run and do not stop the loop.
func (b *Backup) RunWorker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	b.logger.Info().Dur("interval", interval).Msg("backup worker started")
	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("backup worker stopped")
			return
		case <-ticker.C:
			if _, err := b.Run(ctx); apperr.Is(err, apperr.CodeConflict) {
				b.logger.Warn().Msg("previous backup still running, skipping")
			}
		}
	}
}

// Runs lists recorded backups, newest first.
func (b *Backup) Runs(ctx context.Context, limit, offset int) ([]*Run, int, error) {
	return b.repo.List(ctx, limit, offset)
}

func (b *Backup) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	return b.repo.Get(ctx, id)
}

// Open returns one object written by the given run.
func (b *Backup) Open(ctx context.Context, id uuid.UUID, key string) (io.ReadCloser, *blobstore.ObjectInfo, error) {
	run, err := b.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !lo.Contains(run.Objects, key) {
		return nil, nil, apperr.NotFound("backup object", key)
	}
	rc, info, err := b.store.Get(ctx, key)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, nil, apperr.NotFound("backup object", key)
	}
	if err != nil {
		return nil, nil, apperr.External("object storage", 0, err)
	}
	return rc, info, nil
}
