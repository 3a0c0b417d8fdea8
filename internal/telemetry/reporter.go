package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Reporter rotates the session log on an interval and uploads each rotated
// file. The remaining entries are uploaded when Run returns.
type Reporter struct {
	log      *SessionLog
	uploader *Uploader
	interval time.Duration
	logger   zerolog.Logger
}

// NewReporter creates a Reporter. A zero interval uploads only at shutdown.
func NewReporter(log *SessionLog, uploader *Uploader, interval time.Duration, logger zerolog.Logger) *Reporter {
	return &Reporter{
		log:      log,
		uploader: uploader,
		interval: interval,
		logger:   logger.With().Str("component", "telemetry").Logger(),
	}
}

// Run blocks until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	r.uploadLeftovers(ctx)

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			r.Flush(context.WithoutCancel(ctx))
			return
		case <-tick:
			r.rotateAndUpload(ctx)
		}
	}
}

// Flush closes the session log and uploads it.
func (r *Reporter) Flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 3*DefaultRequestTimeout)
	defer cancel()

	if err := r.log.Close(); err != nil {
		r.logger.Warn().Err(err).Msg("failed to close session log")
	}
	if !hasContent(r.log.Path()) {
		_ = os.Remove(r.log.Path())
		return
	}
	if err := r.uploader.UploadFile(ctx, r.log.Path()); err != nil {
		r.logger.Error().Err(err).Msg("failed to upload session log")
	}
}

func (r *Reporter) rotateAndUpload(ctx context.Context) {
	rotated, err := r.log.Rotate()
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to rotate session log")
		return
	}
	if rotated == "" {
		return
	}
	if err := r.uploader.UploadFile(ctx, rotated); err != nil {
		r.logger.Error().Err(err).Str("path", rotated).Msg("failed to upload session log")
	}
}

// uploadLeftovers sends logs left behind by earlier sessions that exited
// before uploading.
func (r *Reporter) uploadLeftovers(ctx context.Context) {
	matches, err := filepath.Glob(filepath.Join(r.log.dir, "*.log"))
	if err != nil {
		return
	}
	active := r.log.Path()
	for _, path := range matches {
		if path == active || !hasContent(path) {
			continue
		}
		if err := r.uploader.UploadFile(ctx, path); err != nil {
			r.logger.Warn().Err(err).Str("path", path).Msg("failed to upload previous session log")
		}
	}
}

func hasContent(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
