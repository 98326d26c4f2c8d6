// Package export drives incremental export passes over the upstream
// activity feed, applying the ledger's decisions and maintaining the
// rolling boundary watermark between passes.
package export

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/eliteGoblin/trackvault/internal/domain"
	"github.com/eliteGoblin/trackvault/internal/ledger"
)

// Config holds per-pass tunables.
type Config struct {
	DownloadRoot string
	BatchSize    int

	// RequestDelay is the base inter-request delay applied with ±25%
	// jitter after every successful fetch. Zero disables it.
	RequestDelay time.Duration

	// BatchPause is the fixed pause between page fetches.
	BatchPause time.Duration

	// CheckForChanges runs upstream change detection on every activity
	// before the download decisions.
	CheckForChanges bool

	// ForceFullRescan ignores the boundary watermark and walks all of
	// history every pass.
	ForceFullRescan bool
}

// Coordinator runs export passes. It owns the ledger and the boundary
// watermark; the scheduling layer guarantees passes never overlap.
// The watermark lives only in memory - after a restart the ledger's
// filesystem re-scan is the source of truth.
type Coordinator struct {
	cfg    Config
	source domain.ActivitySource
	ledger *ledger.Ledger
	fs     afero.Fs
	clock  clockwork.Clock
	logger *zap.Logger

	iteration               int
	oldestHandledActivityID domain.ActivityID // 0 = no watermark yet
}

// New creates a coordinator over a bootstrapped download root.
func New(
	cfg Config,
	source domain.ActivitySource,
	lg *ledger.Ledger,
	fs afero.Fs,
	clock clockwork.Clock,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		cfg:    cfg,
		source: source,
		ledger: lg,
		fs:     fs,
		clock:  clock,
		logger: logger,
	}
}

// Watermark returns the oldest activity ID confirmed fully handled as
// of the last pass that downloaded anything, or 0 if none.
func (c *Coordinator) Watermark() domain.ActivityID {
	return c.oldestHandledActivityID
}

// Bootstrap verifies the download root exists, creates the per-kind
// subdirectories and reconciles pre-existing files into the ledger.
// Must run before the first pass; the scan is what makes on-disk state
// authoritative across restarts.
func (c *Coordinator) Bootstrap() error {
	exists, err := afero.DirExists(c.fs, c.cfg.DownloadRoot)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("download root does not exist: %s", c.cfg.DownloadRoot)
	}

	for _, kind := range domain.AllKinds() {
		dir := filepath.Join(c.cfg.DownloadRoot, kind.Token())
		if err := c.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create kind directory %s: %w", dir, err)
		}
	}

	entries, err := afero.ReadDir(c.fs, c.cfg.DownloadRoot)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(c.cfg.DownloadRoot, entry.Name())
		files, err := afero.ReadDir(c.fs, dir)
		if err != nil {
			return err
		}
		for _, file := range files {
			if file.IsDir() {
				continue
			}
			if err := c.ledger.ObserveExistingFile(filepath.Join(dir, file.Name())); err != nil {
				return err
			}
		}
	}

	c.logger.Info("processed all preexisting files",
		zap.Int("tracked_activities", c.ledger.Size()),
		zap.String("ledger", c.ledger.String()))
	return nil
}

// RunOnce executes one export pass. domain.ErrRateLimited means the
// pass was aborted gracefully and the next scheduled run should retry;
// any other error is fatal to the caller. Partial state is always safe
// to resume from.
func (c *Coordinator) RunOnce(ctx context.Context) error {
	passLogger := c.logger.With(zap.Int("run_iteration", c.iteration))
	c.iteration++

	passLogger.Info("starting export pass")

	var (
		downloaded    int
		skipped       int
		offset        int
		cursor        domain.ActivityID
		downloadedAny bool
	)

	for {
		batchLogger := passLogger.With(
			zap.Int("batch_start", offset),
			zap.Int("batch_size", c.cfg.BatchSize))

		batchLogger.Debug("fetching activities batch")
		activities, err := c.source.FetchPage(ctx, offset, c.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(activities) == 0 {
			passLogger.Info("no more activities found")
			break
		}
		batchLogger.Info("processing activities batch", zap.Int("count", len(activities)))

		reachedBoundary := false
		for _, act := range activities {
			if cursor == 0 {
				cursor = act.ID
			}
			if c.oldestHandledActivityID != 0 && act.ID == c.oldestHandledActivityID {
				reachedBoundary = true
				batchLogger.Info("reached previously processed boundary activity",
					zap.Int64("boundary_activity_id", int64(c.oldestHandledActivityID)))
			}

			actLogger := act.LogWith(batchLogger)
			if c.cfg.CheckForChanges {
				if _, err := c.ledger.DetectUpstreamChange(actLogger, act); err != nil {
					return err
				}
			}

			d, s, err := c.processActivity(ctx, act, actLogger)
			if err != nil {
				return err
			}
			downloaded += d
			skipped += s

			if d > 0 {
				// A download at or past the boundary means previously
				// handled history changed; keep rescanning.
				cursor = act.ID
				downloadedAny = true
				reachedBoundary = false
			}
		}

		if reachedBoundary {
			if c.cfg.ForceFullRescan {
				batchLogger.Info("full rescan forced, continuing past boundary")
			} else {
				batchLogger.Info("stopping early at boundary")
				break
			}
		}

		offset += c.cfg.BatchSize
		if c.cfg.BatchPause > 0 {
			batchLogger.Debug("pausing before next batch", zap.Duration("pause", c.cfg.BatchPause))
			c.clock.Sleep(c.cfg.BatchPause)
		}
	}

	if downloadedAny {
		passLogger.Info("updating boundary watermark",
			zap.Int64("oldest_handled_activity_id", int64(cursor)))
		c.oldestHandledActivityID = cursor
	}

	passLogger.Info("export pass complete",
		zap.Int("downloaded_files", downloaded),
		zap.Int("skipped_files", skipped))
	return nil
}

// processActivity attempts every file kind for one activity, in fixed
// order: metadata first, then the GPS kinds.
func (c *Coordinator) processActivity(
	ctx context.Context,
	act domain.Activity,
	logger *zap.Logger,
) (downloaded, skipped int, err error) {
	for _, kind := range domain.AllKinds() {
		dest, err := c.ledger.Decide(logger, act, kind)
		if err != nil {
			return downloaded, skipped, err
		}
		if dest == "" {
			skipped++
			continue
		}

		if kind == domain.KindMetadata {
			err = c.writeMetadata(act, dest, logger)
		} else {
			err = c.writeTrack(ctx, act, kind, dest, logger)
		}
		if err != nil {
			return downloaded, skipped, err
		}

		downloaded++
		c.sleepRequestDelay(logger)
	}
	return downloaded, skipped, nil
}

func (c *Coordinator) writeMetadata(act domain.Activity, dest string, logger *zap.Logger) error {
	data, err := act.Dump()
	if err != nil {
		return err
	}
	if err := afero.WriteFile(c.fs, dest, data, 0o644); err != nil {
		return err
	}
	logger.Info("saved activity metadata file", zap.String("path", dest))
	return nil
}

func (c *Coordinator) writeTrack(
	ctx context.Context,
	act domain.Activity,
	kind domain.FileKind,
	dest string,
	logger *zap.Logger,
) error {
	data, err := c.source.FetchTrackBytes(ctx, act.ID, kind.DownloadFormat())
	if err != nil {
		return err
	}
	if len(data) == 0 {
		logger.Warn("no track data returned despite polyline flag, skipping",
			zap.String("file_kind", kind.Token()))
		return nil
	}
	if err := afero.WriteFile(c.fs, dest, data, 0o644); err != nil {
		return err
	}
	logger.Info("saved track file",
		zap.String("file_kind", kind.Token()),
		zap.String("path", dest))
	return nil
}

// sleepRequestDelay waits the jittered inter-request delay after a
// successful fetch, to stay under upstream rate limits.
func (c *Coordinator) sleepRequestDelay(logger *zap.Logger) {
	if c.cfg.RequestDelay <= 0 {
		return
	}
	jitter := 0.75 + rand.Float64()*0.5
	delay := time.Duration(float64(c.cfg.RequestDelay) * jitter)
	logger.Debug("waiting before next upstream call",
		zap.Duration("delay", delay),
		zap.Duration("base_delay", c.cfg.RequestDelay))
	c.clock.Sleep(delay)
}
