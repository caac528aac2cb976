// Package sweeper reclaims expired jobs and staged assets on a timer.
// Retention is purely time-based: fetching a result neither extends nor
// shortens a job's lifetime, so the registry stays the single source of
// truth with no read tracking.
package sweeper

import (
	"context"
	"time"

	"montage/internal/models"
	"montage/internal/pkg/logger"
	"montage/internal/ports"
	"montage/internal/worker/processor"
)

// sweepBatch caps how many rows one pass reclaims per table. Anything
// beyond it waits for the next tick.
const sweepBatch = 200

// JobStore is the slice of the job registry the sweeper needs.
type JobStore interface {
	ListReclaimable(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error)
	Delete(ctx context.Context, id string) error
}

// AssetStore is the slice of the asset registry the sweeper needs.
type AssetStore interface {
	ListReclaimable(ctx context.Context, consumedBefore, idleBefore time.Time, limit int) ([]models.Asset, error)
	Delete(ctx context.Context, id string) error
}

type Deps struct {
	Jobs         JobStore
	Assets       AssetStore
	SP           ports.StorageProvider
	WorkRoot     string
	Interval     time.Duration
	JobRetention time.Duration
	AssetIdleTTL time.Duration
	Log          *logger.Logger
}

type Sweeper struct {
	jobs         JobStore
	assets       AssetStore
	sp           ports.StorageProvider
	workspace    *processor.Workspace
	interval     time.Duration
	jobRetention time.Duration
	assetIdleTTL time.Duration
	log          *logger.Logger
}

func New(d Deps) *Sweeper {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}

	return &Sweeper{
		jobs:         d.Jobs,
		assets:       d.Assets,
		sp:           d.SP,
		workspace:    processor.NewWorkspace(d.WorkRoot),
		interval:     d.Interval,
		jobRetention: d.JobRetention,
		assetIdleTTL: d.AssetIdleTTL,
		log:          log.WithComponent("sweeper"),
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info("sweeper started",
		"interval", s.interval.String(),
		"job_retention", s.jobRetention.String(),
		"asset_idle_ttl", s.assetIdleTTL.String(),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopping")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	now := time.Now().UTC()
	s.sweepJobs(ctx, now)
	s.sweepAssets(ctx, now)
}

// sweepJobs reclaims jobs of any status not updated within the retention
// window: storage objects and scratch first, row last, so a partial
// failure is retried on the next pass.
func (s *Sweeper) sweepJobs(ctx context.Context, now time.Time) {
	jobs, err := s.jobs.ListReclaimable(ctx, now.Add(-s.jobRetention), sweepBatch)
	if err != nil {
		s.log.Warn("job reclaim scan failed", "error", err.Error())
		return
	}

	removed := 0
	for _, j := range jobs {
		if !s.removeJobObjects(ctx, j) {
			continue
		}
		if err := s.jobs.Delete(ctx, j.ID); err != nil {
			s.log.Warn("job row delete failed", "job_id", j.ID, "error", err.Error())
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("reclaimed jobs", "count", removed)
	}
}

// removeJobObjects clears everything a job may have left behind. The
// artifact is addressed by convention as well as by the recorded key:
// a crash between upload and completion leaves an object the row never
// learned about.
func (s *Sweeper) removeJobObjects(ctx context.Context, j models.Job) bool {
	keys := []string{processor.OutputKey(j.ID)}
	if j.OutputKey != "" && j.OutputKey != keys[0] {
		keys = append(keys, j.OutputKey)
	}
	if j.SourceKey != "" {
		keys = append(keys, j.SourceKey)
	}

	ok := true
	for _, key := range keys {
		if err := s.sp.DeleteObject(ctx, key); err != nil {
			s.log.Warn("object delete failed", "job_id", j.ID, "object_key", key, "error", err.Error())
			ok = false
		}
	}
	if err := s.workspace.Cleanup(j.ID); err != nil {
		s.log.Warn("scratch delete failed", "job_id", j.ID, "error", err.Error())
		ok = false
	}
	return ok
}

// sweepAssets reclaims staged assets that were consumed more than the
// retention window ago, plus uploads that never became part of a job
// within the idle TTL.
func (s *Sweeper) sweepAssets(ctx context.Context, now time.Time) {
	assets, err := s.assets.ListReclaimable(ctx, now.Add(-s.jobRetention), now.Add(-s.assetIdleTTL), sweepBatch)
	if err != nil {
		s.log.Warn("asset reclaim scan failed", "error", err.Error())
		return
	}

	removed := 0
	for _, a := range assets {
		if err := s.sp.DeleteObject(ctx, a.ObjectKey); err != nil {
			s.log.Warn("object delete failed", "asset_id", a.ID, "object_key", a.ObjectKey, "error", err.Error())
			continue
		}
		if err := s.assets.Delete(ctx, a.ID); err != nil {
			s.log.Warn("asset row delete failed", "asset_id", a.ID, "error", err.Error())
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("reclaimed assets", "count", removed)
	}
}
