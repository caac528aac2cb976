// Package processor runs one render job end to end: claim, materialize,
// plan, render, verify, publish. Every exit path leaves the job row in a
// terminal state and the scratch directory removed.
package processor

import (
	"context"

	"montage/internal/models"
	"montage/internal/pkg/errors"
	"montage/internal/pkg/logger"
	"montage/internal/planner"
	"montage/internal/ports"
	"montage/internal/render"
)

// JobStore is the slice of the job registry the processor drives. The
// pgx-backed repository enforces every transition guard in SQL; fakes
// must mirror those guards.
type JobStore interface {
	Get(ctx context.Context, id string) (*models.Job, error)
	MarkRendering(ctx context.Context, id string) error
	UpdateProgress(ctx context.Context, id string, pct int) (cancelRequested bool, err error)
	MarkCompleted(ctx context.Context, id string, outputKey string) error
	MarkFailed(ctx context.Context, id string, cause string) error
}

// AssetStore is the slice of the asset catalog the processor reads.
type AssetStore interface {
	ListByIDs(ctx context.Context, ids []string) ([]models.Asset, error)
}

type Deps struct {
	Jobs     JobStore
	Assets   AssetStore
	Engine   render.Engine
	SP       ports.StorageProvider
	WorkRoot string
	Log      *logger.Logger
}

type Processor struct {
	jobs   JobStore
	assets AssetStore
	engine render.Engine
	log    *logger.Logger

	workspace    *Workspace
	materializer *Materializer
	publisher    *Publisher
}

func New(d Deps) *Processor {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}

	return &Processor{
		jobs:         d.Jobs,
		assets:       d.Assets,
		engine:       d.Engine,
		log:          log.WithComponent("processor"),
		workspace:    NewWorkspace(d.WorkRoot),
		materializer: NewMaterializer(d.SP),
		publisher:    NewPublisher(d.SP),
	}
}

// ProcessJob runs one job from claim to terminal status. The returned
// error is for the caller's log; the job row itself always ends up
// completed or failed.
func (p *Processor) ProcessJob(ctx context.Context, jobID string) error {
	ctx = logger.ContextWithJobID(ctx, jobID)
	log := p.log.FromContext(ctx)

	// 1. Claim. Losing the claim is not a failure of the job: another
	// worker owns it or it is already terminal.
	if err := p.jobs.MarkRendering(ctx, jobID); err != nil {
		if errors.IsAlreadyRendering(err) || errors.IsConflict(err) || errors.IsNotFound(err) {
			log.Warn("skipping job", "reason", err.Error())
			return nil
		}
		return errors.Wrap(err, "processor.claim", "could not claim job")
	}

	// 2. Load the stored submission.
	job, err := p.jobs.Get(ctx, jobID)
	if err != nil {
		return p.failJob(ctx, jobID, errors.Wrap(err, "processor.load", "could not load job"))
	}

	// 3. Scratch space.
	workDir, err := p.workspace.Prepare(jobID)
	if err != nil {
		return p.failJob(ctx, jobID, errors.Wrap(err, "processor.workspace", "could not create work directory"))
	}
	defer func() {
		if err := p.workspace.Cleanup(jobID); err != nil {
			log.Warn("scratch cleanup failed", "error", err)
		}
	}()

	// 4. Rebuild the plan from the stored overlays. The submission was
	// validated once already; this re-checks it against the asset set as
	// it exists now.
	assets, err := p.loadAssets(ctx, job.Overlays)
	if err != nil {
		return p.failJob(ctx, jobID, err)
	}
	staged := make(map[string]struct{}, len(assets))
	for id := range assets {
		staged[id] = struct{}{}
	}
	plan, err := planner.Build(job.DurationSec, job.Width, job.Height, job.Overlays, staged)
	if err != nil {
		return p.failJob(ctx, jobID, err)
	}

	// 5. Materialize media into the scratch directory.
	log.Debug("materializing media", "assets", len(plan.AssetIDs()))
	sourcePath, err := p.materializer.Source(ctx, job, workDir)
	if err != nil {
		return p.failJob(ctx, jobID, err)
	}
	inputPaths, err := p.materializer.Inputs(ctx, plan, assets, workDir)
	if err != nil {
		return p.failJob(ctx, jobID, err)
	}

	// 6. Render. Progress writes ride along and carry back cancel
	// requests; a failed write only costs that one update.
	log.Info("starting render", "steps", len(plan.Steps), "duration_sec", job.DurationSec)
	cancelled := false
	renderErr := p.engine.Render(ctx, render.Request{
		SourcePath:  sourcePath,
		OutputPath:  p.workspace.OutputPath(jobID),
		WorkDir:     workDir,
		DurationSec: job.DurationSec,
		Plan:        plan,
		InputPaths:  inputPaths,
		OnProgress: func(pct int) bool {
			cancel, err := p.jobs.UpdateProgress(ctx, jobID, pct)
			if err != nil {
				log.Warn("progress update failed", "error", err)
				return false
			}
			if cancel {
				cancelled = true
			}
			return cancel
		},
	})
	if cancelled {
		log.Info("render cancelled")
		if err := p.jobs.MarkFailed(context.WithoutCancel(ctx), jobID, "cancelled by client"); err != nil {
			log.Warn("could not record cancellation", "error", err)
		}
		return nil
	}
	if renderErr != nil {
		return p.failJob(ctx, jobID, renderErr)
	}

	// 7. Verify and publish the artifact. From here on the work is done;
	// like the failure path, these writes run detached so a shutdown
	// arriving after a clean engine exit cannot turn a rendered job into
	// a failed one.
	doneCtx := context.WithoutCancel(ctx)
	outputKey, err := p.publisher.Publish(doneCtx, jobID, p.workspace.OutputPath(jobID))
	if err != nil {
		return p.failJob(ctx, jobID, err)
	}

	// 8. Terminal status. Progress jumps to 100 in the same update.
	if err := p.jobs.MarkCompleted(doneCtx, jobID, outputKey); err != nil {
		return p.failJob(ctx, jobID, errors.Wrap(err, "processor.complete", "could not mark job completed"))
	}

	log.Info("render completed", "output_key", outputKey)
	return nil
}

func (p *Processor) loadAssets(ctx context.Context, overlays []models.Overlay) (map[string]models.Asset, error) {
	ids := models.OverlayAssetIDs(overlays)
	byID := make(map[string]models.Asset, len(ids))
	if len(ids) == 0 {
		return byID, nil
	}

	assets, err := p.assets.ListByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "processor.assets", "could not load staged assets")
	}
	for _, a := range assets {
		byID[a.ID] = a
	}
	return byID, nil
}

// failJob records the cause on the job row. The write uses a detached
// context so a shutdown or timeout that caused the failure cannot also
// suppress recording it.
func (p *Processor) failJob(ctx context.Context, jobID string, cause error) error {
	log := p.log.FromContext(ctx)

	msg := ""
	if cause != nil {
		msg = cause.Error()

		var mErr *errors.Error
		if errors.As(cause, &mErr) {
			log.Error("job failed", "code", string(mErr.Code), "op", mErr.Op, "message", mErr.Message)
		} else {
			log.Error("job failed", "error", msg)
		}
	}

	if err := p.jobs.MarkFailed(context.WithoutCancel(ctx), jobID, msg); err != nil {
		log.Warn("could not record failure", "error", err)
	}
	return cause
}
