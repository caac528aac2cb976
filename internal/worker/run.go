// Package worker hosts the render pool: a fixed number of queue
// consumers, the retention sweeper, and startup reconciliation.
package worker

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"montage/internal/pkg/logger"
	"montage/internal/render"
	"montage/internal/repositories"
	"montage/internal/worker/processor"
	"montage/internal/worker/queue"
	"montage/internal/worker/sweeper"
)

// popTimeout bounds each BRPOP so the loops notice shutdown promptly.
const popTimeout = 5 * time.Second

func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("worker")

	jobs := repositories.NewJobRepository(d.Pool)
	assets := repositories.NewAssetRepository(d.Pool)
	q := queue.NewRedisQueue(d.RDB, d.Render.QueueName)

	engine := render.NewFFmpeg(render.FFmpegOptions{
		Path:      d.Render.FFmpegPath,
		KillGrace: d.Render.KillGrace.Std(),
		TailLines: d.Render.StderrTailLines,
	}, log)

	p := processor.New(processor.Deps{
		Jobs:     jobs,
		Assets:   assets,
		Engine:   engine,
		SP:       d.SP,
		WorkRoot: d.Render.WorkRoot,
		Log:      log,
	})

	// A job still marked rendering was orphaned by a previous run; no
	// process exists to finish it.
	orphaned, err := jobs.FailOrphaned(ctx, "interrupted by worker restart")
	if err != nil {
		return err
	}
	if orphaned > 0 {
		log.Warn("failed orphaned jobs from previous run", "count", orphaned)
	}

	sw := sweeper.New(sweeper.Deps{
		Jobs:         jobs,
		Assets:       assets,
		SP:           d.SP,
		WorkRoot:     d.Render.WorkRoot,
		Interval:     d.Cleanup.Interval.Std(),
		JobRetention: d.Cleanup.JobRetention.Std(),
		AssetIdleTTL: d.Cleanup.AssetIdleTTL.Std(),
		Log:          log,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sw.Run(ctx) })
	for i := 0; i < d.Render.Concurrency; i++ {
		loop := i
		g.Go(func() error { return runLoop(ctx, loop, q, p, log) })
	}

	log.Info("worker started",
		"concurrency", d.Render.Concurrency,
		"queue", d.Render.QueueName,
	)
	return g.Wait()
}

// runLoop is one queue consumer. It owns at most one render at a time.
func runLoop(ctx context.Context, id int, q *queue.RedisQueue, p *processor.Processor, log *logger.Logger) error {
	log = log.WithFields(map[string]any{"consumer": id})

	for {
		select {
		case <-ctx.Done():
			log.Info("consumer stopping")
			return ctx.Err()
		default:
		}

		jobID, ok, err := q.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("consumer stopping")
				return ctx.Err()
			}
			log.Warn("queue pop error, retrying", "error", err.Error())
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue
		}

		jobLog := log.WithJobID(jobID)
		jobLog.Info("processing job")
		start := time.Now()

		if err := p.ProcessJob(ctx, jobID); err != nil {
			jobLog.Error("job processing failed",
				"error", err.Error(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		} else {
			jobLog.Info("job processed",
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	}
}
