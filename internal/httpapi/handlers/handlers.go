// Package handlers implements the job API surface: asset staging, job
// submission, status/result queries, cancellation and health.
package handlers

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"montage/internal/config"
	"montage/internal/models"
	"montage/internal/pkg/logger"
	"montage/internal/ports"
	"montage/internal/render"
	"montage/internal/repositories"
	"montage/internal/worker/queue"
)

// Uploads above this stay on disk while the multipart form is parsed.
const multipartMemory = 32 << 20

// The handlers talk to the registry, catalog, queue and prober through
// these slices so the request paths can be exercised without postgres,
// redis or ffprobe behind them.
type jobStore interface {
	Create(ctx context.Context, j *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, status string, limit int) ([]models.Job, error)
	RequestCancel(ctx context.Context, id string) (*models.Job, error)
	MarkFailed(ctx context.Context, id string, cause string) error
}

type assetStore interface {
	Create(ctx context.Context, a *models.Asset) error
	Get(ctx context.Context, id string) (*models.Asset, error)
	Delete(ctx context.Context, id string) error
	ListByIDs(ctx context.Context, ids []string) ([]models.Asset, error)
	MarkConsumed(ctx context.Context, ids []string, at time.Time) error
}

type renderQueue interface {
	Push(ctx context.Context, jobID string) error
}

type mediaProber interface {
	Probe(ctx context.Context, mediaPath string) (render.Metadata, error)
}

type Deps struct {
	Pool *pgxpool.Pool
	RDB  *redis.Client
	SP   ports.StorageProvider
	Cfg  *config.Config
	Log  *logger.Logger
}

type Handler struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	sp        ports.StorageProvider
	jobs      jobStore
	assets    assetStore
	queue     renderQueue
	prober    mediaProber
	validate  *validator.Validate
	maxUpload int64
	log       *logger.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}

	return &Handler{
		pool:      d.Pool,
		rdb:       d.RDB,
		sp:        d.SP,
		jobs:      repositories.NewJobRepository(d.Pool),
		assets:    repositories.NewAssetRepository(d.Pool),
		queue:     queue.NewRedisQueue(d.RDB, d.Cfg.Render.QueueName),
		prober:    render.NewProber(d.Cfg.Render.FFprobePath, d.Cfg.Render.ProbeTimeout.Std()),
		validate:  validator.New(),
		maxUpload: d.Cfg.Server.MaxUploadMB << 20,
		log:       log.WithComponent("httpapi"),
	}
}
