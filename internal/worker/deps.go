package worker

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"montage/internal/config"
	"montage/internal/pkg/logger"
	"montage/internal/ports"
)

type Deps struct {
	Pool    *pgxpool.Pool
	RDB     *redis.Client
	SP      ports.StorageProvider
	Render  config.RenderConfig
	Cleanup config.CleanupConfig
	Log     *logger.Logger
}
