// Package httpapi wires the job API: routes, middleware chain, handlers.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"montage/internal/config"
	"montage/internal/httpapi/handlers"
	"montage/internal/httpkit"
	"montage/internal/pkg/logger"
	"montage/internal/pkg/middleware"
	"montage/internal/ports"
)

type Deps struct {
	Pool *pgxpool.Pool
	RDB  *redis.Client
	SP   ports.StorageProvider
	Cfg  *config.Config
	Log  *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(d.Log))
	r.Use(middleware.Recovery(d.Log))
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins: d.Cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAgeSeconds:  600,
	}))

	h := handlers.New(handlers.Deps{
		Pool: d.Pool,
		RDB:  d.RDB,
		SP:   d.SP,
		Cfg:  d.Cfg,
		Log:  d.Log,
	})

	r.Get("/health", h.Health)

	r.Post("/assets", h.PostAsset)
	r.Get("/assets/{assetId}", h.GetAsset)
	r.Delete("/assets/{assetId}", h.DeleteAsset)

	r.Post("/jobs", h.PostJob)
	r.Get("/jobs", h.ListJobs)
	r.Get("/jobs/{jobId}", h.GetJob)
	r.Get("/jobs/{jobId}/result", h.GetJobResult)
	r.Post("/jobs/{jobId}/cancel", h.CancelJob)

	return r
}
