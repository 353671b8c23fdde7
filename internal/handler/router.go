package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ephyspipe/internal/metrics"
	"ephyspipe/internal/repository"
	"ephyspipe/internal/service"
)

type RouterOptions struct {
	Repo    repository.Repository
	Psth    *service.PsthService
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	JWT     JWT
}

// NewRouter mounts health and metrics unauthenticated and the read API
// behind the bearer check.
func NewRouter(opts RouterOptions) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(CORS())
	engine.Use(RequestLogger(opts.Logger))
	engine.Use(RequestMetrics(opts.Metrics))

	health := &HealthHandler{DB: opts.Repo}
	health.Register(engine)
	engine.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))

	api := engine.Group("")
	api.Use(RequireBearer(opts.JWT))
	ephys := &EphysHandler{Repo: opts.Repo, Psth: opts.Psth}
	ephys.Register(api)
	return engine
}
