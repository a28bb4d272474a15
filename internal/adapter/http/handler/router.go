package handler

import (
	"tracking-guardian/config"
	"tracking-guardian/internal/adapter/http/middleware"
	"tracking-guardian/internal/core/ports"
	"tracking-guardian/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Cfg            *config.Config
	ShopLoader     ports.ShopLoader
	ShopRepo       ports.ShopRepository
	KeyValidator   ports.KeyValidator
	RateLimitStore ports.RateLimitStore
	Queue          ports.QueueStore
	Worker         ports.Worker // nil = ops worker trigger disabled
	TokenSvc       ports.TokenService
	Metrics        *metrics.Metrics
	Registry       prometheus.Gatherer // nil = default registry
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with the ingest chain and the
// supporting surfaces. The /ingest group runs the ordered stages C1–C11;
// the first stage to abort wins.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	log := deps.Logger
	cfg := deps.Cfg
	m := deps.Metrics

	// Global middleware
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestLogger(log))

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Prometheus metrics
	if deps.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	} else {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	limiter := middleware.NewResilientLimiter(
		deps.RateLimitStore,
		cfg.Ingest.RateLimitTimeout,
		cfg.Ingest.AllowRedisFallback || !cfg.Server.IsProduction(),
		log,
	)

	ingestHandler := NewIngestHandler(deps.Queue, cfg.Ingest.MaxQueueSize, cfg.Ingest.QueuePushTimeout, m, log)

	// The ingest chain, in stage order.
	ingest := r.Group("/ingest",
		middleware.RequestContext(cfg, log),
		middleware.CORSAndMethod(),
		middleware.PreBodyRateLimit(limiter, cfg.Ingest.PreBodyRateLimit, m, log),
		middleware.PreBodyOrigin(cfg.Ingest.AllowNullOrigin, m, log),
		middleware.SignaturePresence(m),
		middleware.TimestampWindow(cfg.Ingest.TimestampWindow, m, log),
		middleware.BodyReader(cfg.Ingest.MaxBodyBytes, cfg.Ingest.MaxBatchSize, m, log),
		middleware.EventValidator(m, log),
		middleware.ShopLoader(deps.ShopLoader, cfg.Ingest.AllowNullOrigin, m, log),
		middleware.PostShopRateLimit(limiter, cfg.Ingest.PostShopRateLimit, m, log),
		middleware.HMACAuth(deps.KeyValidator, deps.ShopRepo, m, log),
	)
	{
		ingest.POST("", ingestHandler.Ingest)
		ingest.OPTIONS("", func(c *gin.Context) {}) // answered by CORSAndMethod
	}

	// Internal ops surface (JWT-guarded)
	if deps.Worker != nil {
		opsHandler := NewOpsHandler(deps.Worker, deps.Queue, log)
		internal := r.Group("/internal", OpsAuth(deps.TokenSvc, log))
		{
			internal.POST("/worker/run", opsHandler.RunWorker)
			internal.GET("/queue/stats", opsHandler.QueueStats)
		}
	}

	return r
}
