package router

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/livsafe-api/internal/handler/prometheus"
	"github.com/jwalitptl/livsafe-api/internal/middleware"
	"github.com/jwalitptl/livsafe-api/pkg/errors"
	"github.com/jwalitptl/livsafe-api/pkg/httputil"
)

const apiVersion = "1.0"

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Config struct {
	Mode           string
	RequestTimeout time.Duration
	CORSOrigins    []string
	// RateLimit is skipped when RequestsPerSecond is zero.
	RateLimit middleware.RateLimiterConfig
	SizeLimit middleware.SizeLimitConfig
}

type Router struct {
	engine   *gin.Engine
	metrics  *prometheus.Handler
	handlers []Handler
}

// NewRouter builds the engine with the global middleware chain. Handlers are
// mounted under /api by Setup.
func NewRouter(config Config, metrics *prometheus.Handler, handlers ...Handler) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	// multipart parts above this spill to temp files
	engine.MaxMultipartMemory = 8 << 20

	r := &Router{
		engine:   engine,
		metrics:  metrics,
		handlers: handlers,
	}

	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		metrics.Middleware(),
	)
	if config.RequestTimeout > 0 {
		engine.Use(middleware.Timeout(config.RequestTimeout))
	}
	engine.Use(
		middleware.CORS(config.CORSOrigins),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.Compress(middleware.DefaultCompressConfig()),
	)
	if config.RateLimit.RequestsPerSecond > 0 {
		engine.Use(middleware.NewRateLimiter(config.RateLimit).RateLimit())
	}
	sizeLimit := config.SizeLimit
	if sizeLimit.MaxBodySize <= 0 || sizeLimit.MaxUploadSize <= 0 {
		sizeLimit = middleware.DefaultSizeLimitConfig()
	}
	engine.Use(middleware.SizeLimit(sizeLimit))

	engine.NoRoute(func(c *gin.Context) {
		httputil.RespondWithError(c, errors.NotFound("route", nil))
	})
	engine.NoMethod(func(c *gin.Context) {
		httputil.RespondWithError(c, errors.NotFound("route", nil))
	})

	return r
}

func (r *Router) Setup() {
	r.metrics.RegisterRoutes(r.engine)

	api := r.engine.Group("/api")
	api.Use(middleware.Version(apiVersion))

	for _, h := range r.handlers {
		h.RegisterRoutes(api)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
