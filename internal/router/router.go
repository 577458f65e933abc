package router

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

const apiVersion = "1.0"

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine    *gin.Engine
	auth      *middleware.AuthMiddleware
	public    []Handler
	protected []Handler
	metrics   *metrics.Metrics
	limiter   *middleware.RateLimiter
}

type RouterConfig struct {
	Mode           string
	RateLimit      rate.Limit
	RateBurst      int
	RateLimitOff   bool
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	CORSConfig     middleware.CORSConfig
}

// NewRouter builds the engine with the shared middleware chain. public
// handlers (health, metrics) skip authentication.
func NewRouter(
	auth *middleware.AuthMiddleware,
	m *metrics.Metrics,
	public []Handler,
	protected []Handler,
	config RouterConfig,
) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = middleware.DefaultTimeoutConfig().Duration
	}

	engine := gin.New()

	r := &Router{
		engine:    engine,
		auth:      auth,
		public:    public,
		protected: protected,
		metrics:   m,
	}

	sizeLimit := middleware.DefaultSizeLimitConfig()
	if config.MaxBodyBytes > 0 {
		sizeLimit.MaxBodySize = config.MaxBodyBytes
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		r.metricsMiddleware(),
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.RequestTimeout}),
		middleware.CORS(config.CORSConfig),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.SizeLimit(sizeLimit),
	)

	if !config.RateLimitOff {
		r.limiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
	}

	return r
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")
	api.Use(middleware.Version(apiVersion))

	for _, h := range r.public {
		h.RegisterRoutes(api)
	}

	protected := api.Group("")
	protected.Use(
		r.auth.Authenticate(),
		middleware.Cache(middleware.DefaultCacheConfig()),
	)
	// buckets are per caller, so the limiter runs after authentication
	if r.limiter != nil {
		protected.Use(r.limiter.RateLimit())
	}
	for _, h := range r.protected {
		h.RegisterRoutes(protected)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		r.metrics.RequestDuration.WithLabelValues(path, c.Request.Method, status).Observe(time.Since(start).Seconds())
		r.metrics.RequestTotal.WithLabelValues(path, c.Request.Method, status).Inc()
		if c.Writer.Status() >= 400 {
			r.metrics.ErrorTotal.WithLabelValues(path, c.Request.Method, status).Inc()
		}
	}
}
