package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterConfig holds the settings the router needs.
type RouterConfig struct {
	Mode      string
	RelayPath string
}

// Router collects everything mounted on the engine.
type Router struct {
	Relay    *RelayHandler
	Devices  *DeviceHandler
	Stats    StatsSource
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
}

// NewEngine builds the gin engine serving the relay endpoint, /health,
// /metrics and the /api group.
func NewEngine(cfg RouterConfig, rt Router) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(rt.Logger.With().Str("module", "api").Logger()))
	r.Use(corsMiddleware())

	r.GET("/health", Health(rt.Stats))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(rt.Gatherer, promhttp.HandlerOpts{})))

	rt.Relay.RegisterRoutes(r, cfg.RelayPath)

	api := r.Group("/api")
	{
		rt.Devices.RegisterRoutes(api)
	}

	return r
}

// requestLogger logs one debug line per request.
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

// corsMiddleware returns a CORS middleware for browser clients. The request
// origin is echoed because credentialed requests cannot use a wildcard.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cookie")
			h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
