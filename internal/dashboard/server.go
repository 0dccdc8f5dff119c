// Package dashboard serves a read-only JSON view of the acquisition session
// and the run database.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/xpdacq/xpdacq/internal/beamtime"
	"github.com/xpdacq/xpdacq/internal/dark"
	"gorm.io/gorm"
)

// Session is the live acquisition state the dashboard reports on.
type Session interface {
	Beamtime() (*beamtime.Beamtime, error)
	Darks() *dark.Cache
}

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	DB      *gorm.DB
	Session Session // optional; session endpoints answer 503 without it
	Port    int
	// AllowOrigins lists browser origins permitted to read the API. Empty
	// disables CORS handling.
	AllowOrigins []string
	Metrics      http.Handler // served at /metrics when set
	Out          io.Writer
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("dashboard: db is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8090
	}

	gin.SetMode(gin.ReleaseMode)

	var ropts []Option
	if len(opts.AllowOrigins) > 0 {
		ropts = append(ropts, WithCORS(opts.AllowOrigins...))
	}
	if opts.Metrics != nil {
		ropts = append(ropts, WithMetrics(opts.Metrics))
	}
	router := NewRouter(opts.DB, opts.Session, ropts...)

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Status server running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

type routerConfig struct {
	allowOrigins []string
	metrics      http.Handler
}

// Option customizes NewRouter.
type Option func(*routerConfig)

// WithCORS answers cross-origin requests from origins.
func WithCORS(origins ...string) Option {
	return func(c *routerConfig) { c.allowOrigins = append(c.allowOrigins, origins...) }
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(c *routerConfig) { c.metrics = h }
}

// NewRouter returns the dashboard's gin engine with every route registered.
func NewRouter(db *gorm.DB, s Session, opts ...Option) *gin.Engine {
	var cfg routerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if len(cfg.allowOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: cfg.allowOrigins,
			AllowMethods: []string{"GET", "OPTIONS"},
			AllowHeaders: []string{"Content-Type", "Cache-Control"},
			MaxAge:       12 * time.Hour,
		}))
	}
	if cfg.metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.metrics))
	}
	registerRoutes(router, db, s)
	return router
}
