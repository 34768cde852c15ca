// Package api exposes the engine over HTTP: channel webhooks, tenant cache
// administration and a health probe.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bilLkarkariy/bbta-saas-sub000/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = ":8080"
	// DefaultRequestTimeout bounds one webhook turn.
	DefaultRequestTimeout = 60 * time.Second
	// maxBodyBytes bounds request bodies.
	maxBodyBytes = 1 << 20
)

// Processor runs one conversational turn.
type Processor interface {
	Process(ctx context.Context, ev models.InboundEvent) models.ProcessResult
}

// TenantCache is the administrable part of the tenant directory.
type TenantCache interface {
	Invalidate(tenantID string) int
	Clear()
}

// WebhookParser turns a Twilio webhook request into an event.
type WebhookParser interface {
	ParseWebhook(r *http.Request, publicURL string) (models.InboundEvent, error)
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr           string
	PublicURL      string
	RequestTimeout time.Duration
	Twilio         WebhookParser
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithPublicURL sets the externally visible base URL, used to check Twilio
// signatures behind a proxy.
func WithPublicURL(url string) Option {
	return func(o *Opts) { o.PublicURL = url }
}

// WithRequestTimeout bounds each request.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Opts) { o.RequestTimeout = d }
}

// WithTwilioWebhook enables POST /webhooks/twilio.
func WithTwilioWebhook(p WebhookParser) Option {
	return func(o *Opts) { o.Twilio = p }
}

// Server is the HTTP front of the engine.
type Server struct {
	gateway Processor
	tenants TenantCache
	opts    Opts
	router  chi.Router
	http    *http.Server
}

// NewServer builds the server and its routes.
func NewServer(gateway Processor, tenants TenantCache, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, RequestTimeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{gateway: gateway, tenants: tenants, opts: cfg}
	s.routes()
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.opts.RequestTimeout))

	r.Get("/health", s.healthHandler)

	r.Route("/webhooks", func(wh chi.Router) {
		if s.opts.Twilio != nil {
			wh.Post("/twilio", s.twilioWebhookHandler)
		}
		wh.Post("/events", s.eventsHandler)
	})

	r.Route("/admin/tenants", func(admin chi.Router) {
		admin.Post("/{tenantID}/invalidate", s.invalidateTenantHandler)
		admin.Post("/cache/clear", s.clearTenantCacheHandler)
	})

	s.router = r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("API server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
