// Package server exposes the webhook endpoint and the OAuth 2.0
// authorization routes over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markb/mentionbot/internal/log"
	"github.com/markb/mentionbot/internal/oauth"
	"github.com/markb/mentionbot/internal/observability"
	"github.com/markb/mentionbot/internal/webhook"
)

const readHeaderTimeout = 10 * time.Second

// Options selects what the server exposes.
type Options struct {
	// Flow enables /oauth/authorize and /oauth/callback when non-nil.
	Flow *oauth.Flow
	// WebhookSecret is the consumer secret used for CRC and payload signatures.
	WebhookSecret    string
	VerifySignatures bool
	// OnEvent is called for each decoded webhook delivery.
	OnEvent func(r *http.Request, ev *webhook.Event) error
	// AllowedOrigins for CORS; empty allows any origin.
	AllowedOrigins []string
	// Telemetry instruments requests when non-nil.
	Telemetry *observability.Telemetry
}

type Server struct {
	router  *chi.Mux
	flow    *oauth.Flow
	metrics *observability.Metrics

	mu           sync.Mutex
	httpServer   *http.Server
	httpsServer  *http.Server
	httpRedirect *http.Server
}

func New(opts Options) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		flow:    opts.Flow,
		metrics: opts.Telemetry.Metrics(),
	}
	s.setupRoutes(opts)
	return s
}

func (s *Server) setupRoutes(opts Options) {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.router.Use(log.RequestLogger)
	if opts.Telemetry != nil {
		s.router.Use(observability.HTTPMiddleware(opts.Telemetry, "mentionbot"))
	}
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.SetHeader("Content-Type", "application/json"))

	s.router.Get("/health", s.handleHealth)

	hook := &webhook.Handler{
		Secret:         opts.WebhookSecret,
		Next:           &webhook.EventSink{Handle: s.countEvents(opts.OnEvent)},
		VerifyPayloads: opts.VerifySignatures,
	}
	s.router.Method(http.MethodGet, "/webhook", hook)
	s.router.Method(http.MethodPost, "/webhook", hook)

	if s.flow != nil {
		s.router.Route("/oauth", func(r chi.Router) {
			r.Get("/authorize", s.handleAuthorize)
			r.Get("/callback", s.handleCallback)
		})
	}
}

// countEvents records delivery metrics before handing the event to next.
func (s *Server) countEvents(next func(*http.Request, *webhook.Event) error) func(*http.Request, *webhook.Event) error {
	return func(r *http.Request, ev *webhook.Event) error {
		s.metrics.RecordWebhookEvents(r.Context(), ev.Kinds)
		if next == nil {
			return nil
		}
		return next(r, ev)
	}
}

func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// ListenAndServe serves plain HTTP on addr until Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	log.Info("http server listening", "addr", addr)
	return ignoreClosed(srv.ListenAndServe())
}

// Shutdown gracefully shuts down the HTTP server(s).
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	servers := map[string]*http.Server{
		"HTTPS server":         s.httpsServer,
		"HTTP redirect server": s.httpRedirect,
		"HTTP server":          s.httpServer,
	}
	s.mu.Unlock()

	var errs []error
	for name, srv := range servers {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: code, Description: description})
}
