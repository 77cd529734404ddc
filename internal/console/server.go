// Package console is the HTTP surface of the admin console: sign-in pages,
// the session endpoints used by page scripts and the entity screens.
package console

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"

	"mssecurity.org/internal/audit"
	"mssecurity.org/internal/auth"
	"mssecurity.org/internal/config"
	"mssecurity.org/internal/gateway"
	"mssecurity.org/internal/obs"
	"mssecurity.org/internal/views"
)

// Directory lists the identity providers offered on the login page.
type Directory interface {
	Enabled() []auth.ProviderID
	DisplayName(auth.ProviderID) string
}

// ActivityLog returns recent audit events of a console session.
type ActivityLog interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]audit.Event, error)
}

// Probe is one readiness check.
type Probe interface {
	Ping(ctx context.Context) error
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Ping(ctx context.Context) error { return f(ctx) }

// Options wires a Server.
type Options struct {
	AppName   string
	Version   string
	Registry  *auth.Registry
	Cookies   *auth.CookieSigner
	Providers Directory
	Gateway   *gateway.Client
	Renderer  *views.Renderer
	// Activity is optional; without it the dashboard shows no history.
	Activity ActivityLog
	Probes   map[string]Probe

	RateLimit    config.RateLimitConfig
	MaxBodyBytes int64
	// ActivityEvery throttles activity reports sent by page scripts.
	ActivityEvery time.Duration
	// Heartbeat is the keep-alive interval of the session event stream.
	Heartbeat time.Duration
}

// Server serves the console.
type Server struct {
	opts      Options
	registry  *auth.Registry
	cookies   *auth.CookieSigner
	providers Directory
	gateway   *gateway.Client
	views     *views.Renderer
	limiter   *rateLimiter
	resources []resource
}

// New validates opts and builds the server.
func New(opts Options) (*Server, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("console: registry is required")
	case opts.Cookies == nil:
		return nil, errors.New("console: cookie signer is required")
	case opts.Gateway == nil:
		return nil, errors.New("console: gateway is required")
	case opts.Renderer == nil:
		return nil, errors.New("console: renderer is required")
	}
	if opts.AppName == "" {
		opts.AppName = "Security Console"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.ActivityEvery <= 0 {
		opts.ActivityEvery = time.Second
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 25 * time.Second
	}
	trusted, err := parseProxies(opts.RateLimit.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("console: %w", err)
	}
	return &Server{
		opts:      opts,
		registry:  opts.Registry,
		cookies:   opts.Cookies,
		providers: opts.Providers,
		gateway:   opts.Gateway,
		views:     opts.Renderer,
		limiter:   newRateLimiter(opts.RateLimit.PerSecond, opts.RateLimit.Burst, trusted),
		resources: resources(),
	}, nil
}

// Handler returns the root handler with the full middleware chain.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID, recoverer, logRequests, securityHeaders, maxBodyBytes(s.opts.MaxBodyBytes))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", obs.Handler())
	r.Get("/avatar/{seed}", s.avatar)

	r.Group(func(r chi.Router) {
		r.Use(s.session)

		// The event stream stays uncompressed so every event is flushed.
		r.Get("/session/events", s.events)
		r.Post("/session/activity", s.activity)

		r.Group(func(r chi.Router) {
			r.Use(compress)
			r.Get("/login", s.login)
			r.Post("/logout", s.logout)
			r.Route("/auth", func(r chi.Router) {
				r.Use(s.limiter.middleware)
				r.Get("/callback", s.callback)
				r.Get("/{provider}/start", s.startSignIn)
				r.Post("/{provider}/failed", s.failSignIn)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Get("/", s.dashboard)
				for _, res := range s.resources {
					res.mount(r, s)
				}
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.renderError(w, r, http.StatusNotFound, "The page you asked for does not exist.", "/")
	})
	return obs.Instrument(r)
}

func compress(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}
