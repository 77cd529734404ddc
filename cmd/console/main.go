package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"mssecurity.org/internal/audit"
	"mssecurity.org/internal/auth"
	"mssecurity.org/internal/config"
	"mssecurity.org/internal/console"
	"mssecurity.org/internal/gateway"
	"mssecurity.org/internal/identity"
	"mssecurity.org/internal/obs"
	"mssecurity.org/internal/store/pg"
	"mssecurity.org/internal/tokenstore"
	"mssecurity.org/internal/views"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	log := obs.Logger()
	var (
		configPath = pflag.String("config", os.Getenv("CONSOLE_CONFIG"), "Path to the console YAML config")
		addr       = pflag.String("addr", "", "Listen address (overrides config)")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}
	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	obs.SetBuildInfo(version, commit)

	ctx := context.Background()
	probes := map[string]console.Probe{}

	// Session tokens live in Redis when configured so a restart keeps
	// everyone signed in.
	var (
		rdb    *redis.Client
		tokens auth.TokenStoreFactory
		links  identity.LinkStore
	)
	if cfg.RedisURL != "" {
		rdb, err = tokenstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("connect redis")
		}
		tokens = tokenstore.Factory(rdb, cfg.Session.TokenTTL)
		if cfg.OneAccountPerEmail {
			links = tokenstore.NewLinks(rdb)
		}
		probes["redis"] = console.ProbeFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	} else {
		log.Warn("redis_url not set; session tokens are kept in memory")
		if cfg.OneAccountPerEmail {
			links = identity.NewMemoryLinks()
		}
	}

	var (
		store    *pg.Store
		recorder audit.Recorder = audit.LogRecorder{}
		activity console.ActivityLog
	)
	if cfg.Postgres != "" {
		store, err = pg.Open(cfg.Postgres)
		if err != nil {
			log.WithError(err).Fatal("open postgres")
		}
		recorder = audit.Multi{audit.LogRecorder{}, store}
		activity = store
		probes["postgres"] = store
	}

	providers := identity.New(identity.Config{
		Providers: cfg.Providers,
		Links:     links,
	})
	registry := auth.NewRegistry(auth.RegistryConfig{
		Provider:     providers,
		Tokens:       tokens,
		Audit:        recorder,
		IdleEviction: cfg.Session.IdleEviction,
		Manager: auth.Options{
			InactivityTimeout: cfg.Session.InactivityTimeout,
			ActivityDebounce:  cfg.Session.ActivityDebounce,
			RedirectURI:       cfg.CallbackURL(),
		},
	})
	if cfg.Session.IdleEviction > 0 {
		registry.StartReaper(cfg.Session.IdleEviction / 4)
	}

	cookies, err := auth.NewCookieSigner(cfg.Session.CookieName, cfg.Session.Secret, cfg.Session.CookieTTL, cfg.Session.CookieSecure, nil)
	if err != nil {
		log.WithError(err).Fatal("session cookie")
	}
	gw, err := gateway.New(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	if err != nil {
		log.WithError(err).Fatal("backend gateway")
	}
	renderer, err := views.NewRenderer()
	if err != nil {
		log.WithError(err).Fatal("load templates")
	}

	app, err := console.New(console.Options{
		Version:      version,
		Registry:     registry,
		Cookies:      cookies,
		Providers:    providers,
		Gateway:      gw,
		Renderer:     renderer,
		Activity:     activity,
		Probes:       probes,
		RateLimit:    cfg.RateLimit,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	})
	if err != nil {
		log.WithError(err).Fatal("build console")
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           app.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	log.WithField("addr", srv.Addr).WithField("version", version).Info("starting console")
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	grace := cfg.HTTP.ShutdownTimeout
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
	registry.Close()
	if store != nil {
		_ = store.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	log.Info("stopped")
}

