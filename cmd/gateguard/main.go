package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/AlexKimmel/GateGuard/internal/auth"
	"github.com/AlexKimmel/GateGuard/internal/config"
	"github.com/AlexKimmel/GateGuard/internal/gateway"
	"github.com/AlexKimmel/GateGuard/internal/obs"
	"github.com/AlexKimmel/GateGuard/internal/proxy"
	"github.com/AlexKimmel/GateGuard/internal/ratelimit"
	"github.com/AlexKimmel/GateGuard/internal/ratelimit/memory"
	"github.com/AlexKimmel/GateGuard/internal/ratelimit/redisstore"
	"github.com/AlexKimmel/GateGuard/internal/routing"
	"github.com/AlexKimmel/GateGuard/internal/users"
)

var version = "v0.1.0"

func main() {
	configPath := flag.String("config", "./config.yaml", "path to the YAML config")
	hashPassword := flag.String("hash-password", "", "print a bcrypt hash for the given password and exit")
	flag.Parse()

	if *hashPassword != "" {
		h, err := users.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(h)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := obs.SetupLogger(cfg.Observability.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("gateguard stopped")
	}
	logger.Info().Msg("bye")
}

func run(ctx context.Context, cfg *config.Root, logger zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(reg)

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	policy := ratelimit.Policy{Capacity: cfg.Limits.Capacity, Window: cfg.Limits.Window()}
	limiter, err := ratelimit.New(store, ratelimit.Options{
		Policy:       policy,
		FailOpen:     cfg.Limits.FailOpenEnabled(),
		StoreTimeout: cfg.Limits.StoreTimeout(),
		Fallback:     ratelimit.NewFallback(cfg.Limits.Fallback.RPS, cfg.Limits.Fallback.Burst, 2*policy.Window),
		Logger:       logger,
		OnStoreError: metrics.ObserveStoreError,
		OnDegraded:   metrics.ObserveDegraded,
	})
	if err != nil {
		return err
	}
	defer limiter.Close()

	tokens, err := auth.NewTokens(auth.TokenConfig{
		Secret: []byte(cfg.Auth.Secret),
		TTL:    cfg.Auth.TTL(),
		Issuer: cfg.Auth.Issuer,
	})
	if err != nil {
		return err
	}

	creds, closeCreds, err := newCredentials(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCreds()

	rr, err := cfg.BuildRouter()
	if err != nil {
		return err
	}
	login := users.LoginHandler(creds, tokens, users.LoginOptions{OnResult: metrics.ObserveLogin})
	if err := rr.Add(&routing.Route{ID: "login", Method: http.MethodPost, Pattern: cfg.Auth.LoginPath, Handler: login}); err != nil {
		return err
	}

	skip := map[string]struct{}{
		"/health":                        {},
		"/version":                       {},
		cfg.Observability.PrometheusPath: {},
	}
	pipeline := gateway.NewPipeline(limiter, tokens, gateway.PipelineOptions{
		Header:    cfg.Auth.Header,
		ClientKey: gateway.ClientKey(cfg.Limits.TrustedProxyHops),
		Skip:      skip,
		OnOutcome: metrics.ObserveOutcome,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, version)
	})
	mux.Handle("GET "+cfg.Observability.PrometheusPath, metrics.Handler())
	mux.Handle("/", gateway.Routes(rr, pipeline, metrics.Middleware, proxy.Factory(proxy.NewHTTPTransport())))

	handler := gateway.Chain(
		mux,
		obs.Logger(logger),
		gateway.BodyLimit(cfg.Server.MaxBody()),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout(),
		ReadTimeout:       cfg.Server.ReadTimeout(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Int("routes", len(rr.Routes())).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
		return nil
	})
	return g.Wait()
}

func newStore(ctx context.Context, cfg *config.Root, logger zerolog.Logger) (ratelimit.Store, error) {
	if cfg.Redis.Memory {
		logger.Warn().Msg("using in-process bucket store; limits are not shared across instances")
		return memory.New(), nil
	}

	client := redisstore.NewClient(redisstore.ClientConfig{
		Addrs:      cfg.Redis.Addrs,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		MaxRetries: cfg.Redis.MaxRetries,
	})
	store := redisstore.New(client, redisstore.Options{Prefix: cfg.Redis.Prefix, TTL: cfg.Redis.TTL()})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		if !cfg.Limits.FailOpenEnabled() {
			_ = store.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		logger.Warn().Err(err).Strs("addrs", cfg.Redis.Addrs).Msg("redis unreachable at startup; admitting without limits until it recovers")
	}
	return store, nil
}

func newCredentials(ctx context.Context, cfg *config.Root) (users.Credentials, func(), error) {
	if cfg.Credentials.PostgresDSN != "" {
		pg, err := users.NewPostgres(ctx, cfg.Credentials.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { _ = pg.Close() }, nil
	}

	list := make([]users.User, 0, len(cfg.Credentials.Users))
	for _, u := range cfg.Credentials.Users {
		list = append(list, users.User{ID: u.ID, Username: u.Username, PasswordHash: u.PasswordHash})
	}
	static, err := users.NewStatic(list)
	if err != nil {
		return nil, nil, err
	}
	return static, func() {}, nil
}
