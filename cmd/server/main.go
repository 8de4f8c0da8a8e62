// Command server runs the paid-access backend: the Kiwify webhook, the access
// API, the SOPH code endpoints and a sample gated route.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/goaccess/pkg/access"
	zerologadapter "github.com/mihaimyh/goaccess/pkg/access/logger/zerolog"
	accessprom "github.com/mihaimyh/goaccess/pkg/access/metrics/prometheus"
	"github.com/mihaimyh/goaccess/pkg/accesscode"
	"github.com/mihaimyh/goaccess/pkg/api"
	"github.com/mihaimyh/goaccess/pkg/auth"
	"github.com/mihaimyh/goaccess/pkg/billing"
	"github.com/mihaimyh/goaccess/pkg/billing/kiwify"
	billingprom "github.com/mihaimyh/goaccess/pkg/billing/metrics/prometheus"
)

func main() {
	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := loadConfig()
	if err != nil {
		zlog.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.LogPretty {
		zlog = zlog.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zlog = zlog.Level(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zlog); err != nil {
		zlog.Fatal().Err(err).Msg("server stopped")
	}
}

func run(ctx context.Context, cfg Config, zlog zerolog.Logger) error {
	logger := zerologadapter.NewLogger(zlog)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	backends, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	resolver, err := access.NewResolver(backends.storage, access.Config{
		CacheConfig: &access.CacheConfig{
			Enabled:     true,
			ProfileTTL:  cfg.ProfileCacheTTL,
			MaxProfiles: 1000,
		},
		CircuitBreakerConfig: &access.CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		Metrics: accessprom.NewMetrics(reg, cfg.MetricsNamespace),
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	if err != nil {
		return err
	}

	codes, err := accesscode.NewService(resolver, backends.storage, accesscode.Config{Logger: logger})
	if err != nil {
		return err
	}

	provider, err := kiwify.NewProvider(billing.Config{
		Subscriptions:     backends.storage,
		WebhookLogs:       backends.storage,
		PlanMapping:       planMapping(cfg.PlanMapping),
		AnnualMinAmount:   cfg.AnnualMinAmount,
		MonthlyMinAmount:  cfg.MonthlyMinAmount,
		WebhookSecret:     cfg.KiwifyWebhookSecret,
		RateLimitRequests: cfg.WebhookRateLimit,
		WebhookCallback: func(_ context.Context, event billing.WebhookEvent) error {
			zlog.Info().
				Str("event", event.EventType).
				Str("subscription", event.ExternalSubscriptionID).
				Str("status", string(event.Status)).
				Msg("subscription updated")
			return nil
		},
		Metrics: billingprom.NewMetrics(reg, cfg.MetricsNamespace),
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	handler, err := api.NewHandler(api.Config{
		Resolver: resolver,
		Codes:    codes,
		GetUser:  api.FromVerifier(verifier),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	rt := &routes{
		resolver:    resolver,
		verifier:    verifier,
		api:         handler,
		webhook:     provider.WebhookHandler(),
		gatherer:    reg,
		pingers:     backends.pingers,
		checkoutURL: cfg.CheckoutURL,
		trustProxy:  cfg.TrustProxy,
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           rt.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zlog.Info().Str("addr", cfg.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		zlog.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func planMapping(raw map[string]string) map[string]access.Plan {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]access.Plan, len(raw))
	for k, v := range raw {
		out[k] = access.Plan(v)
	}
	return out
}
