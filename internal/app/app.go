package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klarasod/studio-go/internal/config"
	"github.com/klarasod/studio-go/internal/notify"
	"github.com/klarasod/studio-go/internal/payment"
	"github.com/klarasod/studio-go/internal/postgres"
	redisx "github.com/klarasod/studio-go/internal/redis"
	postgresrepo "github.com/klarasod/studio-go/internal/repository/postgres"
	redisrepo "github.com/klarasod/studio-go/internal/repository/redis"
	"github.com/klarasod/studio-go/internal/service"
	"github.com/klarasod/studio-go/internal/service/booking"
	"github.com/klarasod/studio-go/internal/service/reconcile"
	httpgin "github.com/klarasod/studio-go/internal/transport/http/gin"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize dependencies
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redisx.New(context.Background(), redisx.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	gateway, err := payment.NewOmiseGateway(
		cfg.Payment.PublicKey,
		cfg.Payment.SecretKey,
		cfg.Payment.ReturnURI,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize payment gateway: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	cache := redisrepo.New(rdb)
	pubsub := redisx.NewBookingPubSub(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, "rl", 10, 1*time.Minute)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)

	// Initialize services
	services := service.NewServices(store, cache, limiter, gateway,
		notify.NewPubSubSink(pubsub, logger),
		logger,
		service.Config{
			Booking: booking.Config{
				CardPaymentsEnabled: cfg.Payment.CardPaymentsEnabled,
			},
			Reconcile: reconcile.Config{
				RefundPollAttempts: cfg.Payment.RefundPollAttempts,
				RefundPollInterval: cfg.Payment.RefundPollInterval,
			},
			WebhookSecret: cfg.Payment.WebhookSecret,
		})

	// Initialize Gin router
	router := httpgin.NewRouter(services, idempotencyStore, cfg.Admin.APIToken, logger)

	return &App{
		cfg:    cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}
