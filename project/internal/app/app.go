package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/aarushishahhh/supplysync/project/internal/api"
	"github.com/aarushishahhh/supplysync/project/internal/auth"
	"github.com/aarushishahhh/supplysync/project/internal/checker"
	"github.com/aarushishahhh/supplysync/project/internal/config"
	"github.com/aarushishahhh/supplysync/project/internal/notify"
	"github.com/aarushishahhh/supplysync/project/internal/storage"
	"github.com/aarushishahhh/supplysync/project/internal/supplier"
)

// New assembles the application.
func New() *fx.App {
	return fx.New(
		fx.WithLogger(NewLogger),
		ConfigModule,
		StorageModule,
		SupplierModule,
		NotifyModule,
		CheckerModule,
		HttpServerModule,
	)
}

var ConfigModule = fx.Module("config_module",
	fx.Provide(config.Load),
)

var StorageModule = fx.Module("storage_module",
	fx.Provide(NewStorage),
)

var SupplierModule = fx.Module("supplier_module",
	fx.Provide(NewSupplierClient),
)

var NotifyModule = fx.Module("notify_module",
	fx.Provide(NewPublisher),
)

var CheckerModule = fx.Module("checker_module",
	fx.Provide(NewChecker),
	fx.Invoke(InvokeChecker),
)

var HttpServerModule = fx.Module("http_server_module",
	fx.Provide(
		NewVerifier,
		NewRouter,
	),
	fx.Invoke(InvokeHttpServer),
)

// NewLogger installs the JSON slog handler as the process default and
// routes fx's own events through it.
func NewLogger(cfg *config.Config) fxevent.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	fxLogger := &fxevent.SlogLogger{Logger: logger}
	fxLogger.UseLogLevel(slog.LevelDebug)
	return fxLogger
}

// NewStorage opens and migrates the database; it is closed on stop.
func NewStorage(lc fx.Lifecycle, cfg *config.Config) (*storage.Storage, error) {
	db, driver, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	store := storage.New(db, driver)
	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("database ready", "driver", driver)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return db.Close()
		},
	})
	return store, nil
}

func NewSupplierClient(cfg *config.Config) *supplier.Client {
	return supplier.New(supplier.Config{
		Timeout:      cfg.SupplierTimeout,
		MaxPerHost:   cfg.SupplierMaxPerHost,
		MaxBodyBytes: cfg.SupplierMaxBodyBytes,
	})
}

// NewPublisher always logs events and also writes them to Kafka when
// brokers are configured.
func NewPublisher(lc fx.Lifecycle, cfg *config.Config) notify.Publisher {
	publishers := notify.Multi{notify.NewLogPublisher(slog.Default())}
	if len(cfg.KafkaBrokers) > 0 {
		publishers = append(publishers, notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic))
		slog.Info("kafka events enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publishers.Close()
		},
	})
	return publishers
}

func NewChecker(store *storage.Storage, client *supplier.Client, publisher notify.Publisher, cfg *config.Config) *checker.Checker {
	return checker.New(store, client, publisher, checker.Config{
		Interval:       cfg.CheckInterval,
		MaxConcurrency: cfg.MaxConcurrency,
	})
}

// InvokeChecker runs the background health checker between start and stop.
func InvokeChecker(lc fx.Lifecycle, chk *checker.Checker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			slog.Info("starting connection health checker")
			// the start context expires once startup completes
			chk.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			slog.Info("stopping connection health checker")
			chk.Stop()
			return nil
		},
	})
}

func NewVerifier(cfg *config.Config) *auth.Verifier {
	return auth.NewVerifier(cfg.ShopifyAPISecret, cfg.ShopifyAPIKey)
}

func NewRouter(store *storage.Storage, client *supplier.Client, chk *checker.Checker, publisher notify.Publisher, verifier *auth.Verifier, cfg *config.Config) http.Handler {
	return api.NewRouter(api.Deps{
		Store:          store,
		Client:         client,
		Checker:        chk,
		Publisher:      publisher,
		Verifier:       verifier,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})
}

// InvokeHttpServer binds the listener on start and drains it on stop.
func InvokeHttpServer(lc fx.Lifecycle, cfg *config.Config, h http.Handler) {
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return err
			}
			slog.Info("starting server", "port", cfg.Port)
			go func() {
				if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("server failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			slog.Info("shutting down gracefully")
			ctx, cancel := context.WithTimeout(ctx, cfg.ShutdownGrace)
			defer cancel()
			return server.Shutdown(ctx)
		},
	})
}
