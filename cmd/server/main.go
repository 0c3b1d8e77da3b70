package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/apps"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/apps/doctor"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/apps/hospital"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/blob"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/changefeed"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/config"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/database"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory/memdir"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/directory/pgdir"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/logging"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/routes"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/services"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/session"
	"github.com/ahmetcoskunkizilkaya/clinic-roster/internal/workspace"
)

// memoryBlobBase is where the in-memory blob store's attachments are served.
const memoryBlobBase = "/api/blobs"

func main() {
	rootCmd := &cobra.Command{
		Use:          "clinicd",
		Short:        "Clinic roster API server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logging.Setup(cfg.AppEnv)
			if cfg.DBPassword == "" {
				return errors.New("DB_PASSWORD environment variable is required")
			}
			if err := database.Connect(cfg); err != nil {
				return err
			}
			defer database.Close()

			if err := database.MigrateShared(); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			slog.Info("migrations applied")
			return nil
		},
	}
}

// backend is the directory wiring chosen by DIRECTORY_BACKEND.
type backend struct {
	auth   directory.Authenticator
	docs   directory.DocumentStore
	notify func(path string)
	close  func()
}

func runServer() error {
	cfg := config.Load()

	// Structured logging (JSON to stdout)
	logging.Setup(cfg.AppEnv)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return err
	}
	loc, _ := cfg.Location()

	// Sentry error tracking
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.AppEnv,
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	done := make(chan struct{})

	// Change feed between instances (postgres backend only)
	origin := uuid.NewString()
	var publisher *changefeed.Publisher
	if cfg.DirectoryBackend == config.BackendPostgres && len(cfg.KafkaBrokers) > 0 {
		publisher = changefeed.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, origin, slog.Default())
		defer publisher.Close()
	}

	be, err := openBackend(cfg, publisher, done)
	if err != nil {
		return err
	}
	defer be.close()

	if publisher != nil {
		groupID := cfg.KafkaGroupID
		if groupID == "" {
			groupID = "clinicd-" + origin
		}
		consumer := changefeed.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, groupID, origin, be.notify, slog.Default())
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				slog.Error("change feed stopped", "error", err)
			}
		}()
		slog.Info("change feed enabled", "topic", cfg.KafkaTopic, "group_id", groupID)
	}

	// Attachments
	var (
		blobs      directory.BlobUploader
		memoryBlob *blob.MemoryStore
	)
	switch cfg.BlobBackend {
	case config.BackendS3:
		s3Store, err := blob.NewS3Store(ctx, blob.S3Options{
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UploadQueue:   cfg.SQSUploadQueue,
		})
		if err != nil {
			slog.Error("s3 setup failed", "error", err)
			return err
		}
		blobs = s3Store
	default:
		memoryBlob = blob.NewMemoryStore(memoryBlobBase)
		blobs = memoryBlob
	}

	dir := directory.Compose(be.auth, be.docs, blobs)

	// Workspaces
	registry := workspace.NewRegistry(be.docs, workspace.Config{
		IdleTTL:       cfg.WorkspaceIdleTTL,
		GlobalRecords: cfg.GlobalPatientRecords,
		Location:      loc,
		LocaleLayout:  cfg.LocaleDateLayout,
		Blobs:         blobs,
		Logger:        slog.Default(),
	})
	registry.StartEviction(done)
	defer registry.CloseAll()

	// Plugins
	plugins := []apps.Plugin{
		doctor.New(),
		hospital.New(),
	}

	// Handlers
	h := routes.Handlers{
		Auth:    handlers.NewAuthHandler(dir, registry, session.WithLogger(slog.Default())),
		Health:  handlers.NewHealthHandler(registry),
		Profile: handlers.NewProfileHandler(),
	}
	if memoryBlob != nil {
		h.Blob = handlers.NewBlobHandler(memoryBlob)
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    int(blob.MaxFileSize) + 1024*1024,
		ErrorHandler: customErrorHandler,
	})

	// Sentry middleware
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	// Routes
	routes.Setup(app, cfg, be.docs, registry, h, plugins)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port, "directory", cfg.DirectoryBackend, "blobs", cfg.BlobBackend)
		listenErr <- app.Listen(":" + cfg.Port)
	}()

	select {
	case <-quit:
	case err := <-listenErr:
		slog.Error("server failed to start", "error", err)
		close(done)
		return err
	}
	slog.Info("shutting down server...")

	close(done)
	if err := app.Shutdown(); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	slog.Info("server stopped")
	return nil
}

// openBackend connects the directory backend. For postgres it also moves
// ERROR+ logs into system_logs and starts their cleanup.
func openBackend(cfg *config.Config, publisher *changefeed.Publisher, done chan struct{}) (*backend, error) {
	if cfg.DirectoryBackend == config.BackendMemory {
		store := memdir.NewStore(memdir.WithLogger(slog.Default()))
		issuer := services.NewTokenIssuer(cfg.JWTSecret, cfg.JWTAccessExpiry)
		slog.Warn("using in-memory directory; data is lost on restart")
		return &backend{
			auth:   memdir.NewAccounts(issuer.AccessToken),
			docs:   store,
			notify: store.Hub().Notify,
			close:  store.Close,
		}, nil
	}

	// Database
	if err := database.Connect(cfg); err != nil {
		slog.Error("database connection failed", "error", err)
		return nil, err
	}
	if err := database.MigrateShared(); err != nil {
		slog.Error("shared migration failed", "error", err)
		database.Close()
		return nil, err
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.NewPGHandler(database.DB)
	slog.SetDefault(slog.New(logging.NewMultiHandler(
		logging.StdoutHandler(cfg.AppEnv),
		pgLogHandler,
	)))

	// Log cleanup (LOG_RETENTION, 30 days by default)
	logging.StartCleanup(database.DB, cfg.LogRetention, done)

	opts := []pgdir.Option{pgdir.WithLogger(slog.Default())}
	if publisher != nil {
		opts = append(opts, pgdir.WithPublisher(publisher.Publish))
	}
	store := pgdir.NewStore(database.DB, opts...)

	return &backend{
		auth:   services.NewAuthService(database.DB, cfg),
		docs:   store,
		notify: store.Notify,
		close: func() {
			store.Close()
			pgLogHandler.Stop()
			if err := database.Close(); err != nil {
				slog.Error("database close error", "error", err)
			}
		},
	}, nil
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
