package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/clinicbridge/intake/internal/ai"
	"github.com/clinicbridge/intake/internal/api"
	"github.com/clinicbridge/intake/internal/app"
	"github.com/clinicbridge/intake/internal/app/maintenance"
	iauth "github.com/clinicbridge/intake/internal/auth"
	"github.com/clinicbridge/intake/internal/database"
	"github.com/clinicbridge/intake/internal/services"
	"github.com/clinicbridge/intake/internal/worker"
	"github.com/clinicbridge/intake/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("intake-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	jwtService, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         cfg.Auth.JWT.Secret,
		Issuer:         cfg.Auth.JWT.Issuer,
		AccessTokenTTL: cfg.Auth.JWT.TTL,
	})
	if err != nil {
		return fmt.Errorf("initialise jwt service: %w", err)
	}

	auditSvc, err := services.NewAuditService(db)
	if err != nil {
		return fmt.Errorf("initialise audit service: %w", err)
	}

	providerSvc, err := services.NewProviderService(db, jwtService, auditSvc)
	if err != nil {
		return fmt.Errorf("initialise provider service: %w", err)
	}

	patientSvc, err := services.NewPatientService(db, auditSvc)
	if err != nil {
		return fmt.Errorf("initialise patient service: %w", err)
	}

	linkSvc, err := services.NewLinkService(db, auditSvc,
		services.WithLinkBaseURL(cfg.Server.BaseURL),
		services.WithMaxVerificationAttempts(cfg.Links.MaxAttempts),
		services.WithReverifyAfter(cfg.Links.ReverifyAfter),
	)
	if err != nil {
		return fmt.Errorf("initialise link service: %w", err)
	}

	// Without an API key the link-lifecycle core still runs; summary
	// generation then answers GENERATION_FAILED.
	var aiClient ai.Client
	if cfg.AI.APIKey != "" {
		aiClient, err = ai.NewOpenAIClient(ai.OpenAIConfig{
			APIKey:  cfg.AI.APIKey,
			BaseURL: cfg.AI.BaseURL,
			Model:   cfg.AI.Model,
		})
		if err != nil {
			return fmt.Errorf("initialise ai client: %w", err)
		}
	} else {
		log.Warn("ai api key not configured, summary generation disabled")
	}

	summarySvc, err := services.NewSummaryService(db, aiClient, auditSvc,
		services.WithGenerationTimeout(cfg.AI.GenerationTimeout),
	)
	if err != nil {
		return fmt.Errorf("initialise summary service: %w", err)
	}

	intakeOpts := []services.IntakeOption{}
	var pool *worker.Pool
	if cfg.AI.AutoGenerate && aiClient != nil {
		pool, err = worker.NewPool(
			worker.GeneratorFunc(func(ctx context.Context, intakeID string) error {
				_, genErr := summarySvc.Generate(ctx, intakeID)
				return genErr
			}),
			worker.WithWorkers(cfg.AI.Workers),
			worker.WithQueueSize(cfg.AI.QueueSize),
		)
		if err != nil {
			return fmt.Errorf("initialise summary worker: %w", err)
		}
		pool.Start(ctx)
		defer pool.Stop()
		intakeOpts = append(intakeOpts, services.WithSummaryQueue(pool))
	}

	intakeSvc, err := services.NewIntakeService(db, linkSvc, nil, auditSvc, intakeOpts...)
	if err != nil {
		return fmt.Errorf("initialise intake service: %w", err)
	}

	cleaner := maintenance.NewCleaner(auditSvc, linkSvc,
		maintenance.WithAuditRetention(cfg.Audit.Retention),
	)
	if err := cleaner.Start(); err != nil {
		return fmt.Errorf("start maintenance jobs: %w", err)
	}
	defer func() {
		<-cleaner.Stop().Done()
	}()
	if err := cleaner.RunOnce(ctx); err != nil {
		log.Warn("initial maintenance run failed", zap.Error(err))
	}

	router, err := api.NewRouter(api.Deps{
		JWT:       jwtService,
		Providers: providerSvc,
		Patients:  patientSvc,
		Links:     linkSvc,
		Intakes:   intakeSvc,
		Summaries: summarySvc,
		Audit:     auditSvc,
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := database.Config{
		Driver: cfg.Database.Driver,
		Path:   cfg.Database.Path,
		DSN:    cfg.Database.DSN,
	}

	switch strings.ToLower(cfg.Database.Driver) {
	case "postgres", "postgresql":
		dbCfg.Host = cfg.Database.Postgres.Host
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = cfg.Database.Postgres.Database
		dbCfg.User = cfg.Database.Postgres.Username
		dbCfg.Password = cfg.Database.Postgres.Password
		dbCfg.SSLMode = cfg.Database.Postgres.SSLMode
	case "mysql":
		dbCfg.Host = cfg.Database.MySQL.Host
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = cfg.Database.MySQL.Database
		dbCfg.User = cfg.Database.MySQL.Username
		dbCfg.Password = cfg.Database.MySQL.Password
	}

	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("fetch underlying db handle", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("close database", zap.Error(err))
	}
}
