package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/background"
	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/metrics"
	middlewareCustom "github.com/BradenHooton/warden/internal/middleware"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/repositories"
	"github.com/BradenHooton/warden/internal/routes"
	"github.com/BradenHooton/warden/internal/services"
	"github.com/BradenHooton/warden/migrations"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	logLevel := new(slog.LevelVar)
	baseHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(baseHandler)
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if err := logLevel.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		logger.Warn("invalid LOG_LEVEL, using info", slog.String("log_level", cfg.Server.LogLevel))
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := db.Migrate(ctx, migrations.FS)
		cancel()
		if err != nil {
			logger.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Initialize repositories
	accessCodeRepo := repositories.NewAccessCodeRepository(db)
	attemptRepo := repositories.NewAccessAttemptRepository(db)
	diagnosticRepo := repositories.NewDiagnosticRepository(db)
	subjectRepo := repositories.NewSubjectRepository(db)
	findingRepo := repositories.NewFindingRepository(db)

	// Error-level records also feed the diagnostic store the error scan reads
	diagnostics := pkglogger.NewDiagnosticHandler(baseHandler, diagnosticRepo, slog.LevelError, 512)
	logger = slog.New(diagnostics)
	slog.SetDefault(logger)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	ipConfig, err := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Error("invalid TRUSTED_PROXIES", slog.Any("error", err))
		os.Exit(1)
	}

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Access layer
	tracker := services.NewLockoutTracker(services.LockoutConfig{
		MaxFailures: cfg.Access.LockoutMaxFailures,
		Window:      cfg.Access.LockoutWindow,
	}, services.WithMetrics(m))

	routePolicies := make(map[string]services.RatePolicy, len(cfg.RateLimit.Routes))
	for route, p := range cfg.RateLimit.Routes {
		routePolicies[route] = services.RatePolicy{Limit: p.Limit, Window: p.Window}
	}
	limiter := services.NewRateLimiter(services.RateLimiterConfig{
		Default: services.RatePolicy{Limit: cfg.RateLimit.Requests, Window: cfg.RateLimit.Window},
		Routes:  routePolicies,
	}, services.WithMetrics(m))

	ledger := services.NewAttemptLedger(attemptRepo, services.LedgerConfig{
		FingerprintKey: []byte(cfg.Access.FingerprintKey),
		Retention:      cfg.Access.AttemptRetention,
	}, auditLogger, logger)

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		Min: cfg.Access.FailureDelayMin,
		Max: cfg.Access.FailureDelayMax,
	})
	sessions := auth.NewSessionIssuer(cfg.Access.SessionSecret, cfg.Access.SessionTTL)

	// A nil *OperatorCode must not reach the guard as a non-nil interface
	var operator services.RotatingCodeSource
	if cfg.Access.OperatorTOTPSecret != "" {
		oc, err := auth.NewOperatorCode(cfg.Access.OperatorTOTPSecret, 1)
		if err != nil {
			logger.Error("invalid operator code secret", slog.Any("error", err))
			os.Exit(1)
		}
		operator = oc
	}

	guard := services.NewAccessGuard(
		accessCodeRepo,
		tracker,
		ledger,
		timingDelay,
		sessions,
		operator,
		services.AccessGuardConfig{
			PrivilegedCodes: cfg.Access.PrivilegedCodes,
			DemoCodes:       cfg.Access.DemoCodes,
		},
		logger,
		services.WithMetrics(m),
	)

	// Bootstrap an issued access code if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureBootstrapCode(ctx, accessCodeRepo, logger); err != nil {
		logger.Error("failed to ensure bootstrap access code", slog.Any("error", err))
	}
	cancel()

	// Scan pipeline
	dedup := services.NewDedupCache(services.WithMetrics(m))
	sinks := buildSinks(cfg, logger)

	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Schedulers end through Stop so a signal never aborts a running cycle
	schedCtx := context.WithoutCancel(appCtx)

	var schedulers []*background.ScanScheduler
	if cfg.Analyzer.APIKey == "" {
		logger.Warn("ANALYZER_API_KEY not set, scan pipelines disabled")
	} else {
		analyzer, err := services.NewGeminiAnalyzer(appCtx, services.AnalyzerConfig{
			APIKey:          cfg.Analyzer.APIKey,
			Model:           cfg.Analyzer.Model,
			MaxPromptTokens: cfg.Analyzer.MaxPromptTokens,
		}, logger)
		if err != nil {
			logger.Error("failed to initialize analyzer", slog.Any("error", err))
			os.Exit(1)
		}
		defer analyzer.Close()

		scanService := services.NewScanService(
			diagnosticRepo,
			subjectRepo,
			findingRepo,
			analyzer,
			dedup,
			sinks,
			services.ScanConfig{
				LogLimit:        cfg.Scan.LogLimit,
				SubjectLimit:    cfg.Scan.SubjectLimit,
				SubjectKinds:    cfg.Scan.SubjectKinds,
				MinClusterSize:  cfg.Scan.MinClusterSize,
				ErrorTTL:        cfg.Scan.ErrorTTL,
				ComplianceTTL:   cfg.Scan.ComplianceTTL,
				AnalyzerDelay:   cfg.Scan.AnalyzerDelay,
				AnalyzerTimeout: cfg.Scan.AnalyzerTimeout,
			},
			auditLogger,
			logger,
			services.WithMetrics(m),
		)

		errorScheduler := background.NewScanScheduler(services.PipelineErrors, scanService.RunErrorScan, logger, m)
		complianceScheduler := background.NewScanScheduler(services.PipelineCompliance, scanService.RunComplianceScan, logger, m)

		if err := errorScheduler.Start(schedCtx, cfg.Scan.ErrorIntervalMinutes); err != nil {
			logger.Error("failed to start error scan", slog.Any("error", err))
			os.Exit(1)
		}
		if err := complianceScheduler.Start(schedCtx, cfg.Scan.ComplianceIntervalMinutes); err != nil {
			logger.Error("failed to start compliance scan", slog.Any("error", err))
			os.Exit(1)
		}
		schedulers = append(schedulers, errorScheduler, complianceScheduler)
	}

	maintenance := background.NewMaintenanceManager(
		[]background.Sweeper{tracker, limiter, dedup, ledger},
		logger,
		cfg.Access.MaintenanceInterval,
		m,
	)

	// Initialize handlers
	scanControls := make([]handlers.ScanControlInterface, 0, len(schedulers))
	for _, s := range schedulers {
		scanControls = append(scanControls, s)
	}
	findingService := services.NewFindingService(findingRepo, auditLogger, logger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig, cfg.Server.Env))
	router.Use(middleware.Recoverer)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.FloodGuard(cfg.RateLimit.FloodRequests, ipConfig))
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, routes.Dependencies{
		Access:   handlers.NewAccessHandler(guard, ipConfig, logger),
		Findings: handlers.NewFindingHandler(findingService, logger),
		Admin:    handlers.NewAdminHandler(ledger, scanControls, schedCtx, logger),
		Sessions: sessions,
		Limiter:  limiter,
		IPConfig: ipConfig,
		DB:       db,
		Metrics:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Logger:   logger,
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// The diagnostic writer outlives the server so shutdown errors still land
	diagCtx, diagCancel := context.WithCancel(context.Background())
	go diagnostics.Run(diagCtx)

	g, gctx := errgroup.WithContext(appCtx)

	g.Go(func() error {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		maintenance.Start(gctx)
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		maintenance.Stop()
		for _, s := range schedulers {
			s.Stop()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		for _, s := range schedulers {
			if err := s.WaitIdle(shutdownCtx); err != nil {
				logger.Warn("scan cycle still running at shutdown", slog.String("pipeline", s.Pipeline()))
			}
		}
		return nil
	})

	err = g.Wait()
	closeSinks(sinks, logger)
	diagCancel()
	<-diagnostics.Done()

	if err != nil {
		logger.Error("server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// buildSinks wires the optional finding notifications
func buildSinks(cfg *config.Config, logger *slog.Logger) []services.FindingSink {
	var sinks []services.FindingSink

	if len(cfg.Notify.EmailTo) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		notifier, err := services.NewSESAlertNotifier(ctx, services.AlertMailConfig{
			Region:      cfg.Notify.AWSRegion,
			From:        cfg.Notify.EmailFrom,
			To:          cfg.Notify.EmailTo,
			MinSeverity: cfg.Notify.MinSeverity,
		}, logger)
		cancel()
		if err != nil {
			logger.Error("failed to initialize alert mail, continuing without it", slog.Any("error", err))
		} else {
			sinks = append(sinks, notifier)
		}
	}

	if len(cfg.Notify.KafkaBrokers) > 0 {
		sinks = append(sinks, services.NewKafkaFindingPublisher(cfg.Notify.KafkaBrokers, cfg.Notify.FindingsTopic))
	}

	logger.Info("finding sinks configured", slog.Int("count", len(sinks)))
	return sinks
}

func closeSinks(sinks []services.FindingSink, logger *slog.Logger) {
	for _, s := range sinks {
		c, ok := s.(interface{ Close() error })
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			logger.Warn("failed to close finding sink", slog.Any("error", err))
		}
	}
}

// ensureBootstrapCode issues BOOTSTRAP_ACCESS_CODE as a privileged code if it
// is set and not yet stored
func ensureBootstrapCode(ctx context.Context, repo *repositories.AccessCodeRepository, logger *slog.Logger) error {
	code := os.Getenv("BOOTSTRAP_ACCESS_CODE")
	if code == "" {
		logger.Info("no BOOTSTRAP_ACCESS_CODE set, skipping bootstrap code")
		return nil
	}

	identity := os.Getenv("BOOTSTRAP_ACCESS_IDENTITY")
	if identity == "" {
		identity = "bootstrap"
	}

	err := repo.CreateAccessCode(ctx, models.AccessCode{
		Code:     code,
		Identity: identity,
		Role:     models.AccessRolePrivileged,
		Active:   true,
	})
	if errors.Is(err, models.ErrConflict) {
		logger.Info("bootstrap access code already exists")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create bootstrap access code: %w", err)
	}

	logger.Info("bootstrap access code created", slog.String("identity", pkglogger.MaskIdentity(identity)))
	return nil
}
