package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pygate/pygate/internal/api"
	"github.com/pygate/pygate/internal/audit"
	"github.com/pygate/pygate/internal/config"
	"github.com/pygate/pygate/internal/consent"
	"github.com/pygate/pygate/internal/gate"
	"github.com/pygate/pygate/internal/observability"
	"github.com/pygate/pygate/internal/policy"
	"github.com/pygate/pygate/internal/scan"
	"github.com/pygate/pygate/internal/statestore"
	"github.com/pygate/pygate/internal/toolreg"
	"github.com/pygate/pygate/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel)
	logger.Info("starting pygate",
		"rules_path", cfg.RulesPath,
		"log_level", cfg.Observability.LogLevel)

	_ = observability.GetMetrics()
	logger.Debug("metrics initialized",
		"metrics_port", cfg.Observability.MetricsPort)

	healthChecker := observability.NewHealthChecker(logger)

	healthChecker.RegisterComponent("config")
	healthChecker.RegisterComponent("database")
	healthChecker.RegisterComponent("watcher")
	healthChecker.RegisterComponent("audit")
	healthChecker.RegisterComponent("consent")

	healthChecker.UpdateComponentHealth("config", observability.StatusHealthy, "")

	logger.Debug("health checker initialized",
		"health_port", cfg.Observability.HealthCheckPort)

	obsServer := observability.NewServer(
		cfg.Observability.MetricsPort,
		cfg.Observability.HealthCheckPort,
		logger,
		healthChecker,
	)

	go func() {
		if err := obsServer.Start(ctx); err != nil {
			logger.Error("observability server error",
				"error", err.Error())
		}
	}()

	logger.Debug("parsing rules file",
		"path", cfg.RulesPath)
	rules, err := config.ParseRules(cfg.RulesPath)
	if err != nil {
		healthChecker.UpdateComponentHealth("config", observability.StatusUnhealthy, err.Error())
		return fmt.Errorf("failed to parse rules file: %w", err)
	}
	rulesStore := config.NewStore(rules)
	logger.Debug("rules parsed",
		"schema_version", rules.SchemaVersion,
		"mode", rules.Mode,
		"suppressions", len(rules.Suppressions))

	logger.Debug("initializing state store",
		"path", cfg.StateStore.SQLitePath)
	store, err := statestore.NewSQLiteStore(cfg.StateStore.SQLitePath)
	if err != nil {
		healthChecker.UpdateComponentHealth("database", observability.StatusUnhealthy, err.Error())
		return fmt.Errorf("failed to initialize sqlite store: %w", err)
	}
	defer store.Close()
	healthChecker.UpdateComponentHealth("database", observability.StatusHealthy, "")
	logger.Debug("state store initialized")

	go healthChecker.StartPeriodicChecks(ctx, 30*time.Second, map[string]observability.HealthCheckFunc{
		"database": store.Ping,
	})

	scanner := scan.NewStaticScanner(logger, func() scan.Options {
		protected := rulesStore.Rules().Protected
		return scan.Options{
			CriticalPaths: protected.Critical,
			SystemPaths:   protected.System,
		}
	})

	logger.Debug("initializing policy engine")
	policyRules := rulesStore.Rules().Policy
	policyEngine, err := policy.NewEngine(logger, policy.Config{
		Expression:         policyRules.Expression,
		FailureMessage:     policyRules.FailureMessage,
		MarkUnsafeOnMedium: policyRules.MarkUnsafeOnMedium,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	engines := policy.NewHolder(policyEngine)
	logger.Debug("policy engine initialized")

	approver := consent.NewAPIApprover(logger)
	consentMgr := consent.NewManager(logger, approver, rulesStore, func() time.Duration {
		if t := rulesStore.Rules().Consent.Timeout; t > 0 {
			return t
		}
		return cfg.Consent.Timeout
	}, store)
	defer consentMgr.Close()
	healthChecker.UpdateComponentHealth("consent", observability.StatusHealthy, "")
	logger.Debug("consent manager initialized",
		"timeout", cfg.Consent.Timeout)

	auditor := audit.NewRecorder(logger, store)
	healthChecker.UpdateComponentHealth("audit", observability.StatusHealthy, "")

	// Audit write failures degrade the audit component but never the gate
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-auditor.Errors():
				if !ok {
					return
				}
				healthChecker.UpdateComponentHealth("audit", observability.StatusUnhealthy, err.Error())
			}
		}
	}()

	cells := gate.NewSessionCells()
	pipeline := gate.NewPipeline(logger, scanner, engines, consentMgr, auditor, rulesStore, cells)
	registry := toolreg.NewRegistry(logger, pipeline, store)
	logger.Debug("gating pipeline initialized")

	rulesWatcher := watcher.New(logger, cfg.RulesPath, rulesStore, engines)
	healthChecker.UpdateComponentHealth("watcher", observability.StatusHealthy, "")

	var apiServer *api.APIServer
	if cfg.API.Enabled {
		logger.Debug("initializing API server",
			"port", cfg.API.Port,
			"read_only", cfg.API.ReadOnly)
		apiServer = api.NewAPIServer(
			&cfg.API,
			pipeline,
			consentMgr,
			registry,
			store,
			rulesStore,
			logger,
		)
		logger.Debug("API server initialized")
	}

	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Debug("starting rules watcher")
		if err := rulesWatcher.Run(ctx); err != nil && err != context.Canceled {
			healthChecker.UpdateComponentHealth("watcher", observability.StatusUnhealthy, err.Error())
			logger.Error("rules watcher error",
				"error", err.Error())
			errChan <- fmt.Errorf("rules watcher error: %w", err)
		}
		logger.Debug("rules watcher stopped")
	}()

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(ctx); err != nil {
				logger.Error("API server error",
					"error", err.Error())
				errChan <- fmt.Errorf("api server error: %w", err)
			}
		}()
	}

	logger.Info("pygate ready",
		"mode", rulesStore.Mode(),
		"api_enabled", cfg.API.Enabled)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		logger.Error("fatal component error, shutting down",
			"error", err.Error())
		cancel()
	}

	wg.Wait()
	logger.Info("pygate stopped")
	return nil
}
