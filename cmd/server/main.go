// GridShield backend: consumes raw security logs, runs the normalization,
// enrichment, detection and automation pipeline and serves the REST/JSON
// surface for the dashboard.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridshield/backend/internal/alerting"
	"github.com/gridshield/backend/internal/api"
	"github.com/gridshield/backend/internal/audit"
	"github.com/gridshield/backend/internal/automation"
	"github.com/gridshield/backend/internal/config"
	"github.com/gridshield/backend/internal/detect"
	"github.com/gridshield/backend/internal/enrich"
	"github.com/gridshield/backend/internal/events"
	"github.com/gridshield/backend/internal/ingest"
	"github.com/gridshield/backend/internal/ml"
	"github.com/gridshield/backend/internal/monitoring"
	"github.com/gridshield/backend/internal/storage"
	"github.com/gridshield/backend/internal/stream"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Server.Env == "development" {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := monitoring.NewMetrics(registry)

	// --- Storage ---

	pg, err := storage.NewPostgres(cfg.Storage.PostgresDSN, log)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		return err
	}

	mirror := storage.NewRedisMirror(cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.RedisDB, log)
	defer mirror.Close()

	// --- Event bus ---

	bus := events.NewEventBus()
	pubsubBus, err := events.NewPubSubBus(ctx, events.PubSubOptions{
		ProjectID:        cfg.Bus.Project,
		LogsTopic:        cfg.Bus.LogsTopic,
		LogsSubscription: cfg.Bus.LogsSubscription,
		ThreatsTopic:     threatsTopic(cfg),
		MaxInFlight:      cfg.Stream.MaxInFlight,
	}, log)
	if err != nil {
		return err
	}
	defer pubsubBus.Close()

	// --- Alerting ---

	alertManager := alerting.NewManager(cfg.Alerting.DedupWindow, cfg.Alerting.MaxHistory, log)
	notifier := alerting.NewNotifier(alerting.NotifierOptions{
		Manager:    alertManager,
		Email:      alerting.NewEmailSink(cfg.Alerting.Email, log),
		Chat:       alerting.NewChatSink(cfg.Alerting.Chat, log),
		Webhook:    alerting.NewWebhookSink(cfg.Alerting.Webhook, log),
		Channels:   cfg.Alerting.Channels,
		Recipients: cfg.Alerting.Email.Recipients,
		Emitter:    bus,
		Logger:     log,
	})
	escalator := alerting.NewEscalator(cfg.Escalation, alertManager, notifier, log, bus)
	escalator.Start()
	defer escalator.Stop()

	// --- Automation ---

	quarantine := automation.NewMemoryQuarantine(log, mirror)
	blocker := automation.NewMemoryBlocker(log, mirror)
	restoreContainment(ctx, mirror, quarantine, blocker, log)

	workflow := automation.NewApprovalWorkflow(
		cfg.Automation.Approval.AutoApproveTimeout,
		cfg.Automation.Approval.RequireApproval,
		log, bus,
	)
	workflow.Start()
	defer workflow.Stop()

	breakers := automation.BuildBreakers(cfg.Automation.CircuitBreakers)
	for _, breaker := range breakers {
		breaker.OnStateChange(func(name string, from, to automation.BreakerState) {
			open := 0.0
			if to == automation.BreakerOpen {
				open = 1.0
			}
			metrics.BreakerOpen.WithLabelValues(name).Set(open)
			bus.Emit(events.EventBreakerStateChanged, "automation", name, map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		})
	}

	orchestrator := automation.NewOrchestrator(automation.OrchestratorOptions{
		Isolator:        automation.NewMemoryIsolator(log),
		Quarantine:      quarantine,
		Blocker:         blocker,
		Backup:          automation.NewMemoryBackupActivator(log, backupSystems()),
		Approvals:       workflow,
		Breakers:        breakers,
		ActuatorTimeout: cfg.Automation.ActuatorTimeout,
		Logger:          log,
		Emitter:         bus,
	})

	// --- Pipeline stages ---

	normalizer := ingest.NewNormalizer(cfg.Ingestion.MaxMessageLength, cfg.Ingestion.MaxClockDrift)
	parsers := ingest.NewRegistry(ingest.NewCSVParser(cfg.Ingestion.CSV.Delimiter, cfg.Ingestion.CSV.Fields))

	enrichers := enrich.NewChain(log,
		enrich.NewGeoIPEnricher(nil),
		enrich.NewThreatIntelEnricher(enrich.NewIntelStore(nil, nil)),
		enrich.NewAssetEnricher(enrich.NewInventory(nil)),
	)

	predictor := ml.NewPredictor(ml.NewEnsemble(ml.NewThresholdScorer(), ml.NewRuleClassifier()), log)
	engine := detect.NewEngine(log,
		detect.NewDDoSDetector(cfg.Detection.DDoS),
		detect.NewRansomwareDetector(),
		detect.NewSCADADetector(),
		detect.NewInsiderDetector(cfg.Detection.Insider),
		detect.NewIntrusionDetector(),
		detect.NewMalwareDetector(),
		detect.NewAPTDetector(cfg.Detection.APT),
		detect.NewZeroDayDetector(cfg.Detection.ZeroDay),
	)

	coordinator := stream.NewCoordinator(stream.CoordinatorOptions{
		Consumer:     pubsubBus,
		Registry:     parsers,
		Normalizer:   normalizer,
		Enrichers:    enrichers,
		Predictor:    predictor,
		Engine:       engine,
		Docs:         pg,
		TimeSeries:   pg,
		Orchestrator: orchestrator,
		Notifier:     notifier,
		Threats:      threatPublisher(cfg, pubsubBus),
		Emitter:      bus,
		Metrics:      metrics,
		Logger:       log,
		Stream:       cfg.Stream,
	})

	// --- Collectors ---

	if cfg.Ingestion.SyslogListen != "" {
		syslog := ingest.NewSyslogCollector(cfg.Ingestion.SyslogListen, pubsubBus, log)
		if err := syslog.Start(); err != nil {
			return err
		}
		defer syslog.Stop()
	}
	for _, path := range cfg.Ingestion.TailFiles {
		tail := ingest.NewFileTailCollector(path, 2*time.Second, pubsubBus, log)
		tail.Start()
		defer tail.Stop()
	}

	// --- HTTP surface ---

	server := api.NewServer(api.Options{
		Alerts:       alertManager,
		Notifier:     notifier,
		Orchestrator: orchestrator,
		Approvals:    workflow,
		Docs:         pg,
		TimeSeries:   pg,
		Auditor:      audit.NewLogger(pg, log),
		Bus:          bus,
		Probes: map[string]storage.HealthProbe{
			"postgres": pg,
			"redis":    mirror,
		},
		Tokens:  cfg.API.Tokens,
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Log:     log,
	})

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Router(),
	}
	httpErr := make(chan error, 1)
	go func() {
		log.Info("api listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	// --- Stream loop ---

	streamErr := make(chan error, 1)
	go func() {
		streamErr <- coordinator.Run(ctx)
	}()

	var streamResult error
	streamDone := false
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-httpErr:
		return err
	case streamResult = <-streamErr:
		streamDone = true
		if streamResult != nil {
			return streamResult
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Stream.ShutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	if !streamDone {
		if err := <-streamErr; err != nil {
			return err
		}
	}
	log.Info("shutdown complete")
	return nil
}

// restoreContainment reloads quarantines and traffic blocks mirrored to
// Redis so containment survives a restart.
func restoreContainment(ctx context.Context, mirror *storage.RedisMirror, quarantine *automation.MemoryQuarantine, blocker *automation.MemoryBlocker, log *slog.Logger) {
	loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	entries, err := mirror.LoadQuarantines(loadCtx)
	if err != nil {
		log.Warn("quarantine restore failed", "error", err)
	} else if len(entries) > 0 {
		quarantine.Seed(entries)
		log.Info("quarantines restored", "count", len(entries))
	}

	blocks, err := mirror.LoadBlocks(loadCtx)
	if err != nil {
		log.Warn("traffic block restore failed", "error", err)
	} else if len(blocks) > 0 {
		blocker.Seed(blocks)
		log.Info("traffic blocks restored", "count", len(blocks))
	}
}

func backupSystems() map[string]automation.BackupSystem {
	return map[string]automation.BackupSystem{
		"default": {Type: "dns_switch", Endpoint: "backup.grid.local"},
	}
}

func threatsTopic(cfg *config.Config) string {
	if !cfg.Bus.PublishThreats {
		return ""
	}
	return cfg.Bus.ThreatsTopic
}

func threatPublisher(cfg *config.Config, bus *events.PubSubBus) events.ThreatPublisher {
	if !cfg.Bus.PublishThreats {
		return nil
	}
	return bus
}
