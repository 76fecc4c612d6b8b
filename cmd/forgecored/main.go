package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/forgecore/autonomy/internal/api"
	"github.com/forgecore/autonomy/internal/approval"
	"github.com/forgecore/autonomy/internal/audit"
	"github.com/forgecore/autonomy/internal/capability"
	"github.com/forgecore/autonomy/internal/capability/kbfile"
	"github.com/forgecore/autonomy/internal/clock"
	"github.com/forgecore/autonomy/internal/config"
	"github.com/forgecore/autonomy/internal/execution"
	"github.com/forgecore/autonomy/internal/feedback"
	"github.com/forgecore/autonomy/internal/handlers"
	"github.com/forgecore/autonomy/internal/netpool"
	"github.com/forgecore/autonomy/internal/opportunity"
	"github.com/forgecore/autonomy/internal/outcome"
	"github.com/forgecore/autonomy/internal/project"
	"github.com/forgecore/autonomy/internal/resource"
	"github.com/forgecore/autonomy/internal/scheduler"
	"github.com/forgecore/autonomy/internal/store"
)

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func main() {
	configPath := flag.String("config", "forgecore.toml", "path to config file")
	once := flag.Bool("once", false, "run every registered job once then exit")
	dev := flag.Bool("dev", false, "use text log format (default is JSON)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("forgecored starting", "config", *configPath)

	cfgManager, err := config.LoadManager(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger = configureLogger(cfg.General.LogLevel, *dev)
	slog.SetDefault(logger)

	st, err := store.Open(cfg.General.StateDB)
	if err != nil {
		logger.Error("failed to open store", "path", cfg.General.StateDB, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	al := audit.New(logger.With("component", "audit"), st, audit.Config{
		QueueSize:   cfg.Audit.QueueSize,
		NATSURL:     cfg.Audit.NATSURL,
		NATSSubject: cfg.Audit.NATSSubject,
	})
	defer al.Close()

	metricsReg := prometheus.NewRegistry()
	pools := netpool.NewRegistry(metricsReg)
	metricsReg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "forgecore_audit_dropped_total",
		Help: "Audit records dropped because the audit queue was full.",
	}, func() float64 { return float64(al.Dropped()) }))

	resourceMgr := resource.New(st, clock.RealClock{}, capability.NewProcHostMetrics(cfg.Resource.CPUCeilingPct, cfg.Resource.MemCeilingPct), resource.Limits{
		DailyBudgetUSD:   cfg.Resource.DailyBudgetUSD,
		IdleThresholdMin: float64(cfg.Resource.IdleThresholdMin),
		CPUCeilingPct:    cfg.Resource.CPUCeilingPct,
		MemCeilingPct:    cfg.Resource.MemCeilingPct,
	}, cfg.Resource.MetricsCacheTTL.Duration)

	fl := feedback.New(st, feedback.Config{
		WindowSamples: cfg.Feedback.WindowSamples,
		MinSamples:    cfg.Feedback.MinSamples,
		Pivot:         cfg.Feedback.Pivot,
		MinAdjustment: cfg.Feedback.MinAdjustment,
		MaxAdjustment: cfg.Feedback.MaxAdjustment,
	})
	detector := opportunity.New(logger.With("component", "opportunity"), clock.RealClock{}, st, fl, cfg.Opportunity)
	gate := approval.New(st, clock.RealClock{}, al, cfg.Opportunity.AutoApproveAgeH)
	generator := project.New(logger.With("component", "project"), st, cfg.Budget)

	var search capability.Search
	qc := cfg.Capabilities.Qdrant
	if qc.Host != "" {
		qs, err := capability.NewQdrantSearch(context.Background(), qc.Host, qc.GRPCPort, qc.APIKey, qc.Collection)
		if err != nil {
			logger.Error("failed to connect to qdrant, search capability disabled", "error", err)
		} else {
			search = qs
		}
	}

	knowledge := kbfile.New(cfg.Capabilities.Knowledge.BaseDir, st)
	vcs := capability.NewGitVCS(cfg.Capabilities.VCS.Workspace)
	telemetry := capability.NewStoreTelemetry(st)

	var synth capability.Synthesizer
	if synthPoolCfg, ok := cfg.Pools[cfg.Capabilities.Synthesizer.Pool]; ok {
		pool := pools.Get(cfg.Capabilities.Synthesizer.Pool, netpool.PoolConfig{
			BaseURL:          synthPoolCfg.BaseURL,
			MaxConn:          synthPoolCfg.MaxConn,
			KeepAlive:        synthPoolCfg.KeepAlive.Duration,
			FailureThreshold: synthPoolCfg.FailureThreshold,
			RecoveryTimeout:  synthPoolCfg.RecoveryTimeout.Duration,
			HealthInterval:   synthPoolCfg.HealthInterval.Duration,
		})
		synth = capability.NewHTTPSynthesizer(pool, cfg.Capabilities.Synthesizer.Model)
	}

	handlerReg := handlers.Registry(handlers.Deps{
		Store:       st,
		Search:      search,
		Synthesizer: synth,
		Knowledge:   knowledge,
		VCS:         vcs,
		Telemetry:   telemetry,
	})

	retry := make(map[string]execution.RetryPolicy, len(cfg.TaskKinds))
	permits := make(map[string]int, len(cfg.TaskKinds))
	timeouts := make(map[string]time.Duration, len(cfg.TaskKinds))
	for kind, tk := range cfg.TaskKinds {
		permits[kind] = tk.Permits
		timeouts[kind] = tk.Timeout.Duration
	}
	fallback := execution.RetryPolicy{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		InitialDelay:  cfg.Retry.InitialDelay.Duration,
		BackoffFactor: cfg.Retry.BackoffFactor,
		MaxDelay:      cfg.Retry.MaxBackoff.Duration,
	}

	executor := execution.New(logger.With("component", "execution"), clock.RealClock{}, st, al, handlerReg, retry, fallback, execution.KindLimits{
		Permits:        permits,
		DefaultPermits: 1,
		GlobalPermits:  8,
		Timeouts:       timeouts,
		DefaultTimeout: 5 * time.Minute,
	})

	tracker := outcome.New(logger.With("component", "outcome"), clock.RealClock{}, st, cfg.Outcome, telemetry, knowledge)

	sched := scheduler.New(logger.With("component", "scheduler"), clock.RealClock{}, resourceMgr, al, scheduler.Config{
		TickInterval: cfg.General.TickInterval.Duration,
		PoolSize:     4,
		BacklogSize:  16,
		WindowStart:  cfg.Window.StartHour,
		WindowEnd:    cfg.Window.EndHour,
		WindowZone:   cfg.Window.Zone,
		FullTimeMode: cfg.General.FullTimeMode,
	})

	weeklyOpportunity, err := scheduler.NewCronTrigger("0 5 * * 1", cfg.Window.Zone)
	if err != nil {
		logger.Error("failed to parse opportunity_cycle cron trigger", "error", err)
		os.Exit(1)
	}
	dailyOutcome, err := scheduler.NewCronTrigger("0 6 * * *", cfg.Window.Zone)
	if err != nil {
		logger.Error("failed to parse outcome_measurement cron trigger", "error", err)
		os.Exit(1)
	}

	opportunityCycle := func(ctx context.Context) error {
		if _, err := detector.Cycle(ctx); err != nil {
			return fmt.Errorf("opportunity cycle: %w", err)
		}
		if _, err := gate.AutoApprove(ctx); err != nil {
			return fmt.Errorf("auto-approve: %w", err)
		}
		return nil
	}
	fleetHealth := func(ctx context.Context) error {
		for _, p := range pools.Snapshot() {
			if !p.Healthy {
				logger.Warn("fleet_health: pool unhealthy", "pool", p.Name, "breaker_state", p.State)
			}
		}
		return nil
	}
	projectGeneration := func(ctx context.Context) error {
		_, err := generator.Cycle(ctx)
		return err
	}
	taskExecution := executor.Cycle
	outcomeMeasurement := func(ctx context.Context) error {
		if _, err := tracker.CaptureBaselines(ctx); err != nil {
			return fmt.Errorf("capture baselines: %w", err)
		}
		if _, err := tracker.MeasureDue(ctx); err != nil {
			return fmt.Errorf("measure due: %w", err)
		}
		return nil
	}

	sched.Register(scheduler.Job{Name: "opportunity_cycle", Trigger: weeklyOpportunity, Workload: resource.Research, Fn: opportunityCycle})
	sched.Register(scheduler.Job{Name: "fleet_health", Trigger: scheduler.IntervalTrigger{Period: 4 * time.Hour}, Workload: resource.Scheduled, Fn: fleetHealth})
	sched.Register(scheduler.Job{Name: "project_generation", Trigger: scheduler.IntervalTrigger{Period: 4 * time.Hour}, Workload: resource.Scheduled, Gated: true, Fn: projectGeneration})
	sched.Register(scheduler.Job{Name: "task_execution", Trigger: scheduler.IntervalTrigger{Period: 15 * time.Minute}, Workload: resource.Scheduled, Gated: true, Fn: taskExecution})
	sched.Register(scheduler.Job{Name: "outcome_measurement", Trigger: dailyOutcome, Workload: resource.Scheduled, Fn: outcomeMeasurement})

	apiSrv, err := api.NewServer(logger.With("component", "api"), &cfg.API, st, gate, sched, pools, al, metricsReg)
	if err != nil {
		logger.Error("failed to create api server", "error", err)
		os.Exit(1)
	}
	defer apiSrv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		logger.Info("running one pass of every registered job (--once mode)")
		onceJobs := []struct {
			name string
			fn   func(context.Context) error
		}{
			{"opportunity_cycle", opportunityCycle},
			{"fleet_health", fleetHealth},
			{"project_generation", projectGeneration},
			{"task_execution", taskExecution},
			{"outcome_measurement", outcomeMeasurement},
		}
		for _, j := range onceJobs {
			if err := j.fn(ctx); err != nil {
				logger.Error("once: job failed", "name", j.name, "error", err)
				continue
			}
			logger.Info("once: job complete", "name", j.name)
		}
		logger.Info("once mode complete, exiting")
		return
	}

	go sched.Run(ctx)

	go func() {
		if err := apiSrv.Start(ctx); err != nil {
			logger.Error("api server error", "error", err)
		}
	}()

	logger.Info("forgecored running", "bind", cfg.API.Bind, "state_db", cfg.General.StateDB)

	var cfgMu sync.Mutex
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			cfgMu.Lock()
			if err := cfgManager.Reload(*configPath); err != nil {
				logger.Error("config reload failed", "error", err)
			} else {
				logger.Info("config reloaded")
			}
			cfgMu.Unlock()
		default:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			time.Sleep(200 * time.Millisecond)
			logger.Info("forgecored stopped")
			return
		}
	}
}
