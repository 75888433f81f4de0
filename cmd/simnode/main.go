package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/uhyunpark/marketsim/params"
	"github.com/uhyunpark/marketsim/pkg/api"
	"github.com/uhyunpark/marketsim/pkg/app/core/market"
	"github.com/uhyunpark/marketsim/pkg/app/sim"
	"github.com/uhyunpark/marketsim/pkg/storage"
	"github.com/uhyunpark/marketsim/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Log.File, "level", cfg.Log.Level)

	// ---- Scenario ----
	scenario := params.DefaultScenario()
	if cfg.Simulation.ScenarioFile != "" {
		scenario, err = params.LoadScenario(cfg.Simulation.ScenarioFile)
		if err != nil {
			sugar.Fatalw("scenario_load_failed", "file", cfg.Simulation.ScenarioFile, "err", err)
		}
	}
	initialCash := cfg.Simulation.InitialCash
	if scenario.InitialCash > 0 && cfg.Simulation.ScenarioFile != "" {
		initialCash = scenario.InitialCash
	}
	seed := cfg.Simulation.Seed
	if scenario.Seed != 0 {
		seed = scenario.Seed
	}

	// ---- Journal ----
	journal, err := storage.OpenJournal(cfg.JournalPath)
	if err != nil {
		sugar.Fatalw("journal_open_failed", "path", cfg.JournalPath, "err", err)
	}
	sugar.Infow("journal_opened", "path", cfg.JournalPath, "in_memory", journal.InMemory())

	// ---- Simulator ----
	mp := market.DefaultParams
	mp.Drift = cfg.Simulation.Drift
	mp.HistoryCapacity = cfg.Simulation.HistoryCapacity

	simulator, err := sim.New(sim.Config{
		InitialCash:  initialCash,
		Params:       mp,
		Seed:         seed,
		TickInterval: cfg.Simulation.TickInterval,
		Journal:      journal,
	}, logger)
	if err != nil {
		journal.Close()
		sugar.Fatalw("simulator_init_failed", "err", err)
	}
	for _, s := range scenario.Symbols {
		if err := simulator.RegisterSymbol(s.Symbol, s.Price, s.Volatility); err != nil {
			sugar.Fatalw("symbol_register_failed", "symbol", s.Symbol, "err", err)
		}
	}
	for _, st := range buildStrategies(scenario.Strategies, logger) {
		simulator.AddStrategy(st)
	}

	sugar.Infow("node_starting",
		"scenario", scenario.Name,
		"symbols", len(scenario.Symbols),
		"strategies", len(scenario.Strategies),
		"initial_cash", initialCash,
		"session", simulator.SessionID())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	apiServer := api.NewServer(simulator, logger)
	go func() {
		if err := apiServer.Start(cfg.APIAddr); err != nil {
			sugar.Errorw("api_server_failed", "err", err)
			stop()
		}
	}()

	// ---- Tick loop ----
	// A positive SIM_STEPS runs once; zero keeps running until stopped.
	go func() {
		if err := autoRun(ctx, simulator, cfg.Simulation.Steps, sugar); err != nil {
			sugar.Errorw("run_failed", "err", err)
		}
	}()

	// Progress logging loop
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdown(sugar, apiServer, simulator)
			return
		case <-ticker.C:
			p := simulator.Portfolio()
			sugar.Infow("simulation_progress",
				"step", simulator.CurrentStep(),
				"running", simulator.Running(),
				"cash", p.Cash,
				"total_value", p.TotalValue,
				"return_pct", p.PortfolioReturn,
				"pending", simulator.PendingOrderCount())
		}
	}
}

func newLogger(cfg params.Log) (*zap.Logger, error) {
	level := cfg.Level
	if cfg.Verbose {
		level = "debug"
	}
	if cfg.File == "" {
		return util.NewLogger(level)
	}
	return util.NewLoggerWithFile(util.LogFileConfig{
		Path:       cfg.File,
		Level:      level,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Compress:   true,
	})
}

func shutdown(sugar *zap.SugaredLogger, apiServer *api.Server, simulator *sim.Simulator) {
	sugar.Info("shutdown_requested")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := multierr.Combine(
		apiServer.Shutdown(ctx),
		simulator.Close(),
	)
	if err != nil {
		sugar.Errorw("shutdown_failed", "err", err)
		return
	}
	sugar.Infow("node_stopped", "state_hash", simulator.Portfolio().StateHash.Hex())
}
