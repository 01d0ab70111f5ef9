package main

import (
	"context"
	"flag"
	"io"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"spreadbot-go/internal/config"
	"spreadbot-go/internal/engine"
	"spreadbot-go/internal/exchange"
	"spreadbot-go/internal/journal"
	"spreadbot-go/internal/metrics"
	"spreadbot-go/internal/util"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to YAML config")
	flag.Parse()
	os.Exit(run(*configPath))
}

// run returns the process exit code so deferred closers flush before exit.
func run(configPath string) int {
	boot := util.NewLogger("info")
	cfg, err := config.Load(configPath)
	if err != nil {
		boot.Error().Err(err).Msg("load config")
		return 1
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		boot.Error().Err(err).Msg("validate config")
		return 1
	}

	log, logFile := util.NewFileLogger(cfg.App.LogLevel, cfg.App.LogFile)
	defer logFile.Close()
	log = log.With().Str("app", cfg.App.Name).Str("env", cfg.App.Env).Logger()

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gw, err := exchange.New(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("build gateway")
		return 1
	}

	ledger, sink, closers := openJournal(cfg, log)
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	status := engine.NewStatusTable(cfg.Strategy.Instruments)
	srv := metrics.Serve(cfg.App.MetricsAddr, metrics.Route{Path: "/status", Handler: status})
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics and status up")

	go engine.NewReporter(status, log, cfg.App.StatusInterval()).Run(ctx)

	workers := engine.NewWorkers(cfg, gw, sink, status, log)
	sup := engine.NewSupervisor(workers, status, log, cfg.Execution.ShutdownTimeout())

	log.Info().Strs("instruments", cfg.Strategy.Instruments).Str("provider", cfg.Exchange.Provider).Msg("spread engine started")
	runErr := sup.Run(ctx)

	engine.NewReporter(status, log, 0).Report()
	log.Info().Float64("realized_pnl", ledger.RealizedPnL()).Int("events", len(ledger.Snapshot())).Msg("session summary")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)

	if runErr != nil {
		log.Error().Err(runErr).Msg("engine stopped with errors")
		return 1
	}
	log.Info().Msg("shut down cleanly")
	return 0
}

// openJournal fans events out to memory, the JSONL file and Postgres when each is configured.
func openJournal(cfg *config.Config, log zerolog.Logger) (*journal.Ledger, journal.Sink, []io.Closer) {
	ledger := journal.NewLedger(64)
	sinks := journal.MultiSink{ledger}
	var closers []io.Closer

	if cfg.Journal.Path != "" {
		rec, err := journal.NewJSONLRecorder(cfg.Journal.Path, log)
		if err != nil {
			log.Error().Err(err).Str("path", cfg.Journal.Path).Msg("jsonl journal disabled")
		} else {
			sinks = append(sinks, rec)
			closers = append(closers, rec)
		}
	}
	if cfg.Journal.PostgresDSN != "" {
		pg, err := journal.NewPostgresSink(cfg.Journal.PostgresDSN, log)
		if err != nil {
			log.Error().Err(err).Msg("postgres journal disabled")
		} else {
			sinks = append(sinks, pg)
			closers = append(closers, pg)
		}
	}
	return ledger, sinks, closers
}
