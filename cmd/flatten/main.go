// Binary flatten closes every configured instrument on both venues and exits non-zero if any stays exposed.
package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"

	"spreadbot-go/internal/config"
	"spreadbot-go/internal/engine"
	"spreadbot-go/internal/exchange"
	"spreadbot-go/internal/journal"
	"spreadbot-go/internal/util"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to YAML config")
	flag.Parse()

	log := util.NewLogger("info")
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("validate config")
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gw, err := exchange.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build gateway")
	}

	status := engine.NewStatusTable(cfg.Strategy.Instruments)
	failed := 0
	for _, w := range engine.NewWorkers(cfg, gw, journal.Discard{}, status, log) {
		if err := w.Liquidate(ctx); err != nil {
			log.Error().Err(err).Str("sym", w.Symbol()).Msg("instrument still exposed")
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
	log.Info().Int("instruments", len(cfg.Strategy.Instruments)).Msg("all instruments flat")
}
