package engine

import (
	"github.com/rs/zerolog"

	"spreadbot-go/internal/config"
	"spreadbot-go/internal/execution"
	"spreadbot-go/internal/journal"
	"spreadbot-go/internal/position"
	"spreadbot-go/internal/strategy"
)

// NewWorkers builds one worker per configured instrument, each with its own model and position.
func NewWorkers(cfg *config.Config, gw execution.Gateway, sink journal.Sink, status *StatusTable, log zerolog.Logger) []*Worker {
	params := strategy.ParamsFromConfig(cfg.Strategy)
	exec := NewExecutor(cfg, gw, log)
	workers := make([]*Worker, 0, len(cfg.Strategy.Instruments))
	for _, sym := range cfg.Strategy.Instruments {
		workers = append(workers, NewWorker(WorkerConfigFromConfig(cfg, sym), Deps{
			Gateway:  gw,
			Executor: exec,
			Model:    strategy.NewSpreadModel(params),
			Position: position.NewManager(sym, params.FeeRate),
			Sink:     sink,
			Status:   status,
			Log:      log,
		}))
	}
	return workers
}
