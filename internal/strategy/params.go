package strategy

import "spreadbot-go/internal/config"

// Params expresses tunable knobs required by the spread model constructor.
type Params struct {
	Lookback   int
	EntryZ     float64
	ExitZ      float64
	FeeRate    float64 // one-way transaction cost rate
	AllowShort bool
}

// ParamsFromConfig maps the strategy configuration onto model parameters.
func ParamsFromConfig(cfg config.Strategy) Params {
	return Params{
		Lookback:   cfg.LookbackWindow,
		EntryZ:     cfg.ZEntry,
		ExitZ:      cfg.ZExit,
		FeeRate:    cfg.TransactionCostRate,
		AllowShort: cfg.AllowShortSpread,
	}
}
