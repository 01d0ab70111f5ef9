package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const defaultReportInterval = 10 * time.Second

// Reporter logs the status table at its own cadence.
type Reporter struct {
	table    *StatusTable
	log      zerolog.Logger
	interval time.Duration
}

// NewReporter logs table every interval, or every 10s when interval is not positive.
func NewReporter(table *StatusTable, log zerolog.Logger, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = defaultReportInterval
	}
	return &Reporter{table: table, log: log.With().Str("component", "status").Logger(), interval: interval}
}

// Run logs a snapshot every interval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Report()
		}
	}
}

// Report logs one line per instrument.
func (r *Reporter) Report() {
	for _, st := range r.table.Snapshot() {
		ev := r.log.Info()
		if st.Halted {
			ev = r.log.Error()
		}
		ev.Str("sym", st.Symbol).
			Str("position", st.Position).
			Str("signal", st.Signal).
			Float64("z", st.ZScore).
			Float64("spot", st.CashPrice).
			Float64("futures", st.DerivativePrice).
			Float64("unrealized", st.UnrealizedPnL).
			Float64("realized", st.RealizedPnL).
			Time("updated", st.UpdatedAt).
			Str("error", st.Error).
			Msg("status")
	}
}
