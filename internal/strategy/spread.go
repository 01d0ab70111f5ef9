// Package strategy contains the spread z-score model that turns paired prices into trade signals.
package strategy

import (
	"fmt"
	"math"

	"spreadbot-go/internal/signal"
)

const defaultLookback = 120

// SpreadModel keeps a rolling window of cash-minus-derivative spreads for a single instrument
// and emits entry/exit signals from the z-score of the latest spread.
//
// A model is owned by exactly one worker and is not safe for concurrent use.
type SpreadModel struct {
	params Params
	window []float64
	// direction remembers the last emitted entry: +1 long spread, -1 short spread, 0 none.
	direction int
}

// NewSpreadModel builds a model; a lookback below two falls back to the default window.
func NewSpreadModel(params Params) *SpreadModel {
	if params.Lookback < 2 {
		params.Lookback = defaultLookback
	}
	return &SpreadModel{
		params: params,
		window: make([]float64, 0, params.Lookback+1),
	}
}

// Params returns the model configuration.
func (m *SpreadModel) Params() Params { return m.params }

// Update folds a new spread into the window, evicting the oldest once the lookback is exceeded.
func (m *SpreadModel) Update(cashPrice, derivativePrice float64) {
	m.window = append(m.window, cashPrice-derivativePrice)
	if over := len(m.window) - m.params.Lookback; over > 0 {
		m.window = append(m.window[:0], m.window[over:]...)
	}
}

// Len returns the number of spreads currently held.
func (m *SpreadModel) Len() int { return len(m.window) }

// Ready reports whether the window is full.
func (m *SpreadModel) Ready() bool { return len(m.window) >= m.params.Lookback }

// Direction returns the directional memory: +1, -1 or 0.
func (m *SpreadModel) Direction() int { return m.direction }

// ResetDirection clears the directional memory without emitting a signal.
// Callers use it when the position an entry signal asked for is not held.
func (m *SpreadModel) ResetDirection() { m.direction = 0 }

// Stats returns the population mean and standard deviation of the window; ok is false until ready.
func (m *SpreadModel) Stats() (mean, std float64, ok bool) {
	if !m.Ready() {
		return 0, 0, false
	}
	var sum float64
	for _, v := range m.window {
		sum += v
	}
	mean = sum / float64(len(m.window))
	var sq float64
	for _, v := range m.window {
		d := v - mean
		sq += d * d
	}
	std = math.Sqrt(sq / float64(len(m.window)))
	return mean, std, true
}

// ZScore returns how many deviations spread lies from the window mean. A zero-variance window yields 0.
func (m *SpreadModel) ZScore(spread float64) (float64, bool) {
	mean, std, ok := m.Stats()
	if !ok {
		return 0, false
	}
	if std == 0 {
		return 0, true
	}
	return (spread - mean) / std, true
}

// ExpectedCost is the round-trip transaction cost of trading both legs once in and once out.
func (m *SpreadModel) ExpectedCost(cashPrice, derivativePrice float64) float64 {
	return 2 * m.params.FeeRate * (cashPrice + derivativePrice)
}

// Observe folds the sample into the window and evaluates it.
func (m *SpreadModel) Observe(s signal.Sample) signal.Signal {
	m.Update(s.CashPrice, s.DerivativePrice)
	return m.Evaluate(s)
}

// Evaluate produces the signal for a sample whose spread is already part of the window.
func (m *SpreadModel) Evaluate(s signal.Sample) signal.Signal {
	out := signal.Signal{Symbol: s.Symbol, Kind: signal.Hold, Spread: s.Spread(), Ts: s.Ts}
	if !m.Ready() {
		out.Reason = fmt.Sprintf("warming up %d/%d", len(m.window), m.params.Lookback)
		return out
	}

	mean, _, _ := m.Stats()
	z, _ := m.ZScore(out.Spread)
	out.Ready = true
	out.Score = z
	out.Mean = mean

	exitZ := m.params.ExitZ
	switch {
	case m.direction > 0 && z >= exitZ:
		return m.exit(out, "long spread reverted")
	case m.direction < 0 && z <= -exitZ:
		return m.exit(out, "short spread reverted")
	}

	if m.direction == 0 && math.Abs(z) < exitZ {
		out.Reason = "inside exit band"
		return out
	}

	var candidate signal.Kind
	var dir int
	switch {
	case z > m.params.EntryZ:
		if !m.params.AllowShort {
			out.Suppressed = true
			out.Reason = "short spread disabled"
			return out
		}
		candidate, dir = signal.EnterShortSpread, -1
	case z < -m.params.EntryZ:
		candidate, dir = signal.EnterLongSpread, 1
	default:
		out.Reason = "below entry threshold"
		return out
	}

	out.ExpectedProfit = math.Abs(out.Spread - mean)
	out.ExpectedCost = m.ExpectedCost(s.CashPrice, s.DerivativePrice)
	if out.ExpectedProfit < out.ExpectedCost {
		out.Reason = fmt.Sprintf("uneconomic: profit %.6f < cost %.6f", out.ExpectedProfit, out.ExpectedCost)
		return out
	}

	m.direction = dir
	out.Kind = candidate
	out.Reason = fmt.Sprintf("z=%.2f profit=%.6f cost=%.6f", z, out.ExpectedProfit, out.ExpectedCost)
	return out
}

// exit emits ExitSpread and clears the directional memory so either side may be entered next.
func (m *SpreadModel) exit(out signal.Signal, reason string) signal.Signal {
	m.direction = 0
	out.Kind = signal.ExitSpread
	out.Reason = fmt.Sprintf("%s z=%.2f", reason, out.Score)
	return out
}
