package risk

import "math"

type Limits struct {
	MaxNotionalPerTrade float64
	// StopLoss closes an open spread once unrealized PnL falls to -|StopLoss|. Zero disables it.
	StopLoss float64
}

// Allow reports whether a trade of this notional fits. A zero cap means unlimited.
func (l Limits) Allow(notional float64) bool {
	if l.MaxNotionalPerTrade <= 0 {
		return true
	}
	return notional <= l.MaxNotionalPerTrade
}

func (l Limits) StopLossHit(unrealized float64) bool {
	if l.StopLoss == 0 {
		return false
	}
	return unrealized <= -math.Abs(l.StopLoss)
}
