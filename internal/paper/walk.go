package paper

import (
	"context"
	"math/rand"
	"sync"
)

const (
	walkStartPrice = 100.0
	walkDrift      = 0.0005 // per-step relative volatility of the cash price
	walkReversion  = 0.15   // fraction of the spread pulled back to zero each step
	walkSpreadVol  = 0.0008 // spread shock relative to price
)

type walkState struct {
	cash   float64
	spread float64
}

// Walk is an offline quote source: a random-walk cash price with a mean-reverting basis.
// Each CashPrice call advances the instrument one step; DerivativeMarkPrice reads the current step.
type Walk struct {
	mu     sync.Mutex
	rng    *rand.Rand
	states map[string]*walkState
}

// NewWalk seeds the generator so runs are reproducible.
func NewWalk(seed int64) *Walk {
	return &Walk{
		rng:    rand.New(rand.NewSource(seed)),
		states: make(map[string]*walkState),
	}
}

func (w *Walk) state(symbol string) *walkState {
	st, ok := w.states[symbol]
	if !ok {
		st = &walkState{cash: walkStartPrice}
		w.states[symbol] = st
	}
	return st
}

func (w *Walk) CashPrice(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.state(symbol)
	st.cash *= 1 + walkDrift*w.rng.NormFloat64()
	st.spread += -walkReversion*st.spread + walkSpreadVol*st.cash*w.rng.NormFloat64()
	return st.cash, nil
}

func (w *Walk) DerivativeMarkPrice(ctx context.Context, symbol string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.state(symbol)
	return st.cash - st.spread, nil
}
