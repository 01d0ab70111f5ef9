package paper

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"spreadbot-go/internal/execution"
)

const epsilon = 1e-9

// codeInsufficientBalance mirrors the venue rejection for an unfunded order.
const codeInsufficientBalance = -2010

type holding struct {
	Qty     float64
	AvgCost float64
}

// apply adds a signed quantity at price and returns the new holding plus PnL realized by any reduction.
func (h holding) apply(delta, price float64) (holding, float64) {
	if math.Abs(h.Qty) <= epsilon || sameSign(h.Qty, delta) {
		qty := h.Qty + delta
		return holding{Qty: qty, AvgCost: (h.AvgCost*math.Abs(h.Qty) + price*math.Abs(delta)) / math.Abs(qty)}, 0
	}
	closed := math.Min(math.Abs(delta), math.Abs(h.Qty))
	realized := (price - h.AvgCost) * closed * sign(h.Qty)
	qty := h.Qty + delta
	switch {
	case math.Abs(qty) <= epsilon:
		return holding{}, realized
	case sameSign(qty, h.Qty):
		return holding{Qty: qty, AvgCost: h.AvgCost}, realized
	default:
		return holding{Qty: qty, AvgCost: price}, realized
	}
}

// Account tracks virtual cash, realized PnL, spot holdings and signed perpetual positions.
// Spot holdings may go negative to simulate a borrowed short.
type Account struct {
	mu           sync.Mutex
	startingCash float64
	cash         float64
	realizedPnL  float64
	spot         map[string]holding
	perps        map[string]holding
}

// PositionSnapshot exposes a read-only view of a single symbol position.
type PositionSnapshot struct {
	Spot        float64
	Perp        float64
	SpotAvgCost float64
	PerpAvgCost float64
	Unrealized  float64
}

// Snapshot represents a thread-safe view of the account state, marked to market using provided prices.
type Snapshot struct {
	Cash        float64
	RealizedPnL float64
	Equity      float64
	Positions   map[string]PositionSnapshot
}

// NewAccount constructs an account populated with starting cash.
func NewAccount(startingCash float64) *Account {
	return &Account{
		startingCash: startingCash,
		cash:         startingCash,
		spot:         make(map[string]holding),
		perps:        make(map[string]holding),
	}
}

// StartingCash returns the initial bankroll.
func (a *Account) StartingCash() float64 { return a.startingCash }

// SpotFill executes a spot market order at price.
func (a *Account) SpotFill(symbol string, side execution.Side, qty, price float64) error {
	delta, err := signedQty(side, qty, price)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	notional := qty * price
	if side == execution.Buy && notional > a.cash+epsilon {
		return &execution.VenueError{Code: codeInsufficientBalance, Message: "insufficient cash for buy"}
	}
	next, realized := a.spot[symbol].apply(delta, price)
	a.cash -= delta * price
	a.realizedPnL += realized
	a.store(a.spot, symbol, next)
	return nil
}

// PerpFill executes a perpetual market order. Reduce-only orders never flip or grow the position.
func (a *Account) PerpFill(symbol string, side execution.Side, qty, price float64, reduceOnly bool) error {
	delta, err := signedQty(side, qty, price)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	cur := a.perps[symbol]
	if reduceOnly {
		if math.Abs(cur.Qty) <= epsilon || sameSign(cur.Qty, delta) {
			return &execution.VenueError{Code: execution.CodeReduceOnlyRejected, Message: "ReduceOnly Order is rejected."}
		}
		if math.Abs(delta) > math.Abs(cur.Qty) {
			delta = -cur.Qty
		}
	}
	next, realized := cur.apply(delta, price)
	a.cash += realized
	a.realizedPnL += realized
	a.store(a.perps, symbol, next)
	return nil
}

func (a *Account) store(book map[string]holding, symbol string, h holding) {
	if math.Abs(h.Qty) <= epsilon {
		delete(book, symbol)
		return
	}
	book[symbol] = h
}

// Snapshot returns a copy of balances marked with the supplied spot and perpetual prices.
func (a *Account) Snapshot(spotMarks, perpMarks map[string]float64) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	positions := make(map[string]PositionSnapshot)
	equity := a.cash
	for sym, h := range a.spot {
		p := positions[sym]
		p.Spot, p.SpotAvgCost = h.Qty, h.AvgCost
		if mark := spotMarks[sym]; mark > 0 {
			equity += h.Qty * mark
			p.Unrealized += (mark - h.AvgCost) * h.Qty
		}
		positions[sym] = p
	}
	for sym, h := range a.perps {
		p := positions[sym]
		p.Perp, p.PerpAvgCost = h.Qty, h.AvgCost
		if mark := perpMarks[sym]; mark > 0 {
			u := (mark - h.AvgCost) * h.Qty
			equity += u
			p.Unrealized += u
		}
		positions[sym] = p
	}

	return Snapshot{
		Cash:        a.cash,
		RealizedPnL: a.realizedPnL,
		Equity:      equity,
		Positions:   positions,
	}
}

// AvailableCash reports free cash.
func (a *Account) AvailableCash() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash
}

// SpotPosition returns the base-asset holding for the supplied symbol.
func (a *Account) SpotPosition(symbol string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spot[symbol].Qty
}

// PerpPosition returns the signed perpetual position for the supplied symbol.
func (a *Account) PerpPosition(symbol string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.perps[symbol].Qty
}

// RealizedPnL returns total closed-trade profit and loss.
func (a *Account) RealizedPnL() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.realizedPnL
}

func signedQty(side execution.Side, qty, price float64) (float64, error) {
	if qty <= 0 {
		return 0, errors.New("quantity must be positive")
	}
	if price <= 0 {
		return 0, errors.New("price must be positive")
	}
	switch side {
	case execution.Buy:
		return qty, nil
	case execution.Sell:
		return -qty, nil
	default:
		return 0, fmt.Errorf("unknown order side %q", side)
	}
}

func sameSign(a, b float64) bool { return (a > 0) == (b > 0) }

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
