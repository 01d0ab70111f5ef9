// Package paper simulates the cash and derivative venues in memory.
package paper

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"spreadbot-go/internal/execution"
)

// Quotes supplies the prices paper fills execute against.
type Quotes interface {
	CashPrice(ctx context.Context, symbol string) (float64, error)
	DerivativeMarkPrice(ctx context.Context, symbol string) (float64, error)
}

// Venue is an execution.Gateway backed by an Account.
type Venue struct {
	quotes           Quotes
	account          *Account
	slippageBps      float64
	maxOrderNotional float64
	log              zerolog.Logger

	mu       sync.Mutex
	leverage map[string]int
}

var _ execution.Gateway = (*Venue)(nil)

// VenueOption configures a Venue.
type VenueOption func(*Venue)

// WithSlippageBps moves every fill against the taker by bps.
func WithSlippageBps(bps float64) VenueOption {
	return func(v *Venue) {
		if bps >= 0 {
			v.slippageBps = bps
		}
	}
}

// WithMaxOrderNotional rejects single orders above notional with a price-band error.
func WithMaxOrderNotional(notional float64) VenueOption {
	return func(v *Venue) {
		if notional > 0 {
			v.maxOrderNotional = notional
		}
	}
}

// NewVenue wires quotes to an account.
func NewVenue(quotes Quotes, account *Account, log zerolog.Logger, opts ...VenueOption) *Venue {
	v := &Venue{
		quotes:   quotes,
		account:  account,
		log:      log.With().Str("provider", "paper").Logger(),
		leverage: make(map[string]int),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Account exposes the simulated balances.
func (v *Venue) Account() *Account { return v.account }

func (v *Venue) CashPrice(ctx context.Context, symbol string) (float64, error) {
	return v.quotes.CashPrice(ctx, symbol)
}

func (v *Venue) DerivativeMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return v.quotes.DerivativeMarkPrice(ctx, symbol)
}

func (v *Venue) PlaceCashOrder(ctx context.Context, symbol string, side execution.Side, qty float64) error {
	px, err := v.quotes.CashPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("paper cash quote: %w", err)
	}
	fill, err := v.fillPrice(side, qty, px)
	if err != nil {
		return err
	}
	if err := v.account.SpotFill(symbol, side, qty, fill); err != nil {
		return err
	}
	v.log.Debug().Str("sym", symbol).Str("side", string(side)).Float64("qty", qty).Float64("px", fill).Msg("paper spot fill")
	return nil
}

func (v *Venue) PlaceDerivativeOrder(ctx context.Context, symbol string, side execution.Side, qty float64, reduceOnly bool) error {
	px, err := v.quotes.DerivativeMarkPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("paper mark quote: %w", err)
	}
	fill, err := v.fillPrice(side, qty, px)
	if err != nil {
		return err
	}
	if err := v.account.PerpFill(symbol, side, qty, fill, reduceOnly); err != nil {
		return err
	}
	v.log.Debug().Str("sym", symbol).Str("side", string(side)).Float64("qty", qty).Float64("px", fill).
		Bool("reduce_only", reduceOnly).Msg("paper perp fill")
	return nil
}

func (v *Venue) CashPosition(_ context.Context, symbol string) (float64, error) {
	return v.account.SpotPosition(symbol), nil
}

func (v *Venue) DerivativePosition(_ context.Context, symbol string) (float64, error) {
	return v.account.PerpPosition(symbol), nil
}

func (v *Venue) SetLeverage(_ context.Context, symbol string, leverage int) error {
	if leverage < 1 {
		return &execution.VenueError{Code: -4028, Message: "Leverage is not valid"}
	}
	v.mu.Lock()
	v.leverage[symbol] = leverage
	v.mu.Unlock()
	return nil
}

// Leverage returns the last leverage set for symbol.
func (v *Venue) Leverage(symbol string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.leverage[symbol]
}

func (v *Venue) fillPrice(side execution.Side, qty, px float64) (float64, error) {
	if v.maxOrderNotional > 0 && qty*px > v.maxOrderNotional {
		return 0, &execution.VenueError{
			Code:    execution.CodePercentPrice,
			Message: fmt.Sprintf("order notional %.2f above %.2f", qty*px, v.maxOrderNotional),
		}
	}
	slip := px * v.slippageBps / 10_000
	if side == execution.Buy {
		return px + slip, nil
	}
	return px - slip, nil
}
