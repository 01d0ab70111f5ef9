// Package position tracks the single paired position an instrument may hold and computes realized PnL on close.
package position

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrAlreadyOpen is returned when opening while a position is open.
	ErrAlreadyOpen = errors.New("position already open")
	// ErrNotOpen is returned when closing while flat.
	ErrNotOpen = errors.New("no open position")
	// ErrInvalidSize rejects non-positive sizes.
	ErrInvalidSize = errors.New("position size must be positive")
	// ErrInvalidSide rejects anything other than Long or Short.
	ErrInvalidSide = errors.New("invalid position side")
)

// Side is the spread direction.
type Side string

const (
	// Long holds cash long and the derivative short.
	Long Side = "LONG"
	// Short holds cash short and the derivative long.
	Short Side = "SHORT"
)

// Position is the open spread. Its fields are meaningless while the manager is flat.
type Position struct {
	Side                 Side
	CashEntryPrice       float64
	DerivativeEntryPrice float64
	Size                 float64
	EntryTime            time.Time
}

// Result describes a closed round trip.
type Result struct {
	Symbol               string
	Side                 Side
	Size                 float64
	CashEntryPrice       float64
	CashExitPrice        float64
	DerivativeEntryPrice float64
	DerivativeExitPrice  float64
	EntryTime            time.Time
	ExitTime             time.Time
	CashPnL              float64
	DerivativePnL        float64
	Fee                  float64
	NetPnL               float64
	Holding              time.Duration
}

// Manager is a Flat/Open state machine for one instrument.
type Manager struct {
	mu      sync.Mutex
	symbol  string
	feeRate float64
	now     func() time.Time
	open    bool
	pos     Position
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for entry and exit stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager returns a flat manager charging feeRate per leg notional on close.
func NewManager(symbol string, feeRate float64, opts ...Option) *Manager {
	m := &Manager{symbol: symbol, feeRate: feeRate, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open transitions Flat -> Open.
func (m *Manager) Open(side Side, cashPrice, derivativePrice, size float64) error {
	if side != Long && side != Short {
		return fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
	if size <= 0 {
		return ErrInvalidSize
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		return fmt.Errorf("%s: %w", m.symbol, ErrAlreadyOpen)
	}
	m.pos = Position{
		Side:                 side,
		CashEntryPrice:       cashPrice,
		DerivativeEntryPrice: derivativePrice,
		Size:                 size,
		EntryTime:            m.now(),
	}
	m.open = true
	return nil
}

// Close transitions Open -> Flat and returns the realized result.
func (m *Manager) Close(cashExitPrice, derivativeExitPrice float64) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return Result{}, fmt.Errorf("%s: %w", m.symbol, ErrNotOpen)
	}

	p := m.pos
	exit := m.now()
	cashPnL, derivativePnL := legPnL(p, cashExitPrice, derivativeExitPrice)
	fee := m.feeRate * (p.CashEntryPrice + cashExitPrice + p.DerivativeEntryPrice + derivativeExitPrice) * p.Size

	res := Result{
		Symbol:               m.symbol,
		Side:                 p.Side,
		Size:                 p.Size,
		CashEntryPrice:       p.CashEntryPrice,
		CashExitPrice:        cashExitPrice,
		DerivativeEntryPrice: p.DerivativeEntryPrice,
		DerivativeExitPrice:  derivativeExitPrice,
		EntryTime:            p.EntryTime,
		ExitTime:             exit,
		CashPnL:              cashPnL,
		DerivativePnL:        derivativePnL,
		Fee:                  fee,
		NetPnL:               cashPnL + derivativePnL - fee,
		Holding:              exit.Sub(p.EntryTime),
	}
	m.open = false
	m.pos = Position{}
	return res, nil
}

// IsOpen reports whether a position is held.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Current returns a copy of the open position.
func (m *Manager) Current() (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos, m.open
}

// Unrealized marks the open legs at the supplied prices, before fees. Advisory only.
func (m *Manager) Unrealized(cashPrice, derivativePrice float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return 0
	}
	cashPnL, derivativePnL := legPnL(m.pos, cashPrice, derivativePrice)
	return cashPnL + derivativePnL
}

func legPnL(p Position, cashExit, derivativeExit float64) (float64, float64) {
	if p.Side == Long {
		return (cashExit - p.CashEntryPrice) * p.Size, (p.DerivativeEntryPrice - derivativeExit) * p.Size
	}
	return (p.CashEntryPrice - cashExit) * p.Size, (derivativeExit - p.DerivativeEntryPrice) * p.Size
}

// Summary renders the position for status tables.
func (p Position) Summary() string {
	return fmt.Sprintf("%s %.6g", p.Side, p.Size)
}
