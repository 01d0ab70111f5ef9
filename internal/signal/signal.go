// Package signal standardizes payloads shared between price ingestion, the spread model and the trading engine.
package signal

import "time"

// Sample is one paired price observation for an instrument.
type Sample struct {
	Symbol          string
	CashPrice       float64
	DerivativePrice float64
	Ts              time.Time
}

// Spread returns cash minus derivative.
func (s Sample) Spread() float64 { return s.CashPrice - s.DerivativePrice }

// Valid reports whether both legs carry a usable price.
func (s Sample) Valid() bool { return s.CashPrice > 0 && s.DerivativePrice > 0 }

// Kind enumerates the decisions a spread model can emit.
type Kind int

const (
	// Hold means no action.
	Hold Kind = iota
	// EnterLongSpread buys cash and sells the derivative.
	EnterLongSpread
	// EnterShortSpread sells cash and buys the derivative.
	EnterShortSpread
	// ExitSpread closes whatever spread is open.
	ExitSpread
)

func (k Kind) String() string {
	switch k {
	case EnterLongSpread:
		return "ENTER_LONG"
	case EnterShortSpread:
		return "ENTER_SHORT"
	case ExitSpread:
		return "EXIT"
	default:
		return "HOLD"
	}
}

// IsEntry reports whether the kind opens a position.
func (k Kind) IsEntry() bool { return k == EnterLongSpread || k == EnterShortSpread }

// Signal expresses the model's decision for one evaluation.
type Signal struct {
	Symbol string
	Kind   Kind
	Score  float64 // z-score of the current spread; zero while not ready
	Ready  bool
	// Suppressed is set when a short-spread entry was demoted to Hold by configuration.
	Suppressed     bool
	Spread         float64
	Mean           float64
	ExpectedProfit float64
	ExpectedCost   float64
	Reason         string
	Ts             time.Time
}
