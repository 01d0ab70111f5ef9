// Package journal records immutable trade events to memory, JSONL files and Postgres.
package journal

import (
	"time"

	"github.com/google/uuid"

	"spreadbot-go/internal/position"
)

// Action is the kind of trade event.
type Action string

const (
	Open  Action = "OPEN"
	Close Action = "CLOSE"
)

// Event is one open or close of a spread position. Close events carry the PnL breakdown.
type Event struct {
	ID                   string        `json:"id"`
	Action               Action        `json:"action"`
	Side                 position.Side `json:"side"`
	Symbol               string        `json:"symbol"`
	Size                 float64       `json:"size"`
	CashEntryPrice       float64       `json:"cash_entry_price"`
	DerivativeEntryPrice float64       `json:"derivative_entry_price"`
	CashExitPrice        float64       `json:"cash_exit_price,omitempty"`
	DerivativeExitPrice  float64       `json:"derivative_exit_price,omitempty"`
	CashPnL              float64       `json:"cash_pnl,omitempty"`
	DerivativePnL        float64       `json:"derivative_pnl,omitempty"`
	Fee                  float64       `json:"fee,omitempty"`
	NetPnL               float64       `json:"net_pnl,omitempty"`
	ExpectedProfit       float64       `json:"expected_profit,omitempty"`
	ExpectedCost         float64       `json:"expected_cost,omitempty"`
	EntryTime            time.Time     `json:"entry_time"`
	ExitTime             time.Time     `json:"exit_time,omitempty"`
	HoldingMinutes       float64       `json:"holding_minutes,omitempty"`
	Reason               string        `json:"reason,omitempty"`
}

// Sink accepts events without acknowledgement.
type Sink interface {
	Record(Event)
}

// NewOpenEvent describes an entry.
func NewOpenEvent(symbol string, pos position.Position, expectedProfit, expectedCost float64, reason string) Event {
	return Event{
		ID:                   uuid.NewString(),
		Action:               Open,
		Side:                 pos.Side,
		Symbol:               symbol,
		Size:                 pos.Size,
		CashEntryPrice:       pos.CashEntryPrice,
		DerivativeEntryPrice: pos.DerivativeEntryPrice,
		ExpectedProfit:       expectedProfit,
		ExpectedCost:         expectedCost,
		EntryTime:            pos.EntryTime,
		Reason:               reason,
	}
}

// NewCloseEvent describes a completed round trip.
func NewCloseEvent(res position.Result, reason string) Event {
	return Event{
		ID:                   uuid.NewString(),
		Action:               Close,
		Side:                 res.Side,
		Symbol:               res.Symbol,
		Size:                 res.Size,
		CashEntryPrice:       res.CashEntryPrice,
		DerivativeEntryPrice: res.DerivativeEntryPrice,
		CashExitPrice:        res.CashExitPrice,
		DerivativeExitPrice:  res.DerivativeExitPrice,
		CashPnL:              res.CashPnL,
		DerivativePnL:        res.DerivativePnL,
		Fee:                  res.Fee,
		NetPnL:               res.NetPnL,
		EntryTime:            res.EntryTime,
		ExitTime:             res.ExitTime,
		HoldingMinutes:       res.Holding.Minutes(),
		Reason:               reason,
	}
}

// MultiSink fans an event out to every non-nil sink.
type MultiSink []Sink

func (m MultiSink) Record(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Record(ev)
		}
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Record(Event) {}
