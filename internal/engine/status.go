package engine

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync/atomic"
	"time"
)

// Status is one row of the live monitor.
type Status struct {
	Symbol          string    `json:"symbol"`
	Position        string    `json:"position"`
	Signal          string    `json:"signal"`
	ZScore          float64   `json:"z_score"`
	Ready           bool      `json:"ready"`
	CashPrice       float64   `json:"cash_price"`
	DerivativePrice float64   `json:"derivative_price"`
	UnrealizedPnL   float64   `json:"unrealized_pnl"`
	RealizedPnL     float64   `json:"realized_pnl"`
	Trades          int       `json:"trades"`
	Liquidations    int       `json:"liquidations"`
	Halted          bool      `json:"halted"`
	Error           string    `json:"error,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// StatusTable holds one entry per instrument. Entries are created up front and never removed;
// each is replaced atomically so writers never contend with each other or with readers.
type StatusTable struct {
	entries map[string]*atomic.Pointer[Status]
	symbols []string
}

// NewStatusTable creates a flat entry for every symbol.
func NewStatusTable(symbols []string) *StatusTable {
	t := &StatusTable{entries: make(map[string]*atomic.Pointer[Status], len(symbols))}
	for _, sym := range symbols {
		if _, ok := t.entries[sym]; ok {
			continue
		}
		p := &atomic.Pointer[Status]{}
		p.Store(&Status{Symbol: sym, Position: "FLAT", Signal: "HOLD"})
		t.entries[sym] = p
		t.symbols = append(t.symbols, sym)
	}
	sort.Strings(t.symbols)
	return t
}

// Update replaces the entry for st.Symbol. Unknown symbols are ignored.
func (t *StatusTable) Update(st Status) {
	if p, ok := t.entries[st.Symbol]; ok {
		p.Store(&st)
	}
}

// Get returns the current entry for symbol.
func (t *StatusTable) Get(symbol string) (Status, bool) {
	p, ok := t.entries[symbol]
	if !ok {
		return Status{}, false
	}
	return *p.Load(), true
}

// Snapshot returns every entry sorted by symbol.
func (t *StatusTable) Snapshot() []Status {
	out := make([]Status, 0, len(t.symbols))
	for _, sym := range t.symbols {
		out = append(out, *t.entries[sym].Load())
	}
	return out
}

// ServeHTTP renders the snapshot as JSON.
func (t *StatusTable) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(t.Snapshot())
}
