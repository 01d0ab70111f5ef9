package integration

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"spreadbot-go/internal/config"
	"spreadbot-go/internal/engine"
	"spreadbot-go/internal/journal"
	"spreadbot-go/internal/paper"
)

// scriptedQuotes replays a spread script per symbol. The engine advances it through
// the gateway; the venue reads the current value when filling.
type scriptedQuotes struct {
	mu      sync.Mutex
	base    map[string]float64
	script  map[string][]float64
	current map[string]float64
}

func (q *scriptedQuotes) advance(symbol string) float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s := q.script[symbol]; len(s) > 0 {
		q.current[symbol] = s[0]
		if len(s) > 1 {
			q.script[symbol] = s[1:]
		}
	}
	return q.base[symbol] + q.current[symbol]
}

func (q *scriptedQuotes) CashPrice(_ context.Context, symbol string) (float64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.base[symbol] + q.current[symbol], nil
}

func (q *scriptedQuotes) DerivativeMarkPrice(_ context.Context, symbol string) (float64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.base[symbol], nil
}

// gateway advances the script on every engine price read.
type gateway struct {
	*paper.Venue
	quotes *scriptedQuotes
}

func (g *gateway) CashPrice(_ context.Context, symbol string) (float64, error) {
	return g.quotes.advance(symbol), nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("../config/testdata/config.yaml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Strategy.Instruments = []string{"BTCUSDT", "ETHUSDT"}
	cfg.Strategy.CapitalPerTrade = 1000
	cfg.Strategy.LookbackWindow = 20
	cfg.Strategy.ZEntry = 1.5
	cfg.Strategy.ZExit = 0.5
	cfg.Strategy.TransactionCostRate = 0.0004
	cfg.Strategy.PollIntervalMs = 1
	cfg.Strategy.MinTradeIntervalMs = int(time.Hour / time.Millisecond)
	cfg.Strategy.AllowShortSpread = false
	cfg.Risk.MaxNotionalPerTrade = 0
	cfg.Risk.StopLossThreshold = 0
	cfg.Execution.RetryDelayMs = 0
	cfg.Execution.FlattenOnStart = false
	cfg.Exchange.QuantityPrecision = 3
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

func TestPaperFlowRoundTrip(t *testing.T) {
	cfg := testConfig(t)

	spreads := make([]float64, 0, 22)
	for i := 0; i < 20; i++ {
		if i%2 == 0 {
			spreads = append(spreads, 1)
		} else {
			spreads = append(spreads, -1)
		}
	}
	spreads = append(spreads, -6, 1)
	quotes := &scriptedQuotes{
		base:    map[string]float64{"BTCUSDT": 100, "ETHUSDT": 2000},
		script:  map[string][]float64{"BTCUSDT": spreads},
		current: map[string]float64{},
	}
	account := paper.NewAccount(10_000)
	gw := &gateway{Venue: paper.NewVenue(quotes, account, zerolog.Nop()), quotes: quotes}

	ledger := journal.NewLedger(8)
	status := engine.NewStatusTable(cfg.Strategy.Instruments)
	workers := engine.NewWorkers(cfg, gw, ledger, status, zerolog.Nop())
	sup := engine.NewSupervisor(workers, status, zerolog.Nop(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for len(ledger.Snapshot()) < 2 {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("timed out waiting for round trip, events=%+v", ledger.Snapshot())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("supervisor returned error: %v", err)
	}

	events := ledger.Snapshot()
	if len(events) != 2 || events[0].Action != journal.Open || events[1].Action != journal.Close {
		t.Fatalf("expected one open and one close, got %+v", events)
	}
	if events[0].Symbol != "BTCUSDT" || events[0].Size != 10 {
		t.Fatalf("unexpected entry %+v", events[0])
	}
	if math.Abs(events[1].NetPnL-68.42) > 1e-6 {
		t.Fatalf("expected 68.42 net, got %.4f", events[1].NetPnL)
	}
	for _, sym := range cfg.Strategy.Instruments {
		if account.SpotPosition(sym) != 0 || account.PerpPosition(sym) != 0 {
			t.Fatalf("%s left exposed: spot=%.3f perp=%.3f", sym, account.SpotPosition(sym), account.PerpPosition(sym))
		}
	}
	btc, _ := status.Get("BTCUSDT")
	eth, _ := status.Get("ETHUSDT")
	if btc.Position != "FLAT" || btc.Trades != 2 || btc.Halted {
		t.Fatalf("unexpected BTC status %+v", btc)
	}
	if eth.Trades != 0 || eth.Halted || eth.CashPrice != 2000 {
		t.Fatalf("unexpected ETH status %+v", eth)
	}
}
