package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"spreadbot-go/internal/execution"
)

type recordedOrder struct {
	path       string
	side       string
	quantity   string
	reduceOnly string
	clientID   string
}

type fakeBinance struct {
	mu       sync.Mutex
	orders   []recordedOrder
	rejectFn func(path string) (int, string)
}

func (f *fakeBinance) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	path := r.URL.Path
	if f.rejectFn != nil {
		if status, body := f.rejectFn(path); status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
			return
		}
	}
	switch {
	case strings.HasSuffix(path, "/ticker/price"):
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","price":"64000.10"}]`))
	case strings.HasSuffix(path, "/premiumIndex"):
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","markPrice":"64010.50","indexPrice":"64005.00"}]`))
	case strings.HasSuffix(path, "/order"):
		f.mu.Lock()
		f.orders = append(f.orders, recordedOrder{
			path:       path,
			side:       r.Form.Get("side"),
			quantity:   r.Form.Get("quantity"),
			reduceOnly: r.Form.Get("reduceOnly"),
			clientID:   r.Form.Get("newClientOrderId"),
		})
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":42,"status":"FILLED"}`))
	case strings.HasSuffix(path, "/account"):
		_, _ = w.Write([]byte(`{"balances":[{"asset":"USDT","free":"100","locked":"0"},{"asset":"BTC","free":"0.5","locked":"0.25"}]}`))
	case strings.Contains(path, "positionRisk"):
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","positionAmt":"-0.300","positionSide":"BOTH"}]`))
	case strings.HasSuffix(path, "/leverage"):
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","leverage":3,"maxNotionalValue":"1000000"}`))
	default:
		http.NotFound(w, r)
	}
}

func newTestBinance(t *testing.T, fake *fakeBinance) *Binance {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewBinance("key", "secret", false, zerolog.Nop(),
		WithBaseURLs(srv.URL, srv.URL),
		WithRateLimit(1000, 10),
		WithQuantityPrecision(3),
	)
}

func TestBinancePrices(t *testing.T) {
	b := newTestBinance(t, &fakeBinance{})
	ctx := context.Background()

	cash, err := b.CashPrice(ctx, "BTCUSDT")
	if err != nil || cash != 64000.10 {
		t.Fatalf("unexpected cash price %.2f err=%v", cash, err)
	}
	mark, err := b.DerivativeMarkPrice(ctx, "BTCUSDT")
	if err != nil || mark != 64010.50 {
		t.Fatalf("unexpected mark price %.2f err=%v", mark, err)
	}
	if _, err := b.CashPrice(ctx, "ETHUSDT"); err == nil {
		t.Fatalf("expected error for symbol missing from response")
	}
}

func TestBinanceOrdersTruncateQuantity(t *testing.T) {
	fake := &fakeBinance{}
	b := newTestBinance(t, fake)
	ctx := context.Background()

	if err := b.PlaceCashOrder(ctx, "BTCUSDT", execution.Buy, 0.12399); err != nil {
		t.Fatalf("PlaceCashOrder returned error: %v", err)
	}
	if err := b.PlaceDerivativeOrder(ctx, "BTCUSDT", execution.Sell, 0.12399, true); err != nil {
		t.Fatalf("PlaceDerivativeOrder returned error: %v", err)
	}
	if len(fake.orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(fake.orders))
	}
	spot, perp := fake.orders[0], fake.orders[1]
	if !strings.HasPrefix(spot.path, "/api/") || spot.side != "BUY" || spot.quantity != "0.123" {
		t.Fatalf("unexpected spot order %+v", spot)
	}
	if !strings.HasPrefix(perp.path, "/fapi/") || perp.side != "SELL" || perp.reduceOnly != "true" {
		t.Fatalf("unexpected futures order %+v", perp)
	}
	if spot.clientID == "" || spot.clientID == perp.clientID {
		t.Fatalf("orders need distinct client ids, got %q and %q", spot.clientID, perp.clientID)
	}
}

func TestBinanceDustQuantityFailsFilter(t *testing.T) {
	fake := &fakeBinance{}
	b := newTestBinance(t, fake)
	err := b.PlaceCashOrder(context.Background(), "BTCUSDT", execution.Buy, 0.0004)
	if execution.Classify(err, nil) != execution.Transient {
		t.Fatalf("dust quantity should read as a filter failure, got %v", err)
	}
	if len(fake.orders) != 0 {
		t.Fatalf("dust must not reach the venue")
	}
}

func TestBinanceErrorsCarryVenueCode(t *testing.T) {
	fake := &fakeBinance{rejectFn: func(path string) (int, string) {
		if strings.HasPrefix(path, "/fapi/") && strings.HasSuffix(path, "/order") {
			return http.StatusBadRequest, `{"code":-2022,"msg":"ReduceOnly Order is rejected."}`
		}
		return 0, ""
	}}
	b := newTestBinance(t, fake)

	err := b.PlaceDerivativeOrder(context.Background(), "BTCUSDT", execution.Buy, 1, true)
	var venueErr *execution.VenueError
	if !errors.As(err, &venueErr) || venueErr.Code != execution.CodeReduceOnlyRejected {
		t.Fatalf("expected -2022 venue error, got %v", err)
	}
	if execution.Classify(err, nil) != execution.AlreadyFlat {
		t.Fatalf("expected already-flat classification")
	}
}

func TestBinancePositions(t *testing.T) {
	b := newTestBinance(t, &fakeBinance{})
	ctx := context.Background()

	held, err := b.CashPosition(ctx, "BTCUSDT")
	if err != nil || held != 0.75 {
		t.Fatalf("expected 0.75 BTC held, got %.4f err=%v", held, err)
	}
	perp, err := b.DerivativePosition(ctx, "BTCUSDT")
	if err != nil || perp != -0.3 {
		t.Fatalf("expected -0.3 perp, got %.4f err=%v", perp, err)
	}
	if err := b.SetLeverage(ctx, "BTCUSDT", 3); err != nil {
		t.Fatalf("SetLeverage returned error: %v", err)
	}
}

func TestBaseAsset(t *testing.T) {
	cases := map[string]string{
		"BTCUSDT":  "BTC",
		"ethusdc":  "ETH",
		"SOLFDUSD": "SOL",
		"ETHBTC":   "ETH",
		"USDT":     "USDT",
	}
	for symbol, want := range cases {
		if got := BaseAsset(symbol); got != want {
			t.Fatalf("BaseAsset(%s): expected %s got %s", symbol, want, got)
		}
	}
}

func TestFormatQuantity(t *testing.T) {
	cases := []struct {
		qty       float64
		precision int32
		want      string
	}{
		{0.015625, 3, "0.015"},
		{1.9999, 2, "1.99"},
		{0.0001, 3, "0"},
		{12, 3, "12"},
	}
	for _, c := range cases {
		if got := FormatQuantity(c.qty, c.precision); got != c.want {
			t.Fatalf("FormatQuantity(%v, %d): expected %s got %s", c.qty, c.precision, c.want, got)
		}
	}
}
