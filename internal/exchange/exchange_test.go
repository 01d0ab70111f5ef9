package exchange

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"spreadbot-go/internal/config"
	"spreadbot-go/internal/paper"
)

func TestNewSelectsProvider(t *testing.T) {
	ctx := context.Background()

	cfg := &config.Config{Paper: config.Paper{StartingCash: 1000, PriceSource: PriceSourceStub}}
	gw, err := New(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("paper provider returned error: %v", err)
	}
	venue, ok := gw.(*paper.Venue)
	if !ok {
		t.Fatalf("expected paper venue, got %T", gw)
	}
	if venue.Account().StartingCash() != 1000 {
		t.Fatalf("paper account should start with configured cash")
	}

	cfg.Exchange.Provider = ProviderBinance
	if _, err := New(ctx, cfg, zerolog.Nop()); err == nil {
		t.Fatalf("binance provider without keys must fail")
	}

	cfg.Exchange = config.Exchange{Provider: ProviderBinance, APIKey: "k", APISecret: "s"}
	if gw, err := New(ctx, cfg, zerolog.Nop()); err != nil {
		t.Fatalf("binance provider returned error: %v", err)
	} else if _, ok := gw.(*Binance); !ok {
		t.Fatalf("expected binance gateway, got %T", gw)
	}

	cfg.Exchange.Provider = "kraken"
	if _, err := New(ctx, cfg, zerolog.Nop()); err == nil {
		t.Fatalf("unknown provider must fail")
	}
}
