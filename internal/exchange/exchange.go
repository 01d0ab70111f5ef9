// Package exchange hosts the venue gateways the trading engine runs against.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"spreadbot-go/internal/config"
	"spreadbot-go/internal/execution"
	"spreadbot-go/internal/paper"
)

const (
	// ProviderPaper fills orders against an in-memory account.
	ProviderPaper = "paper"
	// ProviderBinance trades Binance spot against USDⓈ-M perpetuals.
	ProviderBinance = "binance"

	// PriceSourceStub drives paper fills with a seeded random walk.
	PriceSourceStub = "stub"
	// PriceSourceBinance drives paper fills with live public Binance prices.
	PriceSourceBinance = "binance"
)

// New builds the gateway cfg.Exchange.Provider selects. Streams it starts stop with ctx.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (execution.Gateway, error) {
	provider := strings.ToLower(cfg.Exchange.Provider)
	if provider == "" {
		provider = ProviderPaper
	}
	switch provider {
	case ProviderBinance:
		if cfg.Exchange.APIKey == "" || cfg.Exchange.APISecret == "" {
			return nil, fmt.Errorf("binance provider needs %s and %s", config.EnvAPIKey, config.EnvAPISecret)
		}
		return newBinance(ctx, cfg, cfg.Exchange.APIKey, cfg.Exchange.APISecret, log), nil
	case ProviderPaper:
		var quotes paper.Quotes
		switch strings.ToLower(cfg.Paper.PriceSource) {
		case PriceSourceBinance:
			quotes = newBinance(ctx, cfg, "", "", log)
		case "", PriceSourceStub:
			quotes = paper.NewWalk(time.Now().UnixNano())
		default:
			return nil, fmt.Errorf("unknown paper.price_source %q", cfg.Paper.PriceSource)
		}
		account := paper.NewAccount(cfg.Paper.StartingCash)
		return paper.NewVenue(quotes, account, log,
			paper.WithSlippageBps(cfg.Paper.SlippageBps),
			paper.WithMaxOrderNotional(cfg.Paper.MaxOrderNotional),
		), nil
	default:
		return nil, fmt.Errorf("unknown exchange provider %q", cfg.Exchange.Provider)
	}
}

func newBinance(ctx context.Context, cfg *config.Config, key, secret string, log zerolog.Logger) *Binance {
	ex := cfg.Exchange
	opts := []BinanceOption{
		WithRateLimit(ex.RequestsPerSecond, ex.Burst),
		WithQuantityPrecision(ex.QuantityPrecision),
		WithBaseURLs(ex.SpotBaseURL, ex.FuturesBaseURL),
	}
	if ex.MarkStream {
		stream := NewMarkStream(ex.MarkStreamURL, ex.Testnet, cfg.Strategy.Instruments, log)
		go func() {
			if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("mark stream stopped")
			}
		}()
		opts = append(opts, WithMarkStream(stream))
	}
	return NewBinance(key, secret, ex.Testnet, log, opts...)
}
