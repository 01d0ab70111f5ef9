package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"spreadbot-go/internal/execution"
)

const (
	defaultQuantityPrecision = 3
	defaultRequestsPerSecond = 10
	defaultBurst             = 10
)

// quote assets stripped to find the base asset of a spot symbol, longest first.
var quoteAssets = []string{"FDUSD", "USDT", "USDC", "BUSD", "TUSD", "BTC", "ETH", "BNB"}

// Binance trades spot as the cash venue and USDⓈ-M perpetuals as the derivative venue.
type Binance struct {
	spot      *binance.Client
	futures   *futures.Client
	limiter   *rate.Limiter
	marks     *MarkStream
	precision int32
	log       zerolog.Logger
}

// BinanceOption configures the gateway.
type BinanceOption func(*Binance)

// WithRateLimit throttles every REST call.
func WithRateLimit(rps float64, burst int) BinanceOption {
	return func(b *Binance) {
		if rps <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMarkStream serves derivative marks from a websocket cache when fresh.
func WithMarkStream(m *MarkStream) BinanceOption {
	return func(b *Binance) { b.marks = m }
}

// WithQuantityPrecision sets the decimals order quantities are truncated to.
func WithQuantityPrecision(p int32) BinanceOption {
	return func(b *Binance) {
		if p > 0 {
			b.precision = p
		}
	}
}

// WithBaseURLs points the REST clients at alternative hosts.
func WithBaseURLs(spotURL, futuresURL string) BinanceOption {
	return func(b *Binance) {
		if spotURL != "" {
			b.spot.BaseURL = strings.TrimSuffix(spotURL, "/")
		}
		if futuresURL != "" {
			b.futures.BaseURL = strings.TrimSuffix(futuresURL, "/")
		}
	}
}

// NewBinance builds spot and futures clients. Empty keys are fine for price queries.
func NewBinance(apiKey, apiSecret string, testnet bool, log zerolog.Logger, opts ...BinanceOption) *Binance {
	binance.UseTestnet = testnet
	futures.UseTestnet = testnet

	httpClient := &http.Client{Timeout: 10 * time.Second}
	spot := binance.NewClient(apiKey, apiSecret)
	spot.HTTPClient = httpClient
	fut := futures.NewClient(apiKey, apiSecret)
	fut.HTTPClient = httpClient

	b := &Binance{
		spot:      spot,
		futures:   fut,
		limiter:   rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), defaultBurst),
		precision: defaultQuantityPrecision,
		log:       log.With().Str("provider", ProviderBinance).Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CashPrice returns the last spot trade price.
func (b *Binance) CashPrice(ctx context.Context, symbol string) (float64, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	prices, err := b.spot.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("spot price %s: %w", symbol, venueError(err))
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			return parsePrice(p.Price)
		}
	}
	return 0, fmt.Errorf("spot price %s: symbol missing from response", symbol)
}

// DerivativeMarkPrice returns the perpetual mark price, from the stream when it is fresh.
func (b *Binance) DerivativeMarkPrice(ctx context.Context, symbol string) (float64, error) {
	if b.marks != nil {
		if px, ok := b.marks.Price(symbol); ok {
			return px, nil
		}
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	idx, err := b.futures.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("mark price %s: %w", symbol, venueError(err))
	}
	for _, p := range idx {
		if p.Symbol == symbol {
			return parsePrice(p.MarkPrice)
		}
	}
	return 0, fmt.Errorf("mark price %s: symbol missing from response", symbol)
}

// PlaceCashOrder sends a spot market order.
func (b *Binance) PlaceCashOrder(ctx context.Context, symbol string, side execution.Side, qty float64) error {
	q, err := b.quantity(qty)
	if err != nil {
		return err
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	id := clientOrderID()
	res, err := b.spot.NewCreateOrderService().
		Symbol(symbol).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeMarket).
		Quantity(q).
		NewClientOrderID(id).
		Do(ctx)
	if err != nil {
		return venueError(err)
	}
	b.log.Info().Str("sym", symbol).Str("side", string(side)).Str("qty", q).Str("client_id", id).
		Str("status", string(res.Status)).Msg("spot order placed")
	return nil
}

// PlaceDerivativeOrder sends a perpetual market order.
func (b *Binance) PlaceDerivativeOrder(ctx context.Context, symbol string, side execution.Side, qty float64, reduceOnly bool) error {
	q, err := b.quantity(qty)
	if err != nil {
		return err
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	id := clientOrderID()
	res, err := b.futures.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(q).
		ReduceOnly(reduceOnly).
		NewClientOrderID(id).
		Do(ctx)
	if err != nil {
		return venueError(err)
	}
	b.log.Info().Str("sym", symbol).Str("side", string(side)).Str("qty", q).Bool("reduce_only", reduceOnly).
		Str("client_id", id).Str("status", string(res.Status)).Msg("futures order placed")
	return nil
}

// CashPosition returns free plus locked balance of the symbol's base asset.
func (b *Binance) CashPosition(ctx context.Context, symbol string) (float64, error) {
	asset := BaseAsset(symbol)
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	acct, err := b.spot.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("spot account: %w", venueError(err))
	}
	for _, bal := range acct.Balances {
		if bal.Asset != asset {
			continue
		}
		free, err := strconv.ParseFloat(bal.Free, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %s free balance: %w", asset, err)
		}
		locked, err := strconv.ParseFloat(bal.Locked, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %s locked balance: %w", asset, err)
		}
		return free + locked, nil
	}
	return 0, nil
}

// DerivativePosition returns the signed perpetual position.
func (b *Binance) DerivativePosition(ctx context.Context, symbol string) (float64, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	risks, err := b.futures.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("position risk: %w", venueError(err))
	}
	var total float64
	for _, r := range risks {
		if r.Symbol != symbol {
			continue
		}
		amt, err := strconv.ParseFloat(r.PositionAmt, 64)
		if err != nil {
			return 0, fmt.Errorf("parse position amount %q: %w", r.PositionAmt, err)
		}
		total += amt
	}
	return total, nil
}

// SetLeverage applies the initial leverage for the perpetual.
func (b *Binance) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := b.futures.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx); err != nil {
		return fmt.Errorf("set leverage %s: %w", symbol, venueError(err))
	}
	return nil
}

// quantity truncates to the configured precision; a quantity that truncates to zero fails the lot filter.
func (b *Binance) quantity(qty float64) (string, error) {
	q := FormatQuantity(qty, b.precision)
	if q == "0" {
		return "", &execution.VenueError{Code: execution.CodeFilterFailure, Message: fmt.Sprintf("quantity %g below lot precision", qty)}
	}
	return q, nil
}

// FormatQuantity truncates qty to precision decimals without float formatting artifacts.
func FormatQuantity(qty float64, precision int32) string {
	return decimal.NewFromFloat(qty).Truncate(precision).String()
}

// BaseAsset strips the quote asset from a spot symbol.
func BaseAsset(symbol string) string {
	symbol = strings.ToUpper(symbol)
	for _, quote := range quoteAssets {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return strings.TrimSuffix(symbol, quote)
		}
	}
	return symbol
}

func clientOrderID() string {
	return "sb" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func venueError(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &execution.VenueError{Code: int(apiErr.Code), Message: apiErr.Message}
	}
	return err
}

func parsePrice(s string) (float64, error) {
	px, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", s, err)
	}
	if px <= 0 {
		return 0, fmt.Errorf("non-positive price %q", s)
	}
	return px, nil
}
