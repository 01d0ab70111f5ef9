package execution

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"spreadbot-go/internal/metrics"
	"spreadbot-go/internal/position"
)

const (
	defaultMaxRetries    = 3
	defaultRetryDelay    = time.Second
	defaultFlatTolerance = 1e-6
)

// Executor places both legs of a spread with bounded retry-with-shrink per leg.
// It never unwinds a half-filled pair itself; callers decide how to recover.
type Executor struct {
	gw         Gateway
	log        zerolog.Logger
	maxRetries int
	retryDelay time.Duration
	flatTol    float64
	classify   Classifier
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxRetries bounds the attempts per leg.
func WithMaxRetries(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

// WithRetryDelay sets the pause between attempts on a transient rejection.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Executor) {
		if d >= 0 {
			e.retryDelay = d
		}
	}
}

// WithFlatTolerance sets the quantity below which a venue position counts as flat.
func WithFlatTolerance(tol float64) Option {
	return func(e *Executor) {
		if tol > 0 {
			e.flatTol = tol
		}
	}
}

// WithClassifier swaps the venue code classifier.
func WithClassifier(c Classifier) Option {
	return func(e *Executor) {
		if c != nil {
			e.classify = c
		}
	}
}

// NewExecutor wraps a gateway.
func NewExecutor(gw Gateway, log zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{
		gw:         gw,
		log:        log,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		flatTol:    defaultFlatTolerance,
		classify:   DefaultClassifier,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FlatTolerance returns the configured flat threshold.
func (e *Executor) FlatTolerance() float64 { return e.flatTol }

func entrySides(side position.Side) (cash, derivative Side) {
	if side == position.Short {
		return Sell, Buy
	}
	return Buy, Sell
}

// Open places the entry legs for a spread of qty.
func (e *Executor) Open(ctx context.Context, symbol string, side position.Side, qty float64) Report {
	cashSide, derivativeSide := entrySides(side)
	return Report{
		Symbol:     symbol,
		Cash:       e.cashLeg(ctx, symbol, cashSide, qty),
		Derivative: e.derivativeLeg(ctx, symbol, derivativeSide, qty, false),
	}
}

// Close places the exit legs for a spread of qty; the derivative leg is reduce-only.
func (e *Executor) Close(ctx context.Context, symbol string, side position.Side, qty float64) Report {
	cashSide, derivativeSide := entrySides(side)
	return Report{
		Symbol:     symbol,
		Cash:       e.cashLeg(ctx, symbol, cashSide.Opposite(), qty),
		Derivative: e.derivativeLeg(ctx, symbol, derivativeSide.Opposite(), qty, true),
	}
}

// FlattenCash sells (or buys back) whatever the cash venue holds and reports whether it is now flat.
func (e *Executor) FlattenCash(ctx context.Context, symbol string) (bool, error) {
	qty, err := e.gw.CashPosition(ctx, symbol)
	if err != nil {
		return false, fmt.Errorf("cash position: %w", err)
	}
	if math.Abs(qty) <= e.flatTol {
		return true, nil
	}
	side := Sell
	if qty < 0 {
		side = Buy
	}
	if leg := e.cashLeg(ctx, symbol, side, math.Abs(qty)); !leg.OK() {
		return false, leg.err()
	}
	qty, err = e.gw.CashPosition(ctx, symbol)
	if err != nil {
		return false, fmt.Errorf("cash position after close: %w", err)
	}
	return math.Abs(qty) <= e.flatTol, nil
}

// FlattenDerivative reduces the derivative position to zero and reports whether it is now flat.
func (e *Executor) FlattenDerivative(ctx context.Context, symbol string) (bool, error) {
	qty, err := e.gw.DerivativePosition(ctx, symbol)
	if err != nil {
		return false, fmt.Errorf("derivative position: %w", err)
	}
	if math.Abs(qty) <= e.flatTol {
		return true, nil
	}
	side := Sell
	if qty < 0 {
		side = Buy
	}
	leg := e.derivativeLeg(ctx, symbol, side, math.Abs(qty), true)
	if !leg.OK() {
		return false, leg.err()
	}
	if leg.AlreadyFlat {
		return true, nil
	}
	qty, err = e.gw.DerivativePosition(ctx, symbol)
	if err != nil {
		return false, fmt.Errorf("derivative position after close: %w", err)
	}
	return math.Abs(qty) <= e.flatTol, nil
}

func (e *Executor) cashLeg(ctx context.Context, symbol string, side Side, qty float64) Leg {
	return e.runLeg(ctx, symbol, Cash, side, qty, func(q float64) error {
		return e.gw.PlaceCashOrder(ctx, symbol, side, q)
	})
}

func (e *Executor) derivativeLeg(ctx context.Context, symbol string, side Side, qty float64, reduceOnly bool) Leg {
	return e.runLeg(ctx, symbol, Derivative, side, qty, func(q float64) error {
		return e.gw.PlaceDerivativeOrder(ctx, symbol, side, q, reduceOnly)
	})
}

// runLeg places one order, halving the quantity after each transient rejection.
func (e *Executor) runLeg(ctx context.Context, symbol string, venue Venue, side Side, qty float64, place func(float64) error) Leg {
	leg := Leg{Venue: venue, Side: side, Requested: qty}
	log := e.log.With().Str("sym", symbol).Str("venue", string(venue)).Str("side", string(side)).Logger()

	current := qty
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		leg.Attempts = attempt
		metrics.OrdersTotal.WithLabelValues(symbol, string(venue), string(side)).Inc()
		err := place(current)
		if err == nil {
			leg.Outcome = Filled
			leg.Filled = current
			log.Info().Float64("qty", current).Int("attempt", attempt).Msg("leg filled")
			return leg
		}

		leg.Reason = err.Error()
		switch Classify(err, e.classify) {
		case AlreadyFlat:
			leg.Outcome = Filled
			leg.AlreadyFlat = true
			log.Warn().Err(err).Msg("reduce-only rejected, leg already flat")
			return leg
		case Transient:
			metrics.OrderRetriesTotal.WithLabelValues(symbol, string(venue)).Inc()
			log.Warn().Err(err).Float64("qty", current).Int("attempt", attempt).Int("max", e.maxRetries).Msg("transient rejection, shrinking order")
			current /= 2
			if attempt == e.maxRetries {
				break
			}
			if err := sleepCtx(ctx, e.retryDelay); err != nil {
				leg.Outcome = Aborted
				leg.Reason = err.Error()
				metrics.LegFailuresTotal.WithLabelValues(symbol, string(venue), string(leg.Outcome)).Inc()
				return leg
			}
		default:
			leg.Outcome = Aborted
			metrics.LegFailuresTotal.WithLabelValues(symbol, string(venue), string(leg.Outcome)).Inc()
			log.Error().Err(err).Msg("leg aborted")
			return leg
		}
	}

	leg.Outcome = Rejected
	leg.Reason = fmt.Sprintf("retries exhausted: %s", leg.Reason)
	metrics.LegFailuresTotal.WithLabelValues(symbol, string(venue), string(leg.Outcome)).Inc()
	log.Error().Int("attempts", leg.Attempts).Msg("leg gave up after retries")
	return leg
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
