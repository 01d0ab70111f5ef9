// Package engine runs one trading loop per instrument and supervises them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spreadbot-go/internal/config"
	"spreadbot-go/internal/execution"
	"spreadbot-go/internal/journal"
	"spreadbot-go/internal/metrics"
	"spreadbot-go/internal/position"
	"spreadbot-go/internal/risk"
	"spreadbot-go/internal/signal"
	"spreadbot-go/internal/strategy"
)

// ErrLiquidationFailed is the hard alarm raised when an instrument cannot be flattened.
var ErrLiquidationFailed = errors.New("liquidation failed")

const (
	defaultLiquidationAttempts   = 5
	defaultLiquidationBackoff    = 500 * time.Millisecond
	defaultLiquidationMaxBackoff = 8 * time.Second
	defaultPollInterval          = time.Second
	defaultQuantityPrecision     = 3
)

// WorkerConfig is the per-instrument slice of the application config.
type WorkerConfig struct {
	Symbol                string
	CapitalPerTrade       float64
	Leverage              int
	QuantityPrecision     int32
	PollInterval          time.Duration
	MinTradeInterval      time.Duration
	OrderTimeout          time.Duration
	LiquidationAttempts   int
	LiquidationBackoff    time.Duration
	LiquidationMaxBackoff time.Duration
	FlattenOnStart        bool
	Limits                risk.Limits
}

// WorkerConfigFromConfig extracts the settings for symbol.
func WorkerConfigFromConfig(cfg *config.Config, symbol string) WorkerConfig {
	return WorkerConfig{
		Symbol:                symbol,
		CapitalPerTrade:       cfg.Strategy.CapitalPerTrade,
		Leverage:              cfg.Strategy.Leverage,
		QuantityPrecision:     cfg.Exchange.QuantityPrecision,
		PollInterval:          cfg.Strategy.PollInterval(),
		MinTradeInterval:      cfg.Strategy.MinTradeInterval(),
		OrderTimeout:          cfg.Execution.OrderTimeout(),
		LiquidationAttempts:   cfg.Execution.LiquidationAttempts,
		LiquidationBackoff:    cfg.Execution.LiquidationBackoff(),
		LiquidationMaxBackoff: cfg.Execution.LiquidationMaxBackoff(),
		FlattenOnStart:        cfg.Execution.FlattenOnStart,
		Limits: risk.Limits{
			MaxNotionalPerTrade: cfg.Risk.MaxNotionalPerTrade,
			StopLoss:            cfg.Risk.StopLossThreshold,
		},
	}
}

// NewExecutor builds the order executor described by cfg. The flat tolerance never
// drops below one lot step so dust the venue cannot trade reads as flat.
func NewExecutor(cfg *config.Config, gw execution.Gateway, log zerolog.Logger) *execution.Executor {
	tol := cfg.Execution.FlatTolerance
	if p := cfg.Exchange.QuantityPrecision; p > 0 {
		tol = math.Max(tol, math.Pow10(-int(p)))
	}
	return execution.NewExecutor(gw, log,
		execution.WithMaxRetries(cfg.Execution.MaxRetries),
		execution.WithRetryDelay(cfg.Execution.RetryDelay()),
		execution.WithFlatTolerance(tol),
	)
}

// Deps are the collaborators a worker owns or shares.
type Deps struct {
	Gateway  execution.Gateway
	Executor *execution.Executor
	Model    *strategy.SpreadModel
	Position *position.Manager
	Sink     journal.Sink
	Status   *StatusTable
	Log      zerolog.Logger
	Now      func() time.Time
}

// Worker trades a single instrument. All of its state is private to its goroutine
// except the status entry it publishes.
type Worker struct {
	cfg    WorkerConfig
	gw     execution.Gateway
	exec   *execution.Executor
	model  *strategy.SpreadModel
	pos    *position.Manager
	sink   journal.Sink
	status *StatusTable
	log    zerolog.Logger
	now    func() time.Time

	lastTrade    time.Time
	lastSample   signal.Sample
	lastSignal   signal.Signal
	realized     float64
	trades       int
	liquidations int
	halted       error
}

// NewWorker fills unset dependencies with defaults derived from cfg.
func NewWorker(cfg WorkerConfig, deps Deps) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.QuantityPrecision <= 0 {
		cfg.QuantityPrecision = defaultQuantityPrecision
	}
	if cfg.Leverage < 1 {
		cfg.Leverage = 1
	}
	if cfg.LiquidationAttempts <= 0 {
		cfg.LiquidationAttempts = defaultLiquidationAttempts
	}
	if cfg.LiquidationBackoff <= 0 {
		cfg.LiquidationBackoff = defaultLiquidationBackoff
	}
	if cfg.LiquidationMaxBackoff < cfg.LiquidationBackoff {
		cfg.LiquidationMaxBackoff = max(defaultLiquidationMaxBackoff, cfg.LiquidationBackoff)
	}

	log := deps.Log.With().Str("sym", cfg.Symbol).Logger()
	w := &Worker{
		cfg:    cfg,
		gw:     deps.Gateway,
		exec:   deps.Executor,
		model:  deps.Model,
		pos:    deps.Position,
		sink:   deps.Sink,
		status: deps.Status,
		log:    log,
		now:    deps.Now,
	}
	if w.exec == nil {
		w.exec = execution.NewExecutor(w.gw, log)
	}
	if w.model == nil {
		w.model = strategy.NewSpreadModel(strategy.Params{})
	}
	if w.pos == nil {
		w.pos = position.NewManager(cfg.Symbol, w.model.Params().FeeRate)
	}
	if w.sink == nil {
		w.sink = journal.Discard{}
	}
	if w.status == nil {
		w.status = NewStatusTable([]string{cfg.Symbol})
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w
}

// Symbol returns the instrument this worker trades.
func (w *Worker) Symbol() string { return w.cfg.Symbol }

// Run applies leverage, optionally flattens, then cycles until ctx is cancelled.
// It returns nil on cancellation and an error when the instrument halts.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.gw.SetLeverage(ctx, w.cfg.Symbol, w.cfg.Leverage); err != nil {
		w.log.Warn().Err(err).Int("leverage", w.cfg.Leverage).Msg("set leverage failed")
	}
	if w.cfg.FlattenOnStart {
		if err := w.Liquidate(ctx); err != nil {
			return w.halt(err)
		}
	}

	w.log.Info().Dur("poll", w.cfg.PollInterval).Msg("worker started")
	for {
		if err := w.Step(ctx); err != nil {
			return w.halt(err)
		}
		if err := sleepCtx(ctx, w.cfg.PollInterval); err != nil {
			w.log.Info().Msg("worker stopped")
			return nil
		}
	}
}

// Step runs one fetch, evaluate, act cycle. A non-nil error halts the instrument.
func (w *Worker) Step(ctx context.Context) error {
	sample, err := w.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		metrics.PriceErrorsTotal.WithLabelValues(w.cfg.Symbol).Inc()
		w.log.Warn().Err(err).Msg("price fetch failed")
		w.publish(err.Error())
		return nil
	}
	w.lastSample = sample

	sig := w.model.Observe(sample)
	w.lastSignal = sig
	metrics.SignalsTotal.WithLabelValues(w.cfg.Symbol, sig.Kind.String()).Inc()
	if sig.Ready {
		metrics.ZScore.WithLabelValues(w.cfg.Symbol).Set(sig.Score)
	}

	// Orders already in flight run to completion when ctx is cancelled.
	actx := context.WithoutCancel(ctx)
	var actErr error
	switch {
	case w.pos.IsOpen():
		switch {
		case sig.Kind == signal.ExitSpread:
			actErr = w.closePosition(actx, sample, sig.Reason)
		case sig.Suppressed:
			actErr = w.closePosition(actx, sample, "entry direction disabled")
		case w.cfg.Limits.StopLossHit(w.pos.Unrealized(sample.CashPrice, sample.DerivativePrice)):
			actErr = w.closePosition(actx, sample, "stop loss")
		}
	case sig.Kind.IsEntry():
		if w.cooling() {
			w.log.Debug().Str("signal", sig.Kind.String()).Msg("entry skipped during cooldown")
			w.model.ResetDirection()
			break
		}
		actErr = w.openPosition(actx, sample, sig)
	}

	errText := ""
	if actErr != nil {
		errText = actErr.Error()
	}
	w.publish(errText)
	return actErr
}

func (w *Worker) cooling() bool {
	return !w.lastTrade.IsZero() && w.now().Sub(w.lastTrade) < w.cfg.MinTradeInterval
}

func (w *Worker) fetch(ctx context.Context) (signal.Sample, error) {
	cash, err := w.gw.CashPrice(ctx, w.cfg.Symbol)
	if err != nil {
		return signal.Sample{}, fmt.Errorf("cash price: %w", err)
	}
	deriv, err := w.gw.DerivativeMarkPrice(ctx, w.cfg.Symbol)
	if err != nil {
		return signal.Sample{}, fmt.Errorf("derivative price: %w", err)
	}
	s := signal.Sample{Symbol: w.cfg.Symbol, CashPrice: cash, DerivativePrice: deriv, Ts: w.now()}
	if !s.Valid() {
		return signal.Sample{}, fmt.Errorf("invalid prices cash=%g derivative=%g", cash, deriv)
	}
	metrics.PricesTotal.WithLabelValues(w.cfg.Symbol).Inc()
	return s, nil
}

// size converts the capital budget into a quantity truncated to the lot precision.
func (w *Worker) size(derivativePrice float64) float64 {
	if derivativePrice <= 0 {
		return 0
	}
	return decimal.NewFromFloat(w.cfg.CapitalPerTrade / derivativePrice).
		Truncate(w.cfg.QuantityPrecision).
		InexactFloat64()
}

// tradeContext bounds one round of orders by the order timeout.
func (w *Worker) tradeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.cfg.OrderTimeout > 0 {
		return context.WithTimeout(ctx, w.cfg.OrderTimeout)
	}
	return context.WithCancel(ctx)
}

func (w *Worker) openPosition(ctx context.Context, sample signal.Sample, sig signal.Signal) error {
	side := position.Long
	if sig.Kind == signal.EnterShortSpread {
		side = position.Short
	}
	qty := w.size(sample.DerivativePrice)
	if qty <= 0 {
		w.log.Warn().Float64("capital", w.cfg.CapitalPerTrade).Msg("capital too small for one lot")
		w.model.ResetDirection()
		return nil
	}
	if notional := qty * sample.CashPrice; !w.cfg.Limits.Allow(notional) {
		w.log.Warn().Float64("notional", notional).Float64("max", w.cfg.Limits.MaxNotionalPerTrade).Msg("entry blocked by risk limit")
		w.model.ResetDirection()
		return nil
	}

	tctx, cancel := w.tradeContext(ctx)
	defer cancel()

	w.log.Info().Str("side", string(side)).Float64("qty", qty).Float64("z", sig.Score).Msg("opening spread")
	rep := w.exec.Open(tctx, w.cfg.Symbol, side, qty)
	if !rep.OK() || !rep.Balanced(w.exec.FlatTolerance()) {
		w.log.Error().Err(rep.Err()).Float64("cash_filled", rep.Cash.Filled).Float64("derivative_filled", rep.Derivative.Filled).
			Msg("entry legs inconsistent, liquidating")
		w.model.ResetDirection()
		return w.Liquidate(ctx)
	}

	if err := w.pos.Open(side, sample.CashPrice, sample.DerivativePrice, rep.Size()); err != nil {
		return errors.Join(err, w.Liquidate(ctx))
	}
	w.lastTrade = w.now()
	w.trades++
	metrics.TradesTotal.WithLabelValues(w.cfg.Symbol, "open").Inc()

	pos, _ := w.pos.Current()
	w.sink.Record(journal.NewOpenEvent(w.cfg.Symbol, pos, sig.ExpectedProfit, sig.ExpectedCost, sig.Reason))
	w.log.Info().Str("side", string(side)).Float64("size", pos.Size).Float64("cash_px", pos.CashEntryPrice).
		Float64("derivative_px", pos.DerivativeEntryPrice).Msg("spread opened")
	return nil
}

func (w *Worker) closePosition(ctx context.Context, sample signal.Sample, reason string) error {
	pos, open := w.pos.Current()
	if !open {
		return fmt.Errorf("%s: %w", w.cfg.Symbol, position.ErrNotOpen)
	}

	tctx, cancel := w.tradeContext(ctx)
	defer cancel()

	w.log.Info().Str("side", string(pos.Side)).Float64("size", pos.Size).Str("reason", reason).Msg("closing spread")
	rep := w.exec.Close(tctx, w.cfg.Symbol, pos.Side, pos.Size)
	exit := sample
	if !rep.Complete(w.exec.FlatTolerance()) {
		w.log.Error().Err(rep.Err()).Float64("size", pos.Size).Float64("cash_filled", rep.Cash.Filled).
			Float64("derivative_filled", rep.Derivative.Filled).Msg("exit legs incomplete, liquidating")
		if err := w.Liquidate(ctx); err != nil {
			return err
		}
		reason = "liquidated: " + reason
	} else if fresh, err := w.fetch(tctx); err == nil {
		exit = fresh
	} else {
		w.log.Warn().Err(err).Msg("exit price refresh failed, using cycle prices")
	}
	w.model.ResetDirection()

	res, err := w.pos.Close(exit.CashPrice, exit.DerivativePrice)
	if err != nil {
		return err
	}
	w.lastTrade = w.now()
	w.trades++
	w.realized += res.NetPnL
	metrics.TradesTotal.WithLabelValues(w.cfg.Symbol, "close").Inc()
	metrics.RealizedPnL.WithLabelValues(w.cfg.Symbol).Set(w.realized)
	w.sink.Record(journal.NewCloseEvent(res, reason))
	w.log.Info().Float64("net_pnl", res.NetPnL).Float64("cash_pnl", res.CashPnL).Float64("derivative_pnl", res.DerivativePnL).
		Float64("fee", res.Fee).Dur("holding", res.Holding).Msg("spread closed")
	return nil
}

// Liquidate closes the cash leg and the derivative leg independently, from venue-reported
// holdings, until both read flat. Attempts are bounded with exponential backoff; exhausting
// them returns ErrLiquidationFailed.
func (w *Worker) Liquidate(ctx context.Context) error {
	w.liquidations++
	backoff := w.cfg.LiquidationBackoff
	var lastErr error
	for attempt := 1; attempt <= w.cfg.LiquidationAttempts; attempt++ {
		cashFlat, cashErr := w.exec.FlattenCash(ctx, w.cfg.Symbol)
		derivFlat, derivErr := w.exec.FlattenDerivative(ctx, w.cfg.Symbol)
		if cashFlat && derivFlat {
			metrics.LiquidationsTotal.WithLabelValues(w.cfg.Symbol, "flat").Inc()
			w.log.Info().Int("attempt", attempt).Msg("liquidation complete, venues flat")
			return nil
		}
		lastErr = errors.Join(cashErr, derivErr)
		if lastErr == nil {
			lastErr = fmt.Errorf("cash flat=%v derivative flat=%v", cashFlat, derivFlat)
		}
		w.log.Warn().Err(lastErr).Int("attempt", attempt).Int("max", w.cfg.LiquidationAttempts).Msg("liquidation attempt left exposure")
		if attempt == w.cfg.LiquidationAttempts {
			break
		}
		if err := sleepCtx(ctx, backoff); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
		backoff = min(backoff*2, w.cfg.LiquidationMaxBackoff)
	}
	metrics.LiquidationsTotal.WithLabelValues(w.cfg.Symbol, "failed").Inc()
	w.log.Error().Err(lastErr).Msg("LIQUIDATION FAILED, manual intervention required")
	return fmt.Errorf("%s: %w: %w", w.cfg.Symbol, ErrLiquidationFailed, lastErr)
}

// Shutdown closes any open spread through the normal exit path, then liquidates whatever remains.
// Orders and liquidation backoff both stop at ctx's deadline.
func (w *Worker) Shutdown(ctx context.Context) error {
	var closeErr error
	if w.pos.IsOpen() {
		sample := w.lastSample
		if fresh, err := w.fetch(ctx); err == nil {
			sample = fresh
		}
		closeErr = w.closePosition(ctx, sample, "shutdown")
	}
	err := errors.Join(closeErr, w.Liquidate(ctx))
	w.publish(errString(err))
	return err
}

func (w *Worker) halt(err error) error {
	w.halted = err
	w.log.Error().Err(err).Msg("instrument halted")
	w.publish(err.Error())
	return err
}

// publish replaces this worker's status entry.
func (w *Worker) publish(errText string) {
	st := Status{
		Symbol:          w.cfg.Symbol,
		Position:        "FLAT",
		Signal:          w.lastSignal.Kind.String(),
		ZScore:          w.lastSignal.Score,
		Ready:           w.lastSignal.Ready,
		CashPrice:       w.lastSample.CashPrice,
		DerivativePrice: w.lastSample.DerivativePrice,
		RealizedPnL:     w.realized,
		Trades:          w.trades,
		Liquidations:    w.liquidations,
		Halted:          w.halted != nil,
		Error:           errText,
		UpdatedAt:       w.now(),
	}
	if w.lastSignal.Suppressed {
		st.Signal += " (suppressed)"
	}
	if pos, open := w.pos.Current(); open {
		st.Position = pos.Summary()
		st.UnrealizedPnL = w.pos.Unrealized(w.lastSample.CashPrice, w.lastSample.DerivativePrice)
	}
	w.status.Update(st)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
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
