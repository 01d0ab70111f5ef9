// Package execution turns open/close decisions into paired cash and derivative orders.
package execution

import (
	"context"
	"errors"
	"fmt"
)

// Side enumerates order directions used by the executor.
type Side string

const (
	// Buy indicates a long order.
	Buy Side = "BUY"
	// Sell indicates a short order.
	Sell Side = "SELL"
)

// Opposite returns the reversing side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Venue names the market a leg trades on.
type Venue string

const (
	// Cash is the spot market.
	Cash Venue = "cash"
	// Derivative is the perpetual/futures market.
	Derivative Venue = "derivative"
)

// Gateway is the venue capability set the engine consumes.
type Gateway interface {
	CashPrice(ctx context.Context, symbol string) (float64, error)
	DerivativeMarkPrice(ctx context.Context, symbol string) (float64, error)
	PlaceCashOrder(ctx context.Context, symbol string, side Side, qty float64) error
	PlaceDerivativeOrder(ctx context.Context, symbol string, side Side, qty float64, reduceOnly bool) error
	// CashPosition returns the base-asset quantity held on the cash venue.
	CashPosition(ctx context.Context, symbol string) (float64, error)
	// DerivativePosition returns the signed derivative position (negative when short).
	DerivativePosition(ctx context.Context, symbol string) (float64, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// VenueError is a rejection reported by a venue, carrying its numeric code.
type VenueError struct {
	Code    int
	Message string
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("venue error %d: %s", e.Code, e.Message)
}

// Rejection codes the default classifier understands (Binance numbering).
const (
	CodeFilterFailure      = -1013 // LOT_SIZE / MIN_NOTIONAL filter
	CodePercentPrice       = -4131 // order price outside the allowed band
	CodeReduceOnlyRejected = -2022 // reduce-only order with nothing to reduce
)

// ErrorClass is the executor's view of a rejection.
type ErrorClass int

const (
	// Fatal aborts the leg without retry.
	Fatal ErrorClass = iota
	// Transient is retried with a smaller quantity.
	Transient
	// AlreadyFlat means a reduce-only close found nothing to close.
	AlreadyFlat
)

func (c ErrorClass) String() string {
	switch c {
	case Transient:
		return "transient"
	case AlreadyFlat:
		return "already_flat"
	default:
		return "fatal"
	}
}

// Classifier maps venue codes onto error classes.
type Classifier func(code int) ErrorClass

// DefaultClassifier classifies Binance spot and futures rejection codes.
func DefaultClassifier(code int) ErrorClass {
	switch code {
	case CodeFilterFailure, CodePercentPrice:
		return Transient
	case CodeReduceOnlyRejected:
		return AlreadyFlat
	default:
		return Fatal
	}
}

// Classify resolves any error returned by a gateway. Errors without a venue code are fatal.
func Classify(err error, classify Classifier) ErrorClass {
	if err == nil {
		return Fatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Fatal
	}
	var venueErr *VenueError
	if errors.As(err, &venueErr) {
		if classify == nil {
			classify = DefaultClassifier
		}
		return classify(venueErr.Code)
	}
	return Fatal
}

// Outcome is how a leg ended.
type Outcome string

const (
	// Filled means the venue accepted the order, possibly at a shrunk quantity.
	Filled Outcome = "FILLED"
	// Rejected means every attempt hit a transient rejection.
	Rejected Outcome = "REJECTED"
	// Aborted means a fatal rejection or a cancelled context stopped the leg.
	Aborted Outcome = "ABORTED"
)

// Leg records one side of a paired order.
type Leg struct {
	Venue       Venue
	Side        Side
	Requested   float64
	Filled      float64
	Attempts    int
	Outcome     Outcome
	AlreadyFlat bool
	Reason      string
}

// OK reports whether the leg succeeded.
func (l Leg) OK() bool { return l.Outcome == Filled }

// Complete reports whether the leg filled its full request within tol. A leg the venue
// reported as already flat is complete.
func (l Leg) Complete(tol float64) bool {
	if !l.OK() {
		return false
	}
	if l.AlreadyFlat {
		return true
	}
	d := l.Requested - l.Filled
	return d <= tol && d >= -tol
}

func (l Leg) err() error {
	if l.OK() {
		return nil
	}
	return fmt.Errorf("%s leg %s after %d attempt(s): %s", l.Venue, l.Outcome, l.Attempts, l.Reason)
}

// Report is the result of a two-leg execution.
type Report struct {
	Symbol     string
	Cash       Leg
	Derivative Leg
}

// OK is true only when both legs succeeded.
func (r Report) OK() bool { return r.Cash.OK() && r.Derivative.OK() }

// Partial is true when exactly one leg succeeded.
func (r Report) Partial() bool { return r.Cash.OK() != r.Derivative.OK() }

// Balanced reports whether both legs filled the same quantity within tol.
func (r Report) Balanced(tol float64) bool {
	d := r.Cash.Filled - r.Derivative.Filled
	return d <= tol && d >= -tol
}

// Complete is true when both legs filled their full request. Exits need this; a
// shrunk but balanced exit still leaves the remainder open on both venues.
func (r Report) Complete(tol float64) bool {
	return r.Cash.Complete(tol) && r.Derivative.Complete(tol)
}

// Size is the hedged quantity: the smaller of the two fills.
func (r Report) Size() float64 {
	if r.Cash.Filled < r.Derivative.Filled {
		return r.Cash.Filled
	}
	return r.Derivative.Filled
}

// Err joins the leg failures, or returns nil when both legs succeeded.
func (r Report) Err() error {
	return errors.Join(r.Cash.err(), r.Derivative.err())
}
