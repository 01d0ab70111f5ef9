package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PricesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "price_samples_total", Help: "Paired price samples fetched"},
		[]string{"symbol"},
	)
	PriceErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "price_errors_total", Help: "Failed price fetches"},
		[]string{"symbol"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Signals emitted by the spread model"},
		[]string{"symbol", "signal"},
	)
	ZScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "spread_zscore", Help: "Latest spread z-score"},
		[]string{"symbol"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Leg orders submitted"},
		[]string{"symbol", "venue", "side"},
	)
	OrderRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "order_retries_total", Help: "Leg retries after transient rejections"},
		[]string{"symbol", "venue"},
	)
	LegFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "leg_failures_total", Help: "Legs that ended rejected or aborted"},
		[]string{"symbol", "venue", "outcome"},
	)
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trades_total", Help: "Spread positions opened or closed"},
		[]string{"symbol", "action"},
	)
	RealizedPnL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "realized_pnl_usd", Help: "Cumulative realized net PnL"},
		[]string{"symbol"},
	)
	LiquidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "liquidations_total", Help: "Liquidate-all runs by result"},
		[]string{"symbol", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		PricesTotal, PriceErrorsTotal, SignalsTotal, ZScore,
		OrdersTotal, OrderRetriesTotal, LegFailuresTotal,
		TradesTotal, RealizedPnL, LiquidationsTotal,
	)
}

// Route mounts an extra handler next to /metrics.
type Route struct {
	Path    string
	Handler http.Handler
}

func Serve(addr string, routes ...Route) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	for _, r := range routes {
		if r.Path == "" || r.Handler == nil {
			continue
		}
		mux.Handle(r.Path, r.Handler)
	}
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
