// Package metrics exposes session gauges and counters to Prometheus.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OpenLegs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "legsentinel_open_legs",
		Help: "Number of open legs",
	})
	BookedPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "legsentinel_booked_pnl",
		Help: "Realized PnL of the session",
	})
	MTM = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "legsentinel_mtm",
		Help: "Booked plus unrealized PnL",
	})
	LockLevel = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "legsentinel_lock_level",
		Help: "Current profit lock floor",
	})
	Exits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "legsentinel_exits_total",
		Help: "Closed legs by status",
	}, []string{"reason"})
	Orders = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "legsentinel_orders_total",
		Help: "Orders placed by side and result",
	}, []string{"side", "result"})
	Recoveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "legsentinel_recoveries_total",
		Help: "Recovery requests by outcome",
	}, []string{"outcome"})
	QuoteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "legsentinel_quote_failures_total",
		Help: "Failed price lookups",
	})
)

func init() {
	prometheus.MustRegister(OpenLegs, BookedPnL, MTM, LockLevel, Exits, Orders, Recoveries, QuoteFailures)
}
