package service

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the engine's Prometheus surface, served on the admin port.
// Own registry per instance so tests never collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	Opens         *prometheus.CounterVec
	Closes        *prometheus.CounterVec
	BlockedOpens  *prometheus.CounterVec
	UsedMargin    *prometheus.GaugeVec
	OpenSlots     *prometheus.GaugeVec
	ProfitBalance prometheus.Gauge
	SessionPnL    prometheus.Gauge
	LastTickUnix  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Opens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "perp_bot",
				Name:      "opens_total",
				Help:      "Positions opened",
			},
			[]string{"side"},
		),
		Closes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "perp_bot",
				Name:      "closes_total",
				Help:      "Positions closed, split by exit reason",
			},
			[]string{"side", "reason"},
		),
		BlockedOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "perp_bot",
				Name:      "blocked_opens_total",
				Help:      "Open attempts rejected by the guardian rule-set",
			},
			[]string{"side", "rule"},
		),
		UsedMargin: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "perp_bot",
				Name:      "used_margin_usdt",
				Help:      "Margin locked in open positions",
			},
			[]string{"side"},
		),
		OpenSlots: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "perp_bot",
				Name:      "open_slots",
				Help:      "Open logical positions",
			},
			[]string{"side"},
		),
		ProfitBalance: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "perp_bot",
				Name:      "profit_balance_usdt",
				Help:      "Profit swept to the profit balance",
			},
		),
		SessionPnL: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "perp_bot",
				Name:      "session_pnl_usdt",
				Help:      "Realized session PnL",
			},
		),
		LastTickUnix: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "perp_bot",
				Name:      "last_tick_unix_seconds",
				Help:      "Timestamp of the last processed tick",
			},
		),
	}

	m.registry.MustRegister(
		m.Opens, m.Closes, m.BlockedOpens,
		m.UsedMargin, m.OpenSlots,
		m.ProfitBalance, m.SessionPnL, m.LastTickUnix,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
