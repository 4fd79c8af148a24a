package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WebhookRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_requests_total", Help: "Inbound webhook requests by outcome"},
		[]string{"outcome"},
	)
	AuthRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "auth_rejections_total", Help: "Signals rejected by authentication"},
		[]string{"reason"},
	)
	FilterDeclines = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "filter_declines_total", Help: "Entry signals declined by a risk filter"},
		[]string{"filter"},
	)
	TradeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trade_events_total", Help: "Audit events emitted"},
		[]string{"type", "symbol"},
	)
	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notifications_total", Help: "Notification attempts by result"},
		[]string{"result"},
	)
	DownstreamFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "downstream_failures_total", Help: "Failed persistence or notification calls"},
		[]string{"sink"},
	)
	ReplayCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "replay_cache_size", Help: "Nonces currently tracked by the replay guard"},
	)
	StreamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "stream_clients", Help: "Connected event stream subscribers"},
	)
)

func init() {
	prometheus.MustRegister(WebhookRequests, AuthRejections, FilterDeclines, TradeEvents)
	prometheus.MustRegister(Notifications, DownstreamFailures, ReplayCacheSize, StreamClients)
}

// Handler exposes the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// Serve starts a dedicated /metrics listener in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
