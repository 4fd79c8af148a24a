package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestServeRegistersMetrics(t *testing.T) {
	srv := Serve(":0")
	defer srv.Close()

	AuthRejections.WithLabelValues("bad_signature").Inc()

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "auth_rejections_total" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("auth_rejections_total metric not found")
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	TradeEvents.WithLabelValues("ENTRY", "BTCUSDT").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `trade_events_total{symbol="BTCUSDT",type="ENTRY"}`) {
		t.Fatalf("expected trade_events_total in exposition")
	}
}
