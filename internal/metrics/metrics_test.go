package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTimerObserveDuration(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_duration_seconds",
		Help: "test",
	})

	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer.ObserveDuration(h)

	if got := testutil.CollectAndCount(h); got != 1 {
		t.Errorf("expected one histogram series, got %d", got)
	}
	if timer.Duration() < 5*time.Millisecond {
		t.Errorf("duration too small: %v", timer.Duration())
	}
}

func TestCountersAreRegistered(t *testing.T) {
	CommandsTotal.WithLabelValues("succeeded").Inc()
	if got := testutil.ToFloat64(CommandsTotal.WithLabelValues("succeeded")); got < 1 {
		t.Errorf("expected counter >= 1, got %v", got)
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "kubinaut_commands_total") {
		t.Error("metrics endpoint does not expose kubinaut_commands_total")
	}
}
