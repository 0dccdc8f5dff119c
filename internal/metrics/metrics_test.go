package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRun(t *testing.T) {
	m := New()
	m.ObserveRun("ct", KindLight, true, nil, 2*time.Second)
	m.ObserveRun("ct", KindLight, true, errors.New("detector timeout"), time.Second)
	m.ObserveRun("dark", KindDark, false, errors.New("shutter stuck"), 0)

	tests := []struct {
		plan, kind, outcome string
		want                float64
	}{
		{"ct", KindLight, "success", 1},
		{"ct", KindLight, "failed", 1},
		{"dark", KindDark, "not_started", 1},
		{"dark", KindDark, "success", 0},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(m.runs.WithLabelValues(tt.plan, tt.kind, tt.outcome))
		if got != tt.want {
			t.Errorf("runs{%s,%s,%s} = %v, want %v", tt.plan, tt.kind, tt.outcome, got, tt.want)
		}
	}
	if n := testutil.CollectAndCount(m.duration); n != 1 {
		t.Errorf("duration series = %d, want 1 (light only)", n)
	}
}

func TestObserveDarkAndNotice(t *testing.T) {
	m := New()
	m.ObserveDark(DarkAcquired)
	m.ObserveDark(DarkReused)
	m.ObserveDark(DarkReused)
	m.ObserveNotice("no_dark")

	if got := testutil.ToFloat64(m.darks.WithLabelValues(DarkReused)); got != 2 {
		t.Errorf("reused = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.darks.WithLabelValues(DarkAcquired)); got != 1 {
		t.Errorf("acquired = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.notices.WithLabelValues("no_dark")); got != 1 {
		t.Errorf("notices = %v, want 1", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveRun("ct", KindLight, true, nil, time.Second)
	m.ObserveDark(DarkMissing)
	m.ObserveNotice("no_dark")
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRun("Tramp", KindLight, true, nil, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`xpd_runs_total{kind="light",outcome="success",plan="Tramp"} 1`,
		"xpd_run_duration_seconds_count",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}
