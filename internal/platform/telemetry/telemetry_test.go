package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHistogram_Observe(t *testing.T) {
	h := newHistogram([]float64{0.1, 1})
	h.Observe(0.0625)
	h.Observe(0.25)
	h.Observe(3)

	if h.Count() != 3 {
		t.Errorf("expected count 3, got %d", h.Count())
	}
	if h.Sum() != 3.3125 {
		t.Errorf("expected sum 3.3125, got %g", h.Sum())
	}
	cum := h.cumulativeBuckets()
	if cum[0] != 1 || cum[1] != 2 {
		t.Errorf("unexpected cumulative buckets %v", cum)
	}
}

func TestJobOutcome_Concurrent(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.JobOutcome("sweep", "default", "updated", 2)
		}()
	}
	wg.Wait()
	m.JobOutcome("sweep", "default", "transient", 0)

	if got := m.JobCount("sweep", "default", "updated"); got != 100 {
		t.Errorf("expected 100, got %d", got)
	}
	if got := m.JobCount("sweep", "default", "transient"); got != 0 {
		t.Errorf("expected zero outcomes to be ignored, got %d", got)
	}
}

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/inpatient-records/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	e.GET("/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "busy")
	})
	e.GET("/metrics", m.Handler())

	for _, path := range []string{"/api/v1/inpatient-records/a", "/api/v1/inpatient-records/b", "/boom"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if h := m.durations[LabelsKey("GET", "/api/v1/inpatient-records/:id", "204")]; h == nil || h.Count() != 2 {
		t.Fatalf("expected 2 observations on the route pattern, got %+v", h)
	}
	if h := m.durations[LabelsKey("GET", "/boom", "409")]; h == nil {
		t.Fatal("expected error status to be recorded")
	}

	m.JobOutcome("sweep", "default", "updated", 3)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`http_server_request_duration_seconds_count{method="GET",route="/api/v1/inpatient-records/:id",status_code="204"} 2`,
		`inpatient_job_outcomes_total{job="sweep",tenant="default",outcome="updated"} 3`,
		"http_server_active_requests 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q\n%s", want, body)
		}
	}
}
