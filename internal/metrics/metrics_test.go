package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	return rec.Body.String()
}

func TestRecorderCounters(t *testing.T) {
	m := New()
	m.Joined("core7")
	m.Joined("core7")
	m.CheckIn("core7", "accepted")
	m.CheckIn("core7", "already_checked_in_today")
	m.Completed("core7", 100)

	body := scrape(t, m)
	for _, want := range []string{
		`stride_challenge_joins_total{challenge="core7"} 2`,
		`stride_check_ins_total{challenge="core7",outcome="accepted"} 1`,
		`stride_check_ins_total{challenge="core7",outcome="already_checked_in_today"} 1`,
		`stride_challenge_completions_total{challenge="core7"} 1`,
		`stride_points_awarded_total 100`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %s", want)
		}
	}
}

func TestMiddlewareUsesPattern(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/challenges/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := m.Middleware(mux)

	for _, id := range []string{"a", "b", "c"} {
		req := httptest.NewRequest(http.MethodGet, "/api/challenges/"+id, nil)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	body := scrape(t, m)
	want := `http_requests_total{method="GET",pattern="GET /api/challenges/{id}",status="404"} 3`
	if !strings.Contains(body, want) {
		t.Errorf("missing %s in:\n%s", want, body)
	}
	if strings.Contains(body, `pattern="/api/challenges/a"`) {
		t.Error("raw path leaked into labels")
	}
}
