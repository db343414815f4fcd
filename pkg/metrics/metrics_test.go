package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_IndependentRegistries(t *testing.T) {
	// Two collectors in one process must not collide on registration.
	a := NewCollector("airquality")
	b := NewCollector("airquality")

	a.RecordReject("missing_components")
	a.RecordReject("missing_components")
	b.RecordReject("missing_components")

	if got := testutil.ToFloat64(a.RecordsRejectedTotal.WithLabelValues("missing_components")); got != 2 {
		t.Errorf("a rejects = %v, want 2", got)
	}
	if got := testutil.ToFloat64(b.RecordsRejectedTotal.WithLabelValues("missing_components")); got != 1 {
		t.Errorf("b rejects = %v, want 1", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("airquality")
	c.RecordWrite("csv", 24)
	c.RecordLocation("done")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`airquality_rows_written_total{sink="csv"} 24`,
		`airquality_locations_processed_total{outcome="done"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{200: "2xx", 204: "2xx", 301: "3xx", 401: "4xx", 429: "4xx", 500: "5xx", 503: "5xx"}
	for code, want := range tests {
		if got := StatusClass(code); got != want {
			t.Errorf("StatusClass(%d) = %s, want %s", code, got, want)
		}
	}
}
