package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsAreExposed(t *testing.T) {
	m := New()
	m.Mutations.WithLabelValues("task", "update").Inc()
	m.HookFailures.WithLabelValues("cache").Add(2)
	m.CacheResult("projects", true)
	m.CacheResult("projects", false)
	m.CacheResult("projects", false)
	m.Connected.Inc()

	if got := testutil.ToFloat64(m.HookFailures.WithLabelValues("cache")); got != 2 {
		t.Fatalf("hook failures = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CacheRequests.WithLabelValues("projects", "miss")); got != 2 {
		t.Fatalf("cache misses = %v, want 2", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`trello_mutations_total{action="update",entity="task"} 1`,
		`trello_realtime_connections 1`,
		`go_goroutines`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
