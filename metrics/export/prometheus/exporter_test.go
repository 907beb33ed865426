package prometheus

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lfajardo/stepauth"
)

type fakeSource struct {
	snap    stepauth.MetricsSnapshot
	dropped uint64
}

func (f *fakeSource) MetricsSnapshot() stepauth.MetricsSnapshot { return f.snap }
func (f *fakeSource) AuditDropped() uint64                      { return f.dropped }

func testSource() *fakeSource {
	return &fakeSource{
		snap: stepauth.MetricsSnapshot{
			Counters: map[string]uint64{
				"login_success_total": 7,
				"token_issued_total":  14,
			},
			ValidateLatencyMs: map[string]uint64{
				"le_5":   3,
				"le_10":  1,
				"le_inf": 2,
			},
		},
		dropped: 5,
	}
}

func TestRenderCounters(t *testing.T) {
	out := string(Render(testSource()))

	for _, line := range []string{
		"# TYPE stepauth_login_success_total counter",
		"stepauth_login_success_total 7",
		"stepauth_token_issued_total 14",
		"stepauth_audit_dropped_total 5",
		"stepauth_validate_failure_total 0",
	} {
		if !strings.Contains(out, line) {
			t.Errorf("exposition missing %q:\n%s", line, out)
		}
	}
}

func TestRenderHistogramIsCumulative(t *testing.T) {
	out := string(Render(testSource()))

	for _, line := range []string{
		`stepauth_validate_latency_ms_bucket{le="5"} 3`,
		`stepauth_validate_latency_ms_bucket{le="10"} 4`,
		`stepauth_validate_latency_ms_bucket{le="500"} 4`,
		`stepauth_validate_latency_ms_bucket{le="+Inf"} 6`,
		"stepauth_validate_latency_ms_count 6",
	} {
		if !strings.Contains(out, line) {
			t.Errorf("exposition missing %q:\n%s", line, out)
		}
	}
}

func TestHandlerContentType(t *testing.T) {
	rr := httptest.NewRecorder()
	Handler(testSource()).ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	if got := rr.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("unexpected content type %q", got)
	}
	if rr.Body.Len() == 0 {
		t.Fatal("empty exposition")
	}
}
