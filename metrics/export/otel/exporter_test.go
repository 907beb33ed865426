package otel

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/lfajardo/stepauth"
)

type fakeSource struct {
	snap    stepauth.MetricsSnapshot
	dropped uint64
}

func (f *fakeSource) MetricsSnapshot() stepauth.MetricsSnapshot { return f.snap }
func (f *fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestRegisterObservesSnapshot(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	src := &fakeSource{
		snap: stepauth.MetricsSnapshot{
			Counters: map[string]uint64{
				"login_success_total": 9,
			},
		},
		dropped: 2,
	}

	reg, err := Register(provider.Meter("stepauth-test"), src)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	t.Cleanup(func() { _ = reg.Unregister() })

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}

	values := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				values[m.Name] = dp.Value
			}
		}
	}

	if values["stepauth_login_success_total"] != 9 {
		t.Fatalf("login_success = %d, want 9", values["stepauth_login_success_total"])
	}
	if values["stepauth_audit_dropped_total"] != 2 {
		t.Fatalf("audit_dropped = %d, want 2", values["stepauth_audit_dropped_total"])
	}
	if _, ok := values["stepauth_validate_failure_total"]; !ok {
		t.Fatal("every defined counter must be observed")
	}
}
