// Package otel bridges the engine's metrics snapshot into an OpenTelemetry
// meter using observable instruments, so any configured OTel reader or
// exporter picks the counters up without polling glue.
package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/lfajardo/stepauth"
	"github.com/lfajardo/stepauth/metrics/export/internaldefs"
)

const namespace = "stepauth_"

// Source is the subset of [stepauth.Engine] the exporter reads.
type Source interface {
	MetricsSnapshot() stepauth.MetricsSnapshot
	AuditDropped() uint64
}

// Register describes the register operation and its observable behavior.
//
// Register may return an error when input validation, dependency calls, or security checks fail.
// It attaches observable counters for every engine metric to the meter and
// returns the registration; callers unregister it during shutdown.
func Register(meter metric.Meter, src Source) (metric.Registration, error) {
	counters := make(map[string]metric.Int64ObservableCounter, len(internaldefs.CounterDefs))
	observables := make([]metric.Observable, 0, len(internaldefs.CounterDefs)+1)

	for _, def := range internaldefs.CounterDefs {
		counter, err := meter.Int64ObservableCounter(
			namespace+def.Name,
			metric.WithDescription(def.Help),
		)
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		counters[def.Name] = counter
		observables = append(observables, counter)
	}

	dropped, err := meter.Int64ObservableCounter(
		namespace+"audit_dropped_total",
		metric.WithDescription("Audit events dropped because the dispatch buffer was full."),
	)
	if err != nil {
		return nil, fmt.Errorf("create counter audit_dropped_total: %w", err)
	}
	observables = append(observables, dropped)

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := src.MetricsSnapshot()
		for name, counter := range counters {
			o.ObserveInt64(counter, int64(snap.Counters[name]))
		}
		o.ObserveInt64(dropped, int64(src.AuditDropped()))
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return reg, nil
}
