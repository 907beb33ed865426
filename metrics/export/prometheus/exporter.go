// Package prometheus renders the engine's metrics snapshot in the Prometheus
// text exposition format without depending on the Prometheus client library.
// The snapshot is a handful of counters; hand-rendering keeps the dependency
// surface flat.
package prometheus

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/lfajardo/stepauth"
	"github.com/lfajardo/stepauth/metrics/export/internaldefs"
)

const namespace = "stepauth_"

// Source is the subset of [stepauth.Engine] the exporter reads.
type Source interface {
	MetricsSnapshot() stepauth.MetricsSnapshot
	AuditDropped() uint64
}

// Handler describes the handler operation and its observable behavior.
//
// Handler serves GET requests with the current snapshot; every scrape reads
// fresh counter values.
func Handler(src Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write(Render(src))
	})
}

// Render describes the render operation and its observable behavior.
func Render(src Source) []byte {
	snap := src.MetricsSnapshot()
	var buf bytes.Buffer

	for _, def := range internaldefs.CounterDefs {
		name := namespace + def.Name
		buf.WriteString("# HELP " + name + " " + def.Help + "\n")
		buf.WriteString("# TYPE " + name + " counter\n")
		buf.WriteString(name + " " + strconv.FormatUint(snap.Counters[def.Name], 10) + "\n")
	}

	dropped := namespace + "audit_dropped_total"
	buf.WriteString("# HELP " + dropped + " Audit events dropped because the dispatch buffer was full.\n")
	buf.WriteString("# TYPE " + dropped + " counter\n")
	buf.WriteString(dropped + " " + strconv.FormatUint(src.AuditDropped(), 10) + "\n")

	hist := namespace + internaldefs.ValidateLatencyName
	cumulative, count := internaldefs.CumulativeBuckets(snap.ValidateLatencyMs)
	buf.WriteString("# HELP " + hist + " " + internaldefs.ValidateLatencyHelp + "\n")
	buf.WriteString("# TYPE " + hist + " histogram\n")
	for i, bound := range internaldefs.HistogramBounds {
		buf.WriteString(hist + `_bucket{le="` + strconv.FormatUint(bound, 10) + `"} ` +
			strconv.FormatUint(cumulative[i], 10) + "\n")
	}
	buf.WriteString(hist + `_bucket{le="+Inf"} ` + strconv.FormatUint(count, 10) + "\n")
	// Per-observation sums are not tracked; the sum series is present only
	// to keep the exposition well formed.
	buf.WriteString(hist + "_sum 0\n")
	buf.WriteString(hist + "_count " + strconv.FormatUint(count, 10) + "\n")

	return buf.Bytes()
}
