// Package metrics provides a lightweight Prometheus-compatible metrics
// registry for dmq. It deliberately avoids the prometheus/client_golang
// package so the server binary stays small with no additional dependencies.
//
// # Counter naming convention
//
// Every counter uses a tab-separated string as its label key so that a single
// sync.Map can hold all label combinations without additional map nesting.
//
//	Enqueued / Pruned / Retired / QueueDepth  →  key = "channel"
//	Rejected                                   →  key = "channel\treason"
//	HTTPReqs                                   →  key = "method\tpath\tstatus"
//	HTTPDurMs / HTTPDurCnt                     →  key = "method\tpath"
//	BlockNumber / Sessions                     →  key = "" (no labels)
//
// # Prometheus text output
//
// Calling Registry.Handler() returns an http.Handler that renders all counters
// in the Prometheus exposition format (text/plain; version=0.0.4).
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sneh-joshi/dmq/internal/types"
)

// ─── labelCounter ─────────────────────────────────────────────────────────────

// labelCounter is a lock-free, label-keyed counter map backed by sync.Map and
// atomic.Int64 values.
type labelCounter struct {
	vals sync.Map // key string → *atomic.Int64
}

func (lc *labelCounter) get(key string) *atomic.Int64 {
	v, _ := lc.vals.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Inc increments the counter for key by 1.
func (lc *labelCounter) Inc(key string) { lc.get(key).Add(1) }

// Add increments the counter for key by n.
func (lc *labelCounter) Add(key string, n int64) { lc.get(key).Add(n) }

// Set overwrites the value for key. Used for gauges.
func (lc *labelCounter) Set(key string, v int64) { lc.get(key).Store(v) }

// Get returns the current value for key (0 if never touched).
func (lc *labelCounter) Get(key string) int64 {
	v, ok := lc.vals.Load(key)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// Each calls fn for every key/value pair. The order is non-deterministic.
func (lc *labelCounter) Each(fn func(key string, val int64)) {
	lc.vals.Range(func(k, v any) bool {
		fn(k.(string), v.(*atomic.Int64).Load())
		return true
	})
}

// ─── Registry ─────────────────────────────────────────────────────────────────

// Registry holds all dmq application metrics. The zero value is ready to use.
type Registry struct {
	// Queue counters.  key = "channel" unless noted
	Enqueued labelCounter
	Rejected labelCounter // key = "channel\treason"
	Pruned   labelCounter // messages removed by Process
	Retired  labelCounter

	// Queue gauges.
	QueueDepth  labelCounter // key = "channel"
	BlockNumber labelCounter // key = ""
	Sessions    labelCounter // key = ""; counter of session changes

	// HTTP-level counters.  key = "method\tpath\tstatus" (Reqs) or "method\tpath" (Dur*)
	HTTPReqs   labelCounter
	HTTPDurMs  labelCounter // sum of request durations in milliseconds
	HTTPDurCnt labelCounter // number of requests (same key as HTTPDurMs, for avg)
}

// ─── Prometheus text serialisation ────────────────────────────────────────────

// family describes one rendered metric family.
type family struct {
	name, help, typ string
	lc              *labelCounter
	labels          []string
}

func (r *Registry) families() []family {
	return []family{
		{"dmq_messages_enqueued_total", "Total messages enqueued", "counter", &r.Enqueued, []string{"channel"}},
		{"dmq_messages_rejected_total", "Total send or process requests rejected", "counter", &r.Rejected, []string{"channel", "reason"}},
		{"dmq_messages_pruned_total", "Total messages pruned after processing", "counter", &r.Pruned, []string{"channel"}},
		{"dmq_channels_retired_total", "Total channel retirements", "counter", &r.Retired, []string{"channel"}},
		{"dmq_queue_depth", "Messages currently queued per channel", "gauge", &r.QueueDepth, []string{"channel"}},
		{"dmq_block_number", "Current block number of the host", "gauge", &r.BlockNumber, nil},
		{"dmq_sessions_total", "Total session changes", "counter", &r.Sessions, nil},
		{"dmq_http_requests_total", "Total HTTP requests by method, path, and status code", "counter", &r.HTTPReqs, []string{"method", "path", "status"}},
		{"dmq_http_request_duration_milliseconds_sum", "Sum of HTTP request durations in milliseconds", "counter", &r.HTTPDurMs, []string{"method", "path"}},
		{"dmq_http_request_duration_milliseconds_count", "Count of observed HTTP request durations", "counter", &r.HTTPDurCnt, []string{"method", "path"}},
	}
}

// Handler returns an http.Handler that renders all metrics in the Prometheus
// plain-text exposition format (text/plain; version=0.0.4).
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)

		var b strings.Builder
		for _, f := range r.families() {
			writeFamily(&b, f)
		}
		fmt.Fprint(w, b.String())
	})
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// writeFamily writes a single Prometheus metric family to b, lines sorted for
// stable output. Families with no samples are skipped.
func writeFamily(b *strings.Builder, f family) {
	var lines []string
	f.lc.Each(func(key string, val int64) {
		if len(f.labels) == 0 {
			lines = append(lines, fmt.Sprintf("%s %d\n", f.name, val))
			return
		}
		parts := strings.SplitN(key, "\t", len(f.labels))
		pairs := make([]string, len(f.labels))
		for i, l := range f.labels {
			v := ""
			if i < len(parts) {
				v = parts[i]
			}
			pairs[i] = fmt.Sprintf("%s=%q", l, v)
		}
		lines = append(lines, fmt.Sprintf("%s{%s} %d\n", f.name, strings.Join(pairs, ","), val))
	})
	if len(lines) == 0 {
		return
	}
	sort.Strings(lines)
	fmt.Fprintf(b, "# HELP %s %s\n", f.name, f.help)
	fmt.Fprintf(b, "# TYPE %s %s\n", f.name, f.typ)
	for _, l := range lines {
		b.WriteString(l)
	}
}

// ─── Convenience key builders ─────────────────────────────────────────────────

// ChannelKey builds the label key used by Enqueued/Pruned/Retired/QueueDepth.
func ChannelKey(ch types.ChannelID) string {
	return ch.String()
}

// RejectKey builds the label key used by Rejected.
func RejectKey(ch types.ChannelID, reason string) string {
	return ch.String() + "\t" + reason
}

// HTTPKey builds the label key used by HTTPReqs.
func HTTPKey(method, path, status string) string {
	return method + "\t" + path + "\t" + status
}

// HTTPDurKey builds the label key used by HTTPDurMs / HTTPDurCnt.
func HTTPDurKey(method, path string) string {
	return method + "\t" + path
}
