// Package metrics defines the small capability surface the core calls into
// for counters, gauges, timings and structured logs (spec §4.7). NoopSink
// discards everything; LogSink keeps counters and gauges in memory and
// writes timings and log events through log.Printf, matching the teacher
// ingress service's call sites; operators install a real sink (Prometheus,
// Datadog, ...) at construction.
package metrics

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Level is a structured log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Tags is a small set of dimension labels attached to a metric sample.
type Tags map[string]string

// Sink is the capability surface the Hub and Client core call into.
type Sink interface {
	CounterInc(name string, tags Tags)
	GaugeSet(name string, value float64, tags Tags)
	TimingObserve(name string, duration time.Duration, tags Tags)
	Log(level Level, event string, fields map[string]interface{})
}

// NoopSink discards every call. Useful for tests that don't care about
// observability but still need a non-nil Sink.
type NoopSink struct{}

func (NoopSink) CounterInc(string, Tags)                   {}
func (NoopSink) GaugeSet(string, float64, Tags)            {}
func (NoopSink) TimingObserve(string, time.Duration, Tags) {}
func (NoopSink) Log(Level, string, map[string]interface{}) {}

// LogSink is the default Sink: metrics are kept in an in-memory map (no
// dedicated metrics client library is imported directly by the teacher's own
// source — see DESIGN.md); TimingObserve and Log emit a structured line
// through the standard log package, matching the teacher's log.Printf call
// sites throughout ingress/. CounterInc and GaugeSet do not log.
type LogSink struct {
	mu       sync.Mutex
	counters map[string]float64
	gauges   map[string]float64
}

// NewLogSink constructs the default Sink.
func NewLogSink() *LogSink {
	return &LogSink{
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
	}
}

func (s *LogSink) CounterInc(name string, tags Tags) {
	s.mu.Lock()
	s.counters[name+tagSuffix(tags)]++
	s.mu.Unlock()
}

func (s *LogSink) GaugeSet(name string, value float64, tags Tags) {
	s.mu.Lock()
	s.gauges[name+tagSuffix(tags)] = value
	s.mu.Unlock()
}

func (s *LogSink) TimingObserve(name string, duration time.Duration, tags Tags) {
	log.Printf("timing %s%s=%s", name, tagSuffix(tags), duration)
}

func (s *LogSink) Log(level Level, event string, fields map[string]interface{}) {
	log.Printf("[%s] %s %s", level, event, formatFields(fields))
}

// Snapshot returns a point-in-time copy of every counter and gauge recorded,
// keyed by "name{tag=value,...}". Intended for the health/admin HTTP surface.
func (s *LogSink) Snapshot() (counters, gauges map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counters = make(map[string]float64, len(s.counters))
	for k, v := range s.counters {
		counters[k] = v
	}
	gauges = make(map[string]float64, len(s.gauges))
	for k, v := range s.gauges {
		gauges[k] = v
	}
	return counters, gauges
}

func tagSuffix(tags Tags) string {
	if len(tags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := "{"
	for i, k := range keys {
		if i > 0 {
			out += ","
		}
		out += k + "=" + tags[k]
	}
	return out + "}"
}

func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s=%v", k, fields[k])
	}
	return out
}
