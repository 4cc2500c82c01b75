package btree

import (
	"fmt"
	"sort"
	"time"

	gometrics "github.com/hashicorp/go-metrics"
)

// Metrics counts the block allocations, cache hits/misses, write-backs
// of dirty nodes (on eviction or flush), and node splits performed
// during a single command invocation. It is
// deliberately per-instance rather than the library's process-global
// default: a one-shot command has no business mutating global state that
// might be shared with another command running in the same test binary.
type Metrics struct {
	sink *gometrics.InmemSink
	m    *gometrics.Metrics
}

// NewMetrics builds a fresh, isolated metrics sink.
func NewMetrics() (*Metrics, error) {
	sink := gometrics.NewInmemSink(time.Hour, time.Hour)
	conf := gometrics.DefaultConfig("idxtree")
	conf.EnableHostname = false
	conf.EnableRuntimeMetrics = false
	conf.TimerGranularity = time.Millisecond
	m, err := gometrics.New(conf, sink)
	if err != nil {
		return nil, fmt.Errorf("btree: init metrics: %w", err)
	}
	return &Metrics{sink: sink, m: m}, nil
}

func (s *Metrics) incr(name string) {
	if s == nil {
		return
	}
	s.m.IncrCounter([]string{name}, 1)
}

// Summary renders the counters accumulated so far as stable, sorted
// "name=count" lines, for the CLI's -stats trailer.
func (s *Metrics) Summary() []string {
	if s == nil {
		return nil
	}
	data := s.sink.Data()
	counts := map[string]float64{}
	for _, interval := range data {
		interval.Lock()
		for name, v := range interval.Counters {
			counts[v.Name] += v.Sum
			_ = name
		}
		interval.Unlock()
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("%s=%d", name, int64(counts[name])))
	}
	return lines
}
