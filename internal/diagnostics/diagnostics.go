// ABOUTME: Diagnostics sinks for the capture engine
// ABOUTME: Zerolog-backed session logging plus an in-memory histogram registry
package diagnostics

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry accumulates histogram samples in memory, keyed by name. It backs
// the Sink and is also usable directly in tests to assert what a session
// reported.
type Registry struct {
	mu      sync.Mutex
	samples map[string][]int64
}

func NewRegistry() *Registry {
	return &Registry{samples: make(map[string][]int64)}
}

// Record appends one sample to the named histogram.
func (r *Registry) Record(name string, sample int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[name] = append(r.samples[name], sample)
}

// Samples returns a copy of the named histogram's samples.
func (r *Registry) Samples(name string) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.samples[name]
	out := make([]int64, len(s))
	copy(out, s)
	return out
}

// Count returns the number of samples recorded under name.
func (r *Registry) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples[name])
}

// Sink routes engine diagnostics to a zerolog logger and a Registry. It
// satisfies the capture package's Diagnostics interface.
type Sink struct {
	logger   zerolog.Logger
	registry *Registry
}

// NewSink builds a sink writing prose lines to logger and samples to
// registry. A nil registry gets a private one.
func NewSink(logger zerolog.Logger, registry *Registry) *Sink {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Sink{logger: logger, registry: registry}
}

// LogMessage emits one session log line.
func (s *Sink) LogMessage(msg string) {
	s.logger.Info().Str("source", "capture").Msg(msg)
}

// Report records one histogram sample.
func (s *Sink) Report(name string, sample int64) {
	s.registry.Record(name, sample)
	s.logger.Debug().Str("histogram", name).Int64("sample", sample).Msg("histogram sample")
}

// Registry exposes the backing sample store.
func (s *Sink) Registry() *Registry {
	return s.registry
}
