package backend

import (
	"time"

	"github.com/dialtone-ai/sentra/internal/model"
)

// Dispatcher resolves a strategy tag to its backend instance. Backends
// are constructed once at startup and shared; every one of them is safe
// for concurrent use.
type Dispatcher struct {
	backends map[model.Strategy]Backend
	minAudio map[model.Strategy]time.Duration
}

// NewDispatcher registers the given backends. The LLM backend is the
// default for unknown strategy tags and must be present.
func NewDispatcher(backends ...Backend) *Dispatcher {
	d := &Dispatcher{
		backends: make(map[model.Strategy]Backend, len(backends)),
		minAudio: map[model.Strategy]time.Duration{
			model.StrategyNative: 1500 * time.Millisecond,
			model.StrategySIP:    2 * time.Second,
			model.StrategyML:     1500 * time.Millisecond,
			model.StrategyLLM:    2 * time.Second,
		},
	}
	for _, b := range backends {
		d.backends[b.Strategy()] = b
	}
	return d
}

// Resolve returns the backend for a strategy tag. Unknown or
// unregistered strategies fall back to the LLM backend.
func (d *Dispatcher) Resolve(tag string) Backend {
	strategy := model.ParseStrategy(tag)
	if b, ok := d.backends[strategy]; ok {
		return b
	}
	return d.backends[model.StrategyLLM]
}

// MinAudio returns the minimum buffered duration before the strategy's
// first analysis fires.
func (d *Dispatcher) MinAudio(strategy model.Strategy) time.Duration {
	if min, ok := d.minAudio[strategy]; ok {
		return min
	}
	return 2 * time.Second
}
