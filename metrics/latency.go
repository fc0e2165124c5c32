package metrics

import (
	"maps"
	"sync"
	"time"
)

// ModelLatency summarises the inference calls of one model.
type ModelLatency struct {
	// EWMA of inference time in milliseconds.
	EWMAms float64 `json:"ewma_ms"`

	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`

	// Outcomes counts calls per result state ("succeeded", "failed", ...).
	Outcomes map[string]uint64 `json:"outcomes"`

	Last   time.Duration `json:"last"`
	LastAt time.Time     `json:"last_at"`
}

func (m ModelLatency) clone() ModelLatency {
	m.Outcomes = maps.Clone(m.Outcomes)
	return m
}

type LatencyTracker struct {
	mu     sync.RWMutex
	alpha  float64
	models map[string]*ModelLatency
}

// NewLatencyTracker creates a tracker with EWMA smoothing factor alpha.
// Values outside (0,1) fall back to 0.2.
func NewLatencyTracker(alpha float64) *LatencyTracker {
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.2
	}
	return &LatencyTracker{
		alpha:  alpha,
		models: map[string]*ModelLatency{},
	}
}

// Observe records one inference call of model that ended with outcome.
func (t *LatencyTracker) Observe(model, outcome string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	ms := float64(d.Microseconds()) / 1000
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.models[model]
	if m == nil {
		m = &ModelLatency{Outcomes: map[string]uint64{}, Min: d, Max: d, EWMAms: ms}
		t.models[model] = m
	} else {
		m.EWMAms = (t.alpha * ms) + ((1.0 - t.alpha) * m.EWMAms)
		m.Min = min(m.Min, d)
		m.Max = max(m.Max, d)
	}

	m.Count++
	m.Outcomes[outcome]++
	m.Last = d
	m.LastAt = now
}

func (t *LatencyTracker) Get(model string) (ModelLatency, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m := t.models[model]
	if m == nil {
		return ModelLatency{}, false
	}
	return m.clone(), true
}

func (t *LatencyTracker) Snapshot() map[string]ModelLatency {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]ModelLatency, len(t.models))
	for k, v := range t.models {
		out[k] = v.clone()
	}
	return out
}
