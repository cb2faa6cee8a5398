package report

import (
	"sort"
	"sync"
	"time"
)

// Collector accumulates named duration samples during a run. It is safe for
// concurrent use; the orchestrator records step, action and validation
// timings and callers may add their own series through Observe.
type Collector struct {
	mu     sync.Mutex
	series map[string][]time.Duration
}

func NewCollector() *Collector {
	return &Collector{series: make(map[string][]time.Duration)}
}

// Observe records one sample under an arbitrary series name.
func (c *Collector) Observe(series string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.series[series] = append(c.series[series], d)
}

func (c *Collector) ObserveStepDuration(step string, d time.Duration) {
	c.Observe("step/"+step, d)
}

func (c *Collector) ObserveActionLatency(kind string, d time.Duration) {
	c.Observe("action/"+kind, d)
}

func (c *Collector) ObserveValidationWait(step string, d time.Duration) {
	c.Observe("validation/"+step, d)
}

// SeriesSummary aggregates one sample series.
type SeriesSummary struct {
	Name       string  `json:"name"`
	Count      int     `json:"count"`
	MinSeconds float64 `json:"min_seconds"`
	AvgSeconds float64 `json:"avg_seconds"`
	MaxSeconds float64 `json:"max_seconds"`
}

// Summary returns min/avg/max per series, ordered by series name.
func (c *Collector) Summary() []SeriesSummary {
	c.mu.Lock()
	defer c.mu.Unlock()

	summaries := make([]SeriesSummary, 0, len(c.series))
	for name, samples := range c.series {
		if len(samples) == 0 {
			continue
		}
		min, max := samples[0], samples[0]
		var total time.Duration
		for _, sample := range samples {
			if sample < min {
				min = sample
			}
			if sample > max {
				max = sample
			}
			total += sample
		}
		avg := total / time.Duration(len(samples))
		summaries = append(summaries, SeriesSummary{
			Name:       name,
			Count:      len(samples),
			MinSeconds: min.Seconds(),
			AvgSeconds: avg.Seconds(),
			MaxSeconds: max.Seconds(),
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries
}
