// Package metrics accumulates per-goal tracking statistics while the
// executor runs. Accumulators reset on goal acceptance and feed the
// terminal result text and the stored goal record.
package metrics

import (
	"fmt"
	"math"
)

// Metric observes one executing tick's desired and actual joint arrays.
type Metric interface {
	Name() string
	Observe(desired, actual []float64)
	Value() float64
	Reset()
}

// RMSError is the root-mean-square of per-joint tracking error over all
// observed ticks.
type RMSError struct {
	sumSq   float64
	samples int
}

func NewRMSError() *RMSError { return &RMSError{} }

func (m *RMSError) Name() string { return "rms_error" }

func (m *RMSError) Observe(desired, actual []float64) {
	for i := range desired {
		e := actual[i] - desired[i]
		m.sumSq += e * e
		m.samples++
	}
}

func (m *RMSError) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return math.Sqrt(m.sumSq / float64(m.samples))
}

func (m *RMSError) Reset() {
	m.sumSq = 0
	m.samples = 0
}

// MaxError is the largest absolute per-joint tracking error seen.
type MaxError struct {
	max float64
}

func NewMaxError() *MaxError { return &MaxError{} }

func (m *MaxError) Name() string { return "max_error" }

func (m *MaxError) Observe(desired, actual []float64) {
	for i := range desired {
		if e := math.Abs(actual[i] - desired[i]); e > m.max {
			m.max = e
		}
	}
}

func (m *MaxError) Value() float64 { return m.max }
func (m *MaxError) Reset()         { m.max = 0 }

// Travel sums the absolute commanded position change across ticks, a
// rough measure of how much motion the goal demanded.
type Travel struct {
	prev  []float64
	total float64
}

func NewTravel() *Travel { return &Travel{} }

func (m *Travel) Name() string { return "travel" }

func (m *Travel) Observe(desired, actual []float64) {
	if m.prev == nil {
		m.prev = append([]float64(nil), desired...)
		return
	}
	for i := range desired {
		m.total += math.Abs(desired[i] - m.prev[i])
		m.prev[i] = desired[i]
	}
}

func (m *Travel) Value() float64 { return m.total }

func (m *Travel) Reset() {
	m.prev = nil
	m.total = 0
}

// Tracker bundles the standard goal accumulators.
type Tracker struct {
	metrics []Metric
	ticks   int
}

func NewTracker() *Tracker {
	return &Tracker{metrics: []Metric{NewRMSError(), NewMaxError(), NewTravel()}}
}

func (t *Tracker) Observe(desired, actual []float64) {
	for _, m := range t.metrics {
		m.Observe(desired, actual)
	}
	t.ticks++
}

func (t *Tracker) Reset() {
	for _, m := range t.metrics {
		m.Reset()
	}
	t.ticks = 0
}

func (t *Tracker) Ticks() int { return t.ticks }

func (t *Tracker) Values() map[string]float64 {
	out := make(map[string]float64, len(t.metrics))
	for _, m := range t.metrics {
		out[m.Name()] = m.Value()
	}
	return out
}

// Summary renders the human-readable sentence carried in result text.
func (t *Tracker) Summary(joints int) string {
	v := t.Values()
	return fmt.Sprintf("tracked %d joints over %d ticks, rms error %.4f rad, max error %.4f rad",
		joints, t.ticks, v["rms_error"], v["max_error"])
}
