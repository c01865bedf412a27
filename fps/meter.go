package fps

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const DefaultAlpha = 0.1

// Meter measures the interval between consecutive ticks.
type Meter struct {
	mu       sync.Mutex
	clk      clock.Clock
	alpha    float64
	last     time.Time
	current  float64
	smoothed float64
}

func NewMeter(clk clock.Clock, alpha float64) *Meter {
	if clk == nil {
		clk = clock.New()
	}
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	return &Meter{clk: clk, alpha: alpha}
}

// Tick records one completed cycle and returns the instantaneous rate
// 1/interval. The first tick has no interval and returns 0.
func (m *Meter) Tick() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clk.Now()
	if m.last.IsZero() {
		m.last = now
		return 0
	}
	interval := now.Sub(m.last)
	m.last = now
	if interval <= 0 {
		return m.current
	}
	m.current = 1 / interval.Seconds()
	if m.smoothed == 0 {
		m.smoothed = m.current
	} else {
		m.smoothed = m.alpha*m.current + (1-m.alpha)*m.smoothed
	}
	return m.current
}

func (m *Meter) Current() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Meter) Smoothed() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.smoothed
}

func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = time.Time{}
	m.current, m.smoothed = 0, 0
}
