package context

import "sync"

// Calibrator learns how far the character-based estimate is from the
// input token counts the provider reports, and corrects later estimates.
type Calibrator struct {
	mu         sync.Mutex
	samples    []sample
	ratio      float64 // estimated/actual
	maxSamples int
}

type sample struct {
	estimated int
	actual    int
}

// NewCalibrator keeps at most maxSamples samples (100 when <= 0).
func NewCalibrator(maxSamples int) *Calibrator {
	if maxSamples <= 0 {
		maxSamples = 100
	}
	return &Calibrator{ratio: 1.0, maxSamples: maxSamples}
}

// Record adds a sample. Samples without an actual count are ignored.
func (c *Calibrator) Record(estimated, actual int) {
	if actual <= 0 || estimated <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples = append(c.samples, sample{estimated: estimated, actual: actual})
	if len(c.samples) > c.maxSamples {
		c.samples = c.samples[len(c.samples)-c.maxSamples:]
	}

	var est, act int
	for _, s := range c.samples {
		est += s.estimated
		act += s.actual
	}
	c.ratio = float64(est) / float64(act)
}

// Adjust corrects an estimate with the learned ratio.
func (c *Calibrator) Adjust(estimated int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.samples) == 0 || c.ratio <= 0 {
		return estimated
	}
	return int(float64(estimated) / c.ratio)
}

// Ratio returns the learned estimated/actual ratio.
func (c *Calibrator) Ratio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ratio
}

// Samples returns how many samples are held.
func (c *Calibrator) Samples() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}
