package ui

import "strings"

// sparkRunes are eight block heights from near-empty to full.
var sparkRunes = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline keeps a ring of throughput samples and renders them as a
// row of block characters, newest on the right.
type Sparkline struct {
	samples  []float64
	head     int
	count    int
	maxValue float64
}

// NewSparkline creates a sparkline holding size samples.
func NewSparkline(size int) *Sparkline {
	if size <= 0 {
		size = 60
	}
	return &Sparkline{samples: make([]float64, size)}
}

// Add appends a sample, evicting the oldest when full.
func (s *Sparkline) Add(v float64) {
	s.samples[s.head] = v
	s.head = (s.head + 1) % len(s.samples)
	s.count++
	if v > s.maxValue {
		s.maxValue = v
	}
	// Rescale once per full rotation so a brief spike does not flatten
	// everything after it forever.
	if s.count%len(s.samples) == 0 {
		s.rescale()
	}
}

func (s *Sparkline) rescale() {
	s.maxValue = 1
	for _, v := range s.samples {
		if v > s.maxValue {
			s.maxValue = v
		}
	}
}

// Render draws the most recent width samples. width <= 0 uses the full
// buffer.
func (s *Sparkline) Render(width int) string {
	size := len(s.samples)
	if width <= 0 || width > size {
		width = size
	}
	if s.count == 0 {
		return strings.Repeat(string(sparkRunes[0]), width)
	}
	if s.maxValue <= 0 {
		s.rescale()
	}

	have := s.count
	if have > size {
		have = size
	}

	var sb strings.Builder
	sb.Grow(width * 3)
	for i := width; i > 0; i-- {
		if i > have {
			sb.WriteRune(' ')
			continue
		}
		// i-th most recent sample.
		idx := ((s.head-i)%size + size) % size
		level := int(s.samples[idx] / s.maxValue * float64(len(sparkRunes)-1))
		if level < 0 {
			level = 0
		}
		if level >= len(sparkRunes) {
			level = len(sparkRunes) - 1
		}
		sb.WriteRune(sparkRunes[level])
	}
	return sb.String()
}

// Clear resets all samples.
func (s *Sparkline) Clear() {
	for i := range s.samples {
		s.samples[i] = 0
	}
	s.head = 0
	s.count = 0
	s.maxValue = 0
}

// Count returns how many samples were ever added.
func (s *Sparkline) Count() int {
	return s.count
}

// Max returns the current scaling maximum.
func (s *Sparkline) Max() float64 {
	return s.maxValue
}
