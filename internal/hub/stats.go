package hub

import (
	"sync"
	"time"

	"github.com/eclesh/welford"
	"github.com/jonboulle/clockwork"
)

// NewStats returns a pointer to an initialised Stats that reads the time from clock
func NewStats(clock clockwork.Clock) *Stats {
	return &Stats{
		mu:       &sync.Mutex{},
		clock:    clock,
		Audience: welford.New(),
		Bytes:    welford.New(),
		Dt:       welford.New(),
	}
}

// record adds the outcome of one broadcast to the statistics
func (s *Stats) record(audience, size, delivered, pruned int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if !s.Last.IsZero() {
		dt := now.Sub(s.Last)
		if dt < 24*time.Hour {
			s.Dt.Add(dt.Seconds())
		}
	}
	s.Last = now
	s.Audience.Add(float64(audience))
	s.Bytes.Add(float64(size))
	s.Broadcasts++
	s.Deliveries += uint64(delivered)
	s.Pruned += uint64(pruned)
}

// NewWelford copies the current values out of a running statistic
func NewWelford(w *welford.Stats) WelfordStats {
	return WelfordStats{
		Count:    w.Count(),
		Min:      w.Min(),
		Max:      w.Max(),
		Mean:     w.Mean(),
		Stddev:   w.Stddev(),
		Variance: w.Variance(),
	}
}
