package replay

import (
	"math/rand/v2"

	"github.com/andresmejia3/simpsons/internal/record"
)

// Shuffler is a fixed-size reservoir over a stream of examples. Once full,
// every new example displaces a uniformly chosen buffered one, which is
// emitted. Ordering is only randomized within a window of Capacity records.
type Shuffler struct {
	capacity int
	buf      []*record.Example
	rng      *rand.Rand
}

// NewShuffler returns a reservoir of the given capacity. A capacity of 0 or 1
// keeps the stream order.
func NewShuffler(capacity int, rng *rand.Rand) *Shuffler {
	if capacity < 0 {
		capacity = 0
	}
	return &Shuffler{capacity: capacity, buf: make([]*record.Example, 0, capacity), rng: rng}
}

// Push adds ex. It returns the displaced example and true once the reservoir
// is full, or nil and false while it is still filling.
func (s *Shuffler) Push(ex *record.Example) (*record.Example, bool) {
	if s.capacity == 0 {
		return ex, true
	}
	if len(s.buf) < s.capacity {
		s.buf = append(s.buf, ex)
		return nil, false
	}
	i := s.rng.IntN(len(s.buf))
	out := s.buf[i]
	s.buf[i] = ex
	return out, true
}

// Pop drains the reservoir in random order once the input has ended.
func (s *Shuffler) Pop() (*record.Example, bool) {
	n := len(s.buf)
	if n == 0 {
		return nil, false
	}
	i := s.rng.IntN(n)
	out := s.buf[i]
	s.buf[i] = s.buf[n-1]
	s.buf[n-1] = nil
	s.buf = s.buf[:n-1]
	return out, true
}

// Len is the number of buffered examples.
func (s *Shuffler) Len() int {
	return len(s.buf)
}
