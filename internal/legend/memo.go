package legend

import (
	"encoding/binary"
	"math"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Memo caches ColorScaleFor results keyed by metric and a hash of the value
// domain. Fixed-band metrics skip hashing.
type Memo struct {
	mu      sync.Mutex
	max     int
	entries map[memoKey][]Stop
}

type memoKey struct {
	metric string
	hash   uint64
}

// NewMemo creates a memo holding at most max scales; once full it is cleared
// wholesale.
func NewMemo(max int) *Memo {
	if max <= 0 {
		max = 64
	}
	return &Memo{max: max, entries: make(map[memoKey][]Stop)}
}

// ColorScaleFor is the memoized form of the package-level ColorScaleFor.
func (m *Memo) ColorScaleFor(metricKey string, values []float64) []Stop {
	key := memoKey{metric: strings.ToLower(metricKey)}
	if !HasConvention(metricKey) {
		key.hash = hashValues(values)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.entries[key]; ok {
		return clone(s)
	}
	s := ColorScaleFor(metricKey, values)
	if len(m.entries) >= m.max {
		m.entries = make(map[memoKey][]Stop)
	}
	m.entries[key] = s
	return clone(s)
}

// Len returns the number of cached scales.
func (m *Memo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func hashValues(values []float64) uint64 {
	d := xxhash.New()
	var buf [8]byte
	for _, v := range values {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		d.Write(buf[:])
	}
	return d.Sum64()
}

func clone(s []Stop) []Stop {
	if s == nil {
		return nil
	}
	out := make([]Stop, len(s))
	copy(out, s)
	return out
}
