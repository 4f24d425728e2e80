package factory

import (
	"math/rand"
	"sync"
	"time"
)

// Random is a goroutine-safe float source. A zero seed picks one from the clock.
type Random struct {
	mu  sync.Mutex
	src *rand.Rand
}

func NewRandom(seed int64) *Random {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Random{src: rand.New(rand.NewSource(seed))}
}

func (r *Random) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.Float64()
}

func (r *Random) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.Intn(n)
}
