package dpa

import "sync"

const guessShardCount = 16

// GuessMetrics collects the leakage score of each key guess for one keybyte.
// It is safe for concurrent use. Each guess can be stored once.
type GuessMetrics struct {
	shards [guessShardCount]guessShard
}

type guessShard struct {
	mu    sync.RWMutex
	items map[byte]float64
}

// NewGuessMetrics returns an empty accumulator.
func NewGuessMetrics() *GuessMetrics {
	m := &GuessMetrics{}
	for i := range m.shards {
		m.shards[i].items = make(map[byte]float64)
	}
	return m
}

func (m *GuessMetrics) shard(guess byte) *guessShard {
	return &m.shards[guess%guessShardCount]
}

// Store records metric for guess. It returns false and keeps the old value if guess was already stored.
func (m *GuessMetrics) Store(guess byte, metric float64) bool {
	s := m.shard(guess)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[guess]; ok {
		return false
	}
	s.items[guess] = metric
	return true
}

// Load returns the metric of guess.
func (m *GuessMetrics) Load(guess byte) (float64, bool) {
	s := m.shard(guess)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[guess]
	return v, ok
}

// Len returns the number of scored guesses.
func (m *GuessMetrics) Len() int {
	count := 0
	for i := range m.shards {
		m.shards[i].mu.RLock()
		count += len(m.shards[i].items)
		m.shards[i].mu.RUnlock()
	}
	return count
}

// Best returns the scored guess with the highest metric, visiting guesses in order.
// On an exact tie the guess that comes first in order wins. ok is false if no guess in order was scored.
func (m *GuessMetrics) Best(order []byte) (guess byte, metric float64, ok bool) {
	for _, g := range order {
		v, scored := m.Load(g)
		if !scored {
			continue
		}
		if !ok || v > metric {
			guess, metric, ok = g, v, true
		}
	}
	return guess, metric, ok
}
