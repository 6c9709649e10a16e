// Package market holds the shared order book state: the latest
// normalized book per (exchange, symbol), with staleness evaluated at
// read time, plus an optional Redis mirror for external consumers.
package market

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/arbot-io/arbot/internal/metrics"
	"github.com/arbot-io/arbot/internal/models"
)

const shardCount = 16

// Snapshot is a read result: the book plus its freshness verdict at the
// moment of the read.
type Snapshot struct {
	Book    *models.OrderBook
	Fresh   bool
	Age     time.Duration
	Version uint64
}

// State is the concurrent last-value store for order books. Writes
// replace the whole book; each write bumps a per-key version counter so
// readers can detect change between evaluations.
type State struct {
	staleThreshold time.Duration
	maxLatency     time.Duration
	shards         [shardCount]*shard

	// injectable clock for tests
	now func() time.Time
}

type shard struct {
	mu    sync.RWMutex
	books map[string]*entry
}

type entry struct {
	book    *models.OrderBook
	version uint64
	written time.Time
}

// NewState creates a state with the given freshness policy.
func NewState(staleThreshold, maxLatency time.Duration) *State {
	s := &State{
		staleThreshold: staleThreshold,
		maxLatency:     maxLatency,
		now:            time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &shard{books: make(map[string]*entry)}
	}
	return s
}

func key(exchange, symbol string) string {
	return exchange + "|" + symbol
}

func (s *State) shardFor(k string) *shard {
	h := fnv.New32a()
	h.Write([]byte(k))
	return s.shards[h.Sum32()%shardCount]
}

// Put stores the latest book for its (exchange, symbol). Older events
// than the stored one are dropped so a late frame cannot roll the book
// backwards.
func (s *State) Put(book *models.OrderBook) bool {
	k := key(book.Exchange, book.Symbol)
	sh := s.shardFor(k)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if e, ok := sh.books[k]; ok {
		if book.EventTS < e.book.EventTS ||
			(book.EventTS == e.book.EventTS && book.Seq != 0 && book.Seq <= e.book.Seq) {
			return false
		}
		e.book = book
		e.version++
		e.written = s.now()
		return true
	}
	sh.books[k] = &entry{book: book, version: 1, written: s.now()}
	return true
}

// Get returns the book for (exchange, symbol) with its freshness
// evaluated against the event timestamp and ingress latency now.
// The snapshot is taken under the shard lock; Put mutates entries in
// place, so an entry must never be read after the lock is dropped.
func (s *State) Get(exchange, symbol string) (Snapshot, bool) {
	k := key(exchange, symbol)
	sh := s.shardFor(k)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	e, ok := sh.books[k]
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(e), true
}

func (s *State) snapshot(e *entry) Snapshot {
	age := e.book.Age(s.now())
	fresh := age <= s.staleThreshold &&
		time.Duration(e.book.Latency())*time.Millisecond <= s.maxLatency
	return Snapshot{
		Book:    e.book,
		Fresh:   fresh,
		Age:     age,
		Version: e.version,
	}
}

// BySymbol returns fresh books for one symbol across all exchanges.
// Stale books are omitted; detectors must never price against them.
func (s *State) BySymbol(symbol string) map[string]Snapshot {
	out := make(map[string]Snapshot)
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, e := range sh.books {
			if e.book.Symbol != symbol {
				continue
			}
			snap := s.snapshot(e)
			if snap.Fresh {
				out[e.book.Exchange] = snap
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// ByExchange returns fresh books for one exchange keyed by symbol.
func (s *State) ByExchange(exchange string) map[string]Snapshot {
	out := make(map[string]Snapshot)
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, e := range sh.books {
			if e.book.Exchange != exchange {
				continue
			}
			snap := s.snapshot(e)
			if snap.Fresh {
				out[e.book.Symbol] = snap
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// StaleCount returns the number of stale books per exchange, refreshing
// the gauge as a side effect. Exchanges with only fresh books report 0.
func (s *State) StaleCount() map[string]int {
	counts := make(map[string]int)
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, e := range sh.books {
			if !s.snapshot(e).Fresh {
				counts[e.book.Exchange]++
			} else if _, ok := counts[e.book.Exchange]; !ok {
				counts[e.book.Exchange] = 0
			}
		}
		sh.mu.RUnlock()
	}
	for ex, n := range counts {
		metrics.StaleBooks.WithLabelValues(ex).Set(float64(n))
	}
	return counts
}

// Symbols returns the distinct symbols currently held.
func (s *State) Symbols() []string {
	seen := make(map[string]struct{})
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, e := range sh.books {
			seen[e.book.Symbol] = struct{}{}
		}
		sh.mu.RUnlock()
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	return out
}
