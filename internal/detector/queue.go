package detector

import (
	"container/list"
	"sync"

	"github.com/arbot-io/arbot/internal/metrics"
	"github.com/arbot-io/arbot/internal/models"
)

// Queue is the bounded buffer between detection and risk. Admission
// policy under pressure: a new signal for a (strategy, symbol) already
// queued replaces the queued one, and when the queue is full the oldest
// signal overall is dropped. Newer prices always win over older ones.
type Queue struct {
	mu       sync.Mutex
	capacity int
	order    *list.List               // of *models.Signal, front = oldest
	byKey    map[string]*list.Element // (strategy,symbol) -> element
	notify   chan struct{}
}

// NewQueue creates a queue holding at most capacity signals.
func NewQueue(capacity int) *Queue {
	return &Queue{
		capacity: capacity,
		order:    list.New(),
		byKey:    make(map[string]*list.Element),
		notify:   make(chan struct{}, 1),
	}
}

// Push admits a signal, applying the replacement and drop-oldest rules.
func (q *Queue) Push(sig *models.Signal) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if el, ok := q.byKey[sig.Key()]; ok {
		dropped := el.Value.(*models.Signal)
		metrics.SignalsDropped.WithLabelValues(string(dropped.Strategy)).Inc()
		el.Value = sig
		q.order.MoveToBack(el)
	} else {
		if q.order.Len() >= q.capacity {
			oldest := q.order.Front()
			old := oldest.Value.(*models.Signal)
			delete(q.byKey, old.Key())
			q.order.Remove(oldest)
			metrics.SignalsDropped.WithLabelValues(string(old.Strategy)).Inc()
		}
		q.byKey[sig.Key()] = q.order.PushBack(sig)
	}

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest signal, or nil when empty.
func (q *Queue) Pop() *models.Signal {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.order.Front()
	if front == nil {
		return nil
	}
	sig := front.Value.(*models.Signal)
	q.order.Remove(front)
	delete(q.byKey, sig.Key())
	return sig
}

// Wait returns a channel that receives after a Push. One receive may
// cover several pushes; callers drain with Pop until nil.
func (q *Queue) Wait() <-chan struct{} {
	return q.notify
}

// Len returns the number of queued signals.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order.Len()
}
