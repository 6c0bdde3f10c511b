package applogger

import "sync"

// Queue is a FIFO of records. Any number of goroutines may push;
// records are popped by a single consumer.
type Queue struct {
	items []*Record
	mutex sync.Mutex
}

func NewQueue() *Queue {
	return &Queue{items: make([]*Record, 0)}
}

// PushBack appends r to the tail.
func (q *Queue) PushBack(r *Record) {
	if r == nil {
		return
	}
	q.mutex.Lock()
	q.items = append(q.items, r)
	q.mutex.Unlock()
}

// TryPopFront removes and returns the head, or false when the queue is empty.
func (q *Queue) TryPopFront() (*Record, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	r := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		// Release the consumed prefix instead of letting the slice creep forward.
		q.items = q.items[:0:0]
	}
	return r, true
}

// Drain removes every queued record and returns them in order. Records pushed
// afterwards stay queued.
func (q *Queue) Drain() []*Record {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	records := make([]*Record, len(q.items))
	copy(records, q.items)
	q.items = q.items[:0:0]
	return records
}

func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}

// Clear discards every queued record. It returns how many were dropped.
func (q *Queue) Clear() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	n := len(q.items)
	q.items = q.items[:0:0]
	return n
}
