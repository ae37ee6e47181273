package queue

import (
	"sync"
	"time"
)

// Fulfilment task kinds. These mirror the catalog endpoints the gateway
// calls after a successful payment.
const (
	TaskDecreaseStock = "decrease-stock"
	TaskReserveRobot  = "reserve-robot"
)

// Task is one pending fulfilment action: the catalog update that must
// eventually follow a confirmed booking.
type Task struct {
	BookingID  uint
	UserID     uint
	Kind       string
	TargetID   uint // product or robot id, per Kind
	RetryAt    time.Time
	Attempts   int
	MaxRetries int
}

// Queue holds fulfilment tasks awaiting retry. Tasks become eligible once
// their RetryAt has passed.
type Queue struct {
	mu    sync.Mutex
	items []*Task
}

func New() *Queue {
	return &Queue{items: make([]*Task, 0)}
}

func (q *Queue) Enqueue(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, t)
}

// Dequeue removes and returns the first eligible task, or nil when nothing
// is due yet.
func (q *Queue) Dequeue() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for i, t := range q.items {
		if !t.RetryAt.After(now) {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return t
		}
	}
	return nil
}

// Requeue puts a failed task back with one more attempt recorded and a
// linear backoff. It returns false once the task has exhausted its retries.
func (q *Queue) Requeue(t *Task, backoff time.Duration) bool {
	t.Attempts++
	if t.Attempts >= t.MaxRetries {
		return false
	}
	t.RetryAt = time.Now().Add(backoff * time.Duration(t.Attempts))
	q.Enqueue(t)
	return true
}

func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
