package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// DefaultQueueCapacity bounds the in-memory offline queue.
const DefaultQueueCapacity = 500

// ErrQueueFull is returned when the offline queue is at capacity.
var ErrQueueFull = errors.New("realtime: offline queue full")

// Op is one buffered outbound operation.
type Op struct {
	ID   uuid.UUID       `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Queue is a FIFO of operations waiting for a registered connection. The
// session peeks the head, writes it, and removes it only after the write
// succeeded, so an interrupted flush never loses an operation.
type Queue interface {
	Push(ctx context.Context, op Op) error
	Peek(ctx context.Context) (Op, bool, error)
	Remove(ctx context.Context) error
	Len(ctx context.Context) (int, error)
}

// MemoryQueue is a process-local Queue. Contents are lost on restart.
type MemoryQueue struct {
	mu       sync.Mutex
	ops      []Op
	capacity int
}

// NewMemoryQueue returns a queue holding at most capacity ops; capacity <= 0
// means unbounded.
func NewMemoryQueue(capacity int) *MemoryQueue {
	return &MemoryQueue{capacity: capacity}
}

// Push appends op, or returns ErrQueueFull at capacity.
func (q *MemoryQueue) Push(_ context.Context, op Op) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.capacity > 0 && len(q.ops) >= q.capacity {
		return ErrQueueFull
	}
	q.ops = append(q.ops, op)
	return nil
}

// Peek returns the oldest op without removing it.
func (q *MemoryQueue) Peek(context.Context) (Op, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ops) == 0 {
		return Op{}, false, nil
	}
	return q.ops[0], true, nil
}

// Remove drops the oldest op. It is a no-op on an empty queue.
func (q *MemoryQueue) Remove(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ops) > 0 {
		q.ops[0] = Op{}
		q.ops = q.ops[1:]
	}
	return nil
}

// Len reports the number of queued ops.
func (q *MemoryQueue) Len(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops), nil
}
