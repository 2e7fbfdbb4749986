package buffer

import (
	"errors"
	"sync"
)

// ErrQueueClosed 는 Close 이후의 Put, 또는 Put 대기 중 Close.
var ErrQueueClosed = errors.New("buffer: queue closed")

// BlockingQueue
// ------------------------------------------------------------
// 고정 용량 circular buffer.
//   - Put     : 가득 차 있으면 자리가 날 때까지 대기 (drop 없음)
//   - TryPut  : 가득 차 있으면 즉시 false
//   - DrainAll: 들어 있는 전부를 순서대로 꺼낸다
type BlockingQueue[T any] struct {
	mu      sync.Mutex
	notFull *sync.Cond

	items    []T
	head     int // 다음 write 위치
	tail     int // 다음 read 위치
	size     int
	capacity int
	closed   bool
}

func NewBlockingQueue[T any](capacity int) *BlockingQueue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	q := &BlockingQueue[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
	q.notFull = sync.NewCond(&q.mu)
	return q
}

func (q *BlockingQueue[T]) Put(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == q.capacity && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return ErrQueueClosed
	}
	q.push(item)
	return nil
}

func (q *BlockingQueue[T]) TryPut(item T) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, ErrQueueClosed
	}
	if q.size == q.capacity {
		return false, nil
	}
	q.push(item)
	return true, nil
}

func (q *BlockingQueue[T]) push(item T) {
	q.items[q.head] = item
	q.head = (q.head + 1) % q.capacity
	q.size++
}

// DrainAll 은 비어 있으면 nil.
func (q *BlockingQueue[T]) DrainAll() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return nil
	}

	var zero T
	out := make([]T, q.size)
	for i := range out {
		out[i] = q.items[q.tail]
		q.items[q.tail] = zero // GC
		q.tail = (q.tail + 1) % q.capacity
	}
	q.size = 0
	q.notFull.Broadcast()
	return out
}

func (q *BlockingQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *BlockingQueue[T]) Cap() int { return q.capacity }

// Close 는 대기 중인 writer 를 모두 깨운다. 남은 항목은 DrainAll 로 꺼낼 수 있다.
func (q *BlockingQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notFull.Broadcast()
}
