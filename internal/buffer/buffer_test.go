package buffer

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// item 은 tiny allocator 에 묶이지 않을 만큼 큰 값.
type item struct {
	ID      int64
	Payload [256]byte
}

// memBuffer 는 Get 마다 새 값을 만들어 돌려주는 (디코딩하는 척) 버퍼.
type memBuffer struct {
	mu      sync.Mutex
	ids     []int64
	broken  map[int64]bool
	gets    atomic.Int64
	resets  atomic.Int64
	dispose atomic.Int64
}

func newMemBuffer(n int) *memBuffer {
	b := &memBuffer{broken: map[int64]bool{}}
	for i := 0; i < n; i++ {
		b.Append(int64(i))
	}
	return b
}

func (b *memBuffer) Append(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ids = append(b.ids, id)
}

func (b *memBuffer) Get(index int64) (*item, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index >= int64(len(b.ids)) {
		return nil, nil
	}
	if b.broken[index] {
		return nil, errors.New("unreadable")
	}
	b.gets.Add(1)
	return &item{ID: b.ids[index]}, nil
}

func (b *memBuffer) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.ids))
}

func (b *memBuffer) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ids = nil
	b.resets.Add(1)
	return nil
}

func (b *memBuffer) Dispose() { b.dispose.Add(1) }

var even = ConditionFunc[*item](func(it *item) bool { return it.ID%2 == 0 })

func waitScanned[E any](t *testing.T, f *FilteringBuffer[E], n int64) {
	t.Helper()
	require.Eventually(t, func() bool { return f.Scanned() == n }, 3*time.Second, 5*time.Millisecond)
}

// ---------------------------------------------------------------
// BlockingQueue
// ---------------------------------------------------------------

func TestQueueOrderAndWrapAround(t *testing.T) {
	q := NewBlockingQueue[int](3)
	for round := 0; round < 3; round++ {
		for i := 0; i < 3; i++ {
			require.NoError(t, q.Put(round*10+i))
		}
		assert.Equal(t, 3, q.Len())
		assert.Equal(t, []int{round * 10, round*10 + 1, round*10 + 2}, q.DrainAll())
	}
	assert.Nil(t, q.DrainAll())
	assert.Equal(t, 3, q.Cap())
}

func TestQueuePutBlocksWhileFull(t *testing.T) {
	q := NewBlockingQueue[int](1)
	require.NoError(t, q.Put(1))

	ok, err := q.TryPut(2)
	require.NoError(t, err)
	assert.False(t, ok)

	var done atomic.Bool
	go func() {
		_ = q.Put(2)
		done.Store(true)
	}()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, done.Load(), "Put must block while the queue is full")

	assert.Equal(t, []int{1}, q.DrainAll())
	require.Eventually(t, done.Load, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{2}, q.DrainAll())
}

func TestQueueCloseWakesWriters(t *testing.T) {
	q := NewBlockingQueue[int](1)
	require.NoError(t, q.Put(1))

	errCh := make(chan error, 1)
	go func() { errCh <- q.Put(2) }()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked Put was not released by Close")
	}

	_, err := q.TryPut(3)
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.Equal(t, []int{1}, q.DrainAll())
}

// ---------------------------------------------------------------
// FilteringBuffer
// ---------------------------------------------------------------

func TestFilteringMatchesPredicateInOrder(t *testing.T) {
	src := newMemBuffer(100)
	f := NewFilteringBuffer[*item](src, even, WithScanInterval(10*time.Millisecond))
	defer f.Dispose()

	waitScanned(t, f, 100)
	require.Equal(t, int64(50), f.Size())

	for i := int64(0); i < f.Size(); i++ {
		got, err := f.Get(i)
		require.NoError(t, err)
		assert.Equal(t, i*2, got.ID)

		srcIdx := f.SourceIndex(i)
		it, err := src.Get(srcIdx)
		require.NoError(t, err)
		assert.True(t, even.Match(it))
		assert.Equal(t, i, f.IndexOfSource(srcIdx))
	}
	assert.Equal(t, int64(-1), f.IndexOfSource(5))
	assert.Equal(t, int64(-1), f.IndexOfSource(1000))

	// source 가 자라면 이어서 스캔한다
	for i := 100; i < 110; i++ {
		src.Append(int64(i))
	}
	waitScanned(t, f, 110)
	assert.Equal(t, int64(55), f.Size())
}

func TestFilteringOutOfRange(t *testing.T) {
	src := newMemBuffer(4)
	f := NewFilteringBuffer[*item](src, even, WithScanInterval(10*time.Millisecond))
	defer f.Dispose()
	waitScanned(t, f, 4)

	for _, i := range []int64{-1, 2, 3, 100} {
		got, err := f.Get(i)
		assert.NoError(t, err)
		assert.Nil(t, got)
		assert.Equal(t, int64(-1), f.SourceIndex(i))
	}
}

func TestFilteringSkipsUnreadable(t *testing.T) {
	src := newMemBuffer(6)
	src.broken[2] = true

	f := NewFilteringBuffer[*item](src, even, WithScanInterval(10*time.Millisecond))
	defer f.Dispose()
	waitScanned(t, f, 6)

	assert.Equal(t, int64(2), f.Size())
	assert.Equal(t, int64(0), f.SourceIndex(0))
	assert.Equal(t, int64(4), f.SourceIndex(1))
}

func TestFilteringRescansAfterShrink(t *testing.T) {
	src := newMemBuffer(10)
	f := NewFilteringBuffer[*item](src, even, WithScanInterval(10*time.Millisecond))
	defer f.Dispose()
	waitScanned(t, f, 10)
	require.Equal(t, int64(5), f.Size())

	require.NoError(t, src.Reset())
	for _, id := range []int64{1, 3, 8} {
		src.Append(id)
	}

	require.Eventually(t, func() bool {
		return f.Scanned() == 3 && f.Size() == 1
	}, 3*time.Second, 5*time.Millisecond)
	got, err := f.Get(0)
	require.NoError(t, err)
	assert.Equal(t, int64(8), got.ID)
}

func TestFilteringDisposeIdempotent(t *testing.T) {
	src := newMemBuffer(10)
	f := NewFilteringBuffer[*item](src, even, WithScanInterval(10*time.Millisecond))
	waitScanned(t, f, 10)

	f.Dispose()
	f.Dispose()

	assert.Equal(t, int64(0), f.Size())
	src.Append(10)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int64(10), f.Scanned())
	assert.Same(t, src, f.SourceBuffer())
	assert.NotNil(t, f.Condition())
}

func TestResolveSourceBuffer(t *testing.T) {
	src := newMemBuffer(3)
	cache := NewCachingBuffer[item](src)
	inner := NewFilteringBuffer[*item](cache, even, WithScanInterval(10*time.Millisecond))
	defer inner.Dispose()
	outer := NewFilteringBuffer[*item](inner, ConditionFunc[*item](func(*item) bool { return true }),
		WithScanInterval(10*time.Millisecond))
	defer outer.Dispose()

	// 필터 두 겹만 벗기고 cache 에서 멈춘다
	assert.Same(t, cache, ResolveSourceBuffer[*item](outer))
	assert.Same(t, cache, ResolveSourceBuffer[*item](cache))
	assert.Same(t, src, ResolveSourceBuffer[*item](src))

	direct := NewFilteringBuffer[*item](src, even, WithScanInterval(10*time.Millisecond))
	defer direct.Dispose()
	assert.Same(t, src, ResolveSourceBuffer[*item](direct))

	s := Slice[int]{1, 2}
	assert.Equal(t, s, ResolveSourceBuffer[int](s))
	v, err := s.Get(5)
	assert.NoError(t, err)
	assert.Zero(t, v)
}

// ---------------------------------------------------------------
// CachingBuffer
// ---------------------------------------------------------------

func TestCachingReturnsSameValueWhileReachable(t *testing.T) {
	src := newMemBuffer(3)
	c := NewCachingBuffer[item](src)

	a, err := c.Get(1)
	require.NoError(t, err)
	b, err := c.Get(1)
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, int64(1), src.gets.Load())
	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 1, c.Len())
	runtime.KeepAlive(a)
}

func TestCachingOutOfRange(t *testing.T) {
	c := NewCachingBuffer[item](newMemBuffer(2))
	for _, i := range []int64{-1, 2, 50} {
		got, err := c.Get(i)
		assert.NoError(t, err)
		assert.Nil(t, got)
	}
	assert.Equal(t, 0, c.Len())
}

func TestCachingEvictsCollectedValues(t *testing.T) {
	src := newMemBuffer(8)
	c := NewCachingBuffer[item](src, WithRecent(0))

	for i := int64(0); i < 8; i++ {
		_, err := c.Get(i)
		require.NoError(t, err)
	}
	require.Equal(t, 8, c.Len())
	before := CacheEvictions()

	require.Eventually(t, func() bool {
		runtime.GC()
		return c.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, CacheEvictions()-before, int64(8))

	// 회수된 값은 source 에서 다시 읽는다
	got, err := c.Get(3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.ID)
	assert.Equal(t, int64(9), src.gets.Load())
}

func TestCachingRecentKeepsValuesAlive(t *testing.T) {
	src := newMemBuffer(2)
	c := NewCachingBuffer[item](src, WithRecent(4))

	_, err := c.Get(0)
	require.NoError(t, err)

	runtime.GC()
	runtime.GC()
	time.Sleep(20 * time.Millisecond)

	_, err = c.Get(0)
	require.NoError(t, err)
	hits, _ := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), src.gets.Load())
}

func TestCachingResetAndDisposePropagate(t *testing.T) {
	src := newMemBuffer(2)
	c := NewCachingBuffer[item](src)

	_, err := c.Get(0)
	require.NoError(t, err)
	require.NoError(t, c.Reset())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(1), src.resets.Load())
	assert.Equal(t, int64(0), c.Size())

	src.Append(7)
	c.Dispose()
	c.Dispose()
	assert.Equal(t, int64(1), src.dispose.Load())

	// dispose 뒤에는 캐시 없이 source 로 바로 간다
	got, err := c.Get(0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, 0, c.Len())
}
