package buffer

import (
	"runtime"
	"sync"
	"sync/atomic"
	"weak"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultRecent 는 강하게 붙잡아 두는 최근 값 개수 기본값.
const DefaultRecent = 64

type CacheOption func(*cacheOptions)

type cacheOptions struct {
	recent int
}

// WithRecent 는 최근 n 개 값을 GC 대상에서 제외한다. 0 이면 끈다.
func WithRecent(n int) CacheOption {
	return func(o *cacheOptions) {
		if n >= 0 {
			o.recent = n
		}
	}
}

// CachingBuffer
// ------------------------------------------------------------
// 느린 source (디코딩이 필요한 파일 버퍼 등) 앞에 두는 weak 캐시.
//
//   - 항목은 weak.Pointer 로만 들고 있으므로 아무도 값을 쓰지 않으면 GC 가 회수한다
//   - 회수되면 runtime cleanup 이 cache manager 큐에 토큰을 넣고,
//     manager goroutine 이 "아직 같은 weak 포인터를 들고 있는" 항목만 지운다
//   - recent(LRU) 가 최근 값 n 개를 강하게 붙잡아 곧바로 회수되지 않게 한다
type CachingBuffer[V any] struct {
	source Buffer[*V]
	self   weak.Pointer[CachingBuffer[V]]

	mu      sync.Mutex
	entries map[int64]weak.Pointer[V]
	recent  *lru.Cache[int64, *V]

	hits     atomic.Int64
	misses   atomic.Int64
	disposed atomic.Bool
}

func NewCachingBuffer[V any](source Buffer[*V], opts ...CacheOption) *CachingBuffer[V] {
	o := cacheOptions{recent: DefaultRecent}
	for _, opt := range opts {
		opt(&o)
	}

	c := &CachingBuffer[V]{
		source:  source,
		entries: make(map[int64]weak.Pointer[V]),
	}
	c.self = weak.Make(c)
	if o.recent > 0 {
		// size > 0 이면 에러가 나지 않는다
		c.recent, _ = lru.New[int64, *V](o.recent)
	}
	defaultCacheManager()
	return c
}

func (c *CachingBuffer[V]) Get(index int64) (*V, error) {
	if index < 0 || index >= c.source.Size() {
		return nil, nil
	}
	if c.disposed.Load() {
		return c.source.Get(index)
	}

	c.mu.Lock()
	wp, ok := c.entries[index]
	c.mu.Unlock()
	if ok {
		if v := wp.Value(); v != nil {
			c.hits.Add(1)
			c.touch(index, v)
			return v, nil
		}
	}

	c.misses.Add(1)
	v, err := c.source.Get(index)
	if err != nil || v == nil {
		return v, err
	}

	wp = weak.Make(v)
	c.mu.Lock()
	c.entries[index] = wp
	c.mu.Unlock()

	self := c.self
	runtime.AddCleanup(v, defaultCacheManager().enqueue, cleanupToken(func() bool {
		if cc := self.Value(); cc != nil {
			return cc.evict(index, wp)
		}
		return false
	}))
	c.touch(index, v)
	return v, nil
}

func (c *CachingBuffer[V]) touch(index int64, v *V) {
	if c.recent != nil {
		c.recent.Add(index, v)
	}
}

// evict 는 cache manager goroutine 에서 호출된다.
func (c *CachingBuffer[V]) evict(index int64, wp weak.Pointer[V]) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[index]; ok && cur == wp {
		delete(c.entries, index)
		return true
	}
	return false
}

func (c *CachingBuffer[V]) Size() int64 { return c.source.Size() }

func (c *CachingBuffer[V]) SourceBuffer() Buffer[*V] { return c.source }

// Len 은 현재 캐시 항목 수 (이미 회수됐지만 아직 정리되지 않은 항목 포함).
func (c *CachingBuffer[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats 는 누적 hit / miss.
func (c *CachingBuffer[V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *CachingBuffer[V]) clear() {
	c.mu.Lock()
	c.entries = make(map[int64]weak.Pointer[V])
	c.mu.Unlock()
	if c.recent != nil {
		c.recent.Purge()
	}
}

// Reset 은 캐시를 비우고 source 가 Resetter 면 같이 비운다.
func (c *CachingBuffer[V]) Reset() error {
	c.clear()
	if r, ok := c.source.(Resetter); ok {
		return r.Reset()
	}
	return nil
}

// Dispose 는 캐시를 비우고 이후 Get 은 source 로 바로 간다.
func (c *CachingBuffer[V]) Dispose() {
	if !c.disposed.CompareAndSwap(false, true) {
		return
	}
	c.clear()
	if d, ok := c.source.(Disposer); ok {
		d.Dispose()
	}
}
