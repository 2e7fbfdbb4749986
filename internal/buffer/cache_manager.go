package buffer

import (
	"sync"
	"sync/atomic"
)

// cleanupToken 은 GC 에 회수된 값 하나를 캐시에서 지운다.
// 값도 캐시도 강하게 참조하지 않아야 한다 (둘 다 weak 로만 잡는다).
type cleanupToken func() bool

// cacheManager
// ------------------------------------------------------------
// 프로세스 전체에 하나. 첫 CachingBuffer 생성 시 시작되고 멈추지 않는다.
//
// runtime cleanup 은 런타임의 단일 goroutine 에서 돌기 때문에
// enqueue 는 절대 block 하지 않는다: slice 에 쌓고 신호만 보낸다.
type cacheManager struct {
	mu     sync.Mutex
	queue  []cleanupToken
	signal chan struct{}
}

var (
	cacheManagerOnce sync.Once
	cacheManagerInst *cacheManager

	cacheEvictions atomic.Int64
)

func defaultCacheManager() *cacheManager {
	cacheManagerOnce.Do(func() {
		cacheManagerInst = &cacheManager{signal: make(chan struct{}, 1)}
		go cacheManagerInst.run()
	})
	return cacheManagerInst
}

func (m *cacheManager) enqueue(tok cleanupToken) {
	m.mu.Lock()
	m.queue = append(m.queue, tok)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *cacheManager) run() {
	for range m.signal {
		m.mu.Lock()
		batch := m.queue
		m.queue = nil
		m.mu.Unlock()

		for _, evict := range batch {
			if evict() {
				cacheEvictions.Add(1)
			}
		}
	}
}

// CacheEvictions 는 프로세스 시작 이후 회수되어 정리된 캐시 항목 수.
func CacheEvictions() int64 {
	return cacheEvictions.Load()
}
