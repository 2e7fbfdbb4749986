package buffer

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// DefaultScanInterval 은 필터 스캔 주기 기본값.
const DefaultScanInterval = time.Second

type FilterOption func(*filterOptions)

type filterOptions struct {
	scanInterval time.Duration
}

func WithScanInterval(d time.Duration) FilterOption {
	return func(o *filterOptions) {
		if d > 0 {
			o.scanInterval = d
		}
	}
}

// FilteringBuffer
// ------------------------------------------------------------
// source 중 Condition 을 만족하는 레코드만 보이는 view.
//
// 백그라운드 goroutine 이 고정 주기로 [lastScanned, source.Size()) 를 훑어
// 일치하는 source 인덱스를 indices 에 덧붙인다.
//   - indices 는 항상 오름차순 (IndexOfSource 는 이진 탐색)
//   - source 가 줄어들면 (Reset) 전부 비우고 0 부터 다시 스캔
//   - 읽기 실패한 레코드는 warn 로그 후 건너뛴다
type FilteringBuffer[E any] struct {
	source   Buffer[E]
	cond     Condition[E]
	interval time.Duration

	mu          sync.RWMutex
	indices     []int64
	lastScanned int64

	disposed    atomic.Bool
	disposeOnce sync.Once
	stop        chan struct{}
	done        chan struct{}
}

func NewFilteringBuffer[E any](source Buffer[E], cond Condition[E], opts ...FilterOption) *FilteringBuffer[E] {
	o := filterOptions{scanInterval: DefaultScanInterval}
	for _, opt := range opts {
		opt(&o)
	}

	f := &FilteringBuffer[E]{
		source:   source,
		cond:     cond,
		interval: o.scanInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go f.scanLoop()
	return f
}

func (f *FilteringBuffer[E]) scanLoop() {
	defer close(f.done)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		f.scan()
		select {
		case <-f.stop:
			return
		case <-ticker.C:
		}
	}
}

// scan 은 한 사이클. 매 레코드마다 disposed 를 확인한다.
func (f *FilteringBuffer[E]) scan() {
	if f.disposed.Load() {
		return
	}
	size := f.source.Size()

	f.mu.Lock()
	if size < f.lastScanned {
		f.indices = nil
		f.lastScanned = 0
	}
	start := f.lastScanned
	f.mu.Unlock()

	for i := start; i < size; i++ {
		if f.disposed.Load() {
			return
		}
		e, err := f.source.Get(i)
		if err != nil {
			zlog.Warn().Err(err).Int64("index", i).Msg("filter scan: skip unreadable record")
			f.advance(i, false)
			continue
		}
		f.advance(i, f.cond.Match(e))
	}
}

func (f *FilteringBuffer[E]) advance(i int64, matched bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// 스캔 도중 Reset 으로 되감겼으면 다음 사이클에 맡긴다
	if f.lastScanned != i {
		return
	}
	if matched {
		f.indices = append(f.indices, i)
	}
	f.lastScanned = i + 1
}

// Get 은 필터된 i 번째 레코드. 범위 밖이면 (zero, nil).
func (f *FilteringBuffer[E]) Get(index int64) (E, error) {
	src := f.SourceIndex(index)
	if src < 0 {
		var zero E
		return zero, nil
	}
	return f.source.Get(src)
}

func (f *FilteringBuffer[E]) Size() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int64(len(f.indices))
}

// SourceIndex 는 필터된 index 에 대응하는 source 인덱스. 범위 밖이면 -1.
func (f *FilteringBuffer[E]) SourceIndex(index int64) int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if index < 0 || index >= int64(len(f.indices)) {
		return -1
	}
	return f.indices[index]
}

// IndexOfSource 는 source 인덱스가 필터 결과의 몇 번째인지. 없으면 -1.
func (f *FilteringBuffer[E]) IndexOfSource(sourceIndex int64) int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	i := sort.Search(len(f.indices), func(i int) bool { return f.indices[i] >= sourceIndex })
	if i < len(f.indices) && f.indices[i] == sourceIndex {
		return int64(i)
	}
	return -1
}

// Scanned 는 지금까지 검사한 source 레코드 수.
func (f *FilteringBuffer[E]) Scanned() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastScanned
}

func (f *FilteringBuffer[E]) Condition() Condition[E] { return f.cond }

func (f *FilteringBuffer[E]) SourceBuffer() Buffer[E] { return f.source }

// Dispose 는 스캔 goroutine 을 멈추고 기다린다. 여러 번 호출해도 된다.
func (f *FilteringBuffer[E]) Dispose() {
	f.disposeOnce.Do(func() {
		f.disposed.Store(true)
		close(f.stop)
		<-f.done

		f.mu.Lock()
		f.indices = nil
		f.mu.Unlock()
	})
}
