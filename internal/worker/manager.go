// internal/worker/manager.go
package worker

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"logsink/internal/buffer"
	"logsink/internal/metrics"
	"logsink/internal/model"

	zlog "github.com/rs/zerolog/log"
)

const (
	DefaultQueueCapacity = 10000
	DefaultPollInterval  = 100 * time.Millisecond
)

type ManagerConfig struct {
	QueueCapacity int
	PollInterval  time.Duration
}

// Manager 는 수집 파이프라인의 중심(source manager)이다.
// producer(연결) 들이 넣은 wrapper 를 모아서 handler 들에게 넘기고,
// 읽을 수 있는 소스 목록과 producer 목록을 관리한다.
//
// 주요 구성:
//   - queue: producer → Manager. 가득 차면 producer 가 block (drop 없음)
//   - pollLoop: PollInterval 마다 queue 를 비우고 handler 를 순서대로 호출
//   - sources: 읽기용 소스 레지스트리 (membership 변경 시 listener 통지)
//   - producers: source 별 producer (교체/해제 시 Close)
//
// Shutdown 은 마지막으로 한 번 더 queue 를 비운 뒤 끝난다.
type Manager[T model.Event] struct {
	cfg     ManagerConfig
	metrics *metrics.Metrics

	queue *buffer.BlockingQueue[*model.EventWrapper[T]]

	hmu      sync.RWMutex
	handlers []EventHandler[T]

	mu        sync.Mutex
	sources   map[string]EventSource[T]
	producers map[string]io.Closer
	listeners []SourceListener[T]

	ctx    context.Context
	cancel context.CancelFunc

	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewManager[T model.Event](cfg ManagerConfig, m *metrics.Metrics) *Manager[T] {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if m == nil {
		m = metrics.New()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager[T]{
		cfg:       cfg,
		metrics:   m,
		queue:     buffer.NewBlockingQueue[*model.EventWrapper[T]](cfg.QueueCapacity),
		sources:   make(map[string]EventSource[T]),
		producers: make(map[string]io.Closer),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Appender 는 producer 들이 공유하는 append queue.
func (m *Manager[T]) Appender() *buffer.BlockingQueue[*model.EventWrapper[T]] {
	return m.queue
}

// AddHandler 는 handler 를 등록 순서대로 호출되도록 붙인다.
func (m *Manager[T]) AddHandler(h EventHandler[T]) {
	m.hmu.Lock()
	defer m.hmu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Start 는 poller goroutine 을 한 번만 띄운다.
func (m *Manager[T]) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go m.pollLoop()
	})
}

// Shutdown
// ------------------------------------------------------------
//  1. poller 중지 (마지막 drain 포함)
//  2. queue Close → 아직 block 중인 producer 를 깨운다
//  3. 남은 producer 전부 Close
//
// 여러 번 호출해도 안전하다.
func (m *Manager[T]) Shutdown() {
	m.stopOnce.Do(func() {
		m.startOnce.Do(func() {}) // 시작 전 Shutdown 이면 poller 를 띄우지 않는다
		m.cancel()
		m.wg.Wait()

		// Start 없이 들어온 wrapper 도 handler 에 넘긴다
		m.poll()
		m.queue.Close()

		m.mu.Lock()
		producers := m.producers
		m.producers = make(map[string]io.Closer)
		m.mu.Unlock()
		for _, p := range producers {
			_ = p.Close()
		}
		zlog.Info().Msg("source manager stopped")
	})
	m.wg.Wait()
}

func (m *Manager[T]) pollLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			m.poll()
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

// poll 은 queue 를 한 번 비워 handler 들에게 넘긴다.
func (m *Manager[T]) poll() {
	atomic.StoreInt64(&m.metrics.QueueDepth, int64(m.queue.Len()))

	batch := m.queue.DrainAll()
	if len(batch) == 0 {
		return
	}
	atomic.AddInt64(&m.metrics.EventsDispatchedTotal, int64(len(batch)))

	m.hmu.RLock()
	handlers := m.handlers
	m.hmu.RUnlock()

	for i, h := range handlers {
		if err := m.consume(h, batch); err != nil {
			metrics.Inc(&m.metrics.HandlerErrorsTotal)
			zlog.Error().Err(err).Str("handler", handlerName(h, i)).Int("batch", len(batch)).Msg("event handler failed")
		}
	}
}

// consume 은 handler 하나의 panic 을 error 로 바꾼다. 다른 handler 는 계속 호출된다.
func (m *Manager[T]) consume(h EventHandler[T], batch []*model.EventWrapper[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.Inc(&m.metrics.HandlerPanicsTotal)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Consume(batch)
}

func handlerName(h any, i int) string {
	if n, ok := h.(named); ok {
		return n.Name()
	}
	return fmt.Sprintf("#%d(%T)", i, h)
}

// ---------------------------------------------------------------
// 소스 레지스트리
// ---------------------------------------------------------------

// AddSource 는 이미 있으면 아무것도 하지 않고 false.
func (m *Manager[T]) AddSource(src EventSource[T]) bool {
	key := src.ID.Key()

	m.mu.Lock()
	if _, ok := m.sources[key]; ok {
		m.mu.Unlock()
		return false
	}
	m.sources[key] = src
	atomic.StoreInt64(&m.metrics.SourcesCurrent, int64(len(m.sources)))
	listeners := m.listeners
	m.mu.Unlock()

	notify(listeners, SourceChange[T]{Kind: SourceAdded, Source: src})
	return true
}

// RemoveSource 는 없으면 아무것도 하지 않고 false.
func (m *Manager[T]) RemoveSource(id model.SourceIdentifier) bool {
	key := id.Key()

	m.mu.Lock()
	src, ok := m.sources[key]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.sources, key)
	atomic.StoreInt64(&m.metrics.SourcesCurrent, int64(len(m.sources)))
	listeners := m.listeners
	m.mu.Unlock()

	notify(listeners, SourceChange[T]{Kind: SourceRemoved, Source: src})
	return true
}

// listener 는 잠금 밖에서 호출하므로 listener 안에서 manager 를 다시 불러도 된다.
func notify[T model.Event](listeners []SourceListener[T], ch SourceChange[T]) {
	for _, l := range listeners {
		l(ch)
	}
}

func (m *Manager[T]) Source(id model.SourceIdentifier) (EventSource[T], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[id.Key()]
	return src, ok
}

// Sources 는 SourceIdentifier 순으로 정렬된 복사본.
func (m *Manager[T]) Sources() []EventSource[T] {
	m.mu.Lock()
	out := make([]EventSource[T], 0, len(m.sources))
	for _, src := range m.sources {
		out = append(out, src)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID.Compare(out[j].ID) < 0 })
	return out
}

func (m *Manager[T]) SourceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sources)
}

func (m *Manager[T]) AddSourceListener(l SourceListener[T]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// 새 slice 로 교체해서 통지 중인 복사본과 겹치지 않게 한다
	next := make([]SourceListener[T], len(m.listeners), len(m.listeners)+1)
	copy(next, m.listeners)
	m.listeners = append(next, l)
}

// ---------------------------------------------------------------
// producer 레지스트리
// ---------------------------------------------------------------

// AddEventProducer 는 같은 id 의 이전 producer 를 닫고 교체한다.
func (m *Manager[T]) AddEventProducer(id model.SourceIdentifier, p io.Closer) {
	m.mu.Lock()
	prev, ok := m.producers[id.Key()]
	m.producers[id.Key()] = p
	m.mu.Unlock()

	if ok && prev != p {
		if err := prev.Close(); err != nil {
			zlog.Debug().Err(err).Str("source", id.String()).Msg("closing replaced producer")
		}
	}
}

// RemoveEventProducer 는 producer 를 해제하고 닫는다.
func (m *Manager[T]) RemoveEventProducer(id model.SourceIdentifier) {
	m.mu.Lock()
	p, ok := m.producers[id.Key()]
	delete(m.producers, id.Key())
	m.mu.Unlock()

	if ok {
		_ = p.Close()
	}
}

func (m *Manager[T]) ProducerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.producers)
}
