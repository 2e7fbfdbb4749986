// Package server 는 TCP 소켓으로 들어오는 이벤트 스트림을 받아
// 연결마다 하나의 producer goroutine 으로 디코딩한 뒤 append queue 로 넘긴다.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"logsink/internal/codec"
	"logsink/internal/metrics"
	"logsink/internal/model"

	zlog "github.com/rs/zerolog/log"
)

// Converter 는 디코딩된 이벤트를 저장 전에 변환한다.
// nil 을 돌려주면 그 레코드는 버린다. error 는 transient 로 취급된다.
type Converter[T model.Event] func(ev *T) (*T, error)

// Appender 는 producer 가 wrapper 를 넘기는 곳 (source manager 의 queue).
// queue 가 가득 차 있으면 Put 은 block 한다.
type Appender[T model.Event] interface {
	Put(w *model.EventWrapper[T]) error
}

// ProducerRegistry 는 연결(producer)을 source 별로 등록/해제한다.
type ProducerRegistry interface {
	AddEventProducer(id model.SourceIdentifier, p io.Closer)
	RemoveEventProducer(id model.SourceIdentifier)
}

type ListenerConfig[T model.Event] struct {
	Addr       string
	Codec      codec.Kind
	Compressed bool

	// ReadTimeout 동안 프레임(keep-alive 포함)이 하나도 없으면 연결을 끊는다. 0 이면 무제한.
	ReadTimeout time.Duration

	// MaxFrameSize 는 wire 프레임 상한. 0 이면 codec.DefaultMaxFrameSize.
	MaxFrameSize int

	Converter Converter[T]
}

type Option func(*listenerOptions)

type listenerOptions struct {
	registry ProducerRegistry
	metrics  *metrics.Metrics
}

func WithRegistry(r ProducerRegistry) Option {
	return func(o *listenerOptions) { o.registry = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *listenerOptions) { o.metrics = m }
}

// connSeq 는 같은 시각에 열린 연결도 서로 다른 Secondary 를 갖게 한다.
var connSeq atomic.Int64

// Listener
// ------------------------------------------------------------
// 생명주기:
//
//	NewListener → Start(bind) → Serve(ctx, accept loop) → Close
//
// Close 는 listener 를 닫고, 열린 연결을 모두 닫은 뒤
// 각 연결 goroutine 이 sentinel 을 내보내고 끝날 때까지 기다린다.
type Listener[T model.Event] struct {
	cfg      ListenerConfig[T]
	decoder  codec.Codec[*model.EventWrapper[T]]
	framer   codec.Framer
	appender Appender[T]
	registry ProducerRegistry
	metrics  *metrics.Metrics

	mu     sync.Mutex
	ln     net.Listener
	conns  map[*conn[T]]struct{}
	closed bool

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func NewListener[T model.Event](cfg ListenerConfig[T], appender Appender[T], opts ...Option) (*Listener[T], error) {
	if appender == nil {
		return nil, errors.New("server: appender is required")
	}
	// 압축은 conn 에서 직접 풀어서 wire/원본 크기를 따로 기록한다
	dec, err := codec.New[T](cfg.Codec, false)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	framer, err := codec.FramerFor(cfg.Codec, cfg.Compressed)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	o := listenerOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}

	return &Listener[T]{
		cfg:      cfg,
		decoder:  dec,
		framer:   framer,
		appender: appender,
		registry: o.registry,
		metrics:  o.metrics,
		conns:    make(map[*conn[T]]struct{}),
	}, nil
}

// Start 는 주소에 bind 만 한다. 테스트는 ":0" 으로 bind 후 Addr() 을 쓴다.
func (l *Listener[T]) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return net.ErrClosed
	}
	if l.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", l.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", l.cfg.Addr, err)
	}
	l.ln = ln

	zlog.Info().
		Str("addr", ln.Addr().String()).
		Str("codec", l.cfg.Codec.String()).
		Bool("compressed", l.cfg.Compressed).
		Str("content", codec.ContentOf[T]()).
		Msg("listener started")
	return nil
}

// Addr 는 bind 된 주소. Start 전이면 nil.
func (l *Listener[T]) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Serve 는 listener 가 닫힐 때까지 accept 한다.
// ctx 가 끝나면 Close 를 호출한다. 닫혀서 끝난 경우 nil.
func (l *Listener[T]) Serve(ctx context.Context) error {
	if err := l.Start(); err != nil {
		return err
	}

	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = l.Close()
		case <-stop:
		}
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if l.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		l.handle(nc)
	}
}

func (l *Listener[T]) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Listener[T]) handle(nc net.Conn) {
	c := newConn(l, nc)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = nc.Close()
		return
	}
	l.conns[c] = struct{}{}
	l.wg.Add(1)
	l.mu.Unlock()

	metrics.Inc(&l.metrics.ConnectionsAcceptedTotal)
	atomic.AddInt64(&l.metrics.ConnectionsActive, 1)

	go c.run()
}

func (l *Listener[T]) forget(c *conn[T]) {
	l.mu.Lock()
	delete(l.conns, c)
	l.mu.Unlock()
}

// ActiveConnections 는 읽기 루프가 돌고 있는 연결 수.
func (l *Listener[T]) ActiveConnections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// Close 는 idempotent 하다.
func (l *Listener[T]) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		if l.ln != nil {
			if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				l.closeErr = err
			}
		}
		for c := range l.conns {
			_ = c.Close()
		}
		l.mu.Unlock()

		l.wg.Wait()
		zlog.Info().Str("addr", l.cfg.Addr).Msg("listener closed")
	})
	return l.closeErr
}
