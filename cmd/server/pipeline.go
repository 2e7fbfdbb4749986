package main

import (
	"context"
	"errors"

	"logsink/internal/config"
	"logsink/internal/metrics"
	"logsink/internal/model"
	"logsink/internal/server"
	"logsink/internal/worker"
)

// pipeline 은 이벤트 종류 하나의 수신 경로.
//
//	listener → manager queue → poller → [file handler, nats forwarder]
type pipeline[T model.Event] struct {
	listener *server.Listener[T]
	mgr      *worker.Manager[T]
	files    *worker.FileHandler[T]
}

// sinks 는 선택 구성 요소. 비어 있으면 해당 handler 를 붙이지 않는다.
type sinks struct {
	archive   worker.ArchiveSink
	publisher worker.Publisher
	natsGzip  bool
	subject   string
}

func newPipeline[T model.Event](cfg config.Config, lc config.Listener, m *metrics.Metrics, s sinks) (*pipeline[T], error) {
	kind, err := lc.Kind()
	if err != nil {
		return nil, err
	}

	mgr := worker.NewManager[T](worker.ManagerConfig{
		QueueCapacity: cfg.QueueCapacity,
		PollInterval:  cfg.PollInterval,
	}, m)

	// 파일은 수신 codec 그대로 저장한다
	files, err := worker.NewFileHandler[T](worker.FileHandlerConfig{
		Dir:         cfg.DataDir,
		Codec:       kind,
		Compressed:  lc.Compressed,
		Sync:        cfg.SyncWrites,
		CacheRecent: cfg.CacheRecent,
	}, mgr, s.archive, m)
	if err != nil {
		return nil, err
	}
	mgr.AddHandler(files)

	if s.publisher != nil {
		fwd, err := worker.NewNATSForwarder[T](s.publisher, worker.NATSForwarderConfig{
			Subject: s.subject,
			Gzip:    s.natsGzip,
		}, m)
		if err != nil {
			return nil, err
		}
		mgr.AddHandler(fwd)
	}

	l, err := server.NewListener(server.ListenerConfig[T]{
		Addr:         lc.Addr,
		Codec:        kind,
		Compressed:   lc.Compressed,
		ReadTimeout:  cfg.ReadTimeout,
		MaxFrameSize: cfg.MaxFrameSize,
	}, mgr.Appender(), server.WithRegistry(mgr), server.WithMetrics(m))
	if err != nil {
		return nil, err
	}

	return &pipeline[T]{listener: l, mgr: mgr, files: files}, nil
}

// start 는 포트를 먼저 잡는다. bind 실패는 기동 실패.
func (p *pipeline[T]) start() error {
	p.mgr.Start()
	return p.listener.Start()
}

func (p *pipeline[T]) serve(ctx context.Context) error {
	return p.listener.Serve(ctx)
}

// stop
// ------------------------------------------------------------
//  1. listener Close → 모든 연결이 sentinel 을 queue 에 넣는다
//  2. manager Shutdown → 마지막 drain 으로 sentinel 까지 handler 에 전달
//  3. file handler Close → sentinel 을 못 받은 파일만 남아 있다
func (p *pipeline[T]) stop() error {
	lerr := p.listener.Close()
	p.mgr.Shutdown()
	return errors.Join(lerr, p.files.Close())
}
