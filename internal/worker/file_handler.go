package worker

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"logsink/internal/buffer"
	"logsink/internal/codec"
	"logsink/internal/metrics"
	"logsink/internal/model"
	"logsink/internal/storage"

	zlog "github.com/rs/zerolog/log"
)

type FileHandlerConfig struct {
	Dir        string
	Codec      codec.Kind
	Compressed bool
	Sync       bool

	// CacheRecent 는 소스별 CachingBuffer 의 recent 크기. 0 이면 buffer.DefaultRecent.
	CacheRecent int
}

// ArchiveSink 는 닫힌 파일 쌍을 받는다 (*Archiver).
type ArchiveSink interface {
	Submit(id model.SourceIdentifier, paths storage.Paths)
}

type openFile[T model.Event] struct {
	id     model.SourceIdentifier
	file   *storage.EventBuffer[T]
	cached *buffer.CachingBuffer[model.EventWrapper[T]]
}

// FileHandler
// ------------------------------------------------------------
// wrapper 를 소스별 파일 버퍼(Dir/<content>-<source>.data/.index)에 append 한다.
//
//   - 소스의 첫 이벤트 → 파일 생성 + AddSource (CachingBuffer 로 감싸서 등록)
//   - sentinel       → 파일 Close(.active 제거) + RemoveSource + 아카이브 전달
//   - append 실패     → 그 소스는 닫고 제거, 이후 이벤트는 sentinel 까지 버린다
type FileHandler[T model.Event] struct {
	cfg      FileHandlerConfig
	registry SourceRegistry[T]
	archive  ArchiveSink
	metrics  *metrics.Metrics
	content  string

	mu     sync.Mutex
	open   map[string]*openFile[T]
	failed map[string]struct{}
}

func NewFileHandler[T model.Event](cfg FileHandlerConfig, registry SourceRegistry[T], archive ArchiveSink, m *metrics.Metrics) (*FileHandler[T], error) {
	if cfg.Dir == "" {
		return nil, errors.New("file handler: dir is required")
	}
	if _, err := codec.New[T](cfg.Codec, cfg.Compressed); err != nil {
		return nil, fmt.Errorf("file handler: %w", err)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("file handler: %w", err)
	}
	if m == nil {
		m = metrics.New()
	}
	return &FileHandler[T]{
		cfg:      cfg,
		registry: registry,
		archive:  archive,
		metrics:  m,
		content:  codec.ContentOf[T](),
		open:     make(map[string]*openFile[T]),
		failed:   make(map[string]struct{}),
	}, nil
}

func (h *FileHandler[T]) Name() string { return "file:" + h.content }

func (h *FileHandler[T]) Consume(batch []*model.EventWrapper[T]) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for _, w := range batch {
		if err := h.handle(w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *FileHandler[T]) handle(w *model.EventWrapper[T]) error {
	key := w.ID.Source.Key()

	if w.IsSentinel() {
		delete(h.failed, key)
		if f, ok := h.open[key]; ok {
			h.closeSource(key, f, true)
		}
		return nil
	}
	if _, ok := h.failed[key]; ok {
		return nil
	}

	f, ok := h.open[key]
	if !ok {
		var err error
		if f, err = h.openSource(w.ID.Source); err != nil {
			atomic.AddInt64(&h.metrics.StorageErrorsTotal, 1)
			h.failed[key] = struct{}{}
			return err
		}
		h.open[key] = f
	}

	if _, err := f.file.Add(w); err != nil {
		atomic.AddInt64(&h.metrics.StorageErrorsTotal, 1)
		h.failed[key] = struct{}{}
		h.closeSource(key, f, false)
		return fmt.Errorf("append %s: %w", w.ID.Source, err)
	}
	atomic.AddInt64(&h.metrics.EventsPersistedTotal, 1)
	return nil
}

func (h *FileHandler[T]) openSource(id model.SourceIdentifier) (*openFile[T], error) {
	paths := storage.PathsFor(h.cfg.Dir, SourceFileName(h.content, id))
	file, err := storage.OpenEventBuffer[T](paths, storage.EventBufferOptions{
		Codec:      h.cfg.Codec,
		Compressed: h.cfg.Compressed,
		Sync:       h.cfg.Sync,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", id, err)
	}
	if r := file.Recovery(); r.Repaired {
		zlog.Warn().Str("source", id.String()).Int64("dropped", r.DroppedDescriptors).Msg("reopened source file was repaired")
	}

	var opts []buffer.CacheOption
	if h.cfg.CacheRecent > 0 {
		opts = append(opts, buffer.WithRecent(h.cfg.CacheRecent))
	}
	f := &openFile[T]{
		id:     id,
		file:   file,
		cached: buffer.NewCachingBuffer[model.EventWrapper[T]](file, opts...),
	}
	if h.registry != nil {
		h.registry.AddSource(EventSource[T]{ID: id, Buffer: f.cached})
	}
	zlog.Debug().Str("source", id.String()).Str("data", paths.Data).Msg("source file opened")
	return f, nil
}

// closeSource 는 archive 가 true 일 때만 아카이브로 넘긴다.
func (h *FileHandler[T]) closeSource(key string, f *openFile[T], archive bool) {
	delete(h.open, key)
	if h.registry != nil {
		h.registry.RemoveSource(f.id)
	}
	f.cached.Dispose()

	if err := f.file.Close(); err != nil {
		zlog.Error().Err(err).Str("source", f.id.String()).Msg("closing source file")
		return
	}
	if archive && h.archive != nil {
		h.archive.Submit(f.id, f.file.Paths())
	}
}

// OpenCount 는 열린 소스 파일 수.
func (h *FileHandler[T]) OpenCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.open)
}

// Close 는 열린 파일을 모두 닫는다. sentinel 을 받지 못한 소스는 아카이브하지 않는다.
func (h *FileHandler[T]) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for key, f := range h.open {
		delete(h.open, key)
		if h.registry != nil {
			h.registry.RemoveSource(f.id)
		}
		f.cached.Dispose()
		if err := f.file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
