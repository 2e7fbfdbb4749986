// internal/worker/archive.go
package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"logsink/internal/metrics"
	"logsink/internal/model"
	"logsink/internal/storage"

	zlog "github.com/rs/zerolog/log"
)

type ArchiverConfig struct {
	Prefix     string
	InstanceID string

	SpoolDir    string
	SpoolMaxAge time.Duration

	// Interval 마다 spool 에서 최대 3건을 재업로드한다.
	Interval time.Duration

	// QueueSize 는 업로드 대기 채널 크기. 가득 차면 바로 spool 로 간다.
	QueueSize int

	// KeepLocal 이면 업로드 후에도 로컬 파일을 지우지 않는다.
	KeepLocal bool
}

type archiveJob struct {
	source string
	paths  storage.Paths
}

// Archiver
// ------------------------------------------------------------
// 닫힌 소스 파일 쌍(data + index)을 S3 로 보낸다.
//
//	Submit → jobs 채널 → uploadLoop → S3 (실패 시 spool)
//	                               ↘ Interval 마다 spool 재업로드
//
// Shutdown 은 아직 올리지 못한 job 을 전부 spool 에 기록하고 끝난다.
type Archiver struct {
	cfg      ArchiverConfig
	uploader *S3Uploader
	spool    *Spool
	metrics  *metrics.Metrics

	jobs chan archiveJob

	mu     sync.RWMutex
	closed bool

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewArchiver(uploader *S3Uploader, cfg ArchiverConfig, m *metrics.Metrics) (*Archiver, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if m == nil {
		m = metrics.New()
	}
	spool, err := NewSpool(cfg.SpoolDir, cfg.InstanceID, cfg.SpoolMaxAge, m)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Archiver{
		cfg:      cfg,
		uploader: uploader,
		spool:    spool,
		metrics:  m,
		jobs:     make(chan archiveJob, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (a *Archiver) Start() {
	a.wg.Add(1)
	go a.uploadLoop()
}

// Submit 은 block 하지 않는다.
func (a *Archiver) Submit(id model.SourceIdentifier, paths storage.Paths) {
	job := archiveJob{source: id.String(), paths: paths}

	a.mu.RLock()
	if !a.closed {
		select {
		case a.jobs <- job:
			a.mu.RUnlock()
			return
		default:
		}
	}
	a.mu.RUnlock()

	a.toSpool(job, errors.New("archive queue unavailable"))
}

// Shutdown 은 idempotent 하다.
func (a *Archiver) Shutdown() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		a.cancel()
	})
	a.wg.Wait()
	// Start 없이 닫힌 경우 채널에 남은 job
	a.drainToSpool()
}

func (a *Archiver) uploadLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			a.drainToSpool()
			return

		case job := <-a.jobs:
			if err := a.upload(a.ctx, job.paths); err != nil {
				a.toSpool(job, err)
			}

		case <-ticker.C:
			// starvation 방지: 한 번에 최대 3건
			for i := 0; i < 3; i++ {
				if !a.ProcessOneCtx(a.ctx) {
					break
				}
			}
		}
	}
}

func (a *Archiver) drainToSpool() {
	for {
		select {
		case job := <-a.jobs:
			a.toSpool(job, context.Canceled)
		default:
			return
		}
	}
}

func (a *Archiver) toSpool(job archiveJob, cause error) {
	e := SpoolEntry{Source: job.source, Data: job.paths.Data, Index: job.paths.Index}
	if err := a.spool.Save(e); err != nil {
		zlog.Error().Err(err).Str("source", job.source).Msg("spool save failed, file pair stays local only")
		return
	}
	zlog.Warn().Err(cause).Str("source", job.source).Str("data", job.paths.Data).Msg("archive upload deferred to spool")
}

// upload 는 data → index 순서로 올린다. 둘 다 성공해야 로컬 파일을 지운다.
func (a *Archiver) upload(ctx context.Context, paths storage.Paths) error {
	for _, p := range []string{paths.Data, paths.Index} {
		key := BuildS3Key(a.cfg.Prefix, filepath.Base(p))
		if err := a.uploader.UploadFileWithRetryCtx(ctx, key, p); err != nil {
			return err
		}
	}
	if !a.cfg.KeepLocal {
		_ = os.Remove(paths.Data)
		_ = os.Remove(paths.Index)
	}
	zlog.Info().Str("data", paths.Data).Msg("file pair archived")
	return nil
}

// ProcessOneCtx 는 spool 에서 가장 오래된 entry 하나를 재업로드한다.
// 처리할 entry 가 없거나 업로드에 실패하면 false.
func (a *Archiver) ProcessOneCtx(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}

	name, e, ok := a.spool.Next()
	if !ok {
		return false
	}

	paths := storage.Paths{Data: e.Data, Index: e.Index}
	if _, err := os.Stat(paths.Data); errors.Is(err, os.ErrNotExist) {
		zlog.Warn().Str("entry", name).Str("data", e.Data).Msg("spooled file pair is gone, dropping entry")
		a.spool.Remove(name)
		atomic.AddInt64(&a.metrics.SpoolExpiredTotal, 1)
		return true
	}

	if err := a.upload(ctx, paths); err != nil {
		zlog.Warn().Err(err).Str("entry", name).Msg("spool reupload failed")
		return false
	}
	a.spool.Remove(name)
	atomic.AddInt64(&a.metrics.SpoolReuploadedTotal, 1)
	return true
}
