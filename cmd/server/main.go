package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"logsink/internal/buffer"
	"logsink/internal/config"
	"logsink/internal/logger"
	"logsink/internal/metrics"
	"logsink/internal/model"
	"logsink/internal/worker"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// component 는 pipeline[LoggingEvent] / pipeline[AccessEvent] 공통 수명주기.
type component interface {
	start() error
	serve(ctx context.Context) error
	stop() error
}

func main() {

	// ====================================================================
	// CPU 설정 (컨테이너 vCPU 대응)
	// ====================================================================
	//
	// 컨테이너 CPU quota 가 1 vCPU 이하인데 GOMAXPROCS 가 호스트 코어 수로 잡히면
	// 스케줄링 경합으로 지연이 커진다. 연결당 goroutine 은 I/O 대기 위주라
	// 기본값 1 로 충분하고, 필요하면 GOMAXPROCS 환경 변수로 올린다.
	// ====================================================================
	if v := os.Getenv("GOMAXPROCS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			runtime.GOMAXPROCS(n)
		}
	} else {
		runtime.GOMAXPROCS(1)
	}

	// ====================================================================
	// Config / Logger / Metrics
	// ====================================================================
	cfg := config.Load()
	logger.Init(cfg)
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// ====================================================================
	// 선택 구성 요소: S3 아카이브 / NATS 전달
	// ====================================================================
	var (
		s        sinks
		archiver *worker.Archiver
		nc       *nats.Conn
	)
	s.subject = cfg.NATSSubject
	s.natsGzip = cfg.NATSGzip

	if cfg.ArchiveEnabled() {
		client, err := worker.NewS3Client(ctx, cfg.AWSRegion)
		if err != nil {
			zlog.Fatal().Err(err).Msg("s3 client")
		}
		up := worker.NewS3Uploader(client, worker.S3UploaderConfig{
			Bucket:  cfg.S3Bucket,
			Timeout: cfg.S3Timeout,
			Retries: cfg.S3AppRetries,
		}, m)
		archiver, err = worker.NewArchiver(up, worker.ArchiverConfig{
			Prefix:      cfg.S3Prefix,
			InstanceID:  cfg.InstanceID,
			SpoolDir:    cfg.SpoolDir,
			SpoolMaxAge: cfg.SpoolMaxAge,
			Interval:    cfg.SpoolInterval,
			KeepLocal:   cfg.KeepLocal,
		}, m)
		if err != nil {
			zlog.Fatal().Err(err).Msg("archiver")
		}
		archiver.Start()
		s.archive = archiver
		zlog.Info().Str("bucket", cfg.S3Bucket).Str("prefix", cfg.S3Prefix).Msg("s3 archive enabled")
	}

	if cfg.ForwardEnabled() {
		var err error
		nc, err = worker.ConnectNATS(cfg.NATSURL, cfg.ServiceName+"-"+cfg.InstanceID)
		if err != nil {
			zlog.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("nats connect")
		}
		s.publisher = nc
		zlog.Info().Str("url", cfg.NATSURL).Str("subject", cfg.NATSSubject).Msg("nats forwarding enabled")
	}

	// ====================================================================
	// 수신 pipeline (logging / access)
	// ====================================================================
	var comps []component
	if cfg.Logging.Enabled() {
		p, err := newPipeline[model.LoggingEvent](cfg, cfg.Logging, m, s)
		if err != nil {
			zlog.Fatal().Err(err).Msg("logging pipeline")
		}
		comps = append(comps, p)
	}
	if cfg.Access.Enabled() {
		p, err := newPipeline[model.AccessEvent](cfg, cfg.Access, m, s)
		if err != nil {
			zlog.Fatal().Err(err).Msg("access pipeline")
		}
		comps = append(comps, p)
	}
	for _, c := range comps {
		if err := c.start(); err != nil {
			zlog.Fatal().Err(err).Msg("listener start")
		}
	}

	// ====================================================================
	// HTTP: /metrics (prometheus), /health
	// ====================================================================
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(m).WithCounterFunc(
			"cache_evictions_total", "Caching buffer entries evicted after collection.",
			func() float64 { return float64(buffer.CacheEvictions()) },
		),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  8 * time.Second,
		WriteTimeout: 8 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ====================================================================
	// 실행 / Graceful Shutdown
	// ====================================================================
	//
	// SIGTERM 수신 시:
	//   1) HTTP 서버 종료
	//   2) listener 종료 → 연결마다 sentinel
	//   3) manager drain → 파일 Close → 아카이브로 전달
	//   4) archiver 종료 (못 올린 파일 쌍은 spool 에 기록)
	//   5) NATS drain
	// ====================================================================
	g, gctx := errgroup.WithContext(ctx)

	for _, c := range comps {
		g.Go(func() error { return c.serve(gctx) })
	}
	g.Go(func() error {
		zlog.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zlog.Info().Msg("shutdown signal received")

		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		zlog.Error().Err(err).Msg("server terminated")
	}

	for _, c := range comps {
		if err := c.stop(); err != nil {
			zlog.Error().Err(err).Msg("pipeline stop")
		}
	}
	if archiver != nil {
		archiver.Shutdown()
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			zlog.Warn().Err(err).Msg("nats drain")
		}
	}

	zlog.Info().Str("metrics", m.String()).Msg("shutdown complete")
}
