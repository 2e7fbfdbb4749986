// internal/worker/s3_uploader.go
package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"logsink/internal/metrics"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectPutter 는 *s3.Client 의 PutObject 만 떼어낸 인터페이스.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client 는 region 을 지정해 AWS 기본 설정으로 client 를 만든다.
// "재시도 횟수" 는 애플리케이션 레벨(S3Uploader.retries)만 쓰므로 SDK retry 는 끈다.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	awsCfg, err := awsCfgLib.LoadDefaultConfig(ctx, awsCfgLib.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 1
	}), nil
}

type S3UploaderConfig struct {
	Bucket  string
	Timeout time.Duration // PutObject 시도 1회당 timeout
	Retries int           // 시도 횟수 (최소 1)

	// Backoff 는 첫 재시도 대기 시간. 두 배씩 늘어나며 MaxBackoff 에서 멈춘다.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// S3Uploader
// ------------------------------------------------------------
// 닫힌 소스 파일(data / index)을 S3 로 올린다.
//   - 시도마다 파일을 처음부터 다시 읽는다 (Seek 0)
//   - retry + capped exponential backoff
//   - shutdown-safe: ctx.Done() 시 즉시 중단
type S3Uploader struct {
	cfg     S3UploaderConfig
	metrics *metrics.Metrics
	client  ObjectPutter
}

func NewS3Uploader(client ObjectPutter, cfg S3UploaderConfig, m *metrics.Metrics) *S3Uploader {
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = 2 * time.Second
	}
	if m == nil {
		m = metrics.New()
	}
	return &S3Uploader{cfg: cfg, metrics: m, client: client}
}

// UploadFileWithRetryCtx 는 로컬 파일 하나를 key 로 올린다.
func (u *S3Uploader) UploadFileWithRetryCtx(ctx context.Context, key, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()

	var lastErr error
	backoff := u.cfg.Backoff

	for attempt := 1; attempt <= u.cfg.Retries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// retry 시 파일 포인터를 처음으로 되돌린다
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}

		if err := u.putObject(ctx, key, f, size); err == nil {
			atomic.AddInt64(&u.metrics.ArchiveFilesUploadedTotal, 1)
			return nil
		} else {
			lastErr = err
			atomic.AddInt64(&u.metrics.S3PutErrorsTotal, 1)
		}

		if attempt == u.cfg.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
			if backoff > u.cfg.MaxBackoff {
				backoff = u.cfg.MaxBackoff
			}
		}
	}

	return fmt.Errorf("s3 put %s: %w", key, lastErr)
}

// putObject 는 PutObject 1회 호출. retries 는 caller 가 제어한다.
func (u *S3Uploader) putObject(ctx context.Context, key string, body io.Reader, size int64) error {
	ctx2, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	_, err := u.client.PutObject(ctx2, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	return err
}
