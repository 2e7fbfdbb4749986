package worker

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"logsink/internal/metrics"
	"logsink/internal/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	mu      sync.Mutex
	objects map[string]string
	calls   int
	failN   int // 처음 failN 번은 실패
	down    bool
}

func newFakePutter() *fakePutter {
	return &fakePutter{objects: make(map[string]string)}
}

func (p *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.down || p.calls <= p.failN {
		return nil, errors.New("s3: service unavailable")
	}
	p.objects[aws.ToString(in.Key)] = string(body)
	return &s3.PutObjectOutput{}, nil
}

func (p *fakePutter) setDown(down bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down = down
}

func (p *fakePutter) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.objects))
	for k := range p.objects {
		out = append(out, k)
	}
	return out
}

func (p *fakePutter) object(suffix string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range p.objects {
		if strings.HasSuffix(k, suffix) {
			return v, true
		}
	}
	return "", false
}

func writePair(t *testing.T, dir, name string) storage.Paths {
	t.Helper()
	paths := storage.PathsFor(dir, name)
	require.NoError(t, os.WriteFile(paths.Data, []byte("data:"+name), 0o644))
	require.NoError(t, os.WriteFile(paths.Index, []byte("index:"+name), 0o644))
	return paths
}

func newTestArchiver(t *testing.T, putter *fakePutter, m *metrics.Metrics) (*Archiver, ArchiverConfig) {
	t.Helper()
	up := NewS3Uploader(putter, S3UploaderConfig{Bucket: "logs", Retries: 2, Backoff: time.Millisecond, MaxBackoff: time.Millisecond}, m)
	cfg := ArchiverConfig{
		Prefix:     "/archive/",
		InstanceID: "node-1",
		SpoolDir:   filepath.Join(t.TempDir(), "spool"),
		Interval:   time.Hour,
	}
	a, err := NewArchiver(up, cfg, m)
	require.NoError(t, err)
	return a, cfg
}

func TestUploaderRetriesFromStart(t *testing.T) {
	m := metrics.New()
	putter := newFakePutter()
	putter.failN = 1
	up := NewS3Uploader(putter, S3UploaderConfig{Bucket: "logs", Retries: 3, Backoff: time.Millisecond}, m)

	file := filepath.Join(t.TempDir(), "a.data")
	require.NoError(t, os.WriteFile(file, []byte("payload"), 0o644))

	require.NoError(t, up.UploadFileWithRetryCtx(context.Background(), "k/a.data", file))
	assert.Equal(t, "payload", putter.objects["k/a.data"])
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.S3PutErrorsTotal))
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.ArchiveFilesUploadedTotal))
}

func TestUploaderGivesUp(t *testing.T) {
	m := metrics.New()
	putter := newFakePutter()
	putter.down = true
	up := NewS3Uploader(putter, S3UploaderConfig{Bucket: "logs", Retries: 2, Backoff: time.Millisecond}, m)

	file := filepath.Join(t.TempDir(), "a.data")
	require.NoError(t, os.WriteFile(file, []byte("payload"), 0o644))

	err := up.UploadFileWithRetryCtx(context.Background(), "k/a.data", file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "k/a.data")
	assert.Equal(t, 2, putter.calls)
	assert.Equal(t, int64(2), atomic.LoadInt64(&m.S3PutErrorsTotal))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, up.UploadFileWithRetryCtx(ctx, "k/a.data", file), context.Canceled)
}

func TestArchiverUploadsPair(t *testing.T) {
	m := metrics.New()
	putter := newFakePutter()
	a, _ := newTestArchiver(t, putter, m)
	a.Start()
	defer a.Shutdown()

	dir := t.TempDir()
	paths := writePair(t, dir, "logging-10.0.0.1")
	a.Submit(source("10.0.0.1", ""), paths)

	require.Eventually(t, func() bool { return len(putter.keys()) == 2 }, 3*time.Second, 5*time.Millisecond)
	for _, k := range putter.keys() {
		assert.True(t, strings.HasPrefix(k, "archive/dt="), k)
		assert.Contains(t, k, "/hr=")
	}
	data, ok := putter.object("/logging-10.0.0.1.data")
	require.True(t, ok)
	assert.Equal(t, "data:logging-10.0.0.1", data)

	require.Eventually(t, func() bool {
		_, err := os.Stat(paths.Index)
		return os.IsNotExist(err)
	}, time.Second, 5*time.Millisecond)
	_, err := os.Stat(paths.Data)
	assert.True(t, os.IsNotExist(err))
}

func TestArchiverSpoolsAndReuploads(t *testing.T) {
	m := metrics.New()
	putter := newFakePutter()
	putter.down = true
	a, _ := newTestArchiver(t, putter, m)
	a.Start()
	defer a.Shutdown()

	paths := writePair(t, t.TempDir(), "access-10.0.0.2")
	a.Submit(source("10.0.0.2", ""), paths)

	require.Eventually(t, func() bool { return a.spool.Len() == 1 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.SpoolFilesCurrent))
	_, err := os.Stat(paths.Data)
	require.NoError(t, err, "failed uploads keep the local pair")

	// 아직 장애 중이면 entry 는 남는다
	assert.False(t, a.ProcessOneCtx(context.Background()))
	assert.Equal(t, 1, a.spool.Len())

	putter.setDown(false)
	assert.True(t, a.ProcessOneCtx(context.Background()))
	assert.Equal(t, 0, a.spool.Len())
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.SpoolReuploadedTotal))
	assert.Zero(t, atomic.LoadInt64(&m.SpoolFilesCurrent))
	assert.Len(t, putter.keys(), 2)

	assert.False(t, a.ProcessOneCtx(context.Background()))
}

func TestArchiverDropsEntryWithoutFiles(t *testing.T) {
	m := metrics.New()
	a, _ := newTestArchiver(t, newFakePutter(), m)

	require.NoError(t, a.spool.Save(SpoolEntry{Source: "gone", Data: filepath.Join(t.TempDir(), "gone.data")}))
	assert.True(t, a.ProcessOneCtx(context.Background()))
	assert.Equal(t, 0, a.spool.Len())
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.SpoolExpiredTotal))
}

func TestArchiverShutdownSpoolsPending(t *testing.T) {
	m := metrics.New()
	putter := newFakePutter()
	a, _ := newTestArchiver(t, putter, m)

	paths := writePair(t, t.TempDir(), "logging-x")
	a.Submit(source("x", ""), paths)
	a.Shutdown()
	a.Shutdown()

	assert.Equal(t, 1, a.spool.Len())
	assert.Empty(t, putter.keys())

	// 닫힌 뒤 Submit 은 바로 spool 로
	a.Submit(source("y", ""), writePair(t, t.TempDir(), "logging-y"))
	assert.Equal(t, 2, a.spool.Len())
}

func TestSpoolOrderAndTTL(t *testing.T) {
	m := metrics.New()
	dir := t.TempDir()

	// 이전 실행이 남긴 파일들
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1000_old_000001.json"), []byte(`{"data":"/x.data"}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "half.json.tmp"), []byte(`{`), 0o600))

	s, err := NewSpool(dir, "node-1", time.Hour, m)
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.SpoolFilesCurrent))
	_, err = os.Stat(filepath.Join(dir, "half.json.tmp"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, s.Save(SpoolEntry{Source: "a", Data: "/a.data", Index: "/a.index"}))
	require.NoError(t, s.Save(SpoolEntry{Source: "b", Data: "/b.data", Index: "/b.index"}))

	// 1000 초짜리는 TTL 로 버려지고 a 가 먼저 나온다
	name, e, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, "a", e.Source)
	assert.NotZero(t, e.CreatedAt)
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.SpoolExpiredTotal))

	s.Remove(name)
	_, e, ok = s.Next()
	require.True(t, ok)
	assert.Equal(t, "b", e.Source)
	assert.Equal(t, 1, s.Len())
}

func TestSpoolDropsUnreadable(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSpool(dir, "n", 0, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "1_n_000001.json"), []byte("not json"), 0o600))
	_, _, ok := s.Next()
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}
