package worker

import (
	"context"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"logsink/internal/codec"
	"logsink/internal/metrics"
	"logsink/internal/model"
	"logsink/internal/server"
	"logsink/internal/storage"
	"logsink/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type archiveRecorder struct {
	mu    sync.Mutex
	paths []storage.Paths
}

func (r *archiveRecorder) Submit(_ model.SourceIdentifier, p storage.Paths) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, p)
}

func (r *archiveRecorder) submitted() []storage.Paths {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]storage.Paths(nil), r.paths...)
}

func wrapFrom(id model.SourceIdentifier, localID int64, ev *model.LoggingEvent) *model.EventWrapper[model.LoggingEvent] {
	return &model.EventWrapper[model.LoggingEvent]{ID: model.EventIdentifier{Source: id, LocalID: localID}, Event: ev}
}

func fileConfig(t *testing.T, kind codec.Kind) FileHandlerConfig {
	return FileHandlerConfig{Dir: t.TempDir(), Codec: kind, Compressed: true}
}

func TestFileHandlerPersistsPerSource(t *testing.T) {
	m := metrics.New()
	mgr := NewManager[model.LoggingEvent](ManagerConfig{}, m)
	arch := &archiveRecorder{}
	cfg := fileConfig(t, codec.KindProtobuf)
	h, err := NewFileHandler[model.LoggingEvent](cfg, mgr, arch, m)
	require.NoError(t, err)
	defer h.Close()

	a, b := source("10.0.0.1", "a"), source("10.0.0.2", "b")
	batch := []*model.EventWrapper[model.LoggingEvent]{
		wrapFrom(a, 1, testutil.LoggingEvent(1)),
		wrapFrom(b, 1, testutil.LoggingEvent(2)),
		wrapFrom(a, 2, testutil.FullLoggingEvent()),
	}
	require.NoError(t, h.Consume(batch))
	assert.Equal(t, 2, h.OpenCount())
	assert.Equal(t, 2, mgr.SourceCount())
	assert.Equal(t, int64(3), atomic.LoadInt64(&m.EventsPersistedTotal))

	src, ok := mgr.Source(a)
	require.True(t, ok)
	require.Equal(t, int64(2), src.Buffer.Size())
	got, err := src.Buffer.Get(1)
	require.NoError(t, err)
	assert.True(t, batch[2].Equal(got))

	// sentinel → 닫고, 제거하고, 아카이브로
	paths := storage.PathsFor(cfg.Dir, SourceFileName(codec.ContentLogging, a))
	_, err = os.Stat(paths.Active())
	require.NoError(t, err)

	require.NoError(t, h.Consume([]*model.EventWrapper[model.LoggingEvent]{model.NewSentinel[model.LoggingEvent](a, 3)}))
	assert.Equal(t, 1, h.OpenCount())
	_, ok = mgr.Source(a)
	assert.False(t, ok)
	require.Equal(t, []storage.Paths{paths}, arch.submitted())
	_, err = os.Stat(paths.Active())
	assert.True(t, os.IsNotExist(err))

	// 닫힌 파일을 다시 열면 그대로 읽힌다
	reopened, err := storage.OpenEventBuffer[model.LoggingEvent](paths, storage.EventBufferOptions{})
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, codec.KindProtobuf, reopened.Codec())
	assert.True(t, reopened.Compressed())
	require.Equal(t, int64(2), reopened.Size())
	first, err := reopened.Get(0)
	require.NoError(t, err)
	assert.True(t, batch[0].Equal(first))

	require.NoError(t, h.Close())
	assert.Equal(t, 0, mgr.SourceCount())
	assert.Len(t, arch.submitted(), 1, "sources without a sentinel are not archived")
}

func TestFileHandlerSentinelForUnknownSource(t *testing.T) {
	h, err := NewFileHandler[model.LoggingEvent](fileConfig(t, codec.KindJSON), nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, h.Consume([]*model.EventWrapper[model.LoggingEvent]{
		model.NewSentinel[model.LoggingEvent](source("x", ""), 1),
	}))
	assert.Equal(t, 0, h.OpenCount())
}

func TestFileHandlerFailedSourceIsDropped(t *testing.T) {
	m := metrics.New()
	cfg := fileConfig(t, codec.KindJSON)
	h, err := NewFileHandler[model.LoggingEvent](cfg, nil, nil, m)
	require.NoError(t, err)
	defer h.Close()

	id := source("10.0.0.9", "z")
	// 같은 이름의 디렉토리가 있으면 data 파일을 열 수 없다
	paths := storage.PathsFor(cfg.Dir, SourceFileName(codec.ContentLogging, id))
	require.NoError(t, os.Mkdir(paths.Data, 0o755))

	err = h.Consume([]*model.EventWrapper[model.LoggingEvent]{
		wrapFrom(id, 1, testutil.LoggingEvent(1)),
		wrapFrom(id, 2, testutil.LoggingEvent(2)),
	})
	require.Error(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.StorageErrorsTotal))
	assert.Equal(t, 0, h.OpenCount())

	// sentinel 이 실패 상태를 지운다
	require.NoError(t, h.Consume([]*model.EventWrapper[model.LoggingEvent]{model.NewSentinel[model.LoggingEvent](id, 3)}))
	assert.Empty(t, h.failed)
}

func TestNewFileHandlerValidates(t *testing.T) {
	_, err := NewFileHandler[model.LoggingEvent](FileHandlerConfig{Codec: codec.KindJSON}, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewFileHandler[model.LoggingEvent](FileHandlerConfig{Dir: t.TempDir(), Codec: codec.Kind(42)}, nil, nil, nil)
	assert.ErrorIs(t, err, codec.ErrUnknownKind)
}

// listener → manager → file handler 전체 경로
func TestSocketToFilePipeline(t *testing.T) {
	m := metrics.New()
	mgr := NewManager[model.LoggingEvent](ManagerConfig{PollInterval: 10 * time.Millisecond}, m)
	arch := &archiveRecorder{}
	cfg := FileHandlerConfig{Dir: t.TempDir(), Codec: codec.KindBinary}
	h, err := NewFileHandler[model.LoggingEvent](cfg, mgr, arch, m)
	require.NoError(t, err)
	mgr.AddHandler(h)
	mgr.Start()

	l, err := server.NewListener(server.ListenerConfig[model.LoggingEvent]{Addr: "127.0.0.1:0", Codec: codec.KindBinary},
		mgr.Appender(), server.WithRegistry(mgr), server.WithMetrics(m))
	require.NoError(t, err)
	require.NoError(t, l.Start())
	go func() { _ = l.Serve(context.Background()) }()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)

	enc, err := codec.New[model.LoggingEvent](codec.KindBinary, false)
	require.NoError(t, err)
	for _, name := range []string{"a", "b", "c"} {
		data, err := enc.Encode(testutil.Wrap(testutil.NamedLoggingEvent(name), model.UnassignedID))
		require.NoError(t, err)
		require.NoError(t, codec.LengthPrefixFramer{}.WriteFrame(conn, data))
	}

	require.Eventually(t, func() bool { return mgr.SourceCount() == 1 && atomic.LoadInt64(&m.EventsPersistedTotal) == 3 },
		3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, mgr.ProducerCount())

	src := mgr.Sources()[0]
	for i, name := range []string{"a", "b", "c"} {
		w, err := src.Buffer.Get(int64(i))
		require.NoError(t, err)
		assert.Equal(t, name, w.Event.Logger)
		assert.Equal(t, int64(i+1), w.ID.LocalID)
	}

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return len(arch.submitted()) == 1 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, mgr.SourceCount())
	require.Eventually(t, func() bool { return mgr.ProducerCount() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, l.Close())
	mgr.Shutdown()
	require.NoError(t, h.Close())
}
