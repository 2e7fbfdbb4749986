package worker

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"logsink/internal/metrics"
	"logsink/internal/model"
	"logsink/internal/testutil"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*nats.Msg
	fail map[string]bool
}

func (p *fakePublisher) PublishMsg(msg *nats.Msg) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[msg.Subject] {
		return errors.New("nats: connection closed")
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func TestForwarderGroupsBySource(t *testing.T) {
	m := metrics.New()
	pub := &fakePublisher{}
	f, err := NewNATSForwarder[model.LoggingEvent](pub, NATSForwarderConfig{}, m)
	require.NoError(t, err)
	assert.Equal(t, "nats:logging", f.Name())

	a, b := source("10.0.0.1", "a"), source("::1", "b")
	batch := []*model.EventWrapper[model.LoggingEvent]{
		wrapFrom(a, 1, testutil.LoggingEvent(1)),
		wrapFrom(b, 1, testutil.LoggingEvent(2)),
		wrapFrom(a, 2, testutil.LoggingEvent(3)),
		model.NewSentinel[model.LoggingEvent](b, 2),
	}
	require.NoError(t, f.Consume(batch))

	require.Len(t, pub.msgs, 2)
	first, second := pub.msgs[0], pub.msgs[1]

	assert.Equal(t, "logsink.logging.10_0_0_1", first.Subject)
	assert.Equal(t, "10.0.0.1-a", first.Header.Get(HeaderSource))
	assert.Equal(t, "logging", first.Header.Get(HeaderContent))
	assert.Equal(t, "2", first.Header.Get(HeaderCount))
	assert.Empty(t, first.Header.Get(HeaderEncoding))

	got, err := DecodeJSONL[model.LoggingEvent](first.Data, false)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, batch[0].Equal(got[0]))
	assert.True(t, batch[2].Equal(got[1]))

	// sentinel 은 빠지고 이벤트 하나만 남는다
	assert.Equal(t, "logsink.logging.__1", second.Subject)
	assert.Equal(t, "1", second.Header.Get(HeaderCount))

	assert.Equal(t, int64(3), atomic.LoadInt64(&m.EventsForwardedTotal))
	assert.Zero(t, atomic.LoadInt64(&m.ForwardErrorsTotal))
}

func TestForwarderGzip(t *testing.T) {
	pub := &fakePublisher{}
	f, err := NewNATSForwarder[model.AccessEvent](pub, NATSForwarderConfig{Subject: "ingest", Gzip: true}, nil)
	require.NoError(t, err)

	w := testutil.Wrap(testutil.FullAccessEvent(), 7)
	require.NoError(t, f.Consume([]*model.EventWrapper[model.AccessEvent]{w}))

	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, "ingest.access.127_0_0_1", msg.Subject)
	assert.Equal(t, "gzip", msg.Header.Get(HeaderEncoding))

	got, err := DecodeJSONL[model.AccessEvent](msg.Data, true)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, w.Equal(got[0]))
}

func TestForwarderPublishFailureIsPerSource(t *testing.T) {
	m := metrics.New()
	pub := &fakePublisher{fail: map[string]bool{"logsink.logging.bad": true}}
	f, err := NewNATSForwarder[model.LoggingEvent](pub, NATSForwarderConfig{}, m)
	require.NoError(t, err)

	err = f.Consume([]*model.EventWrapper[model.LoggingEvent]{
		wrapFrom(source("bad", ""), 1, testutil.LoggingEvent(1)),
		wrapFrom(source("good", ""), 1, testutil.LoggingEvent(2)),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logsink.logging.bad")

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "logsink.logging.good", pub.msgs[0].Subject)
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.ForwardErrorsTotal))
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.EventsForwardedTotal))
}

func TestForwarderSentinelOnlyBatch(t *testing.T) {
	pub := &fakePublisher{}
	f, err := NewNATSForwarder[model.LoggingEvent](pub, NATSForwarderConfig{}, nil)
	require.NoError(t, err)

	require.NoError(t, f.Consume([]*model.EventWrapper[model.LoggingEvent]{model.NewSentinel[model.LoggingEvent](source("x", ""), 1)}))
	assert.Empty(t, pub.msgs)

	_, err = NewNATSForwarder[model.LoggingEvent](nil, NATSForwarderConfig{}, nil)
	assert.Error(t, err)
}
