package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringListsEveryCounter(t *testing.T) {
	m := New()
	Inc(&m.EventsReceivedTotal)
	Inc(&m.EventsReceivedTotal)
	Inc(&m.SentinelsTotal)

	out := m.String()
	assert.Contains(t, out, "events_received_total=2\n")
	assert.Contains(t, out, "sentinels_total=1\n")
	assert.Contains(t, out, "connections_active=0\n")
	assert.Equal(t, len(m.fields()), strings.Count(out, "\n"))
}

func TestCollectorExportsCounters(t *testing.T) {
	m := New()
	m.ConnectionsActive = 3
	Inc(&m.DecodeErrorsTotal)

	c := NewCollector(m).WithCounterFunc("cache_evictions_total", "Evicted cache entries.", func() float64 { return 7 })

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	assert.Equal(t, len(m.fields())+1, testutil.CollectAndCount(c))

	expected := `
# HELP logsink_connections_active Connections with a running read loop.
# TYPE logsink_connections_active gauge
logsink_connections_active 3
# HELP logsink_decode_errors_total Records skipped because decoding or conversion failed.
# TYPE logsink_decode_errors_total counter
logsink_decode_errors_total 1
# HELP logsink_cache_evictions_total Evicted cache entries.
# TYPE logsink_cache_evictions_total counter
logsink_cache_evictions_total 7
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"logsink_connections_active", "logsink_decode_errors_total", "logsink_cache_evictions_total"))
}
