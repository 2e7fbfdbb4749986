package model

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceIdentifierCompare(t *testing.T) {
	a := NewSourceIdentifier("host-a", "")
	a1 := NewSourceIdentifier("host-a", "1")
	a2 := NewSourceIdentifier("host-a", "2")
	b := NewSourceIdentifier("host-b", "")

	tests := []struct {
		name string
		x, y SourceIdentifier
		want int
	}{
		{"same primary nil secondary", a, NewSourceIdentifier("host-a", ""), 0},
		{"nil before non-nil", a, a1, -1},
		{"non-nil after nil", a1, a, 1},
		{"secondary lexicographic", a1, a2, -1},
		{"primary wins", a2, b, -1},
		{"equal secondary", a2, NewSourceIdentifier("host-a", "2"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.x.Compare(tt.y))
		})
	}

	ids := []SourceIdentifier{b, a2, a, a1}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Compare(ids[j]) < 0 })
	assert.Equal(t, []string{"host-a", "host-a-1", "host-a-2", "host-b"},
		[]string{ids[0].String(), ids[1].String(), ids[2].String(), ids[3].String()})
}

func TestSourceIdentifierKeyIgnoresPointerIdentity(t *testing.T) {
	x := NewSourceIdentifier("h", "s")
	y := NewSourceIdentifier("h", "s")
	assert.Equal(t, x.Key(), y.Key())
	assert.NotEqual(t, NewSourceIdentifier("h", "").Key(), x.Key())
}

func TestLevelOrderAndParse(t *testing.T) {
	assert.True(t, LevelTrace < LevelDebug && LevelDebug < LevelInfo && LevelInfo < LevelWarn && LevelWarn < LevelError)

	for _, l := range []Level{LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError} {
		parsed, err := ParseLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, parsed)
	}
	parsed, err := ParseLevel(" warn ")
	require.NoError(t, err)
	assert.Equal(t, LevelWarn, parsed)

	_, err = ParseLevel("FATAL")
	assert.Error(t, err)
}

func TestMarkerCycle(t *testing.T) {
	m := NewMarker("m1").Reference("m1", "m2").Reference("m2", "m1")

	assert.Equal(t, []string{"m1", "m2"}, m.Names())
	assert.True(t, m.Contains("m2"))
	assert.False(t, m.Contains("m3"))
	assert.Equal(t, "m1[m2[m1...]]", m.String())

	other := NewMarker("m1").Reference("m2", "m1").Reference("m1", "m2")
	assert.True(t, m.Equal(other))

	other.Reference("m2", "m3")
	assert.False(t, m.Equal(other))
}

func TestMarkerReferenceKeepsChildrenSorted(t *testing.T) {
	m := NewMarker("root").
		Reference("root", "c").
		Reference("root", "a").
		Reference("root", "b").
		Reference("root", "a")

	assert.Equal(t, []string{"a", "b", "c"}, m.Children("root"))
	assert.Equal(t, "root[a, b, c]", m.String())
}

func TestMarkerEqualIgnoresUnreachable(t *testing.T) {
	a := NewMarker("x").Reference("x", "y")
	b := NewMarker("x").Reference("x", "y").Reference("z", "x")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(nil))
	assert.True(t, (*Marker)(nil).Equal(nil))
}

func TestEventWrapperEqualIgnoresTransferSize(t *testing.T) {
	src := NewSourceIdentifier("h", "1")
	w1 := &EventWrapper[LoggingEvent]{
		ID:           EventIdentifier{Source: src, LocalID: 1},
		Event:        &LoggingEvent{Logger: "a"},
		TransferSize: &TransferSizeInfo{TransferSize: 10},
	}
	w2 := &EventWrapper[LoggingEvent]{
		ID:    EventIdentifier{Source: NewSourceIdentifier("h", "1"), LocalID: 1},
		Event: &LoggingEvent{Logger: "a"},
	}
	assert.True(t, w1.Equal(w2))

	w2.Event.Logger = "b"
	assert.False(t, w1.Equal(w2))

	s := NewSentinel[LoggingEvent](src, 2)
	assert.True(t, s.IsSentinel())
	assert.False(t, w1.IsSentinel())
}

func TestEventWrapperEqualComparesMarkerGraph(t *testing.T) {
	src := NewSourceIdentifier("h", "1")
	wrap := func(m *Marker) *EventWrapper[LoggingEvent] {
		return &EventWrapper[LoggingEvent]{
			ID:    EventIdentifier{Source: src, LocalID: 1},
			Event: &LoggingEvent{Logger: "a", Marker: m},
		}
	}

	// 도달할 수 없는 z 와 비어 있는 자식 목록 표현은 결과에 영향이 없다
	a := NewMarker("x").Reference("x", "y")
	b := NewMarker("x").Reference("x", "y").Reference("z", "x")
	b.References["y"] = []string{}
	assert.True(t, wrap(a).Equal(wrap(b)))

	c := NewMarker("x").Reference("x", "y").Reference("y", "x")
	assert.False(t, wrap(a).Equal(wrap(c)))
	assert.False(t, wrap(a).Equal(wrap(nil)))
	assert.True(t, wrap(nil).Equal(wrap(nil)))

	other := wrap(b)
	other.Event.Logger = "b"
	assert.False(t, wrap(a).Equal(other))

	acc := func(uri string) *EventWrapper[AccessEvent] {
		return &EventWrapper[AccessEvent]{
			ID:    EventIdentifier{Source: src, LocalID: 1},
			Event: &AccessEvent{RequestURI: uri},
		}
	}
	assert.True(t, acc("/a").Equal(acc("/a")))
	assert.False(t, acc("/a").Equal(acc("/b")))
}

func TestThrowableDepth(t *testing.T) {
	th := &ThrowableInfo{Name: "a", Cause: &ThrowableInfo{Name: "b", Cause: &ThrowableInfo{Name: "c"}}}
	assert.Equal(t, 3, th.Depth())
}
