package worker

import (
	"logsink/internal/buffer"
	"logsink/internal/model"
)

// EventSource 는 source manager 에 등록되는 "읽을 수 있는 소스" 하나.
// Filter 가 nil 이면 모든 이벤트를 보여준다.
type EventSource[T model.Event] struct {
	ID     model.SourceIdentifier
	Buffer buffer.Buffer[*model.EventWrapper[T]]
	Filter buffer.Condition[*model.EventWrapper[T]]
}

type SourceChangeKind uint8

const (
	SourceAdded SourceChangeKind = iota + 1
	SourceRemoved
)

func (k SourceChangeKind) String() string {
	switch k {
	case SourceAdded:
		return "added"
	case SourceRemoved:
		return "removed"
	}
	return "unknown"
}

// SourceChange 는 membership 이 실제로 바뀌었을 때만 발행된다.
type SourceChange[T model.Event] struct {
	Kind   SourceChangeKind
	Source EventSource[T]
}

type SourceListener[T model.Event] func(SourceChange[T])

// SourceRegistry 는 handler 가 소스를 등록/해제할 때 쓰는 manager 의 일부.
type SourceRegistry[T model.Event] interface {
	AddSource(src EventSource[T]) bool
	RemoveSource(id model.SourceIdentifier) bool
}

// EventHandler 는 poller 가 모은 배치를 받는다.
// 배치에는 여러 소스의 wrapper 와 sentinel 이 섞여 있고, 소스별 순서는 보존된다.
type EventHandler[T model.Event] interface {
	Consume(batch []*model.EventWrapper[T]) error
}

type EventHandlerFunc[T model.Event] func(batch []*model.EventWrapper[T]) error

func (f EventHandlerFunc[T]) Consume(batch []*model.EventWrapper[T]) error { return f(batch) }

// named 는 로그에 handler 이름을 남기기 위한 선택 인터페이스.
type named interface {
	Name() string
}
