// internal/model/event.go
package model

import "reflect"

// Event 는 파이프라인이 다루는 이벤트 종류의 닫힌 집합이다.
type Event interface {
	LoggingEvent | AccessEvent
}

// TransferSizeInfo
// ------------------------------------------------------------
// producer 가 wire 에서 측정한 크기 정보.
// 저장/인코딩 대상이 아니며 동등성 비교에서도 제외된다.
type TransferSizeInfo struct {
	TransferSize     int64
	UncompressedSize *int64
}

// EventWrapper
// ------------------------------------------------------------
// 이벤트 + 식별자. 파이프라인의 "기본 단위" 이며
// producer → queue → poller → handler → storage 까지 그대로 전달된다.
//
// Event 가 nil 이면 "소스 종료" sentinel 이다.
// 한 번 append 된 wrapper 는 수정하지 않는다.
type EventWrapper[T Event] struct {
	ID           EventIdentifier   `json:"id" bson:"id"`
	Event        *T                `json:"event,omitempty" bson:"event,omitempty"`
	TransferSize *TransferSizeInfo `json:"-" bson:"-"`
}

// NewSentinel 은 소스 종료를 알리는 wrapper 를 만든다.
func NewSentinel[T Event](source SourceIdentifier, localID int64) *EventWrapper[T] {
	return &EventWrapper[T]{ID: EventIdentifier{Source: source, LocalID: localID}}
}

func (w *EventWrapper[T]) IsSentinel() bool {
	return w.Event == nil
}

// Equal 은 TransferSize 를 무시하고 ID 와 Event 를 비교한다.
// Marker 는 이름 기반 인접 리스트이므로 DeepEqual 이 순환에 빠지지 않는다.
func (w *EventWrapper[T]) Equal(o *EventWrapper[T]) bool {
	if w == nil || o == nil {
		return w == o
	}
	if !w.ID.Equal(o.ID) {
		return false
	}
	return eventEqual(w.Event, o.Event)
}

// eventEqual 은 LoggingEvent 의 marker 를 도달 가능한 그래프 기준으로 비교한다.
func eventEqual[T Event](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	la, ok := any(a).(*LoggingEvent)
	if !ok {
		return reflect.DeepEqual(a, b)
	}
	lb := any(b).(*LoggingEvent)
	if !la.Marker.Equal(lb.Marker) {
		return false
	}
	ca, cb := *la, *lb
	ca.Marker, cb.Marker = nil, nil
	return reflect.DeepEqual(ca, cb)
}
