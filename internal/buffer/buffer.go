// Package buffer 는 인덱스 기반 읽기 전용 Buffer 계약과 그 위에 얹는
// 필터링 / 캐싱 래퍼, 그리고 producer → poller 사이의 BlockingQueue 를 제공한다.
//
// Buffer 규약:
//   - Get(i) 는 i < 0 또는 i >= Size() 이면 (zero, nil)
//   - 범위 안 읽기 실패만 error
//   - Size() 는 Reset 전까지 줄어들지 않는다
package buffer

// Buffer 는 random-access 읽기 인터페이스.
type Buffer[E any] interface {
	Get(index int64) (E, error)
	Size() int64
}

// Condition 은 필터 predicate.
type Condition[E any] interface {
	Match(e E) bool
}

// ConditionFunc 는 함수 하나를 Condition 으로 쓴다.
type ConditionFunc[E any] func(e E) bool

func (f ConditionFunc[E]) Match(e E) bool { return f(e) }

// Resetter 는 비우기를 지원하는 버퍼.
type Resetter interface {
	Reset() error
}

// Disposer 는 백그라운드 자원을 가진 버퍼.
type Disposer interface {
	Dispose()
}

// Sourced 는 다른 Buffer 를 감싸는 래퍼.
type Sourced[E any] interface {
	SourceBuffer() Buffer[E]
}

// ResolveSourceBuffer 는 FilteringBuffer 래퍼만 벗긴다.
// CachingBuffer 등 다른 래퍼를 만나면 그 래퍼를 그대로 돌려준다.
func ResolveSourceBuffer[E any](b Buffer[E]) Buffer[E] {
	for {
		f, ok := b.(*FilteringBuffer[E])
		if !ok {
			return b
		}
		inner := f.SourceBuffer()
		if inner == nil {
			return b
		}
		b = inner
	}
}

// Slice 는 메모리 slice 를 Buffer 로 노출한다 (테스트 / 소량 데이터용).
type Slice[E any] []E

func (s Slice[E]) Get(index int64) (E, error) {
	if index < 0 || index >= int64(len(s)) {
		var zero E
		return zero, nil
	}
	return s[index], nil
}

func (s Slice[E]) Size() int64 { return int64(len(s)) }
