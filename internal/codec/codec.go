// Package codec 는 이벤트 wrapper 를 바이트 배열로/에서 변환하는
// Encoder/Decoder 쌍을 제공한다.
//
// 코덱 종류는 닫힌 집합(Kind)이며 파일 헤더 메타데이터 또는 listener 설정에서
// 한 번만 해석된다. 모든 코덱은 상태가 없고, 넘겨받은 버퍼 외의 I/O 를 하지 않는다.
package codec

import (
	"errors"
	"fmt"
	"strings"

	"logsink/internal/model"
)

var (
	// ErrDecode 는 레코드 하나의 디코딩 실패(일시적, 해당 레코드만 skip).
	ErrDecode = errors.New("codec: decode failed")

	// ErrUnknownKind 는 메타데이터/설정의 코덱 이름이 잘못된 경우.
	ErrUnknownKind = errors.New("codec: unknown kind")

	// ErrContentMismatch 는 logging 스트림에 access 이벤트가 들어온 경우 등.
	ErrContentMismatch = errors.New("codec: content type mismatch")
)

// Kind 는 지원하는 직렬화 포맷.
type Kind uint8

const (
	KindBinary Kind = iota + 1 // BSON
	KindXML
	KindProtobuf
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindBinary:
		return "bson"
	case KindXML:
		return "xml"
	case KindProtobuf:
		return "protobuf"
	case KindJSON:
		return "json"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind 는 메타데이터 문자열을 Kind 로 해석한다. "binary" 는 "bson" 의 별칭.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bson", "binary":
		return KindBinary, nil
	case "xml":
		return KindXML, nil
	case "protobuf", "proto":
		return KindProtobuf, nil
	case "json":
		return KindJSON, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// AllKinds 는 테스트/검증용으로 모든 종류를 나열한다.
func AllKinds() []Kind {
	return []Kind{KindBinary, KindXML, KindProtobuf, KindJSON}
}

type Encoder[T any] interface {
	Encode(v T) ([]byte, error)
}

type Decoder[T any] interface {
	Decode(data []byte) (T, error)
}

// Codec 은 한 포맷의 Encoder/Decoder 쌍.
type Codec[T any] interface {
	Encoder[T]
	Decoder[T]
}

// Content 종류 (파일 헤더 "content" 메타데이터 값)
const (
	ContentLogging = "logging"
	ContentAccess  = "access"
)

// ContentOf 는 타입 파라미터 T 에 해당하는 content 이름을 반환한다.
func ContentOf[T model.Event]() string {
	var zero T
	switch any(&zero).(type) {
	case *model.AccessEvent:
		return ContentAccess
	default:
		return ContentLogging
	}
}

// New 는 kind / 압축 여부에 맞는 wrapper 코덱을 만든다.
func New[T model.Event](kind Kind, compressed bool) (Codec[*model.EventWrapper[T]], error) {
	var c Codec[*model.EventWrapper[T]]
	switch kind {
	case KindBinary:
		c = bsonCodec[T]{}
	case KindXML:
		c = xmlCodec[T]{}
	case KindProtobuf:
		c = protobufCodec[T]{}
	case KindJSON:
		c = jsonCodec[T]{}
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownKind, kind)
	}
	if compressed {
		c = Compressed(c)
	}
	return c, nil
}

func decodeErr(kind Kind, err error) error {
	return fmt.Errorf("%w (%s): %w", ErrDecode, kind, err)
}

// adopt 는 구체 타입 이벤트를 타입 파라미터 포인터로 바꾼다.
// T 가 다른 이벤트 종류이면 ErrContentMismatch.
func adopt[T model.Event, E any](ev *E) (*T, error) {
	p, ok := any(ev).(*T)
	if !ok {
		return nil, ErrContentMismatch
	}
	return p, nil
}
