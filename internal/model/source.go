// internal/model/source.go
package model

import "strings"

// SourceIdentifier
// ------------------------------------------------------------
// 이벤트를 생산하는 하나의 소스(원격 호스트 + 접속 시각 등)를 식별한다.
// 값 타입이지만 Secondary 가 포인터이므로 map key 로는 Key() 를 쓴다.
//
// 정렬 규칙:
//   - Primary 사전순
//   - Secondary 사전순 (nil 이 non-nil 보다 앞)
type SourceIdentifier struct {
	Primary   string  `json:"primary" bson:"primary"`
	Secondary *string `json:"secondary,omitempty" bson:"secondary,omitempty"`
}

// NewSourceIdentifier 는 secondary 가 빈 문자열이면 nil 로 둔다.
func NewSourceIdentifier(primary, secondary string) SourceIdentifier {
	id := SourceIdentifier{Primary: primary}
	if secondary != "" {
		s := secondary
		id.Secondary = &s
	}
	return id
}

// Key 는 포인터 비교 없이 동등성을 판단할 수 있는 문자열 키를 돌려준다.
// SourceIdentifier 를 map key 로 쓰면 Secondary 포인터 주소가 비교되므로
// 레지스트리들은 항상 Key() 를 사용한다.
func (s SourceIdentifier) Key() string {
	if s.Secondary == nil {
		return s.Primary + "\x00"
	}
	return s.Primary + "\x00\x01" + *s.Secondary
}

// Compare returns -1, 0 or +1.
func (s SourceIdentifier) Compare(o SourceIdentifier) int {
	if c := strings.Compare(s.Primary, o.Primary); c != 0 {
		return c
	}
	switch {
	case s.Secondary == nil && o.Secondary == nil:
		return 0
	case s.Secondary == nil:
		return -1
	case o.Secondary == nil:
		return 1
	}
	return strings.Compare(*s.Secondary, *o.Secondary)
}

func (s SourceIdentifier) Equal(o SourceIdentifier) bool {
	return s.Compare(o) == 0
}

func (s SourceIdentifier) String() string {
	if s.Secondary == nil {
		return s.Primary
	}
	return s.Primary + "-" + *s.Secondary
}

// UnassignedID 는 아직 producer 가 번호를 매기지 않은 이벤트의 LocalID.
const UnassignedID int64 = -1

// EventIdentifier
// ------------------------------------------------------------
// 시스템 전체에서 레코드 하나를 유일하게 식별한다.
// LocalID 는 소스별로 1부터 1씩 증가하며 절대 재사용되지 않는다.
type EventIdentifier struct {
	Source  SourceIdentifier `json:"source" bson:"source"`
	LocalID int64            `json:"local_id" bson:"local_id"`
}

func (e EventIdentifier) Equal(o EventIdentifier) bool {
	return e.LocalID == o.LocalID && e.Source.Equal(o.Source)
}
