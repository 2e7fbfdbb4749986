// internal/model/logging.go
package model

import (
	"fmt"
	"strings"
)

// Level 은 TRACE < DEBUG < INFO < WARN < ERROR 의 전순서를 가진다.
type Level int8

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelTrace || l > LevelError {
		return fmt.Sprintf("Level(%d)", int8(l))
	}
	return levelNames[l]
}

// ParseLevel 은 대소문자를 구분하지 않는다.
func ParseLevel(s string) (Level, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range levelNames {
		if n == up {
			return Level(i), nil
		}
	}
	return 0, fmt.Errorf("unknown level %q", s)
}

func (l Level) MarshalText() ([]byte, error) {
	if l < LevelTrace || l > LevelError {
		return nil, fmt.Errorf("invalid level %d", int8(l))
	}
	return []byte(levelNames[l]), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Message 는 pattern + 위치 인자. 인자는 nil 일 수 있다.
type Message struct {
	Pattern   string    `json:"pattern" bson:"pattern"`
	Arguments []*string `json:"arguments" bson:"arguments"`
}

type ThreadInfo struct {
	ID        *int64  `json:"id,omitempty" bson:"id,omitempty"`
	Name      *string `json:"name,omitempty" bson:"name,omitempty"`
	Priority  *int32  `json:"priority,omitempty" bson:"priority,omitempty"`
	GroupID   *int64  `json:"group_id,omitempty" bson:"group_id,omitempty"`
	GroupName *string `json:"group_name,omitempty" bson:"group_name,omitempty"`
}

// StackTraceElement 는 call stack 의 한 프레임.
// LineNumber 는 알 수 없으면 -1, native 메서드는 -2.
type StackTraceElement struct {
	ClassName  string `json:"class" bson:"class"`
	MethodName string `json:"method" bson:"method"`
	FileName   string `json:"file" bson:"file"`
	LineNumber int32  `json:"line" bson:"line"`
}

// ExtendedStackTraceElement 는 code location / version 정보를 덧붙인 프레임.
type ExtendedStackTraceElement struct {
	StackTraceElement `bson:",inline"`

	CodeLocation *string `json:"code_location,omitempty" bson:"code_location,omitempty"`
	Version      *string `json:"version,omitempty" bson:"version,omitempty"`
	Exact        bool    `json:"exact" bson:"exact"`
}

// ThrowableInfo
// ------------------------------------------------------------
// 예외 체인. Cause 로 재귀, Suppressed 로 형제 예외를 가진다.
type ThrowableInfo struct {
	Name          string                      `json:"name" bson:"name"`
	Message       *string                     `json:"message,omitempty" bson:"message,omitempty"`
	StackTrace    []ExtendedStackTraceElement `json:"stack_trace" bson:"stack_trace"`
	OmittedFrames int32                       `json:"omitted_frames" bson:"omitted_frames"`
	Cause         *ThrowableInfo              `json:"cause,omitempty" bson:"cause,omitempty"`
	Suppressed    []ThrowableInfo             `json:"suppressed" bson:"suppressed"`
}

// Depth 는 cause 체인 길이(자기 자신 포함).
func (t *ThrowableInfo) Depth() int {
	n := 0
	for c := t; c != nil; c = c.Cause {
		n++
	}
	return n
}

type LoggerContext struct {
	Name       string            `json:"name" bson:"name"`
	BirthTime  *int64            `json:"birth_time,omitempty" bson:"birth_time,omitempty"`
	Properties map[string]string `json:"properties" bson:"properties"`
}

// LoggingEvent
// ------------------------------------------------------------
// 원격 JVM 로거(log4j, logback 등) 에서 변환된 표준 로깅 이벤트.
// Timestamp 는 epoch millis.
type LoggingEvent struct {
	Timestamp      *int64                      `json:"timestamp,omitempty" bson:"timestamp,omitempty"`
	SequenceNumber *int64                      `json:"sequence_number,omitempty" bson:"sequence_number,omitempty"`
	Logger         string                      `json:"logger" bson:"logger"`
	Level          *Level                      `json:"level,omitempty" bson:"level,omitempty"`
	Message        *Message                    `json:"message,omitempty" bson:"message,omitempty"`
	ThreadInfo     *ThreadInfo                 `json:"thread_info,omitempty" bson:"thread_info,omitempty"`
	CallStack      []ExtendedStackTraceElement `json:"call_stack" bson:"call_stack"`
	Throwable      *ThrowableInfo              `json:"throwable,omitempty" bson:"throwable,omitempty"`
	MDC            map[string]*string          `json:"mdc" bson:"mdc"`
	NDC            []Message                   `json:"ndc" bson:"ndc"`
	Marker         *Marker                     `json:"marker,omitempty" bson:"marker,omitempty"`
	LoggerContext  *LoggerContext              `json:"logger_context,omitempty" bson:"logger_context,omitempty"`
}
