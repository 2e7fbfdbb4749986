// Package testutil 는 여러 패키지 테스트가 공유하는 이벤트 fixture 를 제공한다.
package testutil

import (
	"fmt"

	"logsink/internal/model"
)

func ptr[V any](v V) *V { return &v }

// Source 는 테스트용 고정 소스.
var Source = model.NewSourceIdentifier("127.0.0.1", "2026-01-02T03:04:05.678Z-1")

// Frame 은 단순 스택 프레임 하나.
func Frame(class, method string, line int32) model.ExtendedStackTraceElement {
	return model.ExtendedStackTraceElement{
		StackTraceElement: model.StackTraceElement{
			ClassName:  class,
			MethodName: method,
			FileName:   class + ".java",
			LineNumber: line,
		},
	}
}

// FullLoggingEvent
// ------------------------------------------------------------
// 코덱 round-trip 검증용 "모든 필드가 찬" 이벤트.
//   - cause 체인 + suppressed 를 가진 throwable
//   - m1 ↔ m2 순환 marker
//   - MDC / 메시지 인자 안의 nil
//   - call stack 전체 (code location / version / exact 포함)
func FullLoggingEvent() *model.LoggingEvent {
	level := model.LevelWarn

	callStack := []model.ExtendedStackTraceElement{
		Frame("com.example.Service", "handle", 42),
		Frame("com.example.Controller", "dispatch", 17),
		{
			StackTraceElement: model.StackTraceElement{
				ClassName:  "java.lang.Thread",
				MethodName: "run",
				FileName:   "Thread.java",
				LineNumber: 833,
			},
			CodeLocation: ptr("rt.jar"),
			Version:      ptr("17.0.2"),
			Exact:        true,
		},
	}

	root := &model.ThrowableInfo{
		Name:       "java.io.IOException",
		Message:    ptr("disk full"),
		StackTrace: []model.ExtendedStackTraceElement{Frame("com.example.Disk", "write", 9)},
	}
	throwable := &model.ThrowableInfo{
		Name:          "java.lang.IllegalStateException",
		Message:       ptr("cannot persist"),
		StackTrace:    callStack[:2],
		OmittedFrames: 3,
		Cause: &model.ThrowableInfo{
			Name:          "java.lang.RuntimeException",
			StackTrace:    []model.ExtendedStackTraceElement{},
			OmittedFrames: 1,
			Cause:         root,
		},
		Suppressed: []model.ThrowableInfo{
			{Name: "java.lang.Exception", Message: ptr("close failed")},
		},
	}

	return &model.LoggingEvent{
		Timestamp:      ptr(int64(1767323045678)),
		SequenceNumber: ptr(int64(7)),
		Logger:         "com.example.Service",
		Level:          &level,
		Message: &model.Message{
			Pattern:   "user {} failed {} times: {}",
			Arguments: []*string{ptr("alice"), nil, ptr("")},
		},
		ThreadInfo: &model.ThreadInfo{
			ID:       ptr(int64(12)),
			Name:     ptr("worker-1"),
			Priority: ptr(int32(5)),
		},
		CallStack: callStack,
		Throwable: throwable,
		MDC: map[string]*string{
			"requestId": ptr("r-1"),
			"user":      nil,
			"empty":     ptr(""),
		},
		NDC: []model.Message{
			{Pattern: "outer", Arguments: []*string{}},
			{Pattern: "inner {}", Arguments: []*string{nil}},
		},
		Marker: model.NewMarker("m1").Reference("m1", "m2").Reference("m2", "m1"),
		LoggerContext: &model.LoggerContext{
			Name:       "default",
			BirthTime:  ptr(int64(1767320000000)),
			Properties: map[string]string{"app": "billing", "env": "test"},
		},
	}
}

// FullAccessEvent 는 헤더/파라미터를 모두 채운 access 이벤트.
func FullAccessEvent() *model.AccessEvent {
	return &model.AccessEvent{
		Timestamp:       ptr(int64(1767323045678)),
		RequestURI:      "/orders",
		RequestURL:      "GET /orders?id=1&id=2 HTTP/1.1",
		RemoteHost:      "10.0.0.8",
		RemoteUser:      "-",
		RemoteAddress:   "10.0.0.8",
		Protocol:        "HTTP/1.1",
		Method:          "GET",
		ServerName:      "api.example.com",
		RequestHeaders:  map[string]string{"Accept": "application/json", "X-Empty": ""},
		ResponseHeaders: map[string]string{},
		RequestParameters: map[string][]string{
			"id":    {"1", "2"},
			"none":  nil,
			"blank": {},
		},
		LocalPort:     8080,
		StatusCode:    200,
		LoggerContext: &model.LoggerContext{Name: "access"},
	}
}

// LoggingEvent 는 i 번째 단순 이벤트 (logger "logger-i").
func LoggingEvent(i int) *model.LoggingEvent {
	level := model.Level(i % 5)
	return &model.LoggingEvent{
		Timestamp: ptr(int64(1767323045678 + i)),
		Logger:    fmt.Sprintf("logger-%d", i),
		Level:     &level,
		Message:   &model.Message{Pattern: fmt.Sprintf("message %d", i)},
	}
}

// NamedLoggingEvent 는 logger 이름만 채운 이벤트.
func NamedLoggingEvent(logger string) *model.LoggingEvent {
	return &model.LoggingEvent{Logger: logger}
}

// Wrap 은 Source 아래 localID 로 이벤트를 감싼다.
func Wrap[T model.Event](ev *T, localID int64) *model.EventWrapper[T] {
	return &model.EventWrapper[T]{
		ID:    model.EventIdentifier{Source: Source, LocalID: localID},
		Event: ev,
	}
}
