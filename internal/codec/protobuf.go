package codec

import (
	"sort"

	"logsink/internal/model"

	"google.golang.org/protobuf/encoding/protowire"
)

// protobufCodec
// ------------------------------------------------------------
// 생성 코드 없이 protowire 로 직접 읽고 쓰는 protobuf 포맷.
// proto3 optional 과 같은 방식으로 "필드가 없음 = nil" 을 표현하고,
// repeated 필드는 container 메시지로 한 번 감싸서 nil 과 빈 slice 를 구분한다.
//
// 필드 번호는 아래 const 블록이 곧 스키마다. 번호는 절대 재사용하지 않는다.
type protobufCodec[T model.Event] struct{}

// Wrapper
const (
	pbWrapperSource  protowire.Number = 1
	pbWrapperLocalID protowire.Number = 2
	pbWrapperLogging protowire.Number = 3
	pbWrapperAccess  protowire.Number = 4
)

// LoggingEvent
const (
	pbLogTimestamp protowire.Number = iota + 1
	pbLogSequence
	pbLogLogger
	pbLogLevel
	pbLogMessage
	pbLogThread
	pbLogCallStack
	pbLogThrowable
	pbLogMDC
	pbLogNDC
	pbLogMarker
	pbLogContext
)

// AccessEvent
const (
	pbAccTimestamp protowire.Number = iota + 1
	pbAccRequestURI
	pbAccRequestURL
	pbAccRemoteHost
	pbAccRemoteUser
	pbAccRemoteAddress
	pbAccProtocol
	pbAccMethod
	pbAccServerName
	pbAccRequestHeaders
	pbAccResponseHeaders
	pbAccParameters
	pbAccLocalPort
	pbAccStatusCode
	pbAccContext
)

func (protobufCodec[T]) Encode(w *model.EventWrapper[T]) ([]byte, error) {
	var b []byte
	b = appendMessage(b, pbWrapperSource, appendSource(nil, w.ID.Source))
	b = appendSint(b, pbWrapperLocalID, w.ID.LocalID)

	switch ev := any(w.Event).(type) {
	case *model.LoggingEvent:
		if ev != nil {
			b = appendMessage(b, pbWrapperLogging, appendLogging(nil, ev))
		}
	case *model.AccessEvent:
		if ev != nil {
			b = appendMessage(b, pbWrapperAccess, appendAccess(nil, ev))
		}
	}
	return b, nil
}

func (protobufCodec[T]) Decode(data []byte) (*model.EventWrapper[T], error) {
	var w model.EventWrapper[T]
	err := walkFields(data, func(f pbField) error {
		switch f.num {
		case pbWrapperSource:
			src, err := decodeSource(f.b)
			if err != nil {
				return err
			}
			w.ID.Source = src
		case pbWrapperLocalID:
			w.ID.LocalID = f.sint()
		case pbWrapperLogging:
			ev, err := decodeLogging(f.b)
			if err != nil {
				return err
			}
			if w.Event, err = adopt[T](ev); err != nil {
				return err
			}
		case pbWrapperAccess:
			ev, err := decodeAccess(f.b)
			if err != nil {
				return err
			}
			if w.Event, err = adopt[T](ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, decodeErr(KindProtobuf, err)
	}
	return &w, nil
}

// ---------------------------------------------------------------
// wire helpers
// ---------------------------------------------------------------

type pbField struct {
	num protowire.Number
	typ protowire.Type
	u   uint64
	b   []byte
}

func (f pbField) str() string   { return string(f.b) }
func (f pbField) sint() int64   { return protowire.DecodeZigZag(f.u) }
func (f pbField) flag() bool    { return f.u != 0 }
func (f pbField) sint32() int32 { return int32(protowire.DecodeZigZag(f.u)) }

// walkFields 는 메시지의 필드를 순서대로 fn 에 넘긴다.
// 알 수 없는 wire type(fixed32/64, group) 은 건너뛴다.
func walkFields(b []byte, fn func(pbField) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := pbField{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			f.u = v
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			f.b = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendOptString(b []byte, num protowire.Number, s *string) []byte {
	if s == nil {
		return b
	}
	return appendString(b, num, *s)
}

func appendSint(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func appendOptSint(b []byte, num protowire.Number, v *int64) []byte {
	if v == nil {
		return b
	}
	return appendSint(b, num, *v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func ptr[V any](v V) *V { return &v }

// ---------------------------------------------------------------
// SourceIdentifier: 1 primary, 2 secondary(optional)
// ---------------------------------------------------------------

func appendSource(b []byte, s model.SourceIdentifier) []byte {
	b = appendString(b, 1, s.Primary)
	return appendOptString(b, 2, s.Secondary)
}

func decodeSource(b []byte) (model.SourceIdentifier, error) {
	var s model.SourceIdentifier
	err := walkFields(b, func(f pbField) error {
		switch f.num {
		case 1:
			s.Primary = f.str()
		case 2:
			s.Secondary = ptr(f.str())
		}
		return nil
	})
	return s, err
}

// ---------------------------------------------------------------
// LoggingEvent
// ---------------------------------------------------------------

func appendLogging(b []byte, ev *model.LoggingEvent) []byte {
	b = appendOptSint(b, pbLogTimestamp, ev.Timestamp)
	b = appendOptSint(b, pbLogSequence, ev.SequenceNumber)
	b = appendString(b, pbLogLogger, ev.Logger)
	if ev.Level != nil {
		b = appendSint(b, pbLogLevel, int64(*ev.Level))
	}
	if ev.Message != nil {
		b = appendMessage(b, pbLogMessage, appendMsg(nil, ev.Message))
	}
	if ev.ThreadInfo != nil {
		b = appendMessage(b, pbLogThread, appendThread(nil, ev.ThreadInfo))
	}
	if ev.CallStack != nil {
		b = appendMessage(b, pbLogCallStack, appendFrames(nil, ev.CallStack))
	}
	if ev.Throwable != nil {
		b = appendMessage(b, pbLogThrowable, appendThrowable(nil, ev.Throwable))
	}
	if ev.MDC != nil {
		b = appendMessage(b, pbLogMDC, appendNullableMap(nil, ev.MDC))
	}
	if ev.NDC != nil {
		var c []byte
		for i := range ev.NDC {
			c = appendMessage(c, 1, appendMsg(nil, &ev.NDC[i]))
		}
		b = appendMessage(b, pbLogNDC, c)
	}
	if ev.Marker != nil {
		b = appendMessage(b, pbLogMarker, appendMarker(nil, ev.Marker))
	}
	if ev.LoggerContext != nil {
		b = appendMessage(b, pbLogContext, appendContext(nil, ev.LoggerContext))
	}
	return b
}

func decodeLogging(b []byte) (*model.LoggingEvent, error) {
	ev := &model.LoggingEvent{}
	err := walkFields(b, func(f pbField) error {
		var err error
		switch f.num {
		case pbLogTimestamp:
			ev.Timestamp = ptr(f.sint())
		case pbLogSequence:
			ev.SequenceNumber = ptr(f.sint())
		case pbLogLogger:
			ev.Logger = f.str()
		case pbLogLevel:
			ev.Level = ptr(model.Level(f.sint()))
		case pbLogMessage:
			ev.Message, err = decodeMsg(f.b)
		case pbLogThread:
			ev.ThreadInfo, err = decodeThread(f.b)
		case pbLogCallStack:
			ev.CallStack, err = decodeFrames(f.b)
		case pbLogThrowable:
			ev.Throwable, err = decodeThrowable(f.b)
		case pbLogMDC:
			ev.MDC, err = decodeNullableMap(f.b)
		case pbLogNDC:
			ndc := []model.Message{}
			err = walkFields(f.b, func(e pbField) error {
				m, err := decodeMsg(e.b)
				if err != nil {
					return err
				}
				ndc = append(ndc, *m)
				return nil
			})
			ev.NDC = ndc
		case pbLogMarker:
			ev.Marker, err = decodeMarker(f.b)
		case pbLogContext:
			ev.LoggerContext, err = decodeContext(f.b)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// Message: 1 pattern, 2 args container{repeated Arg=1}, Arg: 1 value(optional)
func appendMsg(b []byte, m *model.Message) []byte {
	b = appendString(b, 1, m.Pattern)
	if m.Arguments != nil {
		var c []byte
		for _, a := range m.Arguments {
			c = appendMessage(c, 1, appendOptString(nil, 1, a))
		}
		b = appendMessage(b, 2, c)
	}
	return b
}

func decodeMsg(b []byte) (*model.Message, error) {
	m := &model.Message{}
	err := walkFields(b, func(f pbField) error {
		switch f.num {
		case 1:
			m.Pattern = f.str()
		case 2:
			args := []*string{}
			err := walkFields(f.b, func(e pbField) error {
				var v *string
				err := walkFields(e.b, func(x pbField) error {
					if x.num == 1 {
						v = ptr(x.str())
					}
					return nil
				})
				args = append(args, v)
				return err
			})
			if err != nil {
				return err
			}
			m.Arguments = args
		}
		return nil
	})
	return m, err
}

// ThreadInfo: 1 id, 2 name, 3 priority, 4 group id, 5 group name
func appendThread(b []byte, t *model.ThreadInfo) []byte {
	b = appendOptSint(b, 1, t.ID)
	b = appendOptString(b, 2, t.Name)
	if t.Priority != nil {
		b = appendSint(b, 3, int64(*t.Priority))
	}
	b = appendOptSint(b, 4, t.GroupID)
	return appendOptString(b, 5, t.GroupName)
}

func decodeThread(b []byte) (*model.ThreadInfo, error) {
	t := &model.ThreadInfo{}
	err := walkFields(b, func(f pbField) error {
		switch f.num {
		case 1:
			t.ID = ptr(f.sint())
		case 2:
			t.Name = ptr(f.str())
		case 3:
			t.Priority = ptr(f.sint32())
		case 4:
			t.GroupID = ptr(f.sint())
		case 5:
			t.GroupName = ptr(f.str())
		}
		return nil
	})
	return t, err
}

// Frame: 1 class, 2 method, 3 file, 4 line, 5 code location, 6 version, 7 exact
func appendFrames(b []byte, frames []model.ExtendedStackTraceElement) []byte {
	for i := range frames {
		fr := &frames[i]
		var m []byte
		m = appendString(m, 1, fr.ClassName)
		m = appendString(m, 2, fr.MethodName)
		m = appendString(m, 3, fr.FileName)
		m = appendSint(m, 4, int64(fr.LineNumber))
		m = appendOptString(m, 5, fr.CodeLocation)
		m = appendOptString(m, 6, fr.Version)
		m = appendBool(m, 7, fr.Exact)
		b = appendMessage(b, 1, m)
	}
	return b
}

func decodeFrames(b []byte) ([]model.ExtendedStackTraceElement, error) {
	frames := []model.ExtendedStackTraceElement{}
	err := walkFields(b, func(e pbField) error {
		var fr model.ExtendedStackTraceElement
		err := walkFields(e.b, func(f pbField) error {
			switch f.num {
			case 1:
				fr.ClassName = f.str()
			case 2:
				fr.MethodName = f.str()
			case 3:
				fr.FileName = f.str()
			case 4:
				fr.LineNumber = f.sint32()
			case 5:
				fr.CodeLocation = ptr(f.str())
			case 6:
				fr.Version = ptr(f.str())
			case 7:
				fr.Exact = f.flag()
			}
			return nil
		})
		frames = append(frames, fr)
		return err
	})
	return frames, err
}

// Throwable: 1 name, 2 message, 3 stack container, 4 omitted, 5 cause, 6 suppressed container
func appendThrowable(b []byte, t *model.ThrowableInfo) []byte {
	b = appendString(b, 1, t.Name)
	b = appendOptString(b, 2, t.Message)
	if t.StackTrace != nil {
		b = appendMessage(b, 3, appendFrames(nil, t.StackTrace))
	}
	b = appendSint(b, 4, int64(t.OmittedFrames))
	if t.Cause != nil {
		b = appendMessage(b, 5, appendThrowable(nil, t.Cause))
	}
	if t.Suppressed != nil {
		var c []byte
		for i := range t.Suppressed {
			c = appendMessage(c, 1, appendThrowable(nil, &t.Suppressed[i]))
		}
		b = appendMessage(b, 6, c)
	}
	return b
}

func decodeThrowable(b []byte) (*model.ThrowableInfo, error) {
	t := &model.ThrowableInfo{}
	err := walkFields(b, func(f pbField) error {
		var err error
		switch f.num {
		case 1:
			t.Name = f.str()
		case 2:
			t.Message = ptr(f.str())
		case 3:
			t.StackTrace, err = decodeFrames(f.b)
		case 4:
			t.OmittedFrames = f.sint32()
		case 5:
			t.Cause, err = decodeThrowable(f.b)
		case 6:
			suppressed := []model.ThrowableInfo{}
			err = walkFields(f.b, func(e pbField) error {
				s, err := decodeThrowable(e.b)
				if err != nil {
					return err
				}
				suppressed = append(suppressed, *s)
				return nil
			})
			t.Suppressed = suppressed
		}
		return err
	})
	return t, err
}

// map entry: 1 key, 2 value(optional). 키 정렬 순서로 기록한다.
func appendNullableMap(b []byte, m map[string]*string) []byte {
	for _, k := range sortedKeys(m) {
		var e []byte
		e = appendString(e, 1, k)
		e = appendOptString(e, 2, m[k])
		b = appendMessage(b, 1, e)
	}
	return b
}

func decodeNullableMap(b []byte) (map[string]*string, error) {
	out := map[string]*string{}
	err := walkFields(b, func(e pbField) error {
		var k string
		var v *string
		err := walkFields(e.b, func(f pbField) error {
			switch f.num {
			case 1:
				k = f.str()
			case 2:
				v = ptr(f.str())
			}
			return nil
		})
		out[k] = v
		return err
	})
	return out, err
}

func appendStringMap(b []byte, m map[string]string) []byte {
	for _, k := range sortedKeys(m) {
		var e []byte
		e = appendString(e, 1, k)
		e = appendString(e, 2, m[k])
		b = appendMessage(b, 1, e)
	}
	return b
}

func decodeStringMap(b []byte) (map[string]string, error) {
	out := map[string]string{}
	err := walkFields(b, func(e pbField) error {
		var k, v string
		err := walkFields(e.b, func(f pbField) error {
			switch f.num {
			case 1:
				k = f.str()
			case 2:
				v = f.str()
			}
			return nil
		})
		out[k] = v
		return err
	})
	return out, err
}

// Marker: 1 name, 2 repeated node{1 name, 2 repeated child}
func appendMarker(b []byte, m *model.Marker) []byte {
	b = appendString(b, 1, m.Name)
	for _, name := range sortedKeys(m.References) {
		var n []byte
		n = appendString(n, 1, name)
		for _, c := range m.References[name] {
			n = appendString(n, 2, c)
		}
		b = appendMessage(b, 2, n)
	}
	return b
}

func decodeMarker(b []byte) (*model.Marker, error) {
	m := &model.Marker{}
	err := walkFields(b, func(f pbField) error {
		switch f.num {
		case 1:
			m.Name = f.str()
		case 2:
			var name string
			var children []string
			err := walkFields(f.b, func(x pbField) error {
				switch x.num {
				case 1:
					name = x.str()
				case 2:
					children = append(children, x.str())
				}
				return nil
			})
			if err != nil {
				return err
			}
			if m.References == nil {
				m.References = make(map[string][]string)
			}
			m.References[name] = children
		}
		return nil
	})
	return m, err
}

// LoggerContext: 1 name, 2 birth time, 3 properties container
func appendContext(b []byte, c *model.LoggerContext) []byte {
	b = appendString(b, 1, c.Name)
	b = appendOptSint(b, 2, c.BirthTime)
	if c.Properties != nil {
		b = appendMessage(b, 3, appendStringMap(nil, c.Properties))
	}
	return b
}

func decodeContext(b []byte) (*model.LoggerContext, error) {
	c := &model.LoggerContext{}
	err := walkFields(b, func(f pbField) error {
		var err error
		switch f.num {
		case 1:
			c.Name = f.str()
		case 2:
			c.BirthTime = ptr(f.sint())
		case 3:
			c.Properties, err = decodeStringMap(f.b)
		}
		return err
	})
	return c, err
}

// ---------------------------------------------------------------
// AccessEvent
// ---------------------------------------------------------------

func appendAccess(b []byte, ev *model.AccessEvent) []byte {
	b = appendOptSint(b, pbAccTimestamp, ev.Timestamp)
	b = appendString(b, pbAccRequestURI, ev.RequestURI)
	b = appendString(b, pbAccRequestURL, ev.RequestURL)
	b = appendString(b, pbAccRemoteHost, ev.RemoteHost)
	b = appendString(b, pbAccRemoteUser, ev.RemoteUser)
	b = appendString(b, pbAccRemoteAddress, ev.RemoteAddress)
	b = appendString(b, pbAccProtocol, ev.Protocol)
	b = appendString(b, pbAccMethod, ev.Method)
	b = appendString(b, pbAccServerName, ev.ServerName)
	if ev.RequestHeaders != nil {
		b = appendMessage(b, pbAccRequestHeaders, appendStringMap(nil, ev.RequestHeaders))
	}
	if ev.ResponseHeaders != nil {
		b = appendMessage(b, pbAccResponseHeaders, appendStringMap(nil, ev.ResponseHeaders))
	}
	if ev.RequestParameters != nil {
		var c []byte
		for _, k := range sortedKeys(ev.RequestParameters) {
			var e []byte
			e = appendString(e, 1, k)
			if values := ev.RequestParameters[k]; values != nil {
				var vs []byte
				for _, v := range values {
					vs = appendString(vs, 1, v)
				}
				e = appendMessage(e, 2, vs)
			}
			c = appendMessage(c, 1, e)
		}
		b = appendMessage(b, pbAccParameters, c)
	}
	b = appendSint(b, pbAccLocalPort, int64(ev.LocalPort))
	b = appendSint(b, pbAccStatusCode, int64(ev.StatusCode))
	if ev.LoggerContext != nil {
		b = appendMessage(b, pbAccContext, appendContext(nil, ev.LoggerContext))
	}
	return b
}

func decodeAccess(b []byte) (*model.AccessEvent, error) {
	ev := &model.AccessEvent{}
	err := walkFields(b, func(f pbField) error {
		var err error
		switch f.num {
		case pbAccTimestamp:
			ev.Timestamp = ptr(f.sint())
		case pbAccRequestURI:
			ev.RequestURI = f.str()
		case pbAccRequestURL:
			ev.RequestURL = f.str()
		case pbAccRemoteHost:
			ev.RemoteHost = f.str()
		case pbAccRemoteUser:
			ev.RemoteUser = f.str()
		case pbAccRemoteAddress:
			ev.RemoteAddress = f.str()
		case pbAccProtocol:
			ev.Protocol = f.str()
		case pbAccMethod:
			ev.Method = f.str()
		case pbAccServerName:
			ev.ServerName = f.str()
		case pbAccRequestHeaders:
			ev.RequestHeaders, err = decodeStringMap(f.b)
		case pbAccResponseHeaders:
			ev.ResponseHeaders, err = decodeStringMap(f.b)
		case pbAccParameters:
			params := map[string][]string{}
			err = walkFields(f.b, func(e pbField) error {
				var k string
				var values []string
				err := walkFields(e.b, func(x pbField) error {
					switch x.num {
					case 1:
						k = x.str()
					case 2:
						values = []string{}
						return walkFields(x.b, func(v pbField) error {
							values = append(values, v.str())
							return nil
						})
					}
					return nil
				})
				params[k] = values
				return err
			})
			ev.RequestParameters = params
		case pbAccLocalPort:
			ev.LocalPort = f.sint32()
		case pbAccStatusCode:
			ev.StatusCode = f.sint32()
		case pbAccContext:
			ev.LoggerContext, err = decodeContext(f.b)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
