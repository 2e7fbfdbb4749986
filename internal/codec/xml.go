package codec

import (
	"encoding/xml"

	"logsink/internal/model"
)

// xmlCodec
// ------------------------------------------------------------
// encoding/xml 은 map 과 "slice 안의 nil" 을 표현하지 못하므로
// 아래 DTO 로 한 번 옮겨 담아 직렬화한다.
//
// 규칙:
//   - nil 포인터 필드 = attribute/element 생략
//   - slice/map 은 감싸는 element 가 있으면 non-nil (비어 있어도)
//   - slice 안의 nil 값 = null="true"
//
// XML 1.0 에서 허용되지 않는 문자(NUL, \t \n \r 을 제외한 C0 제어 문자 등)는
// encoding/xml 이 U+FFFD 로 바꿔 쓴다. 그런 문자열은 XML 을 거치면 원래 값으로
// 돌아오지 않는다. 대신 본문에 NUL 이 나타나지 않아 NUL 구분 프레이밍이 안전하다.
type xmlCodec[T model.Event] struct{}

type xmlWrapper struct {
	XMLName   xml.Name    `xml:"wrapper"`
	Primary   string      `xml:"sourcePrimary,attr"`
	Secondary *string     `xml:"sourceSecondary,attr,omitempty"`
	LocalID   int64       `xml:"localId,attr"`
	Logging   *xmlLogging `xml:"logging"`
	Access    *xmlAccess  `xml:"access"`
}

type xmlNullable struct {
	Key   string `xml:"key,attr,omitempty"`
	Null  bool   `xml:"null,attr,omitempty"`
	Value string `xml:",chardata"`
}

type xmlEntry struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

type xmlEntries struct {
	Entries []xmlEntry `xml:"entry"`
}

type xmlMessage struct {
	Pattern string   `xml:"pattern,attr"`
	Args    *xmlArgs `xml:"args"`
}

type xmlArgs struct {
	Args []xmlNullable `xml:"arg"`
}

type xmlThread struct {
	ID        *int64  `xml:"id,attr,omitempty"`
	Name      *string `xml:"name,attr,omitempty"`
	Priority  *int32  `xml:"priority,attr,omitempty"`
	GroupID   *int64  `xml:"groupId,attr,omitempty"`
	GroupName *string `xml:"groupName,attr,omitempty"`
}

type xmlFrame struct {
	Class        string  `xml:"class,attr"`
	Method       string  `xml:"method,attr"`
	File         string  `xml:"file,attr"`
	Line         int32   `xml:"line,attr"`
	CodeLocation *string `xml:"codeLocation,attr,omitempty"`
	Version      *string `xml:"version,attr,omitempty"`
	Exact        bool    `xml:"exact,attr"`
}

type xmlFrames struct {
	Frames []xmlFrame `xml:"frame"`
}

type xmlThrowable struct {
	Name       string         `xml:"name,attr"`
	Message    *string        `xml:"message,attr,omitempty"`
	Omitted    int32          `xml:"omitted,attr"`
	StackTrace *xmlFrames     `xml:"stackTrace"`
	Cause      *xmlThrowable  `xml:"cause"`
	Suppressed *xmlSuppressed `xml:"suppressed"`
}

type xmlSuppressed struct {
	Throwables []xmlThrowable `xml:"throwable"`
}

type xmlMarkerNode struct {
	Name     string   `xml:"name,attr"`
	Children []string `xml:"child"`
}

type xmlMarker struct {
	Name  string          `xml:"name,attr"`
	Nodes []xmlMarkerNode `xml:"node"`
}

type xmlContext struct {
	Name       string      `xml:"name,attr"`
	BirthTime  *int64      `xml:"birthTime,attr,omitempty"`
	Properties *xmlEntries `xml:"properties"`
}

type xmlNDC struct {
	Messages []xmlMessage `xml:"message"`
}

type xmlMDC struct {
	Entries []xmlNullable `xml:"entry"`
}

type xmlLogging struct {
	Timestamp *int64        `xml:"timestamp,attr,omitempty"`
	Sequence  *int64        `xml:"sequence,attr,omitempty"`
	Logger    string        `xml:"logger,attr"`
	Level     *string       `xml:"level,attr,omitempty"`
	Message   *xmlMessage   `xml:"message"`
	Thread    *xmlThread    `xml:"thread"`
	CallStack *xmlFrames    `xml:"callStack"`
	Throwable *xmlThrowable `xml:"throwable"`
	MDC       *xmlMDC       `xml:"mdc"`
	NDC       *xmlNDC       `xml:"ndc"`
	Marker    *xmlMarker    `xml:"marker"`
	Context   *xmlContext   `xml:"loggerContext"`
}

type xmlParam struct {
	Key    string     `xml:"key,attr"`
	Values *xmlValues `xml:"values"`
}

type xmlValues struct {
	Values []string `xml:"value"`
}

type xmlParams struct {
	Params []xmlParam `xml:"param"`
}

type xmlAccess struct {
	Timestamp       *int64      `xml:"timestamp,attr,omitempty"`
	RequestURI      string      `xml:"requestUri,attr"`
	RequestURL      string      `xml:"requestUrl,attr"`
	RemoteHost      string      `xml:"remoteHost,attr"`
	RemoteUser      string      `xml:"remoteUser,attr"`
	RemoteAddress   string      `xml:"remoteAddress,attr"`
	Protocol        string      `xml:"protocol,attr"`
	Method          string      `xml:"method,attr"`
	ServerName      string      `xml:"serverName,attr"`
	LocalPort       int32       `xml:"localPort,attr"`
	StatusCode      int32       `xml:"statusCode,attr"`
	RequestHeaders  *xmlEntries `xml:"requestHeaders"`
	ResponseHeaders *xmlEntries `xml:"responseHeaders"`
	Parameters      *xmlParams  `xml:"parameters"`
	Context         *xmlContext `xml:"loggerContext"`
}

func (xmlCodec[T]) Encode(w *model.EventWrapper[T]) ([]byte, error) {
	dto := xmlWrapper{
		Primary:   w.ID.Source.Primary,
		Secondary: w.ID.Source.Secondary,
		LocalID:   w.ID.LocalID,
	}
	switch ev := any(w.Event).(type) {
	case *model.LoggingEvent:
		if ev != nil {
			dto.Logging = toXMLLogging(ev)
		}
	case *model.AccessEvent:
		if ev != nil {
			dto.Access = toXMLAccess(ev)
		}
	}
	return xml.Marshal(&dto)
}

func (xmlCodec[T]) Decode(data []byte) (*model.EventWrapper[T], error) {
	var dto xmlWrapper
	if err := xml.Unmarshal(data, &dto); err != nil {
		return nil, decodeErr(KindXML, err)
	}

	w := &model.EventWrapper[T]{
		ID: model.EventIdentifier{
			Source:  model.SourceIdentifier{Primary: dto.Primary, Secondary: dto.Secondary},
			LocalID: dto.LocalID,
		},
	}

	var err error
	switch {
	case dto.Logging != nil:
		var ev *model.LoggingEvent
		if ev, err = fromXMLLogging(dto.Logging); err == nil {
			w.Event, err = adopt[T](ev)
		}
	case dto.Access != nil:
		w.Event, err = adopt[T](fromXMLAccess(dto.Access))
	}
	if err != nil {
		return nil, decodeErr(KindXML, err)
	}
	return w, nil
}

// ---------------------------------------------------------------
// model → DTO
// ---------------------------------------------------------------

func toXMLLogging(ev *model.LoggingEvent) *xmlLogging {
	x := &xmlLogging{
		Timestamp: ev.Timestamp,
		Sequence:  ev.SequenceNumber,
		Logger:    ev.Logger,
		Message:   toXMLMessage(ev.Message),
		CallStack: toXMLFrames(ev.CallStack),
		Throwable: toXMLThrowable(ev.Throwable),
		Marker:    toXMLMarker(ev.Marker),
		Context:   toXMLContext(ev.LoggerContext),
	}
	if ev.Level != nil {
		x.Level = ptr(ev.Level.String())
	}
	if t := ev.ThreadInfo; t != nil {
		x.Thread = &xmlThread{ID: t.ID, Name: t.Name, Priority: t.Priority, GroupID: t.GroupID, GroupName: t.GroupName}
	}
	if ev.MDC != nil {
		x.MDC = &xmlMDC{Entries: []xmlNullable{}}
		for _, k := range sortedKeys(ev.MDC) {
			e := xmlNullable{Key: k}
			if v := ev.MDC[k]; v != nil {
				e.Value = *v
			} else {
				e.Null = true
			}
			x.MDC.Entries = append(x.MDC.Entries, e)
		}
	}
	if ev.NDC != nil {
		x.NDC = &xmlNDC{Messages: make([]xmlMessage, 0, len(ev.NDC))}
		for i := range ev.NDC {
			x.NDC.Messages = append(x.NDC.Messages, *toXMLMessage(&ev.NDC[i]))
		}
	}
	return x
}

func toXMLMessage(m *model.Message) *xmlMessage {
	if m == nil {
		return nil
	}
	x := &xmlMessage{Pattern: m.Pattern}
	if m.Arguments != nil {
		x.Args = &xmlArgs{Args: make([]xmlNullable, 0, len(m.Arguments))}
		for _, a := range m.Arguments {
			if a == nil {
				x.Args.Args = append(x.Args.Args, xmlNullable{Null: true})
			} else {
				x.Args.Args = append(x.Args.Args, xmlNullable{Value: *a})
			}
		}
	}
	return x
}

func toXMLFrames(frames []model.ExtendedStackTraceElement) *xmlFrames {
	if frames == nil {
		return nil
	}
	x := &xmlFrames{Frames: make([]xmlFrame, 0, len(frames))}
	for _, f := range frames {
		x.Frames = append(x.Frames, xmlFrame{
			Class:        f.ClassName,
			Method:       f.MethodName,
			File:         f.FileName,
			Line:         f.LineNumber,
			CodeLocation: f.CodeLocation,
			Version:      f.Version,
			Exact:        f.Exact,
		})
	}
	return x
}

func toXMLThrowable(t *model.ThrowableInfo) *xmlThrowable {
	if t == nil {
		return nil
	}
	x := &xmlThrowable{
		Name:       t.Name,
		Message:    t.Message,
		Omitted:    t.OmittedFrames,
		StackTrace: toXMLFrames(t.StackTrace),
		Cause:      toXMLThrowable(t.Cause),
	}
	if t.Suppressed != nil {
		x.Suppressed = &xmlSuppressed{Throwables: make([]xmlThrowable, 0, len(t.Suppressed))}
		for i := range t.Suppressed {
			x.Suppressed.Throwables = append(x.Suppressed.Throwables, *toXMLThrowable(&t.Suppressed[i]))
		}
	}
	return x
}

func toXMLMarker(m *model.Marker) *xmlMarker {
	if m == nil {
		return nil
	}
	x := &xmlMarker{Name: m.Name}
	for _, name := range sortedKeys(m.References) {
		x.Nodes = append(x.Nodes, xmlMarkerNode{Name: name, Children: m.References[name]})
	}
	return x
}

func toXMLEntries(m map[string]string) *xmlEntries {
	if m == nil {
		return nil
	}
	x := &xmlEntries{Entries: make([]xmlEntry, 0, len(m))}
	for _, k := range sortedKeys(m) {
		x.Entries = append(x.Entries, xmlEntry{Key: k, Value: m[k]})
	}
	return x
}

func toXMLContext(c *model.LoggerContext) *xmlContext {
	if c == nil {
		return nil
	}
	return &xmlContext{Name: c.Name, BirthTime: c.BirthTime, Properties: toXMLEntries(c.Properties)}
}

func toXMLAccess(ev *model.AccessEvent) *xmlAccess {
	x := &xmlAccess{
		Timestamp:       ev.Timestamp,
		RequestURI:      ev.RequestURI,
		RequestURL:      ev.RequestURL,
		RemoteHost:      ev.RemoteHost,
		RemoteUser:      ev.RemoteUser,
		RemoteAddress:   ev.RemoteAddress,
		Protocol:        ev.Protocol,
		Method:          ev.Method,
		ServerName:      ev.ServerName,
		LocalPort:       ev.LocalPort,
		StatusCode:      ev.StatusCode,
		RequestHeaders:  toXMLEntries(ev.RequestHeaders),
		ResponseHeaders: toXMLEntries(ev.ResponseHeaders),
		Context:         toXMLContext(ev.LoggerContext),
	}
	if ev.RequestParameters != nil {
		x.Parameters = &xmlParams{Params: make([]xmlParam, 0, len(ev.RequestParameters))}
		for _, k := range sortedKeys(ev.RequestParameters) {
			p := xmlParam{Key: k}
			if values := ev.RequestParameters[k]; values != nil {
				p.Values = &xmlValues{Values: values}
			}
			x.Parameters.Params = append(x.Parameters.Params, p)
		}
	}
	return x
}

// ---------------------------------------------------------------
// DTO → model
// ---------------------------------------------------------------

func fromXMLLogging(x *xmlLogging) (*model.LoggingEvent, error) {
	ev := &model.LoggingEvent{
		Timestamp:      x.Timestamp,
		SequenceNumber: x.Sequence,
		Logger:         x.Logger,
		Message:        fromXMLMessage(x.Message),
		CallStack:      fromXMLFrames(x.CallStack),
		Throwable:      fromXMLThrowable(x.Throwable),
		Marker:         fromXMLMarker(x.Marker),
		LoggerContext:  fromXMLContext(x.Context),
	}
	if x.Level != nil {
		l, err := model.ParseLevel(*x.Level)
		if err != nil {
			return nil, err
		}
		ev.Level = &l
	}
	if t := x.Thread; t != nil {
		ev.ThreadInfo = &model.ThreadInfo{ID: t.ID, Name: t.Name, Priority: t.Priority, GroupID: t.GroupID, GroupName: t.GroupName}
	}
	if x.MDC != nil {
		ev.MDC = make(map[string]*string, len(x.MDC.Entries))
		for _, e := range x.MDC.Entries {
			if e.Null {
				ev.MDC[e.Key] = nil
			} else {
				ev.MDC[e.Key] = ptr(e.Value)
			}
		}
	}
	if x.NDC != nil {
		ev.NDC = make([]model.Message, 0, len(x.NDC.Messages))
		for i := range x.NDC.Messages {
			ev.NDC = append(ev.NDC, *fromXMLMessage(&x.NDC.Messages[i]))
		}
	}
	return ev, nil
}

func fromXMLMessage(x *xmlMessage) *model.Message {
	if x == nil {
		return nil
	}
	m := &model.Message{Pattern: x.Pattern}
	if x.Args != nil {
		m.Arguments = make([]*string, 0, len(x.Args.Args))
		for _, a := range x.Args.Args {
			if a.Null {
				m.Arguments = append(m.Arguments, nil)
			} else {
				m.Arguments = append(m.Arguments, ptr(a.Value))
			}
		}
	}
	return m
}

func fromXMLFrames(x *xmlFrames) []model.ExtendedStackTraceElement {
	if x == nil {
		return nil
	}
	frames := make([]model.ExtendedStackTraceElement, 0, len(x.Frames))
	for _, f := range x.Frames {
		frames = append(frames, model.ExtendedStackTraceElement{
			StackTraceElement: model.StackTraceElement{
				ClassName:  f.Class,
				MethodName: f.Method,
				FileName:   f.File,
				LineNumber: f.Line,
			},
			CodeLocation: f.CodeLocation,
			Version:      f.Version,
			Exact:        f.Exact,
		})
	}
	return frames
}

func fromXMLThrowable(x *xmlThrowable) *model.ThrowableInfo {
	if x == nil {
		return nil
	}
	t := &model.ThrowableInfo{
		Name:          x.Name,
		Message:       x.Message,
		OmittedFrames: x.Omitted,
		StackTrace:    fromXMLFrames(x.StackTrace),
		Cause:         fromXMLThrowable(x.Cause),
	}
	if x.Suppressed != nil {
		t.Suppressed = make([]model.ThrowableInfo, 0, len(x.Suppressed.Throwables))
		for i := range x.Suppressed.Throwables {
			t.Suppressed = append(t.Suppressed, *fromXMLThrowable(&x.Suppressed.Throwables[i]))
		}
	}
	return t
}

func fromXMLMarker(x *xmlMarker) *model.Marker {
	if x == nil {
		return nil
	}
	m := &model.Marker{Name: x.Name}
	if len(x.Nodes) > 0 {
		m.References = make(map[string][]string, len(x.Nodes))
	}
	for _, n := range x.Nodes {
		m.References[n.Name] = n.Children
	}
	return m
}

func fromXMLEntries(x *xmlEntries) map[string]string {
	if x == nil {
		return nil
	}
	m := make(map[string]string, len(x.Entries))
	for _, e := range x.Entries {
		m[e.Key] = e.Value
	}
	return m
}

func fromXMLContext(x *xmlContext) *model.LoggerContext {
	if x == nil {
		return nil
	}
	return &model.LoggerContext{Name: x.Name, BirthTime: x.BirthTime, Properties: fromXMLEntries(x.Properties)}
}

func fromXMLAccess(x *xmlAccess) *model.AccessEvent {
	ev := &model.AccessEvent{
		Timestamp:       x.Timestamp,
		RequestURI:      x.RequestURI,
		RequestURL:      x.RequestURL,
		RemoteHost:      x.RemoteHost,
		RemoteUser:      x.RemoteUser,
		RemoteAddress:   x.RemoteAddress,
		Protocol:        x.Protocol,
		Method:          x.Method,
		ServerName:      x.ServerName,
		LocalPort:       x.LocalPort,
		StatusCode:      x.StatusCode,
		RequestHeaders:  fromXMLEntries(x.RequestHeaders),
		ResponseHeaders: fromXMLEntries(x.ResponseHeaders),
		LoggerContext:   fromXMLContext(x.Context),
	}
	if x.Parameters != nil {
		ev.RequestParameters = make(map[string][]string, len(x.Parameters.Params))
		for _, p := range x.Parameters.Params {
			var values []string
			if p.Values != nil {
				values = append([]string{}, p.Values.Values...)
			}
			ev.RequestParameters[p.Key] = values
		}
	}
	return ev
}
