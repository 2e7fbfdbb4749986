package worker

import (
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"logsink/internal/codec"
	"logsink/internal/metrics"
	"logsink/internal/model"

	"github.com/nats-io/nats.go"
)

// NATS 메시지 헤더
const (
	HeaderSource   = "Logsink-Source"
	HeaderContent  = "Logsink-Content"
	HeaderCount    = "Logsink-Count"
	HeaderEncoding = "Content-Encoding"
)

// Publisher 는 *nats.Conn 을 대신할 수 있는 최소 인터페이스.
type Publisher interface {
	PublishMsg(msg *nats.Msg) error
}

type NATSForwarderConfig struct {
	// Subject prefix. 실제 subject 는 <Subject>.<content>.<host>
	Subject string
	Gzip    bool
}

// NATSForwarder
// ------------------------------------------------------------
// poll 배치를 소스별로 묶어 JSONL 메시지 하나로 publish 한다.
//   - sentinel 은 보내지 않는다
//   - 소스 식별자 전체는 HeaderSource 에 싣는다
//   - host 의 '.' ':' 는 subject 토큰 구분자와 겹치므로 '_' 로 바꾼다
type NATSForwarder[T model.Event] struct {
	cfg     NATSForwarderConfig
	pub     Publisher
	metrics *metrics.Metrics
	content string
}

func NewNATSForwarder[T model.Event](pub Publisher, cfg NATSForwarderConfig, m *metrics.Metrics) (*NATSForwarder[T], error) {
	if pub == nil {
		return nil, errors.New("nats forwarder: publisher is required")
	}
	if cfg.Subject == "" {
		cfg.Subject = "logsink"
	}
	if m == nil {
		m = metrics.New()
	}
	return &NATSForwarder[T]{cfg: cfg, pub: pub, metrics: m, content: codec.ContentOf[T]()}, nil
}

// ConnectNATS 는 재연결 옵션을 붙여 접속한다.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectBufSize(8<<20),
	)
}

func (f *NATSForwarder[T]) Name() string { return "nats:" + f.content }

// Subject 는 소스 하나가 publish 되는 subject.
func (f *NATSForwarder[T]) Subject(id model.SourceIdentifier) string {
	return f.cfg.Subject + "." + f.content + "." + sanitize(id.Primary, "-")
}

func (f *NATSForwarder[T]) Consume(batch []*model.EventWrapper[T]) error {
	// 소스 순서를 유지한 채 묶는다
	var order []string
	groups := make(map[string][]*model.EventWrapper[T])
	for _, w := range batch {
		if w.IsSentinel() {
			continue
		}
		key := w.ID.Source.Key()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], w)
	}

	var errs []error
	for _, key := range order {
		group := groups[key]
		if err := f.publish(group); err != nil {
			atomic.AddInt64(&f.metrics.ForwardErrorsTotal, 1)
			errs = append(errs, err)
			continue
		}
		atomic.AddInt64(&f.metrics.EventsForwardedTotal, int64(len(group)))
	}
	return errors.Join(errs...)
}

func (f *NATSForwarder[T]) publish(group []*model.EventWrapper[T]) error {
	id := group[0].ID.Source

	data, err := EncodeJSONL(group, f.cfg.Gzip)
	if err != nil {
		return fmt.Errorf("encode %s: %w", id, err)
	}

	msg := nats.NewMsg(f.Subject(id))
	msg.Data = data
	msg.Header.Set(HeaderSource, id.String())
	msg.Header.Set(HeaderContent, f.content)
	msg.Header.Set(HeaderCount, strconv.Itoa(len(group)))
	if f.cfg.Gzip {
		msg.Header.Set(HeaderEncoding, "gzip")
	}

	if err := f.pub.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}
