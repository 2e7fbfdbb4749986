package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"logsink/internal/codec"
	"logsink/internal/metrics"
	"logsink/internal/model"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const readBufferSize = 64 << 10

// secondaryLayout 은 RFC3339 + 밀리초, UTC.
const secondaryLayout = "2006-01-02T15:04:05.000Z07:00"

// conn 은 연결 하나의 producer.
// localID 는 이 goroutine 만 만지므로 잠금이 없다.
type conn[T model.Event] struct {
	l   *Listener[T]
	nc  net.Conn
	id  model.SourceIdentifier
	log zerolog.Logger

	localID int64

	// 같은 연결에서 디코딩 실패가 연속될 때 로그 폭주 방지
	decodeLog rate.Sometimes

	closeOnce sync.Once
	closeErr  error
}

func newConn[T model.Event](l *Listener[T], nc net.Conn) *conn[T] {
	started := time.Now().UTC().Format(secondaryLayout)
	id := model.NewSourceIdentifier(remoteHost(nc.RemoteAddr()), fmt.Sprintf("%s#%d", started, connSeq.Add(1)))

	return &conn[T]{
		l:         l,
		nc:        nc,
		id:        id,
		log:       zlog.With().Str("source", id.String()).Logger(),
		decodeLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// Close 는 소켓만 닫는다. 읽기 루프는 read 오류로 깨어나 sentinel 을 보낸다.
func (c *conn[T]) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}

// run
// ------------------------------------------------------------
// 1) 프레임 하나 읽기 (ReadTimeout 마다 deadline 갱신)
// 2) 길이 0 → keep-alive
// 3) 압축 해제 + 디코딩 + 변환 (실패는 skip, 해제 상한 초과는 5 로)
// 4) localID 부여 후 appender 로 push (가득 차면 block)
// 5) 읽기 실패 → sentinel 한 번, 소켓 닫고 종료
func (c *conn[T]) run() {
	l := c.l
	defer l.wg.Done()
	defer atomic.AddInt64(&l.metrics.ConnectionsActive, -1)
	defer l.forget(c)

	if l.registry != nil {
		l.registry.AddEventProducer(c.id, c)
		defer l.registry.RemoveEventProducer(c.id)
	}
	c.log.Debug().Str("remote", c.nc.RemoteAddr().String()).Msg("connection accepted")

	reader := bufio.NewReaderSize(c.nc, readBufferSize)
	for {
		if l.cfg.ReadTimeout > 0 {
			_ = c.nc.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
		}

		frame, err := l.framer.ReadFrame(reader, l.cfg.MaxFrameSize)
		if err != nil {
			c.finish(err)
			return
		}
		metrics.Inc(&l.metrics.FramesReceivedTotal)
		atomic.AddInt64(&l.metrics.BytesReceivedTotal, int64(len(frame)))

		if len(frame) == 0 {
			metrics.Inc(&l.metrics.KeepAlivesTotal)
			continue
		}

		ev, size, err := c.decode(frame)
		if errors.Is(err, codec.ErrFrameTooLarge) {
			// 압축 해제 결과의 상한 초과도 길이 초과와 같이 취급한다
			c.finish(err)
			return
		}
		if err != nil {
			metrics.Inc(&l.metrics.DecodeErrorsTotal)
			c.decodeLog.Do(func() {
				c.log.Warn().Err(err).Int("bytes", len(frame)).Msg("skipping undecodable record")
			})
			continue
		}
		if ev == nil {
			continue
		}

		c.localID++
		w := &model.EventWrapper[T]{
			ID:           model.EventIdentifier{Source: c.id, LocalID: c.localID},
			Event:        ev,
			TransferSize: size,
		}
		if err := l.appender.Put(w); err != nil {
			// queue 가 닫혔으면 sentinel 도 보낼 곳이 없다
			c.log.Warn().Err(err).Msg("append queue closed, dropping connection")
			_ = c.Close()
			return
		}
		metrics.Inc(&l.metrics.EventsReceivedTotal)
	}
}

// decode 는 (nil, nil, nil) 로 "버릴 레코드" 를 표시한다.
func (c *conn[T]) decode(frame []byte) (*T, *model.TransferSizeInfo, error) {
	l := c.l
	size := &model.TransferSizeInfo{TransferSize: int64(len(frame))}

	raw := frame
	if l.cfg.Compressed {
		var err error
		if raw, err = codec.Gunzip(frame, l.cfg.MaxFrameSize); err != nil {
			if errors.Is(err, codec.ErrFrameTooLarge) {
				return nil, nil, err
			}
			return nil, nil, fmt.Errorf("%w (gzip): %w", codec.ErrDecode, err)
		}
		n := int64(len(raw))
		size.UncompressedSize = &n
	}

	w, err := l.decoder.Decode(raw)
	if err != nil {
		return nil, nil, err
	}
	// 송신 측이 보낸 빈 wrapper 는 sentinel 로 해석하지 않는다
	if w == nil || w.Event == nil {
		return nil, nil, nil
	}

	ev := w.Event
	if l.cfg.Converter != nil {
		if ev, err = l.cfg.Converter(ev); err != nil {
			return nil, nil, fmt.Errorf("server: convert: %w", err)
		}
	}
	return ev, size, nil
}

// finish 는 읽기 오류를 분류해 기록하고 sentinel 을 보낸 뒤 소켓을 닫는다.
func (c *conn[T]) finish(err error) {
	l := c.l
	var ne net.Error

	switch {
	case errors.Is(err, io.EOF):
		c.log.Debug().Int64("events", c.localID).Msg("connection closed by peer")
	case errors.Is(err, net.ErrClosed):
		c.log.Debug().Int64("events", c.localID).Msg("connection closed")
	case errors.As(err, &ne) && ne.Timeout():
		metrics.Inc(&l.metrics.ReadTimeoutsTotal)
		c.log.Info().Dur("timeout", l.cfg.ReadTimeout).Msg("read timeout, closing connection")
	default:
		metrics.Inc(&l.metrics.ProtocolErrorsTotal)
		c.log.Warn().Err(err).Int64("events", c.localID).Msg("protocol error, closing connection")
	}

	// sentinel 은 다음 localID 를 갖는다. 이 값은 이벤트에 쓰이지 않는다.
	if perr := l.appender.Put(model.NewSentinel[T](c.id, c.localID+1)); perr != nil {
		c.log.Warn().Err(perr).Msg("could not deliver source-closed sentinel")
	} else {
		metrics.Inc(&l.metrics.SentinelsTotal)
	}
	_ = c.Close()
}
