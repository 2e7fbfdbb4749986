package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics 는 수집 파이프라인 상태를 나타내는 카운터 모음이다.
// 모든 필드는 sync/atomic 으로만 읽고 쓴다.
type Metrics struct {
	// ======================
	// 소켓 수집 (producer)
	// ======================

	// ConnectionsAcceptedTotal
	// - listener 가 accept 한 TCP 연결 수 (누적).
	ConnectionsAcceptedTotal int64

	// ConnectionsActive
	// - 지금 읽기 루프가 돌고 있는 연결 수 (gauge).
	// - accept 때 +1, sentinel 을 보내고 goroutine 이 끝날 때 -1.
	ConnectionsActive int64

	// FramesReceivedTotal / BytesReceivedTotal
	// - 읽은 프레임 수와 wire 바이트 수 (압축 상태 그대로).
	// - keep-alive(길이 0) 프레임도 FramesReceivedTotal 에 포함된다.
	FramesReceivedTotal int64
	BytesReceivedTotal  int64

	// EventsReceivedTotal
	// - 디코딩 + 변환에 성공해서 append queue 로 넘긴 이벤트 수.
	EventsReceivedTotal int64

	// KeepAlivesTotal
	// - 길이 0 프레임 수. 이벤트는 만들지 않는다.
	KeepAlivesTotal int64

	// DecodeErrorsTotal
	// - 디코딩/변환 실패로 건너뛴 레코드 수 (transient).
	// - 연결은 유지된다. 이 값만 오르고 연결이 안정적이면 송신 측 포맷 문제.
	DecodeErrorsTotal int64

	// ProtocolErrorsTotal
	// - 연결을 끊게 만든 오류 수: 프레임 중간 EOF, 프레임 상한 초과, 소켓 오류.
	// - 정상 EOF 와 read timeout 은 포함하지 않는다.
	ProtocolErrorsTotal int64

	// ReadTimeoutsTotal
	// - 설정된 ReadTimeout 동안 아무 프레임도 오지 않아 끊은 연결 수.
	ReadTimeoutsTotal int64

	// SentinelsTotal
	// - 연결 종료 시 발행한 sentinel(이벤트 없는 wrapper) 수.
	// - 정상적으로는 ConnectionsAcceptedTotal - ConnectionsActive 와 같다.
	SentinelsTotal int64

	// ======================
	// dispatch (source manager / poller)
	// ======================

	// EventsDispatchedTotal
	// - poller 가 queue 에서 꺼내 handler 들에게 넘긴 wrapper 수 (sentinel 포함).
	EventsDispatchedTotal int64

	// HandlerErrorsTotal / HandlerPanicsTotal
	// - handler 하나가 error 를 돌려주거나 panic 한 횟수.
	// - 다른 handler 는 계속 호출된다.
	HandlerErrorsTotal int64
	HandlerPanicsTotal int64

	// QueueDepth
	// - 마지막 poll 직전 append queue 에 쌓여 있던 wrapper 수 (gauge).
	// - capacity 에 붙어 있으면 producer 들이 backpressure 로 대기 중이다.
	QueueDepth int64

	// SourcesCurrent
	// - source manager 에 등록된 source 수 (gauge).
	SourcesCurrent int64

	// ======================
	// 저장 / 전달
	// ======================

	// EventsPersistedTotal / StorageErrorsTotal
	// - 파일 버퍼에 append 된 wrapper 수, append/open 실패 수.
	EventsPersistedTotal int64
	StorageErrorsTotal   int64

	// EventsForwardedTotal / ForwardErrorsTotal
	// - NATS 로 publish 한 이벤트 수, publish 실패 수.
	EventsForwardedTotal int64
	ForwardErrorsTotal   int64

	// ======================
	// 아카이브 (S3 + 로컬 spool)
	// ======================

	// ArchiveFilesUploadedTotal
	// - S3 에 올라간 파일 수 (data/index 각각 1).
	ArchiveFilesUploadedTotal int64

	// S3PutErrorsTotal
	// - PutObject "시도" 실패 수. retry 마다 증가한다.
	S3PutErrorsTotal int64

	// SpoolFilesCurrent
	// - 업로드 실패로 spool 에 남아 있는 파일 쌍 수 (gauge).
	SpoolFilesCurrent int64

	// SpoolReuploadedTotal / SpoolExpiredTotal
	// - spool 에서 재업로드에 성공한 쌍 수, TTL 로 버린 쌍 수.
	SpoolReuploadedTotal int64
	SpoolExpiredTotal    int64
}

func New() *Metrics {
	return &Metrics{}
}

// Inc 는 counter 하나를 1 올린다.
func Inc(counter *int64) {
	atomic.AddInt64(counter, 1)
}

// field 는 String / Collector 가 같은 순서로 쓰는 (이름, 값, gauge 여부) 목록.
type field struct {
	name  string
	help  string
	gauge bool
	ptr   *int64
}

func (m *Metrics) fields() []field {
	return []field{
		{"connections_accepted_total", "Accepted TCP connections.", false, &m.ConnectionsAcceptedTotal},
		{"connections_active", "Connections with a running read loop.", true, &m.ConnectionsActive},
		{"frames_received_total", "Frames read from sockets, keep-alives included.", false, &m.FramesReceivedTotal},
		{"bytes_received_total", "Wire bytes read from sockets.", false, &m.BytesReceivedTotal},
		{"events_received_total", "Events decoded and queued.", false, &m.EventsReceivedTotal},
		{"keepalives_total", "Zero-length keep-alive frames.", false, &m.KeepAlivesTotal},
		{"decode_errors_total", "Records skipped because decoding or conversion failed.", false, &m.DecodeErrorsTotal},
		{"protocol_errors_total", "Connections closed by a protocol or socket error.", false, &m.ProtocolErrorsTotal},
		{"read_timeouts_total", "Connections closed by the read deadline.", false, &m.ReadTimeoutsTotal},
		{"sentinels_total", "Source-closed sentinels emitted.", false, &m.SentinelsTotal},
		{"events_dispatched_total", "Wrappers handed to event handlers.", false, &m.EventsDispatchedTotal},
		{"handler_errors_total", "Event handler errors.", false, &m.HandlerErrorsTotal},
		{"handler_panics_total", "Recovered event handler panics.", false, &m.HandlerPanicsTotal},
		{"queue_depth", "Append queue length before the last poll.", true, &m.QueueDepth},
		{"sources_current", "Registered event sources.", true, &m.SourcesCurrent},
		{"events_persisted_total", "Wrappers appended to file buffers.", false, &m.EventsPersistedTotal},
		{"storage_errors_total", "File buffer open or append failures.", false, &m.StorageErrorsTotal},
		{"events_forwarded_total", "Events published to NATS.", false, &m.EventsForwardedTotal},
		{"forward_errors_total", "NATS publish failures.", false, &m.ForwardErrorsTotal},
		{"archive_files_uploaded_total", "Files uploaded to S3.", false, &m.ArchiveFilesUploadedTotal},
		{"s3_put_errors_total", "Failed S3 PutObject attempts.", false, &m.S3PutErrorsTotal},
		{"spool_files_current", "File pairs waiting in the local spool.", true, &m.SpoolFilesCurrent},
		{"spool_reuploaded_total", "Spooled file pairs uploaded on retry.", false, &m.SpoolReuploadedTotal},
		{"spool_expired_total", "Spooled file pairs dropped by TTL.", false, &m.SpoolExpiredTotal},
	}
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(1024)

	for _, f := range m.fields() {
		fmt.Fprintf(&sb, "%s=%d\n", f.name, atomic.LoadInt64(f.ptr))
	}
	return sb.String()
}
