package pool

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// Pool 구성 목적
//
// 소켓 하나당 초당 수천 건의 이벤트가 들어오고,
// 이벤트마다 gzip 해제 / 인코딩 결과 버퍼 생성이 반복된다.
//
// 아래 Pool들은 "GC 줄이기, 메모리 재사용" 목적.
// ---------------------------------------------------------------

var (
	// BufferPool:
	//   - 인코딩/압축 결과를 담는 임시 버퍼
	//   - 초기 용량 16KB (로깅 이벤트 한 건 기준으로 충분)
	//   - MaxBufferCap 초과 버퍼는 풀에 넣지 않음
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 16*1024))
		},
	}

	// GzipPool:
	//   - gzip.Writer 재사용 (매번 new 하면 비용 매우 큼)
	//   - 레코드 단위 압축이므로 BestSpeed
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}

	// GunzipPool:
	//   - gzip.Reader 재사용. 사용 전에 반드시 Reset 해야 한다.
	GunzipPool = sync.Pool{
		New: func() any { return new(gzip.Reader) },
	}
)

// Pool에 되돌려줄 최대 버퍼 용량
// 이보다 큰 버퍼는 Pool에 넣지 않고 GC에게 위임.
const MaxBufferCap = 1 * 1024 * 1024 // 1MB

// GetBuffer 는 Reset 된 버퍼를 돌려준다.
func GetBuffer() *bytes.Buffer {
	buf := BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer:
//   - 1MB 이하이면 풀에 재사용
//   - 초대형 레코드 버퍼는 풀로 돌리지 않음
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}

// CopyBytes 는 풀 버퍼 내용을 호출자 소유의 새 slice 로 복사한다.
// (pool 버퍼를 그대로 반환하면 재사용 시 데이터가 오염됨)
func CopyBytes(buf *bytes.Buffer) []byte {
	raw := buf.Bytes()
	data := make([]byte, len(raw))
	copy(data, raw)
	return data
}
