// internal/worker/file_util.go
package worker

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync/atomic"

	"logsink/internal/model"
)

// file_util.go
// ------------------------------------------------------------
// 소스 파일 / spool 파일 / S3 key 이름 규칙.
//
// 소스 파일 (DataDir):
//
//	<content>-<source>.data / .index
//	예: logging-10.0.0.8-2026-01-02T03_04_05.678Z_12.data
//
// spool 메타 파일 (SpoolDir):
//
//	<unix>_<instance>_<counter>.json
//
// spool 파일명은 정렬하면 곧 시간 순이므로 oldest-first 처리에 쓴다.
var globalCounter uint64

// NextCounter 는 1,000,000 에서 0 으로 돌아간다.
// timestamp + instance 조합이 있으므로 파일명 충돌은 생기지 않는다.
func NextCounter() uint64 {
	return atomic.AddUint64(&globalCounter, 1) % 1_000_000
}

// sanitize 는 파일명/subject 에 쓸 수 없는 문자를 '_' 로 바꾼다.
// keep 에 든 문자는 그대로 둔다.
func sanitize(s, keep string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case strings.ContainsRune(keep, r):
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// SourceFileName 은 확장자 없는 소스 파일 이름.
func SourceFileName(content string, id model.SourceIdentifier) string {
	return content + "-" + sanitize(id.String(), ".-")
}

// NewSpoolName 은 spool 메타 파일 이름을 만든다.
func NewSpoolName(instanceID string) string {
	return fmt.Sprintf("%d_%s_%06d.json", Unix(), sanitize(instanceID, ".-"), NextCounter())
}

// extractUnixFromFilename 은 spool 파일명 prefix 의 Unix seconds.
func extractUnixFromFilename(name string) (int64, bool) {
	idx := strings.IndexByte(name, '_')
	if idx <= 0 {
		return 0, false
	}
	sec, err := strconv.ParseInt(name[:idx], 10, 64)
	if err != nil || sec <= 0 {
		return 0, false
	}
	return sec, true
}

// BuildS3Key
// ------------------------------------------------------------
// S3 폴더 구조(Partitioning):
//
//	<prefix>/dt=<YYYY-MM-DD>/hr=<HH>/<filename>
//
// prefix 가 비어 있으면 dt= 부터 시작한다.
func BuildS3Key(prefix, filename string) string {
	return path.Join(strings.Trim(prefix, "/"), "dt="+DT(), "hr="+HR(), filename)
}
