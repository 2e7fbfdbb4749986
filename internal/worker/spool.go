// internal/worker/spool.go
package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"logsink/internal/metrics"

	json "github.com/goccy/go-json"
	zlog "github.com/rs/zerolog/log"
)

const (
	spoolExt = ".json"
	tmpExt   = ".tmp"
)

// SpoolEntry 는 업로드하지 못한 소스 파일 쌍 하나.
// 파일 자체는 DataDir 에 그대로 두고 경로만 기록한다.
type SpoolEntry struct {
	Source    string `json:"source"`
	Data      string `json:"data"`
	Index     string `json:"index"`
	CreatedAt int64  `json:"created_at"`
}

// Spool
// ------------------------------------------------------------
// S3 업로드 실패 파일 쌍을 로컬 디스크에 기록하고 재업로드 순서를 정한다.
//   - 메타 파일은 tmp 에 쓰고 rename 해서 반쯤 쓰인 파일을 남기지 않는다
//   - TTL 판단은 "파일명 prefix 의 Unix timestamp" 기준
//   - 처리 순서는 파일명 정렬 = 시간 순 (oldest-first)
type Spool struct {
	dir        string
	instanceID string
	maxAge     time.Duration
	metrics    *metrics.Metrics

	mu sync.Mutex
}

// NewSpool 은 디렉토리를 만들고 기존 메타 파일을 세어 SpoolFilesCurrent 를 복원한다.
// 남아 있는 tmp 파일은 지운다.
func NewSpool(dir, instanceID string, maxAge time.Duration, m *metrics.Metrics) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("spool: %w", err)
	}
	if m == nil {
		m = metrics.New()
	}
	s := &Spool{dir: dir, instanceID: instanceID, maxAge: maxAge, metrics: m}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("spool: %w", err)
	}
	var count int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch name := e.Name(); {
		case strings.HasSuffix(name, tmpExt):
			_ = os.Remove(filepath.Join(dir, name))
		case strings.HasSuffix(name, spoolExt):
			count++
		}
	}
	atomic.AddInt64(&m.SpoolFilesCurrent, count)
	return s, nil
}

// Save 는 entry 를 새 메타 파일로 기록한다.
func (s *Spool) Save(e SpoolEntry) error {
	if e.CreatedAt == 0 {
		e.CreatedAt = Unix()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	name := NewSpoolName(s.instanceID)
	full := filepath.Join(s.dir, name)
	if err := os.WriteFile(full+tmpExt, data, 0o600); err != nil {
		return fmt.Errorf("spool: %w", err)
	}
	if err := os.Rename(full+tmpExt, full); err != nil {
		_ = os.Remove(full + tmpExt)
		return fmt.Errorf("spool: %w", err)
	}

	atomic.AddInt64(&s.metrics.SpoolFilesCurrent, 1)
	return nil
}

// pickOldest 는 파일명 기준 가장 오래된 메타 파일 이름.
// os.ReadDir 결과는 이름순이지만 tmp / 기타 파일이 섞이므로 걸러서 다시 정렬한다.
func (s *Spool) pickOldest() string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return ""
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == "" || name[0] == '.' || !strings.HasSuffix(name, spoolExt) {
			continue
		}
		files = append(files, name)
	}
	if len(files) == 0 {
		return ""
	}
	sort.Strings(files)
	return files[0]
}

// Next 는 가장 오래된 entry 를 돌려준다. TTL 이 지난 entry 는 지우고 다음 것을 본다.
// 메타 파일이 깨져 있으면 지운다.
func (s *Spool) Next() (string, SpoolEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		name := s.pickOldest()
		if name == "" {
			return "", SpoolEntry{}, false
		}
		full := filepath.Join(s.dir, name)

		if s.maxAge > 0 {
			if sec, ok := extractUnixFromFilename(name); ok {
				age := time.Duration(Unix()-sec) * time.Second
				if age > s.maxAge {
					s.dropLocked(name)
					atomic.AddInt64(&s.metrics.SpoolExpiredTotal, 1)
					zlog.Info().Str("entry", name).Dur("age", age).Msg("spool TTL expired")
					continue
				}
			}
		}

		raw, err := os.ReadFile(full)
		if err != nil {
			zlog.Warn().Err(err).Str("entry", name).Msg("spool read failed")
			return "", SpoolEntry{}, false
		}
		var e SpoolEntry
		if err := json.Unmarshal(raw, &e); err != nil || e.Data == "" {
			zlog.Warn().Err(err).Str("entry", name).Msg("dropping unreadable spool entry")
			s.dropLocked(name)
			continue
		}
		return name, e, true
	}
}

// Remove 는 처리가 끝난 entry 를 지운다.
func (s *Spool) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(name)
}

func (s *Spool) dropLocked(name string) {
	if err := os.Remove(filepath.Join(s.dir, name)); err == nil {
		atomic.AddInt64(&s.metrics.SpoolFilesCurrent, -1)
	}
}

// Len 은 남아 있는 entry 수.
func (s *Spool) Len() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), spoolExt) {
			n++
		}
	}
	return n
}
