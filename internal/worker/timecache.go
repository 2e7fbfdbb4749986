// internal/worker/timecache.go
package worker

import (
	"sync/atomic"
	"time"
)

//
// timecache.go
// ------------------------------------------------------------
// 1초 단위로 현재 시각과 S3 파티션 값(dt / hr, UTC)을 캐싱한다.
//
// 사용처:
//   - spool 파일명 prefix (epoch seconds) 와 TTL 판단
//   - 아카이브 S3 key 파티션 (dt=YYYY-MM-DD / hr=HH)
// ------------------------------------------------------------

var (
	unixSec atomic.Int64

	dtVal atomic.Value // "YYYY-MM-DD"
	hrVal atomic.Value // "HH"
)

func init() {
	store(time.Now())

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for now := range ticker.C {
			store(now)
		}
	}()
}

func store(now time.Time) {
	dt, hr := Partition(now)
	unixSec.Store(now.Unix())
	dtVal.Store(dt)
	hrVal.Store(hr)
}

// Partition 은 t 의 UTC 날짜/시간 파티션 값.
func Partition(t time.Time) (dt, hr string) {
	u := t.UTC()
	return u.Format("2006-01-02"), u.Format("15")
}

// Unix returns current UTC epoch seconds (cached, 1-second precision).
func Unix() int64 {
	return unixSec.Load()
}

// DT returns "YYYY-MM-DD" (UTC).
func DT() string {
	return dtVal.Load().(string)
}

// HR returns "HH" (UTC).
func HR() string {
	return hrVal.Load().(string)
}
