// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	"logsink/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init
//
// 프로세스 시작 시 한 번 호출한다. 전역 zerolog 로거와 표준 log 출력을 교체한다.
//
//  1. 포맷: LogPretty 면 ConsoleWriter (로컬), 아니면 JSON (수집기용)
//  2. 공통 필드: 모든 로그에 service, instance
//  3. 샘플링: LogSampleN > 1 이면 Debug/Info 는 N 개 중 1 개만. Warn 이상은 전부 기록
//
// 사용 예:
//
//	logger.Init(cfg)
//	log.Info().Str("addr", addr).Msg("listener started")
func Init(cfg config.Config) {
	var w io.Writer = os.Stdout
	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.LogLevel))
	zlog.Logger = New(w, cfg)

	// 표준 log 도 zerolog 로 (시간은 zerolog 가 찍는다)
	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}

// New 는 w 로 쓰는 로거를 만든다. 전역 상태는 건드리지 않는다.
func New(w io.Writer, cfg config.Config) zerolog.Logger {
	base := zerolog.New(w).
		Level(ParseLevel(cfg.LogLevel)).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Logger()

	if cfg.LogSampleN <= 1 {
		return base
	}
	return base.Sample(&zerolog.LevelSampler{
		DebugSampler: &zerolog.BasicSampler{N: cfg.LogSampleN},
		InfoSampler:  &zerolog.BasicSampler{N: cfg.LogSampleN},
		// Warn/Error: nil → 샘플링 없음
	})
}

// ParseLevel 은 알 수 없는 값이면 info.
func ParseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	l, err := zerolog.ParseLevel(s)
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return l
}
