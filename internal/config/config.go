// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"logsink/internal/codec"

	"github.com/google/uuid"
)

// Listener 는 이벤트 종류 하나(logging / access)의 수신 소켓 설정.
// Addr 가 비어 있으면 그 종류는 받지 않는다.
type Listener struct {
	Addr       string
	Codec      string // bson | xml | protobuf | json
	Compressed bool
}

// Kind 는 Codec 문자열을 codec.Kind 로 바꾼다.
func (l Listener) Kind() (codec.Kind, error) {
	return codec.ParseKind(l.Codec)
}

func (l Listener) Enabled() bool { return l.Addr != "" }

// Config
//
// 서비스 실행 시 필요한 모든 설정 값을 보관하는 구조체.
// Load() 가 기본값 → TOML 파일 → 환경 변수 순서로 덮어써서 만들고,
// 이후에는 변경되지 않는 read-only 값이다.
type Config struct {

	// ---------------------------
	// 서비스 식별자 / 로깅
	// ---------------------------

	ServiceName string // 모든 로그에 붙는 service 필드
	InstanceID  string // 프로세스 고유 ID (hostname, 실패 시 uuid)

	LogLevel   string // debug | info | warn | error
	LogPretty  bool   // true 면 ConsoleWriter
	LogSampleN uint32 // >1 이면 Debug/Info 를 N 개 중 1 개만 기록

	// ---------------------------
	// 네트워크
	// ---------------------------

	HTTPAddr string // /metrics, /health

	Logging Listener
	Access  Listener

	ReadTimeout  time.Duration // 프레임 없이 이 시간이 지나면 연결 종료 (0 = 무제한)
	MaxFrameSize int           // wire 프레임 상한 (바이트)

	// ---------------------------
	// source manager / 파일 버퍼
	// ---------------------------

	QueueCapacity int
	PollInterval  time.Duration

	DataDir     string // 소스별 .data / .index 파일 위치
	SyncWrites  bool   // append 마다 fsync
	CacheRecent int    // 소스별 CachingBuffer 가 강하게 잡아두는 최근 값 수 (0 = 기본값)

	// ---------------------------
	// NATS 전달 (NATSURL 이 비어 있으면 끔)
	// ---------------------------

	NATSURL     string
	NATSSubject string
	NATSGzip    bool

	// ---------------------------
	// S3 아카이브 (S3Bucket 이 비어 있으면 끔)
	// ---------------------------
	// SDK retry 는 끄고 "재시도 횟수" 는 S3AppRetries 만 사용한다.

	AWSRegion    string
	S3Bucket     string
	S3Prefix     string
	S3Timeout    time.Duration // PutObject 시도 1회당 timeout
	S3AppRetries int
	KeepLocal    bool // 업로드 후에도 로컬 파일 유지

	// ---------------------------
	// 로컬 spool (업로드 실패 파일 쌍)
	// ---------------------------

	SpoolDir      string
	SpoolMaxAge   time.Duration // 초과 시 entry 삭제
	SpoolInterval time.Duration // spool 재업로드 주기
}

// Default 는 파일/환경 변수가 없을 때의 값.
func Default() Config {
	return Config{
		ServiceName: "logsink",
		InstanceID:  fallbackInstanceID(),
		LogLevel:    "info",

		HTTPAddr: ":8080",
		Logging:  Listener{Addr: ":11000", Codec: "bson"},
		Access:   Listener{Addr: ":11001", Codec: "bson"},

		ReadTimeout:  5 * time.Minute,
		MaxFrameSize: codec.DefaultMaxFrameSize,

		QueueCapacity: 10000,
		PollInterval:  100 * time.Millisecond,

		DataDir: "data",

		NATSSubject: "logsink",

		S3Prefix:     "logsink/",
		S3Timeout:    5 * time.Second,
		S3AppRetries: 3,

		SpoolDir:      "spool",
		SpoolMaxAge:   24 * time.Hour,
		SpoolInterval: 5 * time.Second,
	}
}

// Load
//
// 기본값 위에 LOGSINK_CONFIG 가 가리키는 TOML 파일, 그 위에 환경 변수를 덮어쓴다.
// 형식이 잘못된 값이 하나라도 있으면 즉시 로그 출력 후 종료(fail-fast).
func Load() Config {
	cfg, err := LoadFrom(os.Getenv("LOGSINK_CONFIG"), os.LookupEnv)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	return cfg
}

// LookupFunc 는 os.LookupEnv 와 같은 시그니처.
type LookupFunc func(key string) (string, bool)

// LoadFrom 은 Load 의 테스트 가능한 본체. path 가 비어 있으면 파일은 읽지 않는다.
func LoadFrom(path string, lookup LookupFunc) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config file: %w", err)
		}
		if err := applyTOML(&cfg, raw); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 는 조합까지 포함해 설정을 검사한다.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.ServiceName) == "" {
		errs = append(errs, errors.New("service name is empty"))
	}
	if !c.Logging.Enabled() && !c.Access.Enabled() {
		errs = append(errs, errors.New("no listener configured (logging.addr / access.addr)"))
	}
	for name, l := range map[string]Listener{"logging": c.Logging, "access": c.Access} {
		if !l.Enabled() {
			continue
		}
		if _, err := l.Kind(); err != nil {
			errs = append(errs, fmt.Errorf("%s.codec: %w", name, err))
		}
	}
	if c.Logging.Enabled() && c.Logging.Addr == c.Access.Addr {
		errs = append(errs, fmt.Errorf("logging and access share address %s", c.Logging.Addr))
	}

	if c.ReadTimeout < 0 {
		errs = append(errs, fmt.Errorf("read timeout must not be negative: %s", c.ReadTimeout))
	}
	if c.MaxFrameSize <= 0 {
		errs = append(errs, fmt.Errorf("max frame size must be positive: %d", c.MaxFrameSize))
	}
	if c.QueueCapacity <= 0 {
		errs = append(errs, fmt.Errorf("queue capacity must be positive: %d", c.QueueCapacity))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive: %s", c.PollInterval))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data dir is empty"))
	}
	if c.CacheRecent < 0 {
		errs = append(errs, fmt.Errorf("cache recent must not be negative: %d", c.CacheRecent))
	}

	if c.S3Bucket != "" {
		if c.AWSRegion == "" {
			errs = append(errs, errors.New("s3 bucket set without aws region"))
		}
		if c.S3AppRetries < 1 {
			errs = append(errs, fmt.Errorf("s3 retries must be at least 1: %d", c.S3AppRetries))
		}
		if c.SpoolDir == "" {
			errs = append(errs, errors.New("s3 archive requires a spool dir"))
		}
	}
	return errors.Join(errs...)
}

// ArchiveEnabled / ForwardEnabled 는 선택 구성 요소 on/off.
func (c Config) ArchiveEnabled() bool { return c.S3Bucket != "" }
func (c Config) ForwardEnabled() bool { return c.NATSURL != "" }

// fallbackInstanceID
//
// 이 서버 인스턴스를 식별하는 고유 값.
//   - 기본: hostname (컨테이너에서는 task-id 형태로 고유)
//   - fallback: 랜덤 uuid
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return uuid.NewString()
}

// ---------------------------------------------------------------
// 환경 변수
// ---------------------------------------------------------------

// applyEnv 는 설정된 환경 변수만 덮어쓴다. 형식 오류는 모아서 한 번에 돌려준다.
func applyEnv(c *Config, lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.stringVar("SERVICE_NAME", &c.ServiceName)
	e.stringVar("INSTANCE_ID", &c.InstanceID)
	e.stringVar("LOG_LEVEL", &c.LogLevel)
	e.boolVar("LOG_PRETTY", &c.LogPretty)
	e.uint32Var("LOG_SAMPLE_N", &c.LogSampleN)

	e.stringVar("HTTP_ADDR", &c.HTTPAddr)
	e.stringVar("LOGGING_ADDR", &c.Logging.Addr)
	e.stringVar("LOGGING_CODEC", &c.Logging.Codec)
	e.boolVar("LOGGING_COMPRESSED", &c.Logging.Compressed)
	e.stringVar("ACCESS_ADDR", &c.Access.Addr)
	e.stringVar("ACCESS_CODEC", &c.Access.Codec)
	e.boolVar("ACCESS_COMPRESSED", &c.Access.Compressed)
	e.durationVar("READ_TIMEOUT", &c.ReadTimeout)
	e.intVar("MAX_FRAME_SIZE", &c.MaxFrameSize)

	e.intVar("QUEUE_CAPACITY", &c.QueueCapacity)
	e.durationVar("POLL_INTERVAL", &c.PollInterval)
	e.stringVar("DATA_DIR", &c.DataDir)
	e.boolVar("SYNC_WRITES", &c.SyncWrites)
	e.intVar("CACHE_RECENT", &c.CacheRecent)

	e.stringVar("NATS_URL", &c.NATSURL)
	e.stringVar("NATS_SUBJECT", &c.NATSSubject)
	e.boolVar("NATS_GZIP", &c.NATSGzip)

	e.stringVar("AWS_REGION", &c.AWSRegion)
	e.stringVar("S3_BUCKET", &c.S3Bucket)
	e.stringVar("S3_PREFIX", &c.S3Prefix)
	e.durationVar("S3_TIMEOUT", &c.S3Timeout)
	e.intVar("S3_APP_RETRIES", &c.S3AppRetries)
	e.boolVar("KEEP_LOCAL", &c.KeepLocal)

	e.stringVar("SPOOL_DIR", &c.SpoolDir)
	e.durationVar("SPOOL_MAX_AGE", &c.SpoolMaxAge)
	e.durationVar("SPOOL_INTERVAL", &c.SpoolInterval)

	return errors.Join(e.errs...)
}

// envReader
//
// 공통 패턴. "LOGSINK_" prefix 가 붙은 키를 먼저 보고, 없으면 prefix 없는 키를 본다.
// (AWS_REGION 처럼 플랫폼이 주입하는 값을 그대로 쓰기 위함)
type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, string, bool) {
	for _, k := range []string{"LOGSINK_" + key, key} {
		if v, ok := e.lookup(k); ok && v != "" {
			return k, v, true
		}
	}
	return "", "", false
}

func (e *envReader) stringVar(key string, dst *string) {
	if _, v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) intVar(key string, dst *int) {
	k, v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid int env %s=%q: %w", k, v, err))
		return
	}
	*dst = n
}

func (e *envReader) uint32Var(key string, dst *uint32) {
	k, v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid uint env %s=%q: %w", k, v, err))
		return
	}
	*dst = uint32(n)
}

func (e *envReader) boolVar(key string, dst *bool) {
	k, v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid bool env %s=%q: %w", k, v, err))
		return
	}
	*dst = b
}

func (e *envReader) durationVar(key string, dst *time.Duration) {
	k, v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid duration env %s=%q: %w", k, v, err))
		return
	}
	*dst = d
}
