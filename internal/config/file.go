package config

import (
	"bytes"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// fileConfig 는 TOML 파일 구조. 파일에 있는 키만 Default() 위에 덮어쓰도록 전부 포인터다.
//
//	service = "logsink"
//
//	[log]
//	level = "debug"
//	pretty = true
//
//	[logging]
//	addr = ":11000"
//	codec = "protobuf"
//	compressed = true
//
//	[ingest]
//	data_dir = "/var/lib/logsink"
//	read_timeout = "2m"
//
//	[s3]
//	region = "ap-northeast-2"
//	bucket = "logs"
type fileConfig struct {
	Service  *string `toml:"service"`
	Instance *string `toml:"instance"`

	Log struct {
		Level   *string `toml:"level"`
		Pretty  *bool   `toml:"pretty"`
		SampleN *uint32 `toml:"sample_n"`
	} `toml:"log"`

	HTTP struct {
		Addr *string `toml:"addr"`
	} `toml:"http"`

	Logging fileListener `toml:"logging"`
	Access  fileListener `toml:"access"`

	Ingest struct {
		ReadTimeout   *duration `toml:"read_timeout"`
		MaxFrameSize  *int      `toml:"max_frame_size"`
		QueueCapacity *int      `toml:"queue_capacity"`
		PollInterval  *duration `toml:"poll_interval"`
		DataDir       *string   `toml:"data_dir"`
		SyncWrites    *bool     `toml:"sync_writes"`
		CacheRecent   *int      `toml:"cache_recent"`
	} `toml:"ingest"`

	NATS struct {
		URL     *string `toml:"url"`
		Subject *string `toml:"subject"`
		Gzip    *bool   `toml:"gzip"`
	} `toml:"nats"`

	S3 struct {
		Region    *string   `toml:"region"`
		Bucket    *string   `toml:"bucket"`
		Prefix    *string   `toml:"prefix"`
		Timeout   *duration `toml:"timeout"`
		Retries   *int      `toml:"retries"`
		KeepLocal *bool     `toml:"keep_local"`
	} `toml:"s3"`

	Spool struct {
		Dir      *string   `toml:"dir"`
		MaxAge   *duration `toml:"max_age"`
		Interval *duration `toml:"interval"`
	} `toml:"spool"`
}

type fileListener struct {
	Addr       *string `toml:"addr"`
	Codec      *string `toml:"codec"`
	Compressed *bool   `toml:"compressed"`
}

// duration 은 "250ms", "5m" 같은 문자열을 받는다.
type duration struct{ time.Duration }

func (d *duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func applyTOML(c *Config, raw []byte) error {
	var f fileConfig
	dec := toml.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return err
	}

	set(&c.ServiceName, f.Service)
	set(&c.InstanceID, f.Instance)
	set(&c.LogLevel, f.Log.Level)
	set(&c.LogPretty, f.Log.Pretty)
	set(&c.LogSampleN, f.Log.SampleN)

	set(&c.HTTPAddr, f.HTTP.Addr)
	f.Logging.apply(&c.Logging)
	f.Access.apply(&c.Access)

	setDuration(&c.ReadTimeout, f.Ingest.ReadTimeout)
	set(&c.MaxFrameSize, f.Ingest.MaxFrameSize)
	set(&c.QueueCapacity, f.Ingest.QueueCapacity)
	setDuration(&c.PollInterval, f.Ingest.PollInterval)
	set(&c.DataDir, f.Ingest.DataDir)
	set(&c.SyncWrites, f.Ingest.SyncWrites)
	set(&c.CacheRecent, f.Ingest.CacheRecent)

	set(&c.NATSURL, f.NATS.URL)
	set(&c.NATSSubject, f.NATS.Subject)
	set(&c.NATSGzip, f.NATS.Gzip)

	set(&c.AWSRegion, f.S3.Region)
	set(&c.S3Bucket, f.S3.Bucket)
	set(&c.S3Prefix, f.S3.Prefix)
	setDuration(&c.S3Timeout, f.S3.Timeout)
	set(&c.S3AppRetries, f.S3.Retries)
	set(&c.KeepLocal, f.S3.KeepLocal)

	set(&c.SpoolDir, f.Spool.Dir)
	setDuration(&c.SpoolMaxAge, f.Spool.MaxAge)
	setDuration(&c.SpoolInterval, f.Spool.Interval)
	return nil
}

func (f fileListener) apply(l *Listener) {
	set(&l.Addr, f.Addr)
	set(&l.Codec, f.Codec)
	set(&l.Compressed, f.Compressed)
}

func set[V any](dst *V, src *V) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *duration) {
	if src != nil {
		*dst = src.Duration
	}
}
