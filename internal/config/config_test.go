package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"logsink/internal/codec"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(kv map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := kv[k]
		return v, ok
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "logsink.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := LoadFrom("", env(nil))
	require.NoError(t, err)

	assert.Equal(t, "logsink", cfg.ServiceName)
	assert.NotEmpty(t, cfg.InstanceID)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 10000, cfg.QueueCapacity)
	assert.False(t, cfg.ArchiveEnabled())
	assert.False(t, cfg.ForwardEnabled())

	k, err := cfg.Logging.Kind()
	require.NoError(t, err)
	assert.Equal(t, codec.KindBinary, k)
}

func TestFileThenEnv(t *testing.T) {
	path := writeFile(t, `
service = "sink-a"

[log]
level = "debug"
sample_n = 10

[logging]
addr = "127.0.0.1:4560"
codec = "protobuf"
compressed = true

[access]
addr = ""

[ingest]
read_timeout = "2m"
poll_interval = "250ms"
data_dir = "/var/lib/logsink"

[s3]
region = "ap-northeast-2"
bucket = "logs"
retries = 5

[spool]
max_age = "6h"
`)

	cfg, err := LoadFrom(path, env(map[string]string{
		"LOGSINK_DATA_DIR":  "/tmp/override",
		"S3_PREFIX":         "raw/",
		"LOGSINK_S3_PREFIX": "archive/",
		"NATS_URL":          "nats://127.0.0.1:4222",
	}))
	require.NoError(t, err)

	assert.Equal(t, "sink-a", cfg.ServiceName)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, uint32(10), cfg.LogSampleN)
	assert.Equal(t, Listener{Addr: "127.0.0.1:4560", Codec: "protobuf", Compressed: true}, cfg.Logging)
	assert.False(t, cfg.Access.Enabled())
	assert.Equal(t, 2*time.Minute, cfg.ReadTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 6*time.Hour, cfg.SpoolMaxAge)
	assert.Equal(t, 5, cfg.S3AppRetries)
	assert.True(t, cfg.ArchiveEnabled())
	assert.True(t, cfg.ForwardEnabled())

	// env 가 파일을 이기고, LOGSINK_ prefix 가 prefix 없는 키를 이긴다
	assert.Equal(t, "/tmp/override", cfg.DataDir)
	assert.Equal(t, "archive/", cfg.S3Prefix)
}

func TestInvalidValuesAreReported(t *testing.T) {
	_, err := LoadFrom("", env(map[string]string{
		"QUEUE_CAPACITY": "many",
		"LOG_PRETTY":     "sometimes",
		"POLL_INTERVAL":  "10",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUEUE_CAPACITY")
	assert.Contains(t, err.Error(), "LOG_PRETTY")
	assert.Contains(t, err.Error(), "POLL_INTERVAL")

	_, err = LoadFrom(writeFile(t, "[ingest]\nunknown_key = 1\n"), env(nil))
	assert.Error(t, err)

	_, err = LoadFrom(writeFile(t, "[ingest]\npoll_interval = \"soon\"\n"), env(nil))
	assert.Error(t, err)

	_, err = LoadFrom(filepath.Join(t.TempDir(), "missing.toml"), env(nil))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"no listeners", func(c *Config) { c.Logging.Addr, c.Access.Addr = "", "" }, false},
		{"bad codec", func(c *Config) { c.Access.Codec = "yaml" }, false},
		{"bad codec on disabled listener", func(c *Config) { c.Access = Listener{Codec: "yaml"} }, true},
		{"shared address", func(c *Config) { c.Access.Addr = c.Logging.Addr }, false},
		{"zero queue", func(c *Config) { c.QueueCapacity = 0 }, false},
		{"zero frame", func(c *Config) { c.MaxFrameSize = 0 }, false},
		{"negative timeout", func(c *Config) { c.ReadTimeout = -time.Second }, false},
		{"bucket without region", func(c *Config) { c.S3Bucket = "logs" }, false},
		{"bucket with region", func(c *Config) { c.S3Bucket, c.AWSRegion = "logs", "us-east-1" }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
