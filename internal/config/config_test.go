package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// 1. Load the shipped config
	cfg, err := LoadConfig("../../configs/config.yaml")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	// 2. Check a value of every section
	assert.Equal(t, "nats", cfg.Ingest.Type)
	assert.Equal(t, 10000, cfg.Ingest.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Ingest.RecvTimeout)
	assert.Equal(t, []uint16{22, 2222}, cfg.Ingest.PCAP.Ports)
	assert.Equal(t, 1, cfg.Pipeline.QueueCapacity)
	assert.Equal(t, "forest", cfg.Classifier.Type)
	assert.True(t, cfg.Classifier.Cache.Enabled)
	assert.Equal(t, 20, cfg.Features.AuthEndThreshold)
	assert.Equal(t, time.Second, cfg.Detector.Timing.HumanMinDelay)
	assert.InDelta(t, 0.65, cfg.Detector.Auth.KeyCoef, 1e-9)
	require.Len(t, cfg.Emit.Sinks, 4)
	assert.Equal(t, "ssh_classification", cfg.Emit.Sinks[1].ClickHouse.Table)
	assert.Equal(t, ":8090", cfg.API.ListenAddr)
}

func TestLoadConfig_Defaults(t *testing.T) {
	// 1. A minimal file only overrides what it names
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "ingest:\n  batch_size: 500\nemit:\n  sinks:\n    - type: amqp\n    - type: mongo\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	// 2. Everything else comes from the struct defaults
	assert.Equal(t, 500, cfg.Ingest.BatchSize)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Ingest.NATS.URL)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.PollInterval)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.EmitTimeout)
	assert.Equal(t, "none", cfg.Classifier.Type)
	assert.Equal(t, uint16(256), cfg.Detector.Auth.KeyMin)
	assert.Equal(t, 11, cfg.Features.SessStartMin)
	assert.Equal(t, "SSH", cfg.Features.ContentPrefix)
	require.Len(t, cfg.Emit.Sinks, 2)
	assert.Equal(t, "sshspectra", cfg.Emit.Sinks[0].AMQP.Exchange)
	assert.Equal(t, "ssh_classification", cfg.Emit.Sinks[1].Mongo.Collection)
	assert.Equal(t, 5*time.Second, cfg.Emit.Sinks[1].Mongo.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig_NoFile(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Len(t, cfg.Emit.Sinks, 1)
	assert.Equal(t, "stdout", cfg.Emit.Sinks[0].Type)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ingest: [1, 2"), 0o644))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"ingest type", func(c *Config) { c.Ingest.Type = "kafka" }, "ingest.type"},
		{"pcap path", func(c *Config) { c.Ingest.Type = "pcap" }, "ingest.pcap.path"},
		{"batch size", func(c *Config) { c.Ingest.BatchSize = 0 }, "ingest.batch_size"},
		{"queue capacity", func(c *Config) { c.Pipeline.QueueCapacity = 0 }, "pipeline.queue_capacity"},
		{"forest model", func(c *Config) { c.Classifier.Type = "forest" }, "classifier.model_path"},
		{"grpc addr", func(c *Config) { c.Classifier.Type = "grpc" }, "classifier.grpc.addr"},
		{"classifier type", func(c *Config) { c.Classifier.Type = "svm" }, "classifier.type"},
		{"auth window", func(c *Config) { c.Features.AuthEndThreshold = 5 }, "features.auth_end_threshold"},
		{"key coef", func(c *Config) { c.Detector.Auth.KeyCoef = 1.5 }, "detector.auth.key_coef"},
		{"no sinks", func(c *Config) { c.Emit.Sinks = nil }, "emit.sinks"},
		{"sink type", func(c *Config) { c.Emit.Sinks[0].Type = "kafka" }, "emit.sinks[0]"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Default()
			require.NoError(t, err)
			tt.modify(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
