package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"kafka with brokers", func(c *Config) {
			c.EventBus = "kafka"
			c.KafkaBrokers = []string{"localhost:9092"}
		}, ""},
		{"kafka without brokers", func(c *Config) { c.EventBus = "kafka" }, "KafkaBrokers"},
		{"unknown event bus", func(c *Config) { c.EventBus = "nats" }, "EventBus"},
		{"port out of range", func(c *Config) { c.Port = 70000 }, "Port"},
		{"unknown log level", func(c *Config) { c.LogLevel = "trace" }, "LogLevel"},
		{"json log format", func(c *Config) { c.LogFormat = "json" }, ""},
		{"unknown log format", func(c *Config) { c.LogFormat = "logfmt" }, "LogFormat"},
		{"zero step timeout", func(c *Config) { c.StepTimeout = 0 }, "StepTimeout"},
		{"negative step timeout", func(c *Config) { c.StepTimeout = -time.Second }, "StepTimeout"},
		{"missing digest store", func(c *Config) { c.DigestStore = "" }, "DigestStore"},
		{"log channels", func(c *Config) { c.LogChannels = []string{"in_app", "sms"} }, ""},
		{"log channel that is not a channel", func(c *Config) { c.LogChannels = []string{"digest"} }, "LogChannels[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
