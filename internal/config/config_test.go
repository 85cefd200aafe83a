// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "default", cfg.Session.Profile)
	assert.Equal(t, 3*time.Second, cfg.Pacing.SearchInterval)
	assert.Equal(t, 30*time.Second, cfg.Pacing.PublishInterval)
	assert.Equal(t, 5*time.Second, cfg.Pacing.MessageInterval)
	assert.Equal(t, "https://www.goofish.com", cfg.Market.BaseURL)
	assert.Equal(t, "passport", cfg.Market.LoginMarker)
	assert.Equal(t, 45*time.Second, cfg.Network.OperationTimeout)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Valid Defaults", func(t *testing.T) {
		cfg := NewDefaultConfig()
		assert.NoError(t, cfg.Validate(), "default config should validate cleanly")
	})

	t.Run("Pacing Floors", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Pacing.SearchInterval = 1 * time.Second
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "pacing.search_interval")

		cfg = NewDefaultConfig()
		cfg.Pacing.PublishInterval = 10 * time.Second
		err = cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "pacing.publish_interval")

		cfg = NewDefaultConfig()
		cfg.Pacing.MessageInterval = 500 * time.Millisecond
		err = cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "pacing.message_interval")
	})

	t.Run("Widened Pacing Allowed", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Pacing.SearchInterval = 10 * time.Second
		cfg.Pacing.PublishInterval = 2 * time.Minute
		cfg.Pacing.MessageInterval = 30 * time.Second
		assert.NoError(t, cfg.Validate())
	})

	t.Run("Required Fields", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Session.Profile = ""
		assert.ErrorContains(t, cfg.Validate(), "session.profile")

		cfg = NewDefaultConfig()
		cfg.Market.BaseURL = ""
		assert.ErrorContains(t, cfg.Validate(), "market.base_url")

		cfg = NewDefaultConfig()
		cfg.Network.OperationTimeout = 0
		assert.ErrorContains(t, cfg.Validate(), "network.operation_timeout")
	})
}

// -- Viper Integration Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Overrides From YAML", func(t *testing.T) {
		yaml := []byte(`
logger:
  level: debug
  format: json
session:
  profile: shopfront
pacing:
  search_interval: 6s
  message_interval: 8s
server:
  listen_addr: "127.0.0.1:9000"
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewReader(yaml)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.Logger.Level)
		assert.Equal(t, "json", cfg.Logger.Format)
		assert.Equal(t, "shopfront", cfg.Session.Profile)
		assert.Equal(t, 6*time.Second, cfg.Pacing.SearchInterval)
		assert.Equal(t, 8*time.Second, cfg.Pacing.MessageInterval)
		// Untouched keys keep their defaults.
		assert.Equal(t, 30*time.Second, cfg.Pacing.PublishInterval)
		assert.Equal(t, "127.0.0.1:9000", cfg.Server.ListenAddr)
	})

	t.Run("Invalid Values Rejected", func(t *testing.T) {
		yaml := []byte(`
pacing:
  publish_interval: 5s
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewReader(yaml)))

		_, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pacing.publish_interval")
	})
}
