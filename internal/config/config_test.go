package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultsConfig(t *testing.T) Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return cfg
}

func TestDefaultsProduceValidConfig(t *testing.T) {
	cfg := defaultsConfig(t)

	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9050, cfg.Transport.SocksPort)
	assert.Equal(t, 30, cfg.Transport.ListenRetries)
	assert.Equal(t, "https://check.torproject.org/api/ip", cfg.Transport.EgressURL)
	assert.Equal(t, 3, cfg.Login.StageRetries)
	assert.Equal(t, 2*time.Minute, cfg.Login.TwoFactorWindow)
	assert.Equal(t, 5*time.Minute, cfg.Store.ExpiryBuffer)
	assert.True(t, cfg.Browser.Headless)
}

func TestValidateRejectsBrokenConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"socks port out of range", func(c *Config) { c.Transport.SocksPort = 70000 }},
		{"zero listen retries", func(c *Config) { c.Transport.ListenRetries = 0 }},
		{"zero stage retries", func(c *Config) { c.Login.StageRetries = 0 }},
		{"zero two-factor window", func(c *Config) { c.Login.TwoFactorWindow = 0 }},
		{"inverted keystroke bounds", func(c *Config) {
			c.Humanoid.KeystrokeMin = time.Second
			c.Humanoid.KeystrokeMax = time.Millisecond
		}},
		{"missing store dir", func(c *Config) { c.Store.DataDir = "" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultsConfig(t)
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestExpandPathsResolvesHome(t *testing.T) {
	cfg := defaultsConfig(t)
	require.NoError(t, cfg.ExpandPaths())

	assert.NotContains(t, cfg.Store.DataDir, "~")
	assert.NotContains(t, cfg.Transport.DataDir, "~")
}
