package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := viper.New()
	cfg.Set("signer.url", "https://signer.example.org/")

	c, err := Load(cfg)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", c.ListenHost)
	assert.Equal(t, 8711, c.ListenPort)
	assert.Equal(t, "127.0.0.1:8711", c.ListenAddr())
	assert.Equal(t, "https://signer.example.org", c.SignerURL, "trailing slash is trimmed")
	assert.Equal(t, "info", c.LogLevel)
	assert.Empty(t, c.AllowedOrigins)
}

func TestLoadRequiresSignerURL(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := Load(viper.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signer.url")
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := viper.New()
	cfg.Set("signer.url", "https://signer.example.org")
	cfg.Set("listen.port", 70000)

	_, err := Load(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen port")
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("KEYHAVEN_SIGNER_URL", "https://env.example.org")
	t.Setenv("KEYHAVEN_LOG_LEVEL", "debug")

	c, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.org", c.SignerURL)
	assert.Equal(t, "debug", c.LogLevel)
}
