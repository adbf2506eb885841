package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/blurchat"
	"github.com/totegamma/blurchat/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", c.Store.Driver)
	assert.Equal(t, "loopback", c.Transport.Driver)
	assert.Equal(t, domain.DefaultTiming(), c.DomainTiming())
}

func TestLoadOverrides(t *testing.T) {
	key, err := blurchat.GenerateKey()
	require.NoError(t, err)

	path := writeConfig(t, `
session:
  privatekey: `+key+`
  handle: "17"
store:
  driver: pebble
  path: /tmp/blurchat
transport:
  driver: nats
  natsURL: nats://localhost:4222
  reconnectWait: 500ms
timing:
  rampDuration: 1s
  revealDuration: 10s
`)
	t.Setenv(EnvConfigPath, path)

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "pebble", c.Store.Driver)
	assert.Equal(t, "17", c.Session.Handle)
	assert.Equal(t, 500*time.Millisecond, c.Transport.ReconnectWait.Std())
	assert.True(t, blurchat.IsIdentity(c.Identity))

	timing := c.DomainTiming()
	assert.Equal(t, time.Second, timing.RampDuration)
	assert.Equal(t, 10*time.Second, timing.RevealDuration)
	// untouched fields keep their defaults
	assert.Equal(t, domain.DefaultTiming().BlurDuration, timing.BlurDuration)
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := Load(writeConfig(t, "timing:\n  rampDuration: soon\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "session:\n  handle: \"7\"\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
