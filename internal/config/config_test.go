package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 3*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 5*time.Second, cfg.TypingTTL)
	assert.Equal(t, "answerer", cfg.Voice.Role)
	assert.Equal(t, "silence", cfg.Voice.Capture)
	assert.NotEmpty(t, cfg.Voice.ICEServers)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(`
mode: debug
ws_url: ws://chat.example/ws
typing_ttl: 8s
voice:
  role: offerer
  negotiation_timeout: 5s
`), 0o644))
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("VOICESYNC_TOKEN", "from-env")
	t.Setenv("VOICESYNC_VOICE_CAPTURE", "none")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, "ws://chat.example/ws", cfg.WSURL)
	assert.Equal(t, 8*time.Second, cfg.TypingTTL)
	assert.Equal(t, "offerer", cfg.Voice.Role)
	assert.Equal(t, 5*time.Second, cfg.Voice.NegotiationTimeout)
	assert.Equal(t, "from-env", cfg.Token)
	assert.Equal(t, "none", cfg.Voice.Capture)
}

func TestValidate(t *testing.T) {
	ok := Config{
		ReconnectDelay: time.Second,
		PingPeriod:     time.Second,
		PongWait:       2 * time.Second,
		Voice:          VoiceConfig{Role: "answerer", Capture: "silence"},
	}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.Voice.Role = "listener"
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Voice.Capture = "mic"
	assert.Error(t, bad.Validate())

	bad = ok
	bad.PingPeriod = bad.PongWait
	assert.Error(t, bad.Validate())

	bad = ok
	bad.ReconnectDelay = 0
	assert.Error(t, bad.Validate())
}
