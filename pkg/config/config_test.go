package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Channel.Driver)
	assert.Equal(t, "channel", cfg.Client.SignalRoute)
	assert.Equal(t, time.Second, cfg.Sync.DedupWindow)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}, cfg.Media.ICEServers)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CHANNEL_DRIVER", "websocket")
	t.Setenv("SYNC_USER_ID", "alice")
	t.Setenv("SYNC_ACCESS_TOKEN", "token")
	t.Setenv("DEDUP_WINDOW", "1500ms")
	t.Setenv("MEDIA_DEVICES", "audio")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "websocket", cfg.Channel.Driver)
	assert.Equal(t, 1500*time.Millisecond, cfg.Sync.DedupWindow)
	assert.Equal(t, []string{"audio"}, cfg.Media.Devices)
	assert.NoError(t, cfg.ValidateClient())
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("CHANNEL_DRIVER", "carrier-pigeon")

	cfg, err := Load()

	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestValidateClient_RequiresUser(t *testing.T) {
	cfg := &Config{Channel: ChannelConfig{Driver: "redis"}}
	assert.Error(t, cfg.ValidateClient())

	cfg.Client.UserID = "all"
	assert.Error(t, cfg.ValidateClient())

	cfg.Client.UserID = "bob"
	assert.NoError(t, cfg.ValidateClient())

	cfg.Channel.Driver = "websocket"
	assert.Error(t, cfg.ValidateClient())
}

func TestValidateRelay_ProductionSecretLength(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Environment: "production"}, JWT: JWTConfig{Secret: "short"}}
	assert.Error(t, cfg.ValidateRelay())

	cfg.JWT.Secret = "0123456789abcdef0123456789abcdef"
	assert.NoError(t, cfg.ValidateRelay())

	cfg.Server.Environment = "development"
	cfg.JWT.Secret = ""
	assert.Error(t, cfg.ValidateRelay())
}
