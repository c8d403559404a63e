package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CHAT_AUTH_JWT_SECRET", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "chat.db", cfg.Store.DSN)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, 256, cfg.WS.SendBuffer)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":8080"
auth:
  jwt_secret: from-file
redis:
  addr: localhost:6379
ws:
  send_buffer: 8
`), 0o600))
	t.Setenv("CHAT_SERVER_ADDR", ":9090")
	t.Setenv("CHAT_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 8, cfg.WS.SendBuffer)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("")
	assert.ErrorIs(t, err, ErrMissingSecret)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadWithFlags(t *testing.T) {
	t.Setenv("CHAT_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("CHAT_STORE_DSN", "env.db")

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("addr", "", "")
	flags.String("dsn", "", "")
	require.NoError(t, flags.Parse([]string{"--addr", ":7070"}))

	cfg, err := LoadWithFlags("", flags)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	// unset flag does not shadow the env value
	assert.Equal(t, "env.db", cfg.Store.DSN)
}
