package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("GAME_CONFIG", "")
	t.Setenv("GAME_WS_PORT", "")
	t.Setenv("GAME_API_PORT", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.WSPort)
	assert.Equal(t, 8088, cfg.Server.APIPort)
	assert.Equal(t, 20, cfg.Server.TickRate)
	assert.Equal(t, 50*time.Millisecond, cfg.TickInterval())
	assert.Equal(t, 8, cfg.Game.CellSize)
	assert.Equal(t, 3, cfg.Game.CheckRadius)
	assert.Equal(t, 60*time.Second, cfg.Game.DataTimeout)
	assert.Equal(t, 30*time.Second, cfg.Game.InviteTimeout)
	assert.Equal(t, "map1", cfg.Game.DefaultMap)
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Equal(t, 5*time.Second, cfg.Auth.TokenTTL)
}

func TestEnvPortFallback(t *testing.T) {
	t.Setenv("GAME_WS_PORT", "9001")
	cfg := Default()
	assert.Equal(t, 9001, cfg.Server.WSPort)

	cfg = &Config{Server: ServerConfig{WSPort: 9100}}
	cfg.ApplyDefaults()
	assert.Equal(t, 9100, cfg.Server.WSPort, "значение из файла важнее переменной окружения")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	yml := `
server:
  tick_rate: 10
game:
  default_map: town
  data_timeout: 2m
storage:
  backend: memory
  lock: memory
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Server.TickRate)
	assert.Equal(t, "town", cfg.Game.DefaultMap)
	assert.Equal(t, 2*time.Minute, cfg.Game.DataTimeout)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 60*time.Second, cfg.Game.SaveInterval)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "cassandra"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Storage.Backend = "maria"
	assert.Error(t, cfg.Validate(), "maria без DSN")

	cfg = Default()
	cfg.Storage.Lock = "zookeeper"
	assert.Error(t, cfg.Validate())

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
