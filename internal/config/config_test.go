package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	cfg, err := Default()
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.SystemID)
	assert.Equal(t, ":8420", cfg.ListenAddr)
	assert.Equal(t, "file", cfg.Storage)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, 0.8, cfg.Controller.AutoExecThreshold)
	assert.Equal(t, 30*time.Second, cfg.Controller.CoolDown)
	assert.Equal(t, filepath.Join(cfg.DataDir, "transfer", "outbox"), cfg.Transfer.OutboxDir)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	path := filepath.Join(dir, "mend.yaml")
	doc := `
system_id: prod-1
listen_addr: ":9000"
data_dir: ` + filepath.Join(dir, "data") + `
storage: postgres
postgres_dsn: "postgres://mend@localhost/mend?sslmode=disable"
jwt_secret: topsecret
controller:
  auto_exec_threshold: 0.9
  cool_down: 2m
transfer:
  peers:
    - id: prod-2
      specializations: [security]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod-1", cfg.SystemID)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "postgres", cfg.Storage)
	assert.Equal(t, "topsecret", cfg.JWTSecret)
	assert.Equal(t, 0.9, cfg.Controller.AutoExecThreshold)
	assert.Equal(t, 2*time.Minute, cfg.Controller.CoolDown)
	require.Len(t, cfg.Transfer.Peers, 1)
	assert.Equal(t, "prod-2", cfg.Transfer.Peers[0].ID)
	assert.Equal(t, []string{"security"}, cfg.Transfer.Peers[0].Specializations)

	// Defaults survive for fields the file leaves unset.
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)

	info, err := os.Stat(cfg.DataDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	t.Setenv("MEND_SYSTEM_ID", "from-env")
	t.Setenv("MEND_AUTO_EXEC_THRESHOLD", "0.95")
	t.Setenv("MEND_COOL_DOWN", "45s")

	path := filepath.Join(dir, "mend.yaml")
	require.NoError(t, os.WriteFile(path, []byte("system_id: from-file\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.SystemID)
	assert.Equal(t, 0.95, cfg.Controller.AutoExecThreshold)
	assert.Equal(t, 45*time.Second, cfg.Controller.CoolDown)
}

func TestLoadMissingFileErrors(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
