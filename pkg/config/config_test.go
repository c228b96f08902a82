package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/hitobot/internal/milestone"
)

const sample = `
app:
  name: hitobot
  timezone: America/Caracas
gateways:
  telegram:
    token: "123:abc"
    enabled: true
  discord:
    token: ""
    enabled: true
    channels: ["42"]
storage:
  path: /var/lib/hitobot/data.db
  retry_max_elapsed: 2s
notifications:
  renotify: once
metrics:
  addr: ":9102"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/lib/hitobot/data.db", cfg.Storage.Path)
	assert.Equal(t, 2*time.Second, cfg.Storage.RetryMaxElapsed)
	assert.Equal(t, "once", cfg.Notifications.Renotify)
	assert.Equal(t, 4, cfg.Notifications.Concurrency, "defaults survive")
	assert.Equal(t, "auto", cfg.Log.Format)

	tg, ok := cfg.GetTelegramConfig()
	assert.True(t, ok)
	assert.Equal(t, "123:abc", tg.Token)
	_, ok = cfg.GetDiscordConfig()
	assert.False(t, ok, "discord without a token stays off")

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Caracas", loc.String())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "hitobot.db", cfg.Storage.Path)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.App.Timezone = "Mars/Olympus"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Notifications.Renotify = "sometimes"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	assert.NoError(t, cfg.Validate(), "empty catalog keeps the built-in one")
	cfg.Catalog = milestone.DefaultKinds()
	cfg.Catalog = append(cfg.Catalog, cfg.Catalog[0])
	assert.ErrorContains(t, cfg.Validate(), "duplicate")
}

func TestCatalogOverride(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `
catalog:
  - key: solicitud
    name: Solicitud
  - key: contrato
    name: Contrato
    handoff_to: JURIDICO
`))
	require.NoError(t, err)
	cat, err := cfg.BuildCatalog()
	require.NoError(t, err)
	assert.Equal(t, 2, cat.Len())
	k, ok := cat.Lookup("contrato")
	require.True(t, ok)
	assert.Equal(t, "JURIDICO", k.HandoffTo)
}

func TestOverrideFromEnv(t *testing.T) {
	t.Setenv("HITOBOT_DB_PATH", "/tmp/override.db")
	t.Setenv("HITOBOT_TELEGRAM_TOKEN", "999:zzz")
	t.Setenv("HITOBOT_RENOTIFY", "once")

	cfg := Default()
	cfg.Override(NewViper())

	assert.Equal(t, "/tmp/override.db", cfg.Storage.Path)
	assert.Equal(t, "once", cfg.Notifications.Renotify)
	tg, ok := cfg.GetTelegramConfig()
	assert.True(t, ok)
	assert.Equal(t, "999:zzz", tg.Token)
	assert.Equal(t, "info", cfg.Log.Level, "unset keys leave the file value")
}
