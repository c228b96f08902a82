package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/rahul/hitobot/internal/ingest"
	"github.com/rahul/hitobot/internal/milestone"
	"github.com/rahul/hitobot/pkg/config"
)

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.Equal(t, "hitobot", cmd.Use)
	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "import", "sweep", "show", "complete", "replan", "settings"} {
		assert.True(t, names[want], "missing %s command", want)
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("db"))
}

type testEnv struct {
	db       string
	workbook string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{db: filepath.Join(dir, "cli.db"), workbook: filepath.Join(dir, "cronograma.xlsx")}

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	row := []any{ingest.ColID, ingest.ColName, ingest.ColUnit, ingest.ColResponsible,
		"Fecha de Solicitud", "Estrategia de Contratación", "Acta de Inicio - Solicitud A"}
	require.NoError(t, f.SetSheetRow(sheet, "A1", &row))
	data := []any{1, "Compra de insumos", "GERENCIA A", "GERENCIA A", "10/03/2025", "20/03/2025", "25/03/2025"}
	require.NoError(t, f.SetSheetRow(sheet, "A2", &data))
	require.NoError(t, f.SaveAs(env.workbook))
	require.NoError(t, f.Close())
	return env
}

func (e testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	opts := &options{v: config.NewViper(), now: func() time.Time { return fixedNow }}
	cmd := buildCLI(opts)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--db", e.db, "--timezone", "UTC", "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestImportShowCompleteReplan(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "import", env.workbook)
	require.NoError(t, err)
	assert.Contains(t, out, "inserted: 1")

	out, err = env.run(t, "show", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "#1 Compra de insumos")
	assert.Contains(t, out, "2025-03-10 (upcoming)")

	out, err = env.run(t, "complete", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `completed "Fecha de Solicitud" on request 1`)
	assert.Contains(t, out, `responsible is now "GERENCIA DE CONTRATACIONES"`)
	assert.Contains(t, out, `next: "Estrategia de Contratación"`)

	out, err = env.run(t, "replan", "1", "26/03/2025")
	require.NoError(t, err)
	assert.Contains(t, out, "2025-03-20 -> 2025-03-26")
	assert.Contains(t, out, `moved "Acta de Inicio - Solicitud A": 2025-03-25 -> 2025-03-27`)

	_, err = env.run(t, "show", "99")
	assert.ErrorIs(t, err, milestone.ErrRequestNotFound)

	_, err = env.run(t, "complete", "abc")
	assert.ErrorContains(t, err, "invalid request id")

	out, err = env.run(t, "import", "--reset", env.workbook)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted: 1")

	out, err = env.run(t, "show", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "2025-03-10 (upcoming)", "reset reloads the original plan")
}

func TestSettingsCommands(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "settings", "set", "lead_days", "6")
	require.NoError(t, err)
	assert.Equal(t, "lead_days=6\n", out)

	out, err = env.run(t, "settings", "set", "notification_time", "7:30")
	require.NoError(t, err)
	assert.Equal(t, "notification_time=07:30\n", out)

	_, err = env.run(t, "settings", "set", "lead_days", "-2")
	assert.Error(t, err)
	_, err = env.run(t, "settings", "set", "admin_id", "1")
	assert.ErrorContains(t, err, "unknown setting")

	out, err = env.run(t, "settings", "get")
	require.NoError(t, err)
	assert.Contains(t, out, "lead_days=6")
	assert.Contains(t, out, "admin_id=(unset)")
}

func TestSweepDryRun(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(t, "import", env.workbook)
	require.NoError(t, err)

	out, err := env.run(t, "sweep", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "target 2025-03-10 (today 2025-03-10, lead 0): 1 match(es)")
	assert.Contains(t, out, "GERENCIA A")

	out, err = env.run(t, "sweep", "--dry-run", "--lead", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "target 2025-03-20")
	assert.Contains(t, out, "0 match(es)", "only the current milestone is matched")

	_, err = env.run(t, "sweep")
	assert.ErrorContains(t, err, "no delivery gateway")
}

func TestConfigFileAndValidation(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("notifications:\n  renotify: sometimes\n"), 0o644))

	_, err := env.run(t, "--config", path, "settings", "get")
	assert.ErrorContains(t, err, "invalid configuration")
}
