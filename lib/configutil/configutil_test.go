package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	UserAgent string            `json:"user_agent"`
	TimeoutMs int               `json:"timeout_ms"`
	Banks     map[string]string `json:"banks"`
}

func write(t *testing.T, path, contents string) {
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
}

func TestLocalPath(t *testing.T) {
	require.Equal(t, "conf/banksync.local.json5", LocalPath("conf/banksync.json5"))
	require.Equal(t, "banksync.local", LocalPath("banksync"))
}

func TestReadConfigMergesLocal(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "banksync.json5"), `{
		// shared defaults
		user_agent: "agent/1",
		timeout_ms: 1000,
		banks: {sparkasse: "a"},
	}`)
	write(t, filepath.Join(dir, "banksync.local.json5"), `{timeout_ms: 5000, banks: {dkb: "b"}}`)

	config, err := ReadConfig[testConfig](filepath.Join(dir, "banksync.json5"))
	require.NoError(t, err)
	expected := testConfig{
		UserAgent: "agent/1",
		TimeoutMs: 5000,
		Banks:     map[string]string{"sparkasse": "a", "dkb": "b"},
	}
	if diff := cmp.Diff(expected, config); diff != "" {
		t.Fatal(diff)
	}
}

func TestReadConfigLocalOnly(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "banksync.local.json5"), `{user_agent: "local"}`)

	config, err := ReadConfig[testConfig](filepath.Join(dir, "banksync.json5"))
	require.NoError(t, err)
	require.Equal(t, "local", config.UserAgent)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "banksync.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "banksync.json5"), `{user_agent: `)
	_, err := ReadConfig[testConfig](filepath.Join(dir, "banksync.json5"))
	require.Error(t, err)
	require.NotErrorIs(t, err, os.ErrNotExist)
}

func TestReadFromParents(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0700))
	write(t, filepath.Join(root, "telemetry.json5"), `{user_agent: "found"}`)

	config, err := readFrom[testConfig](nested, "telemetry.json5")
	require.NoError(t, err)
	require.Equal(t, "found", config.UserAgent)

	_, err = readFrom[testConfig](nested, "absent.json5")
	require.ErrorIs(t, err, os.ErrNotExist)
}
