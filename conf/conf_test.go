package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
	return dir
}

func TestInitConfigLoadsValues(t *testing.T) {
	dir := writeConfig(t, "config.toml", `
[Global]
RunMode = "debug"

[HTTP]
Host = "127.0.0.1"
Port = 18001

[DB]
DBType = "sqlite"
DSN = "klaxon-test.db"

[Stats]
WindowSize = 200

[Alert.Alerting]
NotifyConcurrency = 4

[Alert.Alerting.Notify]
MaxRetries = 5
`)

	config, err := InitConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", config.Global.RunMode)
	assert.Equal(t, "127.0.0.1", config.HTTP.Host)
	assert.Equal(t, 18001, config.HTTP.Port)
	assert.Equal(t, "klaxon-test.db", config.DB.DSN)
	assert.Equal(t, 200, config.Stats.WindowSize)
	assert.Equal(t, 4, config.Alert.Alerting.NotifyConcurrency)
	assert.Equal(t, 5, config.Alert.Alerting.Notify.MaxRetries)
}

func TestInitConfigDefaults(t *testing.T) {
	dir := writeConfig(t, "config.toml", "[Global]\n")

	config, err := InitConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "release", config.Global.RunMode)
	assert.Equal(t, 17001, config.HTTP.Port)
	assert.Equal(t, 30, config.HTTP.ShutdownTimeout)
	assert.Equal(t, "sqlite", config.DB.DBType)
	assert.Equal(t, "klaxon.db", config.DB.DSN)
	assert.Equal(t, 1000, config.Stats.WindowSize)
	assert.Equal(t, 30, config.Stats.MinDataPoints)
	assert.True(t, config.Alert.Alerting.GroupingEnabled)
	assert.Equal(t, int64(300), config.Alert.Alerting.GroupingWindow)
	assert.Equal(t, int64(15), config.Alert.Producers.Interval)
	assert.Contains(t, config.Alert.Alerting.Escalation.Policies, "critical")
}

func TestInitConfigMergesFilesInOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01-base.toml"), []byte("[HTTP]\nPort = 18001\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "02-site.toml"), []byte("[HTTP]\nPort = 18002\n"), 0644))

	config, err := InitConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 18002, config.HTTP.Port)
}

func TestInitConfigEnvOverride(t *testing.T) {
	dir := writeConfig(t, "config.toml", "[HTTP]\nPort = 18001\n")
	t.Setenv("KLAXON_HTTP_PORT", "19001")

	config, err := InitConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 19001, config.HTTP.Port)
}

func TestInitConfigDotEnv(t *testing.T) {
	dir := writeConfig(t, "config.toml", "[Global]\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("KLAXON_LOG_LEVEL=WARNING\n"), 0600))
	// godotenv writes into the process environment, scrub it afterwards
	t.Cleanup(func() { os.Unsetenv("KLAXON_LOG_LEVEL") })

	config, err := InitConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "WARNING", config.Log.Level)
}

func TestInitConfigMissingDir(t *testing.T) {
	_, err := InitConfig(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestInitConfigEmptyDir(t *testing.T) {
	_, err := InitConfig(t.TempDir())
	assert.Error(t, err)
}
