package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "serial", cfg.Connection.Type)
	assert.Equal(t, 115200, cfg.Connection.Serial.BaudRate)
	assert.Equal(t, 5*time.Second, cfg.Protocol.CommandTimeout)
	assert.Equal(t, 5, cfg.Update.DfuRetries)
	assert.Equal(t, 30*time.Second, cfg.Update.ReconnectTimeout)
	assert.Equal(t, 3*time.Second, cfg.Update.SettleDelay)
	assert.Equal(t, 5*time.Second, cfg.Update.DropTimeout)
	assert.Equal(t, "127.0.0.1:4024", cfg.GetDebuggingAddr())
	assert.Equal(t, "127.0.0.1:8084", cfg.GetServerAddr())
	assert.True(t, cfg.IsDebugEnabled())
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := isolate(t)

	yaml := `
app:
  environment: production
connection:
  type: tcp
  tcp:
    host: 10.0.0.7
    port: 6000
debugging:
  port: 5555
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hcom.yaml"), []byte(yaml), 0o644))
	t.Setenv("HCOM_PROTOCOL_COMMAND_TIMEOUT", "2s")
	t.Setenv("HCOM_DEBUGGING_PORT", "6000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "tcp", cfg.Connection.Type)
	assert.Equal(t, "10.0.0.7", cfg.Connection.TCP.Host)
	assert.Equal(t, 6000, cfg.Connection.TCP.Port)
	assert.Equal(t, 2*time.Second, cfg.Protocol.CommandTimeout)
	assert.Equal(t, 6000, cfg.Debugging.Port)
	assert.False(t, cfg.IsDebugEnabled())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"HCOM_LOGGING_LEVEL":            "loud",
		"HCOM_CONNECTION_TYPE":          "usb",
		"HCOM_PROTOCOL_MAX_PACKET_SIZE": "12",
		"HCOM_UPDATE_DFU_RETRIES":       "0",
		"HCOM_DEBUGGING_PORT":           "70000",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			isolate(t)
			t.Setenv(key, value)

			_, err := Load()
			assert.ErrorContains(t, err, "config validation failed")
		})
	}
}
