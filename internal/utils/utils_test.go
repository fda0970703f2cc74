package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"hcom/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"trace": zapcore.DebugLevel,
		"debug": zapcore.DebugLevel,
		"":      zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	}
	for name, want := range cases {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewLoggerWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "hcom.log")
	logger, err := NewLogger(&config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: path,
	})
	require.NoError(t, err)

	logger.Info("link opened", zap.String("port", "/dev/ttyACM0"))
	require.NoError(t, CloseLogger(logger))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(raw, &entry))
	assert.Equal(t, "link opened", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "/dev/ttyACM0", entry["port"])
}

func TestErrorResponseCarriesCodeAndRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set(RequestIDKey, "req-1")

	ErrorResponse(c, http.StatusGatewayTimeout, "Device did not respond", errors.New("no reply to 0x0107"))

	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "req-1", resp.RequestID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "DEVICE_TIMEOUT", resp.Error.Code)
	assert.Equal(t, "no reply to 0x0107", resp.Error.Details)
}

func TestErrorCodeFallback(t *testing.T) {
	assert.Equal(t, "DEVICE_BUSY", ErrorCode(http.StatusConflict))
	assert.Equal(t, "UNKNOWN_ERROR", ErrorCode(http.StatusTeapot))
}
