package traybridge

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, DefaultCallTimeout, cfg.CallTimeout)
	assert.Equal(t, DefaultBusName, cfg.DBus.BusName)
}

func TestParseConfig_WebSocket(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
transport: websocket
call_timeout: 1500ms
log_level: debug
websocket:
  url: ws://127.0.0.1:8765/tray
  header:
    Authorization: Bearer secret
`))
	require.NoError(t, err)

	assert.Equal(t, Config{
		Transport:   TransportWebSocket,
		CallTimeout: 1500 * time.Millisecond,
		LogLevel:    "debug",
		DBus:        DBusConfig{BusName: DefaultBusName},
		WebSocket: WebSocketConfig{
			URL:    "ws://127.0.0.1:8765/tray",
			Header: map[string]string{"Authorization": "Bearer secret"},
		},
	}, cfg)
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"syntax":             "transport: [",
		"unknown transport":  "transport: carrier-pigeon",
		"missing url":        "transport: websocket",
		"empty bus name":     "dbus:\n  bus_name: \"\"",
		"negative timeout":   "call_timeout: -1s",
		"unknown log level":  "log_level: chatty",
		"malformed duration": "call_timeout: soon",
	}

	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(data))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traybridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dbus:\n  bus_name: org.example.Tray\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "org.example.Tray", cfg.DBus.BusName)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfig_NewLogger(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "warn"

	logger, err := cfg.NewLogger()
	require.NoError(t, err)

	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestConnect_WebSocket(t *testing.T) {
	host := NewLocalHost()

	srv := httptest.NewServer(NewWebSocketHandler(host))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Transport = TransportWebSocket
	cfg.WebSocket.URL = wsURL(srv)
	cfg.CallTimeout = time.Second

	conn, err := Connect(context.Background(), cfg)
	require.NoError(t, err)
	defer conn.Close()

	tray, err := NewTrayIcon(context.Background(), conn, Options{ID: "configured"})
	require.NoError(t, err)
	assert.Equal(t, "configured", tray.ID())
}

func TestConnect_InvalidConfig(t *testing.T) {
	_, err := Connect(context.Background(), Config{Transport: TransportWebSocket})
	require.Error(t, err)
}
