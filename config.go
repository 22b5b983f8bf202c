package traybridge

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	TransportDBus      = "dbus"
	TransportWebSocket = "websocket"
)

// Config selects and configures the transport to the host.
//
//	transport: websocket
//	call_timeout: 3s
//	log_level: debug
//	websocket:
//	  url: ws://127.0.0.1:8765/tray
type Config struct {
	Transport   string          `yaml:"transport"`
	CallTimeout time.Duration   `yaml:"call_timeout"`
	LogLevel    string          `yaml:"log_level"`
	DBus        DBusConfig      `yaml:"dbus"`
	WebSocket   WebSocketConfig `yaml:"websocket"`
}

// DBusConfig configures the D-Bus transport.
type DBusConfig struct {
	// Address of the bus. Empty means the session bus.
	Address string `yaml:"address"`

	// Well-known name of the host.
	BusName string `yaml:"bus_name"`
}

// WebSocketConfig configures the WebSocket transport.
type WebSocketConfig struct {
	URL    string            `yaml:"url"`
	Header map[string]string `yaml:"header"`
}

// DefaultConfig returns the configuration used for omitted fields.
func DefaultConfig() Config {
	return Config{
		Transport:   TransportDBus,
		CallTimeout: DefaultCallTimeout,
		LogLevel:    "info",
		DBus: DBusConfig{
			BusName: DefaultBusName,
		},
	}
}

// LoadConfig reads a YAML configuration file. Omitted fields keep their
// defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig parses a YAML configuration. Omitted fields keep their
// defaults.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate reports the first invalid field of cfg.
func (cfg Config) Validate() error {
	switch cfg.Transport {
	case TransportDBus:
		if cfg.DBus.BusName == "" {
			return fmt.Errorf("invalid config: dbus.bus_name is required")
		}
	case TransportWebSocket:
		if cfg.WebSocket.URL == "" {
			return fmt.Errorf("invalid config: websocket.url is required")
		}
	default:
		return fmt.Errorf("invalid config: unknown transport %q", cfg.Transport)
	}

	if cfg.CallTimeout < 0 {
		return fmt.Errorf("invalid config: call_timeout must not be negative")
	}

	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// NewLogger builds a production logger at the configured level.
func (cfg Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}

// Connect opens the configured transport.
func Connect(ctx context.Context, cfg Config) (Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Transport {
	case TransportWebSocket:
		header := make(http.Header, len(cfg.WebSocket.Header))
		for key, value := range cfg.WebSocket.Header {
			header.Set(key, value)
		}

		conn, err := DialWebSocket(ctx, cfg.WebSocket.URL, header)
		if err != nil {
			return nil, err
		}

		conn.SetTimeout(cfg.CallTimeout)
		Logger().Info("connected to tray host", zap.String("transport", cfg.Transport), zap.String("url", cfg.WebSocket.URL))

		return conn, nil
	default:
		conn, err := DialDBus(cfg.DBus.Address, cfg.DBus.BusName)
		if err != nil {
			return nil, err
		}

		conn.SetTimeout(cfg.CallTimeout)
		Logger().Info("connected to tray host", zap.String("transport", cfg.Transport), zap.String("bus_name", cfg.DBus.BusName))

		return conn, nil
	}
}
