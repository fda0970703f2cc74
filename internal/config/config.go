// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Connection ConnectionConfig `mapstructure:"connection"`
	Protocol   ProtocolConfig   `mapstructure:"protocol"`
	Update     UpdateConfig     `mapstructure:"update"`
	Debugging  DebuggingConfig  `mapstructure:"debugging"`
	Server     ServerConfig     `mapstructure:"server"`
	Security   SecurityConfig   `mapstructure:"security"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// ConnectionConfig selects and configures the device transport
type ConnectionConfig struct {
	Type   string       `mapstructure:"type"`
	Serial SerialConfig `mapstructure:"serial"`
	TCP    TCPConfig    `mapstructure:"tcp"`
}

// SerialConfig represents serial port configuration
type SerialConfig struct {
	Port        string        `mapstructure:"port"`
	BaudRate    int           `mapstructure:"baud_rate"`
	DataBits    int           `mapstructure:"data_bits"`
	StopBits    int           `mapstructure:"stop_bits"`
	Parity      string        `mapstructure:"parity"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// TCPConfig represents TCP transport configuration
type TCPConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	KeepAlive      bool          `mapstructure:"keep_alive"`
}

// ProtocolConfig holds Hcom packet sizing and command timeouts
type ProtocolConfig struct {
	MaxPacketSize       int           `mapstructure:"max_packet_size"`
	CommandTimeout      time.Duration `mapstructure:"command_timeout"`
	FileStartTimeout    time.Duration `mapstructure:"file_start_timeout"`
	EspFileStartTimeout time.Duration `mapstructure:"esp_file_start_timeout"`
	FileEndTimeout      time.Duration `mapstructure:"file_end_timeout"`
}

// UpdateConfig holds firmware update pacing
type UpdateConfig struct {
	TickDelay        time.Duration `mapstructure:"tick_delay"`
	DfuRetries       int           `mapstructure:"dfu_retries"`
	DfuRetryDelay    time.Duration `mapstructure:"dfu_retry_delay"`
	ReconnectTimeout time.Duration `mapstructure:"reconnect_timeout"`
	SettleDelay      time.Duration `mapstructure:"settle_delay"`
	DropTimeout      time.Duration `mapstructure:"drop_timeout"`
	DfuUtilPath      string        `mapstructure:"dfu_util_path"`
	FirmwareDir      string        `mapstructure:"firmware_dir"`
}

// DebuggingConfig represents the debugger relay endpoint
type DebuggingConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load loads configuration from file, environment variables and any
// flags already bound into viper. A missing config file is not an error.
func Load() (*Config, error) {
	viper.SetConfigName("hcom")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.hcom")
	viper.AddConfigPath("/etc/hcom")

	// Environment variable support
	viper.SetEnvPrefix("HCOM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "hcom")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")
	viper.SetDefault("logging.output", "stderr")
	viper.SetDefault("logging.max_size", 100)
	viper.SetDefault("logging.max_backups", 3)
	viper.SetDefault("logging.max_age", 28)
	viper.SetDefault("logging.compress", true)

	// Connection defaults
	viper.SetDefault("connection.type", "serial")
	viper.SetDefault("connection.serial.port", "")
	viper.SetDefault("connection.serial.baud_rate", 115200)
	viper.SetDefault("connection.serial.data_bits", 8)
	viper.SetDefault("connection.serial.stop_bits", 1)
	viper.SetDefault("connection.serial.parity", "none")
	viper.SetDefault("connection.serial.read_timeout", "100ms")
	viper.SetDefault("connection.tcp.host", "127.0.0.1")
	viper.SetDefault("connection.tcp.port", 5000)
	viper.SetDefault("connection.tcp.connect_timeout", "5s")
	viper.SetDefault("connection.tcp.read_timeout", "100ms")
	viper.SetDefault("connection.tcp.keep_alive", true)

	// Protocol defaults
	viper.SetDefault("protocol.max_packet_size", 8192)
	viper.SetDefault("protocol.command_timeout", "5s")
	viper.SetDefault("protocol.file_start_timeout", "10s")
	viper.SetDefault("protocol.esp_file_start_timeout", "30s")
	viper.SetDefault("protocol.file_end_timeout", "60s")

	// Update defaults
	viper.SetDefault("update.tick_delay", "1s")
	viper.SetDefault("update.dfu_retries", 5)
	viper.SetDefault("update.dfu_retry_delay", "1s")
	viper.SetDefault("update.reconnect_timeout", "30s")
	viper.SetDefault("update.settle_delay", "3s")
	viper.SetDefault("update.drop_timeout", "5s")
	viper.SetDefault("update.dfu_util_path", "dfu-util")
	viper.SetDefault("update.firmware_dir", "./firmware")

	// Debugging defaults
	viper.SetDefault("debugging.host", "127.0.0.1")
	viper.SetDefault("debugging.port", 4024)

	// Server defaults
	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", "8084")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")

	viper.SetDefault("security.allowed_origins", []string{"*"})
}

// validate validates the configuration
func validate(config *Config) error {
	validEnvs := []string{"development", "staging", "production", "test"}
	if !slices.Contains(validEnvs, config.App.Environment) {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	validLevels := []string{"trace", "debug", "info", "warn", "error", "fatal"}
	if !slices.Contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	switch config.Connection.Type {
	case "serial", "tcp":
	default:
		return fmt.Errorf("connection.type must be serial or tcp, got %q", config.Connection.Type)
	}

	if config.Protocol.MaxPacketSize <= 12 {
		return fmt.Errorf("protocol.max_packet_size must exceed the 12 byte header")
	}
	if config.Protocol.CommandTimeout <= 0 {
		return fmt.Errorf("protocol.command_timeout must be positive")
	}
	if config.Update.DfuRetries < 1 {
		return fmt.Errorf("update.dfu_retries must be at least 1")
	}
	if config.Debugging.Port < 0 || config.Debugging.Port > 65535 {
		return fmt.Errorf("debugging.port out of range: %d", config.Debugging.Port)
	}

	return nil
}

// GetServerAddr returns the control API address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// GetDebuggingAddr returns the debugger relay listen address
func (c *Config) GetDebuggingAddr() string {
	return fmt.Sprintf("%s:%d", c.Debugging.Host, c.Debugging.Port)
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == "development"
}
