// internal/protocol/factory.go
package protocol

import (
	"fmt"

	"go.uber.org/zap"

	"hcom/internal/config"
)

// CreateTransport builds the transport selected by the connection config
func CreateTransport(cfg *config.ConnectionConfig, logger *zap.Logger) (Transport, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	switch TransportType(cfg.Type) {
	case TransportSerial:
		logger.Debug("Creating serial transport",
			zap.String("port", cfg.Serial.Port),
			zap.Int("baud_rate", cfg.Serial.BaudRate),
		)
		return NewSerialConnection(cfg.Serial, logger), nil
	case TransportTCP:
		logger.Debug("Creating TCP transport",
			zap.String("host", cfg.TCP.Host),
			zap.Int("port", cfg.TCP.Port),
		)
		return NewTCPConnection(cfg.TCP, logger), nil
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", cfg.Type)
	}
}

// ValidateConfig validates transport configuration
func ValidateConfig(cfg *config.ConnectionConfig) error {
	if cfg == nil {
		return fmt.Errorf("connection config is required")
	}

	switch TransportType(cfg.Type) {
	case TransportSerial:
		if cfg.Serial.Port == "" {
			return fmt.Errorf("serial port is required")
		}
		if cfg.Serial.BaudRate <= 0 {
			return fmt.Errorf("invalid baud rate: %d", cfg.Serial.BaudRate)
		}
		switch cfg.Serial.DataBits {
		case 5, 6, 7, 8:
		default:
			return fmt.Errorf("invalid data bits: %d", cfg.Serial.DataBits)
		}
		switch cfg.Serial.Parity {
		case "", "none", "odd", "even":
		default:
			return fmt.Errorf("invalid parity: %s", cfg.Serial.Parity)
		}
	case TransportTCP:
		if cfg.TCP.Host == "" {
			return fmt.Errorf("TCP host is required")
		}
		if cfg.TCP.Port <= 0 || cfg.TCP.Port > 65535 {
			return fmt.Errorf("invalid TCP port: %d", cfg.TCP.Port)
		}
	default:
		return fmt.Errorf("unsupported transport type: %s", cfg.Type)
	}

	return nil
}
