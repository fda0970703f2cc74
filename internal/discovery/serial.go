// internal/discovery/serial.go
package discovery

import (
	"context"
	"fmt"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"hcom/internal/utils"
)

// SerialScanner lists serial ports with their USB details
type SerialScanner struct {
	logger *zap.Logger
	list   func() ([]*enumerator.PortDetails, error)
}

// NewSerialScanner creates a serial port scanner
func NewSerialScanner(logger *zap.Logger) *SerialScanner {
	return &SerialScanner{
		logger: utils.OrNop(logger).With(zap.String("scanner", ScannerSerial)),
		list:   enumerator.GetDetailedPortsList,
	}
}

// GetScannerType returns the scanner type
func (s *SerialScanner) GetScannerType() string {
	return ScannerSerial
}

// IsAvailable reports true; every supported platform enumerates ports
func (s *SerialScanner) IsAvailable() bool {
	return true
}

// Scan lists the host's serial ports
func (s *SerialScanner) Scan(ctx context.Context) ([]*Candidate, error) {
	ports, err := s.list()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	candidates := make([]*Candidate, 0, len(ports))
	for _, port := range ports {
		if err := ctx.Err(); err != nil {
			return candidates, err
		}
		candidates = append(candidates, s.candidate(port))
	}

	s.logger.Debug("Serial scan completed", zap.Int("ports", len(candidates)))
	return candidates, nil
}

func (s *SerialScanner) candidate(port *enumerator.PortDetails) *Candidate {
	c := &Candidate{Kind: ScannerSerial, Path: port.Name}
	if !port.IsUSB {
		return c
	}

	c.SerialNumber = port.SerialNumber
	c.Product = port.Product

	vid, err := ParseUSBID(port.VID)
	if err != nil {
		s.logger.Debug("Unparseable vendor ID", zap.String("port", port.Name), zap.Error(err))
		return c
	}
	c.VendorID = FormatUSBID(vid)
	if pid, err := ParseUSBID(port.PID); err == nil {
		c.ProductID = FormatUSBID(pid)
	}
	c.Vendor, c.Known = VendorName(vid)
	return c
}
