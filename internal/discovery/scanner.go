// internal/discovery/scanner.go
package discovery

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"hcom/internal/utils"
)

// ScannerSerial is the serial port scanner type
const ScannerSerial = "serial"

// ErrNoDevicePort is returned when no port belongs to a known vendor
var ErrNoDevicePort = errors.New("no device port found")

// PortScanner finds places a device may be reached
type PortScanner interface {
	Scan(ctx context.Context) ([]*Candidate, error)
	GetScannerType() string
	IsAvailable() bool
}

// Candidate is one port found on the host
type Candidate struct {
	Kind         string `json:"kind"`
	Path         string `json:"path,omitempty"`
	VendorID     string `json:"vendor_id,omitempty"`
	ProductID    string `json:"product_id,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
	Vendor       string `json:"vendor,omitempty"`
	Known        bool   `json:"known"`
}

// ScannerManager runs registered scanners
type ScannerManager struct {
	scanners map[string]PortScanner
	logger   *zap.Logger
}

// NewScannerManager creates a new scanner manager
func NewScannerManager(logger *zap.Logger) *ScannerManager {
	return &ScannerManager{
		scanners: make(map[string]PortScanner),
		logger:   utils.OrNop(logger),
	}
}

// NewDefaultManager returns a manager with the serial scanner
func NewDefaultManager(logger *zap.Logger) *ScannerManager {
	sm := NewScannerManager(logger)
	sm.RegisterScanner(NewSerialScanner(logger))
	return sm
}

// RegisterScanner registers a scanner, replacing one of the same type
func (sm *ScannerManager) RegisterScanner(scanner PortScanner) {
	scannerType := scanner.GetScannerType()
	sm.scanners[scannerType] = scanner
	sm.logger.Debug("Scanner registered", zap.String("type", scannerType))
}

// ScanAll runs every available scanner. A failing scanner is logged and
// skipped; known devices sort first.
func (sm *ScannerManager) ScanAll(ctx context.Context) ([]*Candidate, error) {
	var all []*Candidate

	for _, scannerType := range sm.types() {
		scanner := sm.scanners[scannerType]
		if !scanner.IsAvailable() {
			sm.logger.Debug("Scanner not available, skipping", zap.String("type", scannerType))
			continue
		}

		found, err := scanner.Scan(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return all, ctx.Err()
			}
			sm.logger.Warn("Scanner failed", zap.String("type", scannerType), zap.Error(err))
			continue
		}

		all = append(all, found...)
		sm.logger.Debug("Scanner completed",
			zap.String("type", scannerType),
			zap.Int("found", len(found)),
		)
	}

	slices.SortStableFunc(all, func(a, b *Candidate) int {
		switch {
		case a.Known == b.Known:
			return 0
		case a.Known:
			return -1
		default:
			return 1
		}
	})
	return all, nil
}

// FindDevicePort returns the path of the first port behind a known
// device vendor.
func (sm *ScannerManager) FindDevicePort(ctx context.Context) (string, error) {
	found, err := sm.ScanAll(ctx)
	if err != nil {
		return "", err
	}
	for _, c := range found {
		if c.Known {
			return c.Path, nil
		}
	}
	return "", ErrNoDevicePort
}

// ScanByType runs one scanner
func (sm *ScannerManager) ScanByType(ctx context.Context, scannerType string) ([]*Candidate, error) {
	scanner, exists := sm.scanners[scannerType]
	if !exists {
		return nil, fmt.Errorf("scanner type not found: %s", scannerType)
	}

	if !scanner.IsAvailable() {
		return nil, fmt.Errorf("scanner not available: %s", scannerType)
	}

	return scanner.Scan(ctx)
}

// GetAvailableScanners returns the available scanner types
func (sm *ScannerManager) GetAvailableScanners() []string {
	var available []string
	for _, scannerType := range sm.types() {
		if sm.scanners[scannerType].IsAvailable() {
			available = append(available, scannerType)
		}
	}
	return available
}

func (sm *ScannerManager) types() []string {
	types := make([]string, 0, len(sm.scanners))
	for t := range sm.scanners {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
