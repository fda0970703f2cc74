// Package dfu flashes the primary OS image through an external DFU tool.
// USB enumeration and control transfers are left to that tool.
package dfu

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"go.uber.org/zap"

	"hcom/internal/utils"
)

// DefaultFlashAddress is the internal flash base of the primary MCU
const DefaultFlashAddress uint32 = 0x08000000

// Flasher writes an OS image to a device sitting in its bootloader
type Flasher interface {
	Flash(ctx context.Context, filePath, serialNumber string) error
}

// DfuUtil runs the dfu-util binary
type DfuUtil struct {
	Path    string
	Address uint32
	logger  *zap.Logger
}

// NewDfuUtil creates a flasher for the dfu-util at path
func NewDfuUtil(path string, logger *zap.Logger) *DfuUtil {
	if path == "" {
		path = "dfu-util"
	}
	return &DfuUtil{
		Path:    path,
		Address: DefaultFlashAddress,
		logger:  utils.OrNop(logger).With(zap.String("component", "dfu")),
	}
}

// Args builds the dfu-util command line. An empty serial number flashes
// the first DFU device found.
func (d *DfuUtil) Args(filePath, serialNumber string) []string {
	args := []string{"-a", "0"}
	if serialNumber != "" {
		args = append(args, "-S", serialNumber)
	}
	return append(args,
		"-D", filePath,
		"-s", fmt.Sprintf("0x%08x:leave", d.Address),
	)
}

// Flash runs dfu-util to completion
func (d *DfuUtil) Flash(ctx context.Context, filePath, serialNumber string) error {
	args := d.Args(filePath, serialNumber)
	d.logger.Info("Flashing OS image",
		zap.String("file", filePath),
		zap.String("serial_number", serialNumber),
	)

	cmd := exec.CommandContext(ctx, d.Path, args...)
	out, err := cmd.CombinedOutput()

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		d.logger.Debug(scanner.Text())
	}

	if err != nil {
		return fmt.Errorf("dfu-util failed: %w", err)
	}
	return nil
}
