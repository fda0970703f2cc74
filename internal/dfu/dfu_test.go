package dfu

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestArgs(t *testing.T) {
	d := NewDfuUtil("", zap.NewNop())

	assert.Equal(t, "dfu-util", d.Path)
	assert.Equal(t,
		[]string{"-a", "0", "-S", "3700ABCD", "-D", "os.bin", "-s", "0x08000000:leave"},
		d.Args("os.bin", "3700ABCD"))
	assert.Equal(t,
		[]string{"-a", "0", "-D", "os.bin", "-s", "0x08000000:leave"},
		d.Args("os.bin", ""))
}

func TestFlashMissingBinary(t *testing.T) {
	d := NewDfuUtil(filepath.Join(t.TempDir(), "no-such-dfu-util"), zap.NewNop())

	err := d.Flash(context.Background(), "os.bin", "")
	assert.Error(t, err)
}
