package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
)

type fakeScanner struct {
	kind      string
	available bool
	found     []*Candidate
	err       error
}

func (f *fakeScanner) Scan(ctx context.Context) ([]*Candidate, error) { return f.found, f.err }
func (f *fakeScanner) GetScannerType() string                        { return f.kind }
func (f *fakeScanner) IsAvailable() bool                             { return f.available }

func TestScanAllSkipsUnavailableAndFailing(t *testing.T) {
	sm := NewScannerManager(nil)
	sm.RegisterScanner(&fakeScanner{kind: "a", available: true, found: []*Candidate{{Path: "/dev/ttyS0"}}})
	sm.RegisterScanner(&fakeScanner{kind: "b", available: true, err: errors.New("no libusb")})
	sm.RegisterScanner(&fakeScanner{kind: "c", available: false, found: []*Candidate{{Path: "hidden"}}})

	found, err := sm.ScanAll(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "/dev/ttyS0", found[0].Path)
	assert.Equal(t, []string{"a", "b"}, sm.GetAvailableScanners())
}

func TestScanAllPutsKnownDevicesFirst(t *testing.T) {
	sm := NewScannerManager(nil)
	sm.RegisterScanner(&fakeScanner{kind: "a", available: true, found: []*Candidate{
		{Path: "one"}, {Path: "two", Known: true}, {Path: "three"},
	}})

	found, err := sm.ScanAll(context.Background())
	require.NoError(t, err)
	paths := make([]string, 0, len(found))
	for _, c := range found {
		paths = append(paths, c.Path)
	}
	assert.Equal(t, []string{"two", "one", "three"}, paths)
}

func TestFindDevicePort(t *testing.T) {
	sm := NewScannerManager(nil)
	sm.RegisterScanner(&fakeScanner{kind: "a", available: true, found: []*Candidate{
		{Path: "/dev/ttyS0"}, {Path: "/dev/ttyACM1", Known: true},
	}})

	port, err := sm.FindDevicePort(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM1", port)

	empty := NewScannerManager(nil)
	empty.RegisterScanner(&fakeScanner{kind: "a", available: true, found: []*Candidate{{Path: "/dev/ttyS0"}}})
	_, err = empty.FindDevicePort(context.Background())
	assert.ErrorIs(t, err, ErrNoDevicePort)
}

func TestScanByType(t *testing.T) {
	sm := NewScannerManager(nil)
	sm.RegisterScanner(&fakeScanner{kind: "a", available: false})

	_, err := sm.ScanByType(context.Background(), "missing")
	assert.Error(t, err)

	_, err = sm.ScanByType(context.Background(), "a")
	assert.ErrorContains(t, err, "not available")
}

func TestSerialScannerReportsUSBDetails(t *testing.T) {
	s := NewSerialScanner(nil)
	s.list = func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "/dev/ttyACM0", IsUSB: true, VID: "2e6a", PID: "0001", SerialNumber: "3254", Product: "F7 Micro"},
			{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1a86", PID: "7523"},
			{Name: "/dev/ttyS0"},
		}, nil
	}

	found, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 3)

	assert.Equal(t, &Candidate{
		Kind:         ScannerSerial,
		Path:         "/dev/ttyACM0",
		VendorID:     "0x2E6A",
		ProductID:    "0x0001",
		SerialNumber: "3254",
		Product:      "F7 Micro",
		Vendor:       "Wilderness Labs",
		Known:        true,
	}, found[0])
	assert.False(t, found[1].Known)
	assert.Equal(t, "0x1A86", found[1].VendorID)
	assert.Equal(t, &Candidate{Kind: ScannerSerial, Path: "/dev/ttyS0"}, found[2])
}

func TestSerialScannerListFailure(t *testing.T) {
	s := NewSerialScanner(nil)
	s.list = func() ([]*enumerator.PortDetails, error) { return nil, errors.New("boom") }

	_, err := s.Scan(context.Background())
	assert.ErrorContains(t, err, "boom")
}

func TestParseUSBID(t *testing.T) {
	v, err := ParseUSBID("0xDF11")
	require.NoError(t, err)
	assert.Equal(t, uint16(0xDF11), v)

	v, err = ParseUSBID("2e6a")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x2E6A), v)
	assert.Equal(t, "0x2E6A", FormatUSBID(v))

	_, err = ParseUSBID("zz")
	assert.Error(t, err)
}
