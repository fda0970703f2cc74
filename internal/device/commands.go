// internal/device/commands.go
package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hcom/internal/hcom"
	"hcom/internal/model"
)

// TraceLevel is the verbosity of device-side tracing
type TraceLevel uint32

const (
	TraceOff TraceLevel = iota
	TraceError
	TraceWarning
	TraceInfo
	TraceVerbose
)

// GetDeviceInfo asks the device to describe itself
func (c *Connection) GetDeviceInfo(ctx context.Context) (*model.DeviceInfo, error) {
	msg, err := c.SendCommand(ctx, Command{
		RequestType: hcom.RequestGetDeviceInformation,
		Match:       MatchTypes(hcom.MessageDeviceInfo),
	})
	if err != nil {
		return nil, fmt.Errorf("get device info: %w", err)
	}
	info := ParseDeviceInfo(msg.Text)
	return &info, nil
}

// GetDeviceName returns the user-assigned device name
func (c *Connection) GetDeviceName(ctx context.Context) (string, error) {
	msg, err := c.SendCommand(ctx, Command{
		RequestType: hcom.RequestGetDeviceName,
		Match:       MatchTypes(hcom.MessageDeviceName),
	})
	if err != nil {
		return "", fmt.Errorf("get device name: %w", err)
	}
	return strings.TrimSpace(msg.Text), nil
}

// ListFiles lists the device file system, with CRCs when asked
func (c *Connection) ListFiles(ctx context.Context, includeCrcs bool) ([]model.FileInfo, error) {
	request := hcom.RequestListFiles
	member := hcom.MessageFileListMember
	if includeCrcs {
		request = hcom.RequestListFilesAndCrc
		member = hcom.MessageFileListCrcMember
	}

	msgs, err := c.Collect(ctx, Command{
		RequestType: request,
		Match:       MatchTypes(member),
	}, MatchTypes(hcom.MessageConcluded))
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	files := make([]model.FileInfo, 0, len(msgs))
	for _, msg := range msgs {
		files = append(files, ParseFileEntry(msg.Text))
	}
	return files, nil
}

// DeleteFile removes a file from the device file system
func (c *Connection) DeleteFile(ctx context.Context, name string) error {
	_, err := c.SendCommand(ctx, Command{
		RequestType: hcom.RequestDeleteFile,
		Payload:     hcom.FileStartPayload{FileName: name}.Marshal(),
		Match:       MatchTypes(hcom.MessageConcluded),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

// GetInitialFileBytes returns the first bytes of a device file, used to
// compare a local file against the copy on the device.
func (c *Connection) GetInitialFileBytes(ctx context.Context, name string) ([]byte, error) {
	msg, err := c.SendCommand(ctx, Command{
		RequestType: hcom.RequestGetInitialFileBytes,
		Payload:     hcom.FileStartPayload{FileName: name}.Marshal(),
		Match:       MatchTypes(hcom.MessageInitialFileBytes),
	})
	if err != nil {
		return nil, fmt.Errorf("initial bytes of %s: %w", name, err)
	}
	return msg.Data, nil
}

// FormatFileSystem erases the device file system
func (c *Connection) FormatFileSystem(ctx context.Context) error {
	_, err := c.SendCommand(ctx, Command{
		RequestType: hcom.RequestFormatFileSystem,
		Timeout:     c.opts.FileEndTimeout,
		Match:       MatchTypes(hcom.MessageConcluded),
	})
	if err != nil {
		return fmt.Errorf("format file system: %w", err)
	}
	return nil
}

// ResetDevice restarts the primary MCU. The device drops off the link
// without answering.
func (c *Connection) ResetDevice(ctx context.Context) error {
	return c.SendSimpleCommand(ctx, hcom.RequestResetPrimaryMcu, 0, false)
}

// EnterDfuMode reboots the device into its bootloader
func (c *Connection) EnterDfuMode(ctx context.Context) error {
	return c.SendSimpleCommand(ctx, hcom.RequestEnterDfuMode, 0, false)
}

// RuntimeEnable enables the runtime; the device reboots afterwards
func (c *Connection) RuntimeEnable(ctx context.Context) error {
	return c.SendSimpleCommand(ctx, hcom.RequestRuntimeEnable, 0, true)
}

// RuntimeDisable disables the runtime; the device reboots afterwards
func (c *Connection) RuntimeDisable(ctx context.Context) error {
	return c.SendSimpleCommand(ctx, hcom.RequestRuntimeDisable, 0, true)
}

// IsRuntimeEnabled queries the runtime state
func (c *Connection) IsRuntimeEnabled(ctx context.Context) (bool, error) {
	msg, err := c.SendCommand(ctx, Command{
		RequestType: hcom.RequestRuntimeState,
		Match:       MatchTypes(hcom.MessageRuntimeState),
	})
	if err != nil {
		return false, fmt.Errorf("runtime state: %w", err)
	}

	state := strings.ToLower(msg.Text)
	switch {
	case strings.Contains(state, "disabled"):
		return false, nil
	case strings.Contains(state, "enabled"):
		return true, nil
	default:
		return false, fmt.Errorf("%w: unrecognised runtime state %q", hcom.ErrProtocol, msg.Text)
	}
}

// SetTraceLevel changes device trace verbosity
func (c *Connection) SetTraceLevel(ctx context.Context, level TraceLevel) error {
	return c.SendSimpleCommand(ctx, hcom.RequestChangeTraceLevel, uint32(level), true)
}

// TraceToHost turns trace forwarding over the link on or off
func (c *Connection) TraceToHost(ctx context.Context, enable bool) error {
	request := hcom.RequestNoTraceToHost
	if enable {
		request = hcom.RequestSendTraceToHost
	}
	return c.SendSimpleCommand(ctx, request, 0, true)
}

// UartTrace turns trace output on the device UART on or off
func (c *Connection) UartTrace(ctx context.Context, enable bool) error {
	request := hcom.RequestNoTraceToUart
	if enable {
		request = hcom.RequestSendTraceToUart
	}
	return c.SendSimpleCommand(ctx, request, 0, true)
}

// GetRtcTime reads the device real-time clock
func (c *Connection) GetRtcTime(ctx context.Context) (time.Time, error) {
	msg, err := c.SendCommand(ctx, Command{
		RequestType: hcom.RequestRtcReadTime,
		Match:       MatchTypes(hcom.MessageInformation),
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("read rtc: %w", err)
	}

	// optionally labelled, e.g. "UTC time: 2024-05-01T10:00:00Z"
	text := msg.Text
	if _, stamp, ok := strings.Cut(text, ": "); ok {
		text = stamp
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(text))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad rtc time %q", hcom.ErrProtocol, msg.Text)
	}
	return t, nil
}

// SetRtcTime sets the device real-time clock
func (c *Connection) SetRtcTime(ctx context.Context, t time.Time) error {
	_, err := c.SendCommand(ctx, Command{
		RequestType: hcom.RequestRtcSetTime,
		Payload:     []byte(t.UTC().Format(time.RFC3339)),
		Match:       MatchTypes(hcom.MessageAccepted),
	})
	if err != nil {
		return fmt.Errorf("set rtc: %w", err)
	}
	return nil
}

// StartDebugging asks the runtime to open a debug session relayed over
// this link. port is the debugger port the runtime should advertise.
func (c *Connection) StartDebugging(ctx context.Context, port int) error {
	return c.SendSimpleCommand(ctx, hcom.RequestStartDebugSession, uint32(port), true)
}

// SendDebuggerData forwards raw debugger bytes to the device, split to
// fit the packet size.
func (c *Connection) SendDebuggerData(ctx context.Context, data []byte) error {
	chunk := c.opts.MaxPacketSize - hcom.HeaderLength
	for len(data) > 0 {
		n := min(chunk, len(data))
		if err := c.sendPacket(ctx, hcom.NewHeader(hcom.RequestDebuggerData, 0, 0), data[:n]); err != nil {
			return fmt.Errorf("send debugger data: %w", err)
		}
		data = data[n:]
	}
	return nil
}

// EraseCoprocessorFlash bulk-erases the coprocessor flash
func (c *Connection) EraseCoprocessorFlash(ctx context.Context) error {
	_, err := c.SendCommand(ctx, Command{
		RequestType: hcom.RequestEraseCoprocessorFlash,
		Timeout:     c.opts.FileEndTimeout,
		Match:       MatchTypes(hcom.MessageConcluded),
	})
	if err != nil {
		return fmt.Errorf("erase coprocessor flash: %w", err)
	}
	return nil
}

// RestartCoprocessor restarts the coprocessor
func (c *Connection) RestartCoprocessor(ctx context.Context) error {
	return c.SendSimpleCommand(ctx, hcom.RequestRestartCoprocessor, 0, true)
}

// GetCoprocessorMac reads the coprocessor MAC address
func (c *Connection) GetCoprocessorMac(ctx context.Context) (string, error) {
	msg, err := c.SendCommand(ctx, Command{
		RequestType: hcom.RequestReadCoprocessorMac,
		Match:       MatchTypes(hcom.MessageInformation),
	})
	if err != nil {
		return "", fmt.Errorf("read coprocessor mac: %w", err)
	}
	return strings.TrimSpace(msg.Text), nil
}
