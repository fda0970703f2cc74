// internal/service/device_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hcom/internal/config"
	"hcom/internal/debugging"
	"hcom/internal/device"
	"hcom/internal/dfu"
	"hcom/internal/discovery"
	"hcom/internal/firmware"
	"hcom/internal/hcom"
	"hcom/internal/model"
	"hcom/internal/utils"
)

var (
	// ErrBusy is returned while another operation holds the device
	ErrBusy = errors.New("device busy with another operation")

	// ErrOperationNotFound is returned for an unknown operation id
	ErrOperationNotFound = errors.New("operation not found")

	// ErrNotDebugging is returned when no debugging proxy runs
	ErrNotDebugging = errors.New("no debugging session")

	// ErrDebuggingActive is returned when a debugging proxy already runs
	ErrDebuggingActive = errors.New("debugging already running")
)

const (
	eventSource = "hcom"

	outputBuffer    = 256
	reconnectPoll   = 500 * time.Millisecond
	maxOperations   = 50
	shutdownTimeout = 10 * time.Second
)

// outputTypes are the unsolicited device messages bridged to events
var outputTypes = []hcom.MessageType{
	hcom.MessageAppOutput,
	hcom.MessageAppErrOutput,
	hcom.MessageTrace,
	hcom.MessageErrOutput,
	hcom.MessageInformation,
	hcom.MessageDebuggingData,
}

// DeviceService owns the device link. It runs at most one operation at a
// time and publishes device output and progress on the event bus.
type DeviceService struct {
	conn    *device.Connection
	flasher dfu.Flasher
	config  *config.Config
	events  *EventBus
	scanner *discovery.ScannerManager
	logger  *utils.ServiceLogger

	// held for the whole of a device operation
	opMu sync.Mutex

	// serializes debugging proxy start and stop
	debugMu sync.Mutex

	mu         sync.Mutex
	current    *model.Operation
	operations map[uuid.UUID]*model.Operation
	order      []uuid.UUID
	updater    *firmware.Updater
	proxy      *debugging.Server
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewDeviceService creates a new device service instance
func NewDeviceService(
	conn *device.Connection,
	flasher dfu.Flasher,
	cfg *config.Config,
	events *EventBus,
	logger *zap.Logger,
) *DeviceService {
	return &DeviceService{
		conn:       conn,
		flasher:    flasher,
		config:     cfg,
		events:     events,
		scanner:    discovery.NewDefaultManager(logger),
		logger:     utils.NewServiceLogger(utils.OrNop(logger), "device-service"),
		operations: make(map[uuid.UUID]*model.Operation),
	}
}

// Start opens the link and begins bridging device output. A device that
// is not attached yet is not an error; the link watcher keeps retrying.
func (ds *DeviceService) Start(ctx context.Context) error {
	ds.mu.Lock()
	if ds.cancel != nil {
		ds.mu.Unlock()
		return fmt.Errorf("device service already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	ds.cancel = cancel
	ds.mu.Unlock()

	if err := ds.conn.Open(ctx); err != nil {
		ds.logger.Warn("Device not available yet", zap.Error(err))
	}

	sub := ds.conn.Subscribe(device.MatchTypes(outputTypes...), outputBuffer)

	ds.wg.Add(2)
	go func() {
		defer ds.wg.Done()
		defer sub.Cancel()
		ds.forwardOutput(runCtx, sub)
	}()
	go func() {
		defer ds.wg.Done()
		ds.watchLink(runCtx)
	}()

	return nil
}

// Stop ends any update and debugging session and closes the link
func (ds *DeviceService) Stop() error {
	ds.mu.Lock()
	cancel := ds.cancel
	updater := ds.updater
	ds.mu.Unlock()

	var errs []error
	if updater != nil {
		if err := updater.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := ds.StopDebugging(); err != nil && !errors.Is(err, ErrNotDebugging) {
		errs = append(errs, err)
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		ds.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		errs = append(errs, fmt.Errorf("device service did not stop within %s", shutdownTimeout))
	}

	if err := ds.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close device link: %w", err))
	}
	return errors.Join(errs...)
}

// Status describes the link and the running operation
func (ds *DeviceService) Status() model.ConnectionStatus {
	stats := ds.conn.Transport().Stats()
	status := model.ConnectionStatus{
		ConnectionID: ds.conn.ID().String(),
		Transport:    string(ds.conn.Transport().Type()),
		Connected:    ds.conn.IsConnected(),
		BytesRead:    stats.BytesRead,
		BytesWritten: stats.BytesWritten,
		ErrorCount:   stats.ErrorCount,
		LastActivity: stats.LastActivity,
	}

	ds.mu.Lock()
	if ds.current != nil {
		status.Operation = string(ds.current.OperationType)
	}
	ds.mu.Unlock()
	return status
}

// WaitForDevice blocks until the link is up or timeout elapses
func (ds *DeviceService) WaitForDevice(ctx context.Context, timeout time.Duration) error {
	return ds.conn.WaitForDevice(ctx, timeout)
}

// Events returns the bus device events are published on
func (ds *DeviceService) Events() *EventBus {
	return ds.events
}

// GetDeviceInfo queries the device properties
func (ds *DeviceService) GetDeviceInfo(ctx context.Context) (*model.DeviceInfo, error) {
	var info *model.DeviceInfo
	err := ds.exclusive(func() error {
		var err error
		info, err = ds.conn.GetDeviceInfo(ctx)
		return err
	})
	return info, err
}

// ListFiles lists the device file system
func (ds *DeviceService) ListFiles(ctx context.Context, includeCrcs bool) ([]model.FileInfo, error) {
	var files []model.FileInfo
	err := ds.exclusive(func() error {
		var err error
		files, err = ds.conn.ListFiles(ctx, includeCrcs)
		return err
	})
	return files, err
}

// DeleteFile removes a file from the device
func (ds *DeviceService) DeleteFile(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("file name is required")
	}
	return ds.exclusive(func() error {
		return ds.conn.DeleteFile(ctx, name)
	})
}

// SetRuntime enables or disables the on-device runtime
func (ds *DeviceService) SetRuntime(ctx context.Context, enable bool) error {
	return ds.exclusive(func() error {
		if enable {
			return ds.conn.RuntimeEnable(ctx)
		}
		return ds.conn.RuntimeDisable(ctx)
	})
}

// ResetDevice reboots the device
func (ds *DeviceService) ResetDevice(ctx context.Context) error {
	return ds.exclusive(func() error {
		return ds.conn.ResetDevice(ctx)
	})
}

// UploadFile writes data to the device file system as name and tracks
// it as an operation.
func (ds *DeviceService) UploadFile(ctx context.Context, name string, data []byte) (*model.Operation, error) {
	if name == "" {
		return nil, fmt.Errorf("file name is required")
	}

	op, err := ds.begin(model.OperationTypeFileUpload)
	if err != nil {
		return nil, err
	}

	oplog := utils.NewOperationLogger(ds.logger.Logger, string(op.OperationType), op.ID.String())
	oplog.Start(zap.String("file", name), zap.Int("size", len(data)))

	err = ds.conn.WriteFile(ctx, device.FileTransfer{
		Kind:            device.TransferFile,
		Data:            data,
		DestinationName: name,
		LastInSeries:    true,
		AwaitCompletion: true,
		Progress:        ds.progressReporter(op),
	})
	if err != nil {
		oplog.Error(err)
	} else {
		oplog.Success()
	}
	ds.end(op, err)
	return ds.snapshot(op), err
}

// StartUpdate launches a firmware update in the background. The device
// is held for the whole run.
func (ds *DeviceService) StartUpdate(ctx context.Context, req firmware.Request) (*model.Operation, error) {
	if req.OsFile == "" && req.RuntimeFile == "" && req.CoprocessorDir == "" {
		return nil, fmt.Errorf("no firmware images given")
	}

	op, err := ds.begin(model.OperationTypeFirmwareUpdate)
	if err != nil {
		return nil, err
	}

	opts := firmware.OptionsFromConfig(ds.config.Update)
	opts.OnStateChange = func(previous, current firmware.State) {
		ds.mu.Lock()
		op.State = current.String()
		ds.mu.Unlock()
		ds.publish(model.EventUpdateStateChange, map[string]any{
			"operation_id": op.ID.String(),
			"from":         previous.String(),
			"to":           current.String(),
		})
	}
	opts.OnProgress = ds.progressReporter(op)

	updater := firmware.NewUpdater(ds.conn, ds.flasher, req, opts, ds.logger.Logger)

	// the run outlives the request that started it
	if err := updater.Start(context.WithoutCancel(ctx)); err != nil {
		ds.end(op, err)
		return nil, err
	}

	ds.mu.Lock()
	ds.updater = updater
	ds.mu.Unlock()

	ds.wg.Add(1)
	go func() {
		defer ds.wg.Done()
		<-updater.Done()
		ds.end(op, updater.Err())

		ds.mu.Lock()
		if ds.updater == updater {
			ds.updater = nil
		}
		ds.mu.Unlock()
	}()

	return ds.snapshot(op), nil
}

// GetOperation returns a copy of a recent operation
func (ds *DeviceService) GetOperation(id uuid.UUID) (*model.Operation, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	op, ok := ds.operations[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	cp := *op
	return &cp, nil
}

// StartDebugging opens the debugging proxy and asks the runtime to start
// a debug session. port 0 uses the configured port. It returns the
// address debuggers connect to.
func (ds *DeviceService) StartDebugging(ctx context.Context, port int) (string, error) {
	addr := ds.config.GetDebuggingAddr()
	if port == 0 {
		port = ds.config.Debugging.Port
	} else {
		addr = net.JoinHostPort(ds.config.Debugging.Host, strconv.Itoa(port))
	}

	ds.debugMu.Lock()
	defer ds.debugMu.Unlock()

	ds.mu.Lock()
	if ds.proxy != nil {
		addr := ds.proxy.Addr()
		ds.mu.Unlock()
		return addr, fmt.Errorf("%w on %s", ErrDebuggingActive, addr)
	}
	ds.mu.Unlock()

	proxy := debugging.NewServer(addr, ds.conn, ds.logger.Logger)
	proxy.OnClientChange(func(sessionID, remoteAddr string, attached bool) {
		eventType := model.EventDebuggerDetached
		if attached {
			eventType = model.EventDebuggerAttached
		}
		ds.publish(eventType, map[string]any{
			"session_id":  sessionID,
			"remote_addr": remoteAddr,
		})
	})

	// the listener lives until StopDebugging
	if err := proxy.Start(context.WithoutCancel(ctx)); err != nil {
		return "", err
	}

	// debugger bytes may arrive before the device accepts the session
	ds.mu.Lock()
	ds.proxy = proxy
	ds.mu.Unlock()

	err := ds.exclusive(func() error {
		return ds.conn.StartDebugging(ctx, port)
	})
	if err != nil {
		ds.mu.Lock()
		ds.proxy = nil
		ds.mu.Unlock()
		if cerr := proxy.Close(); cerr != nil {
			ds.logger.Warn("Closing debugging proxy failed", zap.Error(cerr))
		}
		return "", err
	}

	ds.logger.Info("Debugging session started", zap.String("address", proxy.Addr()))
	return proxy.Addr(), nil
}

// StopDebugging closes the debugging proxy
func (ds *DeviceService) StopDebugging() error {
	ds.debugMu.Lock()
	defer ds.debugMu.Unlock()

	ds.mu.Lock()
	proxy := ds.proxy
	ds.proxy = nil
	ds.mu.Unlock()

	if proxy == nil {
		return ErrNotDebugging
	}
	return proxy.Close()
}

// ScanPorts lists the ports present on the host. An empty kind runs
// every scanner.
func (ds *DeviceService) ScanPorts(ctx context.Context, kind string) ([]*discovery.Candidate, error) {
	if kind == "" {
		return ds.scanner.ScanAll(ctx)
	}
	return ds.scanner.ScanByType(ctx, kind)
}

// exclusive runs fn as a short operation, failing fast when the device
// is busy.
func (ds *DeviceService) exclusive(fn func() error) error {
	if !ds.opMu.TryLock() {
		return ErrBusy
	}
	defer ds.opMu.Unlock()
	return fn()
}

// begin claims the device for a tracked operation; end releases it
func (ds *DeviceService) begin(opType model.OperationType) (*model.Operation, error) {
	if !ds.opMu.TryLock() {
		return nil, ErrBusy
	}

	op := model.NewOperation(opType)
	op.Status = model.OperationStatusProcessing

	ds.mu.Lock()
	ds.current = op
	ds.operations[op.ID] = op
	ds.order = append(ds.order, op.ID)
	if len(ds.order) > maxOperations {
		delete(ds.operations, ds.order[0])
		ds.order = ds.order[1:]
	}
	ds.mu.Unlock()

	ds.publish(model.EventOperationStarted, map[string]any{
		"operation_id":   op.ID.String(),
		"operation_type": string(opType),
	})
	return op, nil
}

func (ds *DeviceService) end(op *model.Operation, err error) {
	ds.mu.Lock()
	op.Finish(err)
	if errors.Is(err, context.Canceled) {
		op.Status = model.OperationStatusCancelled
	}
	if ds.current == op {
		ds.current = nil
	}
	ds.mu.Unlock()
	ds.opMu.Unlock()

	data := map[string]any{
		"operation_id":   op.ID.String(),
		"operation_type": string(op.OperationType),
	}
	if err != nil {
		data["error"] = err.Error()
		ds.publishSeverity(model.EventOperationFailed, "ERROR", data)
		return
	}
	ds.publish(model.EventOperationCompleted, data)
}

func (ds *DeviceService) snapshot(op *model.Operation) *model.Operation {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	cp := *op
	return &cp
}

func (ds *DeviceService) progressReporter(op *model.Operation) func(device.TransferProgress) {
	return func(p device.TransferProgress) {
		ds.mu.Lock()
		op.Progress = p.Percent
		ds.mu.Unlock()

		ds.publish(model.EventOperationProgress, map[string]any{
			"operation_id": op.ID.String(),
			"file":         p.FileName,
			"bytes_sent":   p.BytesSent,
			"total_bytes":  p.TotalBytes,
			"percent":      p.Percent,
		})
	}
}

// forwardOutput turns unsolicited device messages into events and feeds
// debugger bytes to the proxy.
func (ds *DeviceService) forwardOutput(ctx context.Context, sub *device.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.C():
			if msg.Type == hcom.MessageDebuggingData {
				ds.mu.Lock()
				proxy := ds.proxy
				ds.mu.Unlock()
				if proxy != nil {
					proxy.Enqueue(msg.Data)
				}
				continue
			}

			stream, severity := outputStream(msg.Type)
			ds.publishSeverity(model.EventDeviceOutput, severity, map[string]any{
				"stream": string(stream),
				"text":   msg.Text,
			})
		}
	}
}

func outputStream(t hcom.MessageType) (model.OutputStream, string) {
	switch t {
	case hcom.MessageAppErrOutput:
		return model.StreamAppStderr, "WARNING"
	case hcom.MessageTrace:
		return model.StreamTrace, "INFO"
	case hcom.MessageErrOutput:
		return model.StreamError, "ERROR"
	case hcom.MessageInformation:
		return model.StreamInfo, "INFO"
	default:
		return model.StreamAppStdout, "INFO"
	}
}

// watchLink publishes link changes and reopens the link while no
// operation is managing it.
func (ds *DeviceService) watchLink(ctx context.Context) {
	ticker := time.NewTicker(reconnectPoll)
	defer ticker.Stop()

	connected := false
	for {
		if ds.conn.IsConnected() {
			if !connected {
				connected = true
				ds.publish(model.EventDeviceConnected, nil)
			}
			select {
			case <-ctx.Done():
				return
			case <-ds.conn.Disconnected():
				connected = false
				ds.publishSeverity(model.EventDeviceDisconnected, "WARNING", nil)
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// an update run reconnects on its own schedule
		if !ds.opMu.TryLock() {
			continue
		}
		if err := ds.conn.Open(ctx); err != nil {
			ds.logger.Debug("Device still unavailable", zap.Error(err))
		}
		ds.opMu.Unlock()
	}
}

func (ds *DeviceService) publish(eventType model.EventType, data map[string]any) {
	ds.publishSeverity(eventType, "INFO", data)
}

func (ds *DeviceService) publishSeverity(eventType model.EventType, severity string, data map[string]any) {
	if ds.events == nil {
		return
	}
	event := model.NewDeviceEvent(eventType, ds.conn.ID(), eventSource, data)
	event.Severity = severity
	ds.events.Publish(event)
}
