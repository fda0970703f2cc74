// internal/firmware/updater.go
package firmware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hcom/internal/config"
	"hcom/internal/device"
	"hcom/internal/dfu"
	"hcom/internal/hcom"
	"hcom/internal/model"
	"hcom/internal/utils"
)

// stopTimeout bounds how long Stop waits for the run to unwind
const stopTimeout = 10 * time.Second

// Device is what an update run needs from the device link.
// *device.Connection implements it.
type Device interface {
	GetDeviceInfo(ctx context.Context) (*model.DeviceInfo, error)
	EnterDfuMode(ctx context.Context) error
	RuntimeDisable(ctx context.Context) error
	RuntimeEnable(ctx context.Context) error
	WriteRuntime(ctx context.Context, path string, progress func(device.TransferProgress)) error
	WriteCoprocessorFiles(ctx context.Context, dir string, images []device.CoprocessorImage, progress func(device.TransferProgress)) error
	WaitForDevice(ctx context.Context, timeout time.Duration) error
	Disconnected() <-chan struct{}
}

// Request names the target version and the images to write. A target
// whose image is not given is left alone.
type Request struct {
	Version           string
	OsFile            string
	RuntimeFile       string
	CoprocessorDir    string
	CoprocessorImages []device.CoprocessorImage
	SerialNumber      string
}

// Options tunes pacing and retries
type Options struct {
	TickDelay        time.Duration
	DfuRetries       int
	DfuRetryDelay    time.Duration
	ReconnectTimeout time.Duration
	SettleDelay      time.Duration

	// DropTimeout bounds the wait for a rebooting device to leave the link
	DropTimeout time.Duration

	OnStateChange func(previous, current State)
	OnProgress    func(device.TransferProgress)
}

// DefaultOptions returns the hardware-driven defaults
func DefaultOptions() Options {
	return Options{
		TickDelay:        time.Second,
		DfuRetries:       5,
		DfuRetryDelay:    time.Second,
		ReconnectTimeout: 30 * time.Second,
		SettleDelay:      3 * time.Second,
		DropTimeout:      5 * time.Second,
	}
}

// OptionsFromConfig maps the update config section
func OptionsFromConfig(cfg config.UpdateConfig) Options {
	opts := DefaultOptions()
	if cfg.TickDelay > 0 {
		opts.TickDelay = cfg.TickDelay
	}
	if cfg.DfuRetries > 0 {
		opts.DfuRetries = cfg.DfuRetries
	}
	if cfg.DfuRetryDelay > 0 {
		opts.DfuRetryDelay = cfg.DfuRetryDelay
	}
	if cfg.ReconnectTimeout > 0 {
		opts.ReconnectTimeout = cfg.ReconnectTimeout
	}
	if cfg.SettleDelay > 0 {
		opts.SettleDelay = cfg.SettleDelay
	}
	if cfg.DropTimeout > 0 {
		opts.DropTimeout = cfg.DropTimeout
	}
	return opts
}

// Updater sequences OS, runtime and coprocessor updates across device
// reboots. Each tick performs one device operation, then advances.
type Updater struct {
	id      uuid.UUID
	dev     Device
	flasher dfu.Flasher
	req     Request
	opts    Options
	oplog   *utils.OperationLogger
	logger  *zap.Logger

	mu       sync.Mutex
	state    State
	previous State
	err      error
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}

	// owned by the run goroutine
	info            *model.DeviceInfo
	runtimeDisabled bool
}

// NewUpdater prepares an update run; nothing happens until Start
func NewUpdater(dev Device, flasher dfu.Flasher, req Request, opts Options, logger *zap.Logger) *Updater {
	id := uuid.New()
	oplog := utils.NewOperationLogger(utils.OrNop(logger), string(model.OperationTypeFirmwareUpdate), id.String())
	return &Updater{
		id:      id,
		dev:     dev,
		flasher: flasher,
		req:     req,
		opts:    opts,
		oplog:   oplog,
		logger:  oplog.Logger(),
		done:    make(chan struct{}),
	}
}

// ID identifies the run
func (u *Updater) ID() uuid.UUID {
	return u.id
}

// Start launches the run on its own goroutine
func (u *Updater) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.started {
		return fmt.Errorf("update %s already started", u.id)
	}
	u.started = true

	runCtx, cancel := context.WithCancel(ctx)
	u.cancel = cancel

	u.oplog.Start(zap.String("version", u.req.Version))
	go u.run(runCtx)
	return nil
}

// Wait blocks until the run ends or ctx is done, returning the run error
func (u *Updater) Wait(ctx context.Context) error {
	select {
	case <-u.done:
		return u.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the run and waits for it to unwind
func (u *Updater) Stop() error {
	u.mu.Lock()
	cancel := u.cancel
	u.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-u.done:
		return nil
	case <-time.After(stopTimeout):
		return fmt.Errorf("update %s did not stop within %s", u.id, stopTimeout)
	}
}

// Done is closed when the run has ended
func (u *Updater) Done() <-chan struct{} {
	return u.done
}

// CurrentState returns the phase in progress
func (u *Updater) CurrentState() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// PreviousState returns the phase before the current one
func (u *Updater) PreviousState() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.previous
}

// Err returns the failure of a run that ended in Error
func (u *Updater) Err() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

func (u *Updater) run(ctx context.Context) {
	defer close(u.done)

	for {
		current := u.CurrentState()
		next, err := u.step(ctx, current)
		if err != nil {
			u.fail(current, err)
			return
		}

		u.transition(next)
		if next.IsTerminal() {
			u.oplog.Success(zap.String("version", u.req.Version))
			return
		}

		if err := sleep(ctx, u.opts.TickDelay); err != nil {
			u.fail(next, err)
			return
		}
	}
}

func (u *Updater) step(ctx context.Context, state State) (State, error) {
	switch state {
	case NotStarted:
		if err := u.refreshInfo(ctx); err != nil {
			return Error, err
		}
		if u.skip("os", u.req.OsFile, u.info.OsVersion) {
			return DFUCompleted, nil
		}
		return EnteringDFUMode, nil

	case EnteringDFUMode:
		if err := u.enterDfuMode(ctx); err != nil {
			return Error, err
		}
		return InDFUMode, nil

	case InDFUMode:
		if err := sleep(ctx, u.opts.SettleDelay); err != nil {
			return Error, err
		}
		serial := u.req.SerialNumber
		if serial == "" && u.info != nil {
			serial = u.info.SerialNumber
		}
		if err := u.flasher.Flash(ctx, u.req.OsFile, serial); err != nil {
			return Error, err
		}
		if err := u.waitForReboot(ctx); err != nil {
			return Error, err
		}
		return DFUCompleted, nil

	case DFUCompleted:
		if err := u.refreshInfo(ctx); err != nil {
			return Error, err
		}
		return DisablingRuntimeForRuntime, nil

	case DisablingRuntimeForRuntime:
		if u.skip("runtime", u.req.RuntimeFile, u.info.RuntimeVersion) {
			return UpdatingRuntime, nil
		}
		if err := u.disableRuntime(ctx); err != nil {
			return Error, err
		}
		return UpdatingRuntime, nil

	case UpdatingRuntime:
		if !u.skip("runtime", u.req.RuntimeFile, u.info.RuntimeVersion) {
			err := u.withReconnect(ctx, func() error {
				return u.dev.WriteRuntime(ctx, u.req.RuntimeFile, u.progress)
			})
			if err != nil {
				return Error, err
			}
			if err := u.waitForReboot(ctx); err != nil {
				return Error, err
			}
		}
		return DisablingRuntimeForCoprocessor, nil

	case DisablingRuntimeForCoprocessor:
		if u.skip("coprocessor", u.req.CoprocessorDir, u.info.CoprocessorVersion) || u.runtimeDisabled {
			return UpdatingCoprocessor, nil
		}
		if err := u.disableRuntime(ctx); err != nil {
			return Error, err
		}
		return UpdatingCoprocessor, nil

	case UpdatingCoprocessor:
		if !u.skip("coprocessor", u.req.CoprocessorDir, u.info.CoprocessorVersion) {
			err := u.withReconnect(ctx, func() error {
				return u.dev.WriteCoprocessorFiles(ctx, u.req.CoprocessorDir, u.req.CoprocessorImages, u.progress)
			})
			if err != nil {
				return Error, err
			}
		}
		return AllWritesComplete, nil

	case AllWritesComplete:
		if u.runtimeDisabled {
			if err := u.sendExpectingDrop(ctx, u.dev.RuntimeEnable); err != nil {
				return Error, err
			}
			u.runtimeDisabled = false
			if err := u.waitForReboot(ctx); err != nil {
				return Error, err
			}
		}
		return VerifySuccess, nil

	case VerifySuccess:
		if err := u.refreshInfo(ctx); err != nil {
			return Error, err
		}
		u.verify()
		return UpdateSuccess, nil
	}

	return Error, fmt.Errorf("no transition from %s", state)
}

// skip reports whether a target needs no write, either because no image
// was given or because the device already runs the requested version.
// It is evaluated again at each state of the target so both the disable
// and the write are skipped.
func (u *Updater) skip(target, image, reported string) bool {
	if image == "" {
		return true
	}
	if u.req.Version != "" && reported == u.req.Version {
		u.logger.Info("Target already at requested version, skipping",
			zap.String("target", target),
			zap.String("version", reported),
		)
		return true
	}
	return false
}

func (u *Updater) enterDfuMode(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= u.opts.DfuRetries; attempt++ {
		err := u.dev.EnterDfuMode(ctx)
		// the device drops off the link as it jumps to the bootloader,
		// which only counts once the request was written
		if err == nil || droppedAfterSend(err) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		u.logger.Warn("Entering DFU mode failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", u.opts.DfuRetries),
			zap.Error(err),
		)
		if attempt == u.opts.DfuRetries {
			break
		}
		if errors.Is(err, hcom.ErrNotConnected) {
			if werr := u.dev.WaitForDevice(ctx, u.opts.DfuRetryDelay); werr != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		if err := sleep(ctx, u.opts.DfuRetryDelay); err != nil {
			return err
		}
	}
	return fmt.Errorf("entering DFU mode failed after %d attempts: %w", u.opts.DfuRetries, lastErr)
}

func (u *Updater) disableRuntime(ctx context.Context) error {
	if err := u.sendExpectingDrop(ctx, u.dev.RuntimeDisable); err != nil {
		return err
	}
	u.runtimeDisabled = true
	return u.waitForReboot(ctx)
}

// sendExpectingDrop issues a request the device may answer by rebooting.
// A drop after the write is success; a request that never went out is
// sent again once the link is back.
func (u *Updater) sendExpectingDrop(ctx context.Context, request func(context.Context) error) error {
	err := request(ctx)
	if errors.Is(err, hcom.ErrNotConnected) {
		u.logger.Info("Link down before request, waiting for device", zap.Error(err))
		if err := u.dev.WaitForDevice(ctx, u.opts.ReconnectTimeout); err != nil {
			return err
		}
		err = request(ctx)
	}
	if err == nil || droppedAfterSend(err) {
		return nil
	}
	return err
}

// waitForReboot waits for the device to leave the link, for it to come
// back, then lets it settle. A device that stays on the link past
// DropTimeout is taken as not rebooting.
func (u *Updater) waitForReboot(ctx context.Context) error {
	if err := u.waitForDrop(ctx); err != nil {
		return err
	}
	if err := u.dev.WaitForDevice(ctx, u.opts.ReconnectTimeout); err != nil {
		return err
	}
	return sleep(ctx, u.opts.SettleDelay)
}

func (u *Updater) waitForDrop(ctx context.Context) error {
	timer := time.NewTimer(u.opts.DropTimeout)
	defer timer.Stop()

	select {
	case <-u.dev.Disconnected():
	case <-timer.C:
		u.logger.Debug("Device stayed on the link", zap.Duration("waited", u.opts.DropTimeout))
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// withReconnect retries op once when the link dropped under it
func (u *Updater) withReconnect(ctx context.Context, op func() error) error {
	err := op()
	if !errors.Is(err, hcom.ErrDeviceDisconnected) {
		return err
	}
	u.logger.Info("Device dropped mid-operation, waiting for it", zap.Error(err))
	if err := u.waitForReboot(ctx); err != nil {
		return err
	}
	return op()
}

func (u *Updater) refreshInfo(ctx context.Context) error {
	return u.withReconnect(ctx, func() error {
		info, err := u.dev.GetDeviceInfo(ctx)
		if err != nil {
			return err
		}
		u.info = info
		return nil
	})
}

// verify logs version drift. Mismatches never fail the run.
func (u *Updater) verify() {
	checks := []struct {
		target, image, reported string
	}{
		{"os", u.req.OsFile, u.info.OsVersion},
		{"runtime", u.req.RuntimeFile, u.info.RuntimeVersion},
		{"coprocessor", u.req.CoprocessorDir, u.info.CoprocessorVersion},
	}
	for _, c := range checks {
		if c.image == "" || u.req.Version == "" || c.reported == u.req.Version {
			continue
		}
		u.logger.Warn("Version mismatch after update",
			zap.String("target", c.target),
			zap.String("requested", u.req.Version),
			zap.String("reported", c.reported),
		)
	}
}

func (u *Updater) progress(p device.TransferProgress) {
	u.oplog.Progress("Writing "+p.FileName, p.Percent)
	if u.opts.OnProgress != nil {
		u.opts.OnProgress(p)
	}
}

func (u *Updater) transition(next State) {
	u.mu.Lock()
	previous := u.state
	u.previous = previous
	u.state = next
	u.mu.Unlock()

	u.logger.Info("Update state changed",
		zap.Stringer("from", previous),
		zap.Stringer("to", next),
	)
	if u.opts.OnStateChange != nil {
		u.opts.OnStateChange(previous, next)
	}
}

func (u *Updater) fail(state State, err error) {
	smErr := &hcom.StateMachineError{State: state.String(), Err: err}

	u.mu.Lock()
	u.err = smErr
	u.mu.Unlock()

	u.oplog.Error(smErr, zap.Stringer("state", state))
	u.transition(Error)
}

// droppedAfterSend reports a link loss after the request was written
func droppedAfterSend(err error) bool {
	return errors.Is(err, hcom.ErrDeviceDisconnected) && !errors.Is(err, hcom.ErrNotConnected)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
