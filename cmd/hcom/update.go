// cmd/hcom/update.go
package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"hcom/internal/firmware"
	"hcom/internal/model"
	"hcom/internal/service"
)

// Command flags
var (
	updateVersion     string
	updateOsFile      string
	updateRuntimeFile string
	updateCoprocDir   string
	updateSerial      string
	debugPort         int
)

// operationPoll backs up the event stream, which may drop under load
const operationPoll = 500 * time.Millisecond

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update the device firmware",
	Long: `Update walks the device through DFU mode, flashes the OS with dfu-util,
then writes the runtime and coprocessor images over Hcom. Targets whose
image is not given, or whose version already matches, are skipped.`,
	Example: `  # Full update
  hcom update --version 1.4.0 --os Meadow.OS.bin --runtime Meadow.OS.Runtime.bin --coprocessor-dir ./esp

  # Runtime only
  hcom update --version 1.4.0 --runtime Meadow.OS.Runtime.bin`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd, func(ctx context.Context, ds *service.DeviceService) error {
			events := ds.Events().Subscribe(service.AllEvents)
			defer ds.Events().Unsubscribe(events)

			op, err := ds.StartUpdate(ctx, firmware.Request{
				Version:        updateVersion,
				OsFile:         updateOsFile,
				RuntimeFile:    updateRuntimeFile,
				CoprocessorDir: updateCoprocDir,
				SerialNumber:   updateSerial,
			})
			if err != nil {
				return err
			}
			return followUpdate(ctx, cmd, ds, op.ID, events)
		})
	},
}

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Relay a debugger to the device until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd, func(ctx context.Context, ds *service.DeviceService) error {
			events := ds.Events().Subscribe(service.AllEvents)
			defer ds.Events().Unsubscribe(events)

			addr, err := ds.StartDebugging(ctx, debugPort)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "debugger relay listening on %s\n", addr)

			for {
				select {
				case <-ctx.Done():
					return ds.StopDebugging()
				case event := <-events:
					switch event.EventType {
					case model.EventDebuggerAttached:
						fmt.Fprintf(cmd.ErrOrStderr(), "-- debugger attached from %v\n", event.Data["remote_addr"])
					case model.EventDebuggerDetached:
						fmt.Fprintln(cmd.ErrOrStderr(), "-- debugger detached")
					}
				}
			}
		})
	},
}

func init() {
	flags := updateCmd.Flags()
	flags.StringVar(&updateVersion, "version", "", "Version being installed")
	flags.StringVar(&updateOsFile, "os", "", "OS image flashed with dfu-util")
	flags.StringVar(&updateRuntimeFile, "runtime", "", "Runtime image")
	flags.StringVar(&updateCoprocDir, "coprocessor-dir", "", "Directory holding the coprocessor images")
	flags.StringVar(&updateSerial, "serial", "", "Serial number passed to dfu-util")
	_ = updateCmd.MarkFlagRequired("version")

	debugCmd.Flags().IntVar(&debugPort, "port", 0, "Relay TCP port (default from config)")
}

// followUpdate prints state changes for one operation until it ends
func followUpdate(ctx context.Context, cmd *cobra.Command, ds *service.DeviceService, opID uuid.UUID, events <-chan model.DeviceEvent) error {
	ticker := time.NewTicker(operationPoll)
	defer ticker.Stop()

	id := opID.String()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-events:
			if event.Data["operation_id"] != id {
				continue
			}
			switch event.EventType {
			case model.EventUpdateStateChange:
				fmt.Fprintf(cmd.OutOrStdout(), "%v -> %v\n", event.Data["from"], event.Data["to"])
			case model.EventOperationProgress:
				fmt.Fprintf(cmd.ErrOrStderr(), "\r%v: %5.1f%%", event.Data["file"], event.Data["percent"])
			}
		case <-ticker.C:
		}

		op, err := ds.GetOperation(opID)
		if err != nil {
			return err
		}
		if !op.IsTerminal() {
			continue
		}
		if op.Status != model.OperationStatusSuccess {
			return errors.New(op.ErrorMessage)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "update finished in %s\n", op.Duration().Round(time.Second))
		return nil
	}
}
