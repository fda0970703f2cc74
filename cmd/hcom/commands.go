// cmd/hcom/commands.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"hcom/internal/discovery"
	"hcom/internal/model"
	"hcom/internal/service"
)

// Command flags
var (
	listCrcs  bool
	portsKind string
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the device information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd, func(ctx context.Context, ds *service.DeviceService) error {
			info, err := ds.GetDeviceInfo(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		})
	},
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Manage files on the device",
}

var filesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List device files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd, func(ctx context.Context, ds *service.DeviceService) error {
			files, err := ds.ListFiles(ctx, listCrcs)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSIZE\tCRC32")
			for _, f := range files {
				size, crc := "-", "-"
				if f.Size != nil {
					size = strconv.FormatInt(*f.Size, 10)
				}
				if f.Crc32 != nil {
					crc = fmt.Sprintf("0x%08x", *f.Crc32)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, size, crc)
			}
			return w.Flush()
		})
	},
}

var filesUploadCmd = &cobra.Command{
	Use:   "upload <local-file> [device-name]",
	Short: "Upload a file to the device",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		name := filepath.Base(args[0])
		if len(args) == 2 {
			name = args[1]
		}

		return withDevice(cmd, func(ctx context.Context, ds *service.DeviceService) error {
			progress := ds.Events().Subscribe(model.EventOperationProgress)
			defer ds.Events().Unsubscribe(progress)

			done := make(chan struct{})
			go func() {
				for {
					select {
					case <-done:
						return
					case event := <-progress:
						if percent, ok := event.Data["percent"].(float64); ok {
							fmt.Fprintf(cmd.ErrOrStderr(), "\r%s: %5.1f%%", name, percent)
						}
					}
				}
			}()

			op, err := ds.UploadFile(ctx, name, data)
			close(done)
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s (%d bytes) in %s\n", name, len(data), op.Duration())
			return nil
		})
	},
}

var filesDeleteCmd = &cobra.Command{
	Use:   "delete <name>...",
	Short: "Delete files from the device",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd, func(ctx context.Context, ds *service.DeviceService) error {
			for _, name := range args {
				if err := ds.DeleteFile(ctx, name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name)
			}
			return nil
		})
	},
}

var runtimeCmd = &cobra.Command{
	Use:       "runtime <enable|disable>",
	Short:     "Enable or disable the device runtime",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"enable", "disable"},
	RunE: func(cmd *cobra.Command, args []string) error {
		enable := args[0] == "enable"
		return withDevice(cmd, func(ctx context.Context, ds *service.DeviceService) error {
			if err := ds.SetRuntime(ctx, enable); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "runtime %sd\n", args[0])
			return nil
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restart the device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd, func(ctx context.Context, ds *service.DeviceService) error {
			return ds.ResetDevice(ctx)
		})
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Stream device output until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd, func(ctx context.Context, ds *service.DeviceService) error {
			events := ds.Events().Subscribe(service.AllEvents)
			defer ds.Events().Unsubscribe(events)

			out := cmd.OutOrStdout()
			for {
				select {
				case <-ctx.Done():
					return nil
				case event := <-events:
					switch event.EventType {
					case model.EventDeviceOutput:
						fmt.Fprintf(out, "[%s] %v\n", event.Data["stream"], event.Data["text"])
					case model.EventDeviceConnected:
						fmt.Fprintln(cmd.ErrOrStderr(), "-- device connected")
					case model.EventDeviceDisconnected:
						fmt.Fprintln(cmd.ErrOrStderr(), "-- device disconnected")
					}
				}
			}
		})
	},
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports, likely devices first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		scanner := discovery.NewDefaultManager(logger)
		var (
			found []*discovery.Candidate
			err   error
		)
		if portsKind == "" {
			found, err = scanner.ScanAll(ctx)
		} else {
			found, err = scanner.ScanByType(ctx, portsKind)
		}
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tPATH\tVID:PID\tSERIAL\tPRODUCT")
		for _, c := range found {
			ids := "-"
			if c.VendorID != "" {
				ids = c.VendorID + ":" + c.ProductID
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.Kind, c.Path, ids, orDash(c.SerialNumber), orDash(c.Product))
		}
		return w.Flush()
	},
}

func init() {
	filesListCmd.Flags().BoolVar(&listCrcs, "crc", false, "Include CRC32 of each file")
	filesCmd.AddCommand(filesListCmd, filesUploadCmd, filesDeleteCmd)

	portsCmd.Flags().StringVar(&portsKind, "kind", "", "Only run one scanner type")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
