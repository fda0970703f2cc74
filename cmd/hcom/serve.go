// cmd/hcom/serve.go
package main

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control API",
	Long: `Serve keeps the device link open and exposes it over HTTP: device
queries, file transfer, firmware updates and debugging under /api/v1,
an event stream on /ws/events and health probes on /health, /ready and
/live. The link is reopened automatically when the device comes back.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		app, err := NewApplication(cfg, logger)
		if err != nil {
			return err
		}
		return app.Serve(ctx)
	},
}
