// cmd/hcom/app.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hcom/internal/config"
	"hcom/internal/device"
	"hcom/internal/dfu"
	"hcom/internal/discovery"
	"hcom/internal/protocol"
	"hcom/internal/routes"
	"hcom/internal/service"
	"hcom/internal/utils"
)

const (
	serverShutdownTimeout = 30 * time.Second
	portScanTimeout       = 5 * time.Second
)

// Application wires the device link, services and the optional HTTP API
type Application struct {
	config *config.Config
	logger *zap.Logger
	server *http.Server
	router *routes.Router

	// Services
	events        *service.EventBus
	deviceService *service.DeviceService
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	app := &Application{
		config: cfg,
		logger: logger,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	return app, nil
}

// initializeServices creates the device link and the services on top of it
func (app *Application) initializeServices() error {
	if err := app.resolveSerialPort(); err != nil {
		return err
	}

	transport, err := protocol.CreateTransport(&app.config.Connection, app.logger)
	if err != nil {
		return err
	}

	conn := device.NewConnection(transport, device.OptionsFromConfig(app.config.Protocol), app.logger)
	flasher := dfu.NewDfuUtil(app.config.Update.DfuUtilPath, app.logger)

	app.events = service.NewEventBus(app.logger)
	app.deviceService = service.NewDeviceService(conn, flasher, app.config, app.events, app.logger)

	app.logger.Debug("Services initialized",
		zap.String("transport", app.config.Connection.Type),
	)
	return nil
}

// resolveSerialPort picks the first known device port when none is set
func (app *Application) resolveSerialPort() error {
	conn := &app.config.Connection
	if conn.Type != string(protocol.TransportSerial) || conn.Serial.Port != "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), portScanTimeout)
	defer cancel()

	port, err := discovery.NewDefaultManager(app.logger).FindDevicePort(ctx)
	if err != nil {
		return fmt.Errorf("no serial port given and none detected: %w", err)
	}
	app.logger.Info("Detected device port", zap.String("port", port))
	conn.Serial.Port = port
	return nil
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() {
	app.router = routes.NewRouter(app.config, app.logger, app.deviceService)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      app.router.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
	)
}

// startServices starts the event bus and the device service
func (app *Application) startServices(ctx context.Context) error {
	go app.events.Start()
	return app.deviceService.Start(ctx)
}

// Close stops the services and releases the link
func (app *Application) Close() {
	if app.router != nil {
		app.router.Close()
	}
	if err := app.deviceService.Stop(); err != nil {
		app.logger.Warn("Device service stop error", zap.Error(err))
	}
	app.events.Stop()
}

// Serve runs the HTTP API until ctx is cancelled
func (app *Application) Serve(ctx context.Context) error {
	serviceLogger := utils.NewServiceLogger(app.logger, "hcom")
	serviceLogger.LogServiceStart(app.config.App.Version, app.config)

	app.initializeServer()
	if err := app.startServices(ctx); err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		app.logger.Info("Starting HTTP server", zap.String("address", app.server.Addr))
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var err error
	reason := "shutdown signal received"
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		reason = "HTTP server failed"
	}

	serviceLogger.LogServiceStop(reason)
	app.shutdown()
	return err
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	app.Close()
	app.logger.Info("Application shutdown completed")
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// withDevice runs fn against a started service once the device answers
func withDevice(cmd *cobra.Command, fn func(ctx context.Context, ds *service.DeviceService) error) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	app, err := NewApplication(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()
	if err := app.startServices(ctx); err != nil {
		return err
	}

	if err := app.deviceService.WaitForDevice(ctx, waitFor); err != nil {
		return fmt.Errorf("device not reachable: %w", err)
	}
	return fn(ctx, app.deviceService)
}
