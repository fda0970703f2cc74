// internal/routes/routes.go
package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "hcom/docs"
	"hcom/internal/config"
	"hcom/internal/handler"
	"hcom/internal/middleware"
	"hcom/internal/service"
	"hcom/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config        *config.Config
	logger        *zap.Logger
	deviceService *service.DeviceService
	wsHandler     *handler.WebSocketHandler
}

// NewRouter creates a new router instance
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	deviceService *service.DeviceService,
) *Router {
	return &Router{
		config:        config,
		logger:        utils.OrNop(logger),
		deviceService: deviceService,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsDebugEnabled() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// Close releases the WebSocket clients
func (r *Router) Close() {
	if r.wsHandler != nil {
		r.wsHandler.Close()
	}
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger, "/health", "/ready", "/live"))

	router.Use(middleware.CORSMiddleware(&r.config.Security))

	r.logger.Info("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.deviceService, r.config, r.logger)
	deviceHandler := handler.NewDeviceHandler(r.deviceService, r.logger)
	r.wsHandler = handler.NewWebSocketHandler(r.deviceService, r.config.Security.AllowedOrigins, r.logger)

	r.addHealthRoutes(router, healthHandler)

	apiV1 := router.Group("/api/v1")
	r.addDeviceRoutes(apiV1, deviceHandler)
	r.addOperationRoutes(apiV1, deviceHandler)
	r.addDebuggingRoutes(apiV1, deviceHandler)

	r.addWebSocketRoutes(router, r.wsHandler)
	r.addDocumentationRoutes(router)

	r.logger.Info("All routes configured successfully")
}

// addHealthRoutes sets up health check routes
func (r *Router) addHealthRoutes(router *gin.Engine, handler *handler.HealthHandler) {
	health := router.Group("")
	{
		health.GET("/health", handler.HealthCheck)
		health.GET("/ready", handler.ReadinessCheck)
		health.GET("/live", handler.LivenessCheck)
	}
}

// addDeviceRoutes sets up device routes
func (r *Router) addDeviceRoutes(api *gin.RouterGroup, deviceHandler *handler.DeviceHandler) {
	api.GET("/ports", deviceHandler.ListPorts)

	device := api.Group("/device")
	{
		device.GET("/status", deviceHandler.GetStatus)
		device.GET("/info", deviceHandler.GetInfo)
		device.POST("/reset", deviceHandler.Reset)
		device.POST("/update", deviceHandler.StartUpdate)

		files := device.Group("/files")
		{
			files.GET("", deviceHandler.ListFiles)
			files.POST("", deviceHandler.UploadFile)
			files.DELETE("/:name", deviceHandler.DeleteFile)
		}

		runtime := device.Group("/runtime")
		{
			runtime.POST("/enable", deviceHandler.EnableRuntime)
			runtime.POST("/disable", deviceHandler.DisableRuntime)
		}
	}
}

// addOperationRoutes sets up operation routes
func (r *Router) addOperationRoutes(api *gin.RouterGroup, handler *handler.DeviceHandler) {
	operations := api.Group("/operations")
	{
		operations.GET("/:operation_id", handler.GetOperation)
	}
}

// addDebuggingRoutes sets up debugging proxy routes
func (r *Router) addDebuggingRoutes(api *gin.RouterGroup, handler *handler.DeviceHandler) {
	debugging := api.Group("/debugging")
	{
		debugging.POST("", handler.StartDebugging)
		debugging.DELETE("", handler.StopDebugging)
	}
}

// addWebSocketRoutes sets up WebSocket routes
func (r *Router) addWebSocketRoutes(router *gin.Engine, handler *handler.WebSocketHandler) {
	ws := router.Group("/ws")
	{
		ws.GET("/events", handler.HandleEventConnection)
		ws.GET("/stats", handler.GetConnectionStats)
	}
}

// addDocumentationRoutes sets up documentation routes
func (r *Router) addDocumentationRoutes(router *gin.Engine) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
}
