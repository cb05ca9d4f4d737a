// routes.go - Route registration helpers
package api

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"kerf/driver"
	"kerf/rpc"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Dispatcher *rpc.Dispatcher
	Driver     driver.Driver
	Logger     *slog.Logger
	Version    string
}

// Handlers holds all handler instances
type Handlers struct {
	Health    *HealthHandler
	RPC       *RPCHandler
	WebSocket *WebSocketHandler
	Device    *DeviceHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	log := deps.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Handlers{
		Health:    NewHealthHandler(deps.Version),
		RPC:       NewRPCHandler(deps.Dispatcher),
		WebSocket: NewWebSocketHandler(deps.Dispatcher, log),
		Device:    NewDeviceHandler(deps.Driver, NewJobTracker(deps.Driver, log)),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	// Health check
	e.GET("/health", handlers.Health.HandleHealth)

	// Envelope transport
	e.POST("/api/rpc", handlers.RPC.HandleRPC)
	e.POST("/api/rpc/msgpack", handlers.RPC.HandleRPCMsgpack)
	e.GET("/api/ws", handlers.WebSocket.HandleWebSocket)

	// Controller
	deviceGroup := e.Group("/api/device")
	deviceGroup.POST("/connect", handlers.Device.HandleConnect)
	deviceGroup.POST("/disconnect", handlers.Device.HandleDisconnect)
	deviceGroup.GET("/status", handlers.Device.HandleStatus)
	deviceGroup.POST("/send", handlers.Device.HandleSend)
	deviceGroup.POST("/jobs", handlers.Device.HandleStartJob)
	deviceGroup.GET("/jobs/:id", handlers.Device.HandleGetJob)
	deviceGroup.POST("/abort", handlers.Device.HandleAbort)
	deviceGroup.POST("/pause", handlers.Device.HandlePause)
	deviceGroup.POST("/resume", handlers.Device.HandleResume)
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, log *slog.Logger, requestLogging bool) {
	e.HTTPErrorHandler = ErrorHandler
	e.Use(middleware.Recover())

	if requestLogging && log != nil {
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogMethod:  true,
			LogURI:     true,
			LogStatus:  true,
			LogLatency: true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				log.Info("request",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency", v.Latency,
				)
				return nil
			},
		}))
	}
}

// NewServer builds an Echo instance with middleware and all routes
func NewServer(deps *Dependencies, requestLogging bool) (*echo.Echo, *Handlers) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	SetupMiddleware(e, deps.Logger, requestLogging)
	handlers := NewHandlers(deps)
	RegisterRoutes(e, handlers)
	return e, handlers
}
