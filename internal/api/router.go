package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/printqd/printqd/internal/api/handlers"
	"github.com/printqd/printqd/internal/api/middleware"
	"github.com/printqd/printqd/internal/bus"
	"github.com/printqd/printqd/internal/config"
	"github.com/printqd/printqd/internal/core"
	"github.com/printqd/printqd/internal/db"
	"github.com/printqd/printqd/internal/logger"
	"github.com/printqd/printqd/internal/storage"
)

// Deps is everything the router composes.
type Deps struct {
	Config       *config.Config
	Store        *db.Store
	Queue        *core.Queue
	Dispatcher   *core.Dispatcher
	Storage      *storage.Storage
	Hub          *bus.Hub
	PrinterLogic *bus.PrinterLogic
	ClientLogic  *bus.ClientLogic
	Clock        core.Clock
	Log          *logger.Logger
}

// NewRouter builds the REST and event-channel surface under /api.
func NewRouter(d Deps) (*gin.Engine, error) {
	if d.Config.DebugLevel == 0 {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(d.Config.Server.CORSAllowedOrigins, d.Config.Auth.IdentityHeader))

	identity, err := middleware.NewIdentityMiddleware(d.Store, d.Config.Auth, d.Log)
	if err != nil {
		return nil, err
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	users := api.Group("", identity.RequireUser())
	printers := api.Group("", identity.RequirePrinter())
	admin := api.Group("", identity.RequireAdmin())

	jobs := handlers.NewJobHandler(d.Store, d.Queue, d.Dispatcher, d.Storage, d.Hub, d.Clock, d.Log)
	jobs.RegisterRoutes(users)

	files := handlers.NewFileHandler(d.Store, d.Storage, d.Log)
	files.RegisterRoutes(printers, users)

	printerHandler := handlers.NewPrinterHandler(d.Store, d.Log)
	printerHandler.RegisterRoutes(printers, users, admin)

	userHandler := handlers.NewUserHandler(d.Store, d.Log)
	userHandler.RegisterRoutes(admin)

	events := handlers.NewEventsHandler(d.Hub, d.PrinterLogic, d.ClientLogic, d.Dispatcher, d.Log)
	events.RegisterRoutes(users, printers)

	return r, nil
}

func corsMiddleware(allowedOrigins []string, identityHeader string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Api-Key", identityHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}
