package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/stwalsh4118/atlas/fieldsync/internal/logger"
	"github.com/stwalsh4118/atlas/fieldsync/internal/middleware"
)

// RouterConfig carries what the routes are built from.
type RouterConfig struct {
	Log         *logger.Logger
	CORSOrigins []string

	Health    *HealthHandler
	Session   *SessionHandler
	Selection *SelectionHandler
	Warehouse *WarehouseHandler
	Premises  *PremiseHandler
}

// NewRouter builds the gin engine with the middleware chain and all routes.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()

	// Order: RequestID -> Identity -> Logger -> Recovery -> CORS
	router.Use(middleware.RequestID())
	router.Use(middleware.Identity())
	router.Use(middleware.Logger(cfg.Log))
	router.Use(middleware.Recovery(cfg.Log))
	router.Use(middleware.CORS(cfg.CORSOrigins))

	router.GET("/health", cfg.Health.Health)
	router.GET("/health/ready", cfg.Health.Ready)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/info", cfg.Health.Info)

		session := v1.Group("/session")
		{
			session.GET("", cfg.Session.Get)
			session.POST("/workbase", cfg.Session.SetWorkbase)
			session.POST("/logout", cfg.Session.Logout)
		}

		v1.GET("/selection", cfg.Selection.Get)
		v1.PATCH("/selection", cfg.Selection.Update)

		wh := v1.Group("/warehouse")
		{
			wh.GET("", cfg.Warehouse.Summary)
			wh.GET("/parcels", cfg.Warehouse.Parcels)
			wh.GET("/parcels/:id/geometry", cfg.Warehouse.Geometry)
			wh.GET("/premises", cfg.Warehouse.Premises)
			wh.GET("/events", cfg.Warehouse.Events)
		}

		premises := v1.Group("/premises")
		{
			premises.POST("", cfg.Premises.Create)
			premises.PUT("/:id", cfg.Premises.Update)
		}
	}

	return router
}
