package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tempo/backend/internal/handler"
	"tempo/backend/internal/middleware"
	"tempo/backend/internal/service"
)

func New(
	authService *service.AuthService,
	authHandler *handler.AuthHandler,
	workdayHandler *handler.WorkdayHandler,
	syncHandler *handler.SyncHandler,
	corsOrigins []string,
) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), middleware.CORS(corsOrigins))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := engine.Group("/api")
	auth := api.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)

	api.POST("/sync/events", syncHandler.HandleEvent)

	workday := api.Group("/workday")
	workday.Use(middleware.Auth(authService))
	workday.GET("/state", workdayHandler.GetState)
	workday.GET("/transactions", workdayHandler.ListTransactions)
	workday.POST("/transactions", workdayHandler.AddTransaction)
	workday.DELETE("/transactions/:index", workdayHandler.DeleteTransaction)
	workday.POST("/flow/start", workdayHandler.FlowStart)
	workday.POST("/flow/stop", workdayHandler.FlowStop)
	workday.POST("/flow/enabled", workdayHandler.FlowEnabled)
	workday.GET("/paused", workdayHandler.ListPaused)
	workday.PATCH("/paused/:id", workdayHandler.UpdatePaused)
	workday.GET("/recommendation", workdayHandler.GetRecommendation)
	workday.GET("/guide", workdayHandler.GetGuide)
	workday.GET("/settings", workdayHandler.GetSettings)
	workday.PUT("/settings", workdayHandler.UpdateSettings)
	workday.GET("/export", workdayHandler.Export)

	return engine
}
