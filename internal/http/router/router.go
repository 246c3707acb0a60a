package router

import (
	"github.com/gin-gonic/gin"

	"cyodesign.app/atelier/internal/http/handler"
	"cyodesign.app/atelier/internal/http/middleware"
	"cyodesign.app/atelier/internal/service"
)

func SetupRoutes(router *gin.Engine, services *service.Services) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		chatHandler := handler.NewChatHandler(services.Chat())
		api.POST("/chat", middleware.RateLimit(services.RateLimiter()), chatHandler.Stream)

		chatsHandler := handler.NewChatsHandler(services.Chats())
		ChatsRouter(api.Group("/chats"), chatsHandler)

		leadHandler := handler.NewLeadHandler(services.Leads())
		api.POST("/leads", middleware.RateLimit(services.RateLimiter()), leadHandler.Create)

		if uploads := services.Uploads(); uploads != nil {
			uploadHandler := handler.NewUploadHandler(uploads)
			api.POST("/create-signed-url", uploadHandler.CreateSignedURL)
		}
	}
}

func ChatsRouter(rg *gin.RouterGroup, h *handler.ChatsHandler) {
	rg.GET("/:id", h.Get)
	rg.PUT("/:id", h.Save)
}
