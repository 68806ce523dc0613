package generation

import (
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/middleware"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/models", middleware.AuthMiddleware(), ListModels)

	gens := router.Group("/generations", middleware.AuthMiddleware())
	gens.POST("", Submit)
	gens.GET("", List)
	gens.GET("/:id", Get)
	gens.POST("/:id/cancel", Cancel)
}
