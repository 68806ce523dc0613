package webhook

import "github.com/gin-gonic/gin"

func RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/webhooks/provider", ProviderCallback)
}
