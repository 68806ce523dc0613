package breaker

import "github.com/gin-gonic/gin"

func RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/breakers", ListBreakers)
	router.POST("/breakers/reset", ResetBreaker)
	router.POST("/reconcile", RunReconciler)
}
