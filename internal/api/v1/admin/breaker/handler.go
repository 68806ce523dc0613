package breaker

import (
	"net/http"

	"github.com/ampersands-ai/mymedia-studio-sub000/config"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/breaker"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/services"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/utils"

	"github.com/gin-gonic/gin"
)

// ListBreakers returns the current state of every circuit breaker.
// Admin only.
func ListBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, utils.NewSuccessResponse("Breakers retrieved successfully", breaker.Snapshots()))
}

type ResetBreakerRequest struct {
	Service string `json:"service"`
	Class   string `json:"class"`
}

// ResetBreaker force-closes one breaker, or all of them when no
// service is given. Admin only.
func ResetBreaker(c *gin.Context) {
	var req ResetBreakerRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, utils.NewErrorResponse(http.StatusBadRequest, err.Error()))
		return
	}

	if req.Service == "" {
		breaker.ResetAll()
		c.JSON(http.StatusOK, utils.NewSuccessResponse("All breakers reset", nil))
		return
	}

	class := req.Class
	if class == "" {
		class = breaker.ClassDefault
	}
	breaker.Reset(req.Service, class)
	c.JSON(http.StatusOK, utils.NewSuccessResponse("Breaker reset", nil))
}

// RunReconciler triggers one reconciliation sweep outside the regular
// schedule. Admin only.
func RunReconciler(c *gin.Context) {
	cfg, err := config.LoadConfig()
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.NewErrorResponse(http.StatusInternalServerError, "Failed to load configuration"))
		return
	}

	summary := services.NewReconciler(cfg).RunOnce()
	c.JSON(http.StatusOK, utils.NewSuccessResponse("Reconciliation completed", summary))
}
