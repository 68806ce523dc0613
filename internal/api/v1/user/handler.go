package user

import (
	"net/http"

	"github.com/ampersands-ai/mymedia-studio-sub000/internal/database"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/models"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/utils"

	"github.com/gin-gonic/gin"
)

// CurrentUser returns the authenticated user's profile and token balance,
// along with a refreshed JWT.
func CurrentUser(c *gin.Context) {
	user, exists := c.Get("user")
	if !exists {
		c.JSON(http.StatusUnauthorized, utils.NewErrorResponse(http.StatusUnauthorized, "Unauthorized"))
		return
	}

	u := user.(models.User)

	// Force reload from DB so the balance reflects reservations made
	// after the middleware's cached copy was written.
	var latestUser models.User
	if err := database.DB.First(&latestUser, u.ID).Error; err == nil {
		u = latestUser
	}

	token, err := utils.GenerateToken(u.ID, u.Role)
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.NewErrorResponse(http.StatusInternalServerError, "Could not generate token"))
		return
	}

	used := u.TokensTotal - u.TokensRemaining
	if used < 0 {
		used = 0
	}
	var usagePercentage float64
	if u.TokensTotal > 0 {
		usagePercentage = float64(used) / float64(u.TokensTotal) * 100
	}

	c.JSON(http.StatusOK, utils.NewSuccessResponse("User information retrieved successfully", UserResponse{
		ID:       u.ID,
		Username: u.Username,
		Role:     u.Role,
		Tokens: &TokenInfo{
			Total:           u.TokensTotal,
			Used:            used,
			Remaining:       u.TokensRemaining,
			UsagePercentage: usagePercentage,
		},
		Token: token,
	}))
}
