package user_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/ampersands-ai/mymedia-studio-sub000/internal/api/v1/user"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/database"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB() {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		panic("failed to connect database")
	}

	db.Migrator().DropTable(&models.User{})
	if err := db.AutoMigrate(&models.User{}); err != nil {
		panic("failed to migrate database")
	}
	db.Exec("DELETE FROM users")

	database.DB = db
}

func TestCurrentUser(t *testing.T) {
	os.Setenv("JWT_SECRET", "test_secret")
	setupTestDB()
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		user           models.User
		expectedStatus int
		checkResponse  func(t *testing.T, body []byte)
	}{
		{
			name: "Fresh Balance",
			user: models.User{
				Username:        "freshuser",
				Role:            "user",
				Password:        "hashed",
				TokensRemaining: 1000,
				TokensTotal:     1000,
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var resp struct {
					Code int               `json:"status"`
					Data user.UserResponse `json:"data"`
				}
				json.Unmarshal(body, &resp)
				assert.Equal(t, 200, resp.Code)
				assert.NotNil(t, resp.Data.Tokens)
				assert.Equal(t, 1000, resp.Data.Tokens.Total)
				assert.Equal(t, 1000, resp.Data.Tokens.Remaining)
				assert.Equal(t, 0, resp.Data.Tokens.Used)
				assert.Equal(t, 0.0, resp.Data.Tokens.UsagePercentage)
			},
		},
		{
			name: "Partially Consumed",
			user: models.User{
				Username:        "consumer",
				Role:            "user",
				Password:        "hashed",
				TokensRemaining: 750,
				TokensTotal:     1000,
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var resp struct {
					Code int               `json:"status"`
					Data user.UserResponse `json:"data"`
				}
				json.Unmarshal(body, &resp)
				assert.Equal(t, 200, resp.Code)
				assert.Equal(t, 250, resp.Data.Tokens.Used)
				assert.Equal(t, 750, resp.Data.Tokens.Remaining)
				assert.Equal(t, 25.0, resp.Data.Tokens.UsagePercentage)
			},
		},
		{
			name: "Zero Balance",
			user: models.User{
				Username:        "emptyuser",
				Role:            "user",
				Password:        "hashed",
				TokensRemaining: 0,
				TokensTotal:     0,
			},
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var resp struct {
					Code int               `json:"status"`
					Data user.UserResponse `json:"data"`
				}
				json.Unmarshal(body, &resp)
				assert.Equal(t, 200, resp.Code)
				assert.Equal(t, 0, resp.Data.Tokens.Total)
				assert.Equal(t, 0, resp.Data.Tokens.Remaining)
				assert.Equal(t, 0.0, resp.Data.Tokens.UsagePercentage)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, database.DB.Create(&tt.user).Error)

			r := gin.New()
			r.Use(func(c *gin.Context) {
				c.Set("user", tt.user)
				c.Next()
			})
			r.GET("/auth/user", user.CurrentUser)

			req, _ := http.NewRequest(http.MethodGet, "/auth/user", nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.checkResponse != nil {
				tt.checkResponse(t, w.Body.Bytes())
			}
		})
	}
}
