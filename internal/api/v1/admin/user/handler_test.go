package user_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ampersands-ai/mymedia-studio-sub000/internal/api/v1/admin/user"
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

	db.Migrator().DropTable(&models.User{}, &models.Transaction{})
	if err := db.AutoMigrate(&models.User{}, &models.Transaction{}); err != nil {
		panic("failed to migrate database")
	}

	db.Exec("DELETE FROM users")
	db.Exec("DELETE FROM transactions")

	database.DB = db
}

func TestListUsers(t *testing.T) {
	setupTestDB()
	gin.SetMode(gin.TestMode)

	database.DB.Create(&models.User{
		Username:        "admin",
		Role:            "admin",
		Password:        "hashedpassword",
		TokensRemaining: 0,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	})
	database.DB.Create(&models.User{
		Username:        "user1",
		Role:            "user",
		Password:        "hashedpassword",
		TokensRemaining: 500,
		TokensTotal:     1000,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	})

	tests := []struct {
		name           string
		page           string
		limit          string
		expectedStatus int
		checkResponse  func(t *testing.T, body []byte)
	}{
		{
			name:           "Valid Pagination",
			page:           "1",
			limit:          "10",
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var resp struct {
					Code    int                   `json:"status"`
					Message string                `json:"message"`
					Data    user.UserListResponse `json:"data"`
				}
				assert.NoError(t, json.Unmarshal(body, &resp))
				assert.Equal(t, int64(2), resp.Data.Total)
				assert.Len(t, resp.Data.Users, 2)
			},
		},
		{
			name:           "Invalid Page",
			page:           "0",
			limit:          "10",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Invalid Limit",
			page:           "1",
			limit:          "abc",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/admin/users", user.ListUsers)

			req, _ := http.NewRequest(http.MethodGet, "/admin/users?page="+tt.page+"&limit="+tt.limit, nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.checkResponse != nil {
				tt.checkResponse(t, w.Body.Bytes())
			}
		})
	}
}

func TestAdjustBalance(t *testing.T) {
	setupTestDB()
	gin.SetMode(gin.TestMode)

	seedUser := models.User{
		Username:        "balance_user",
		Role:            "user",
		Password:        "password",
		Version:         1,
		TokensRemaining: 150,
		TokensTotal:     150,
	}

	tests := []struct {
		name           string
		body           string
		expectedStatus int
		checkResponse  func(t *testing.T, body []byte)
	}{
		{
			name:           "Top Up",
			body:           `{"amount": 50, "reason": "promo grant"}`,
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var resp struct {
					Code int               `json:"status"`
					Data user.UserListItem `json:"data"`
				}
				assert.NoError(t, json.Unmarshal(body, &resp))
				assert.Equal(t, 200, resp.Data.TokensRemaining)
				assert.Equal(t, 200, resp.Data.TokensTotal)

				var trans models.Transaction
				database.DB.Last(&trans)
				assert.Equal(t, 50, trans.Amount)
				assert.Equal(t, models.TransactionTypeSystemAdmin, trans.Type)
			},
		},
		{
			name:           "Deduction Floors At Zero",
			body:           `{"amount": -200, "reason": "abuse clawback"}`,
			expectedStatus: http.StatusOK,
			checkResponse: func(t *testing.T, body []byte) {
				var resp struct {
					Code int               `json:"status"`
					Data user.UserListItem `json:"data"`
				}
				assert.NoError(t, json.Unmarshal(body, &resp))
				assert.Equal(t, 0, resp.Data.TokensRemaining)

				var trans models.Transaction
				database.DB.Last(&trans)
				assert.Equal(t, -150, trans.Amount)
				assert.Equal(t, 150, trans.BalanceBefore)
				assert.Equal(t, 0, trans.BalanceAfter)
			},
		},
		{
			name:           "Missing Reason",
			body:           `{"amount": 50}`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			database.DB.Exec("DELETE FROM users")
			database.DB.Exec("DELETE FROM transactions")

			currentSeed := seedUser
			currentSeed.ID = 0
			database.DB.Create(&currentSeed)

			r := gin.New()
			r.Use(func(c *gin.Context) {
				c.Set("user", models.User{ID: 1, Username: "admin_tester"})
				c.Next()
			})
			r.POST("/admin/users/:id/balance", user.AdjustBalance)

			targetID := strconv.Itoa(int(currentSeed.ID))
			req, _ := http.NewRequest(http.MethodPost, "/admin/users/"+targetID+"/balance", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Logf("Body: %s", w.Body.String())
			}
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.checkResponse != nil {
				tt.checkResponse(t, w.Body.Bytes())
			}
		})
	}
}

func TestAdjustBalanceUserNotFound(t *testing.T) {
	setupTestDB()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.POST("/admin/users/:id/balance", user.AdjustBalance)

	req, _ := http.NewRequest(http.MethodPost, "/admin/users/9999/balance", bytes.NewBufferString(`{"amount": 50, "reason": "grant"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
