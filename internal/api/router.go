package api

import (
	"github.com/ampersands-ai/mymedia-studio-sub000/config"
	adminBreaker "github.com/ampersands-ai/mymedia-studio-sub000/internal/api/v1/admin/breaker"
	adminTransaction "github.com/ampersands-ai/mymedia-studio-sub000/internal/api/v1/admin/transaction"
	adminUser "github.com/ampersands-ai/mymedia-studio-sub000/internal/api/v1/admin/user"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/api/v1/auth"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/api/v1/generation"
	userRoutes "github.com/ampersands-ai/mymedia-studio-sub000/internal/api/v1/user"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/api/v1/webhook"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/database"
	"github.com/ampersands-ai/mymedia-studio-sub000/internal/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func NewRouter() (*gin.Engine, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	_, err = database.Connect(cfg.DSN())
	if err != nil {
		return nil, err
	}

	err = database.ConnectRedis(cfg)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:5173", "http://localhost:8080"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API v1
	v1 := router.Group("/api/v1")
	{
		auth.RegisterRoutes(v1)
		generation.RegisterRoutes(v1)

		// Provider callbacks authenticate by task id, not by JWT.
		webhook.RegisterRoutes(v1)

		authorized := v1.Group("/")
		authorized.Use(middleware.AuthMiddleware())
		{
			userRoutes.RegisterRoutes(authorized)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuthMiddleware())
		{
			adminUser.RegisterRoutes(admin)
			adminTransaction.RegisterRoutes(admin)
			adminBreaker.RegisterRoutes(admin)
		}
	}

	return router, nil
}
