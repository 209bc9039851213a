package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ressKim-io/leafscan/internal/adapter/http/handler"
	"github.com/ressKim-io/leafscan/internal/adapter/http/middleware"
	"github.com/ressKim-io/leafscan/internal/usecase"
	"github.com/ressKim-io/leafscan/internal/web"
)

// Deps holds what the router needs. DB, Redis and Classifier may be nil.
type Deps struct {
	DB             *gorm.DB
	Redis          *redis.Client
	Classifier     handler.Pinger
	UploadUC       usecase.UploadUsecase
	Cookie         handler.SessionCookie
	CORSOrigins    []string
	MaxUploadBytes int64
	Logger         *zap.Logger
}

// Setup creates and configures the Gin router
func Setup(deps Deps) (*gin.Engine, error) {
	router := gin.New()

	// Middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(deps.Logger))
	router.Use(middleware.Recovery(deps.Logger))

	if err := web.Register(router); err != nil {
		return nil, err
	}

	// Health endpoints
	healthHandler := handler.NewHealthHandler(deps.DB, deps.Redis, deps.Classifier)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	uploadHandler := handler.NewUploadHandler(deps.UploadUC, deps.Cookie, deps.Logger)
	socketHandler := handler.NewStateSocketHandler(deps.UploadUC, deps.Cookie, deps.Logger)

	// Component routes
	router.GET("/", uploadHandler.Page)
	router.POST("/upload", middleware.BodyLimit(deps.MaxUploadBytes), uploadHandler.Upload)
	router.POST("/clear", uploadHandler.Clear)
	router.GET("/preview/:id", uploadHandler.Preview)
	router.GET("/ws", socketHandler.Serve)

	// API v1 routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.CORS(deps.CORSOrigins...))
	{
		// preflight requests are answered by the CORS middleware
		v1.OPTIONS("/*path", func(*gin.Context) {})

		v1.GET("/state", uploadHandler.State)
		v1.POST("/send", uploadHandler.Send)

		classifications := v1.Group("/classifications")
		{
			classifications.GET("", uploadHandler.ListClassifications)
			classifications.GET("/:id", uploadHandler.GetClassification)
		}
	}

	return router, nil
}
