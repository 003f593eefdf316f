package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"auth-core/internal/metrics"
	"auth-core/internal/service"
)

// NewRouter configura el router de Gin con middlewares y rutas.
func NewRouter(
	logger *zap.Logger,
	authH *AuthHandler,
	sessions *service.SessionService,
	registry *prometheus.Registry,
) *gin.Engine {
	r := gin.New()

	r.Use(zapLoggerMiddleware(logger), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if registry != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(registry)))
	}

	auth := r.Group("/auth")
	auth.Use(jsonContentTypeMiddleware())
	auth.POST("/register", authH.Register)
	auth.POST("/register/email", authH.RegisterWithEmail)
	auth.POST("/register/complete", authH.CompleteRegistration)
	auth.POST("/login", authH.Login)
	auth.POST("/login/link", authH.RequestLoginLink)
	auth.POST("/login/verify", authH.VerifyLoginToken)
	auth.POST("/social", authH.LoginSocial)
	auth.POST("/refresh", authH.Refresh)
	auth.GET("/me", JWTAuthMiddleware(sessions), authH.Me)

	return r
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
