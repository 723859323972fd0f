package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fittrack/internal/config"
)

// NewRouter configura el router de Gin con middlewares y rutas de auth.
// resetFlow elige cuál de los dos flujos de reset se monta.
func NewRouter(
	logger *zap.Logger,
	authH *AuthHandler,
	throttle *LoginThrottle,
	resetFlow string,
) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, recovery y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery(), jsonContentTypeMiddleware())

	signedIn := RequireSignedIn(authH.sessions, authH.cookie.Name)

	auth := r.Group("/auth")
	auth.POST("/register", authH.Register)
	auth.POST("/verify-email", authH.VerifyEmail)
	auth.POST("/verify-code", authH.VerifyCode)
	auth.POST("/resend-verification", authH.ResendVerification)
	auth.POST("/login", throttle.Middleware(), authH.Login)
	auth.GET("/me", signedIn, authH.Me)
	auth.POST("/logout", signedIn, authH.Logout)

	if resetFlow == config.ResetFlowToken {
		auth.POST("/forgot-password", authH.RequestTokenReset)
		auth.POST("/reset-password", authH.ResetPasswordWithCode)
	} else {
		auth.POST("/forgot-password", authH.ForgotPassword)
		auth.POST("/verify-otp", authH.VerifyOTP)
		auth.POST("/reset-password", authH.ResetPassword)
	}

	admin := r.Group("/admin", signedIn, RequireAdmin(authH.auth))
	admin.POST("/users", authH.CreateAdmin)

	return r
}

// zapLoggerMiddleware registra cada request; nunca loguea body ni headers.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if claims, ok := GetSessionClaims(c); ok {
			fields = append(fields, zap.String("user_id", claims.UserID))
		}
		logger.Info("request", fields...)
	}
}

// jsonContentTypeMiddleware fuerza Content-Type: application/json en responses.
func jsonContentTypeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/json")
		c.Next()
	}
}
