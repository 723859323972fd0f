package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fittrack/internal/service"
)

// CookieConfig describe la cookie de sesión que se setea en el login.
type CookieConfig struct {
	Name   string
	Secure bool
}

// AuthHandler mantiene dependencias para los endpoints de autenticación.
type AuthHandler struct {
	logger   *zap.Logger
	auth     *service.AuthService
	sessions *service.SessionService
	cookie   CookieConfig
}

// NewAuthHandler crea una instancia de AuthHandler.
func NewAuthHandler(logger *zap.Logger, auth *service.AuthService, sessions *service.SessionService, cookie CookieConfig) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cookie.Name == "" {
		cookie.Name = "session"
	}
	return &AuthHandler{
		logger:   logger,
		auth:     auth,
		sessions: sessions,
		cookie:   cookie,
	}
}

type accountRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required"`
}

// Register maneja POST /auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req accountRequest
	if !h.bind(c, &req, "register") {
		return
	}
	res, err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.writeServiceError(c, "register", err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// VerifyEmail maneja POST /auth/verify-email con el token del enlace.
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if !h.bind(c, &req, "verify email") {
		return
	}
	user, err := h.auth.VerifyByToken(c.Request.Context(), req.Token)
	if err != nil {
		h.writeServiceError(c, "verify email", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// VerifyCode maneja POST /auth/verify-code.
func (h *AuthHandler) VerifyCode(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
		Code  string `json:"code" binding:"required"`
	}
	if !h.bind(c, &req, "verify code") {
		return
	}
	user, err := h.auth.VerifyByCode(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		h.writeServiceError(c, "verify code", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// ResendVerification maneja POST /auth/resend-verification.
func (h *AuthHandler) ResendVerification(c *gin.Context) {
	var req emailRequest
	if !h.bind(c, &req, "resend verification") {
		return
	}
	if err := h.auth.ResendVerification(c.Request.Context(), req.Email); err != nil {
		h.writeServiceError(c, "resend verification", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "verification_sent"})
}

// Login maneja POST /auth/login. El token va en la cookie y en el body.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if !h.bind(c, &req, "login") {
		return
	}
	res, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(c, "login", err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, res.Token, int(h.sessions.TTL().Seconds()), "/", "", h.cookie.Secure, true)
	c.JSON(http.StatusOK, res)
}

// Me maneja GET /auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := GetSessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	user, err := h.auth.GetUser(c.Request.Context(), claims.UserID)
	if err != nil {
		h.writeServiceError(c, "me", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Logout maneja POST /auth/logout: revoca el jti y borra la cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	claims, ok := GetSessionClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	if err := h.sessions.Revoke(claims); err != nil {
		h.logger.Error("revoke session failed", zap.Error(err), zap.String("user_id", claims.UserID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upstream failure"})
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, "", -1, "/", "", h.cookie.Secure, true)
	c.Status(http.StatusNoContent)
}

// ForgotPassword maneja POST /auth/forgot-password en el flujo OTP.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req emailRequest
	if !h.bind(c, &req, "forgot password") {
		return
	}
	if err := h.auth.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		h.writeServiceError(c, "forgot password", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "otp_sent"})
}

// VerifyOTP maneja POST /auth/verify-otp. No consume el código.
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
		OTP   string `json:"otp" binding:"required"`
	}
	if !h.bind(c, &req, "verify otp") {
		return
	}
	valid, err := h.auth.VerifyOTP(c.Request.Context(), req.Email, req.OTP)
	if err != nil {
		h.writeServiceError(c, "verify otp", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

// ResetPassword maneja POST /auth/reset-password en el flujo OTP.
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req struct {
		Email       string `json:"email" binding:"required"`
		OTP         string `json:"otp" binding:"required"`
		NewPassword string `json:"newPassword" binding:"required"`
	}
	if !h.bind(c, &req, "reset password") {
		return
	}
	if err := h.auth.ResetPassword(c.Request.Context(), req.Email, req.OTP, req.NewPassword); err != nil {
		h.writeServiceError(c, "reset password", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "password_reset"})
}

// RequestTokenReset maneja POST /auth/forgot-password en el flujo por token.
func (h *AuthHandler) RequestTokenReset(c *gin.Context) {
	var req emailRequest
	if !h.bind(c, &req, "request token reset") {
		return
	}
	if err := h.auth.RequestTokenReset(c.Request.Context(), req.Email); err != nil {
		h.writeServiceError(c, "request token reset", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset_sent"})
}

// ResetPasswordWithCode maneja POST /auth/reset-password en el flujo por token.
func (h *AuthHandler) ResetPasswordWithCode(c *gin.Context) {
	var req struct {
		Email       string `json:"email" binding:"required"`
		Code        string `json:"code" binding:"required"`
		NewPassword string `json:"newPassword" binding:"required"`
	}
	if !h.bind(c, &req, "reset password with code") {
		return
	}
	if err := h.auth.ResetPasswordWithCode(c.Request.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		h.writeServiceError(c, "reset password with code", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "password_reset"})
}

// CreateAdmin maneja POST /admin/users.
func (h *AuthHandler) CreateAdmin(c *gin.Context) {
	var req accountRequest
	if !h.bind(c, &req, "create admin") {
		return
	}
	user, err := h.auth.CreateAdmin(c.Request.Context(), service.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.writeServiceError(c, "create admin", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

func (h *AuthHandler) bind(c *gin.Context, req any, op string) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.logger.Warn("invalid request", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return false
	}
	return true
}

// writeServiceError traduce errores del servicio a status y mensaje estable.
func (h *AuthHandler) writeServiceError(c *gin.Context, op string, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	} else {
		h.logger.Warn("request rejected", zap.String("op", op), zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, body)
}

func errorResponse(err error) (int, gin.H) {
	var inputErr *service.InputError
	switch {
	case errors.As(err, &inputErr):
		return http.StatusBadRequest, gin.H{"error": "invalid input", "field": inputErr.Field, "reason": inputErr.Reason}
	case errors.Is(err, service.ErrVerificationInvalid):
		return http.StatusBadRequest, gin.H{"error": "verification token invalid or expired"}
	case errors.Is(err, service.ErrAlreadyVerified):
		return http.StatusBadRequest, gin.H{"error": "email already verified"}
	case errors.Is(err, service.ErrOTPInvalid):
		return http.StatusBadRequest, gin.H{"error": "otp invalid or expired"}
	case errors.Is(err, service.ErrResetTokenInvalid):
		return http.StatusBadRequest, gin.H{"error": "reset code invalid or expired"}
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest, gin.H{"error": "invalid request"}
	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound, gin.H{"error": "user not found"}
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, gin.H{"error": "not found"}
	case errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict, gin.H{"error": "email already registered"}
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, gin.H{"error": "conflict"}
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, gin.H{"error": "invalid credentials"}
	case errors.Is(err, service.ErrAuthentication):
		return http.StatusUnauthorized, gin.H{"error": "authentication failed"}
	case errors.Is(err, service.ErrAccountInactive):
		return http.StatusForbidden, gin.H{"error": "account inactive"}
	case errors.Is(err, service.ErrAuthorization):
		return http.StatusForbidden, gin.H{"error": "forbidden"}
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests, gin.H{"error": "too many requests"}
	case errors.Is(err, service.ErrEmailSendFailure):
		return http.StatusInternalServerError, gin.H{"error": "email delivery failed"}
	case errors.Is(err, service.ErrUpstream):
		return http.StatusInternalServerError, gin.H{"error": "upstream failure"}
	default:
		return http.StatusInternalServerError, gin.H{"error": "internal error"}
	}
}
