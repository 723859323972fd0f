package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"fittrack/internal/domain"
	"fittrack/internal/email"
	"fittrack/internal/repository"
)

const (
	defaultVerificationTTL = 24 * time.Hour
	defaultOTPTTL          = 10 * time.Minute
	defaultLegacyResetTTL  = time.Hour
)

// AuthConfig agrupa los parámetros del flujo de cuentas.
type AuthConfig struct {
	AppBaseURL      string
	VerificationTTL time.Duration
	OTPTTL          time.Duration
	LegacyResetTTL  time.Duration
	NormalizeEmail  bool
	BcryptCost      int
}

// AuthService coordina registro, verificación, login y reset de password.
type AuthService struct {
	logger   *zap.Logger
	users    repository.UserRepository
	otps     repository.OTPRepository
	tx       repository.TxRunner
	sessions *SessionService
	sender   email.Sender
	limiter  OTPRateLimiter
	hasher   PasswordHasher
	tokens   TokenGenerator
	cfg      AuthConfig
	now      func() time.Time
}

func NewAuthService(
	logger *zap.Logger,
	users repository.UserRepository,
	otps repository.OTPRepository,
	tx repository.TxRunner,
	sessions *SessionService,
	sender email.Sender,
	limiter OTPRateLimiter,
	cfg AuthConfig,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = defaultVerificationTTL
	}
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = defaultOTPTTL
	}
	if cfg.LegacyResetTTL <= 0 {
		cfg.LegacyResetTTL = defaultLegacyResetTTL
	}
	if limiter == nil {
		limiter = NewOTPRateLimiter(cfg.OTPTTL, 3)
	}
	if tx == nil {
		tx = directTx{users: users, otps: otps}
	}
	return &AuthService{
		logger:   logger,
		users:    users,
		otps:     otps,
		tx:       tx,
		sessions: sessions,
		sender:   sender,
		limiter:  limiter,
		hasher:   NewPasswordHasher(cfg.BcryptCost),
		tokens:   NewRandomTokens(),
		cfg:      cfg,
		now:      time.Now,
	}
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

type RegisterResult struct {
	User domain.PublicUser `json:"user"`
	// EmailSent es false si el correo de verificación falló; la cuenta queda creada.
	EmailSent bool `json:"verificationEmailSent"`
}

type LoginResult struct {
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expiresAt"`
	User      domain.PublicUser `json:"user"`
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	name, emailAddr, err := s.validateAccountInput(in)
	if err != nil {
		return RegisterResult{}, err
	}
	if err := s.ensureEmailFree(ctx, emailAddr); err != nil {
		return RegisterResult{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return RegisterResult{}, err
	}
	token, err := s.tokens.VerificationToken()
	if err != nil {
		return RegisterResult{}, err
	}
	now := s.now().UTC()
	expiresAt := now.Add(s.cfg.VerificationTTL)

	user := domain.User{
		ID:                uuid.NewString(),
		Name:              name,
		Email:             emailAddr,
		PasswordHash:      hash,
		Role:              domain.RoleUser,
		Status:            domain.StatusActive,
		VerificationToken: &token,
		TokenExpiresAt:    &expiresAt,
		CreatedAt:         now,
	}
	if err := s.insertUser(ctx, user); err != nil {
		return RegisterResult{}, err
	}

	sent := true
	if err := s.sendVerification(ctx, user, token, expiresAt); err != nil {
		s.logger.Warn("send verification email failed", zap.Error(err), zap.String("user_id", user.ID))
		sent = false
	}
	return RegisterResult{User: user.Public(), EmailSent: sent}, nil
}

// VerifyByToken consume el token del enlace. Un token ya usado queda borrado
// y por lo tanto se rechaza.
func (s *AuthService) VerifyByToken(ctx context.Context, token string) (domain.PublicUser, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.PublicUser{}, ErrVerificationInvalid
	}
	user, err := s.users.FindUserByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PublicUser{}, ErrVerificationInvalid
		}
		return domain.PublicUser{}, upstream("find user by token", err)
	}
	if !s.tokenLive(user.VerificationToken, user.TokenExpiresAt) {
		return domain.PublicUser{}, ErrVerificationInvalid
	}
	return s.markVerified(ctx, user)
}

// VerifyByCode acepta el código de 6 caracteres sin distinguir mayúsculas.
// Una cuenta ya verificada devuelve éxito sin escribir nada.
func (s *AuthService) VerifyByCode(ctx context.Context, emailAddr, code string) (domain.PublicUser, error) {
	user, err := s.findByEmail(ctx, emailAddr)
	if err != nil {
		return domain.PublicUser{}, err
	}
	if user.IsVerified {
		return user.Public(), nil
	}
	if !s.tokenLive(user.VerificationToken, user.TokenExpiresAt) {
		return domain.PublicUser{}, ErrVerificationInvalid
	}
	if !codeMatches(*user.VerificationToken, code) {
		return domain.PublicUser{}, ErrVerificationInvalid
	}
	return s.markVerified(ctx, user)
}

// ResendVerification siempre emite un token nuevo; los enlaces y códigos
// enviados antes dejan de servir.
func (s *AuthService) ResendVerification(ctx context.Context, emailAddr string) error {
	user, err := s.findByEmail(ctx, emailAddr)
	if err != nil {
		return err
	}
	if user.IsVerified {
		return ErrAlreadyVerified
	}
	if !s.limiter.Allow("verify:" + user.Email) {
		return ErrRateLimited
	}

	token, err := s.tokens.VerificationToken()
	if err != nil {
		return err
	}
	expiresAt := s.now().UTC().Add(s.cfg.VerificationTTL)
	if err := s.users.UpdateUserVerification(ctx, user.ID, false, &token, &expiresAt); err != nil {
		return upstream("store verification token", err)
	}
	if err := s.sendVerification(ctx, user, token, expiresAt); err != nil {
		s.logger.Warn("resend verification email failed", zap.Error(err), zap.String("user_id", user.ID))
		return ErrEmailSendFailure
	}
	return nil
}

// Login no bloquea cuentas sin verificar: el cliente decide con isVerified.
func (s *AuthService) Login(ctx context.Context, emailAddr, password string) (LoginResult, error) {
	if strings.TrimSpace(emailAddr) == "" || password == "" {
		return LoginResult{}, invalidInput("credentials", "email and password are required")
	}
	user, err := s.findByEmail(ctx, emailAddr)
	if err != nil {
		return LoginResult{}, err
	}
	if !s.hasher.Matches(user.PasswordHash, password) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if user.Status == domain.StatusInactive {
		return LoginResult{}, ErrAccountInactive
	}

	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return LoginResult{}, upstream("update last login", err)
	}
	user.LastLogin = &now

	session, err := s.sessions.Issue(user)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: session.Token, ExpiresAt: session.ExpiresAt, User: user.Public()}, nil
}

func (s *AuthService) GetUser(ctx context.Context, id string) (domain.PublicUser, error) {
	user, err := s.users.FindUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PublicUser{}, ErrUserNotFound
		}
		return domain.PublicUser{}, upstream("find user by id", err)
	}
	return user.Public(), nil
}

// CreateAdmin crea una cuenta admin ya verificada.
func (s *AuthService) CreateAdmin(ctx context.Context, in RegisterInput) (domain.PublicUser, error) {
	name, emailAddr, err := s.validateAccountInput(in)
	if err != nil {
		return domain.PublicUser{}, err
	}
	if err := s.ensureEmailFree(ctx, emailAddr); err != nil {
		return domain.PublicUser{}, err
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return domain.PublicUser{}, err
	}
	user := domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        emailAddr,
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		Status:       domain.StatusActive,
		IsVerified:   true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.insertUser(ctx, user); err != nil {
		return domain.PublicUser{}, err
	}
	s.logger.Info("admin account created", zap.String("user_id", user.ID))
	return user.Public(), nil
}

// EnsureAdmin crea la cuenta admin inicial si el email todavía no existe.
func (s *AuthService) EnsureAdmin(ctx context.Context, emailAddr, password string) error {
	_, err := s.CreateAdmin(ctx, RegisterInput{Name: "Administrator", Email: emailAddr, Password: password})
	if errors.Is(err, ErrEmailTaken) {
		return nil
	}
	return err
}

func (s *AuthService) validateAccountInput(in RegisterInput) (string, string, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return "", "", invalidInput("name", "is required")
	}
	emailAddr := s.normalizeEmail(in.Email)
	if !isValidEmail(emailAddr) {
		return "", "", invalidInput("email", "is not a valid address")
	}
	if err := validatePassword(in.Password); err != nil {
		return "", "", err
	}
	return name, emailAddr, nil
}

func (s *AuthService) ensureEmailFree(ctx context.Context, emailAddr string) error {
	_, err := s.users.FindUserByEmail(ctx, emailAddr)
	switch {
	case err == nil:
		return ErrEmailTaken
	case errors.Is(err, pgx.ErrNoRows):
		return nil
	default:
		return upstream("find user by email", err)
	}
}

// insertUser traduce la violación de unicidad (registro concurrente) a conflicto.
func (s *AuthService) insertUser(ctx context.Context, user domain.User) error {
	if err := s.users.InsertUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return ErrEmailTaken
		}
		return upstream("insert user", err)
	}
	return nil
}

func (s *AuthService) findByEmail(ctx context.Context, emailAddr string) (domain.User, error) {
	emailAddr = s.normalizeEmail(emailAddr)
	if emailAddr == "" {
		return domain.User{}, invalidInput("email", "is required")
	}
	user, err := s.users.FindUserByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, ErrUserNotFound
		}
		return domain.User{}, upstream("find user by email", err)
	}
	return user, nil
}

func (s *AuthService) markVerified(ctx context.Context, user domain.User) (domain.PublicUser, error) {
	if err := s.users.UpdateUserVerification(ctx, user.ID, true, nil, nil); err != nil {
		return domain.PublicUser{}, upstream("mark user verified", err)
	}
	user.IsVerified = true
	user.VerificationToken = nil
	user.TokenExpiresAt = nil
	return user.Public(), nil
}

func (s *AuthService) sendVerification(ctx context.Context, user domain.User, token string, expiresAt time.Time) error {
	if s.sender == nil {
		return errors.New("email sender not configured")
	}
	msg, err := email.VerificationMessage(user.Email, user.Name, s.link("/verify-email", token), CodeFromToken(token), expiresAt)
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, msg)
}

func (s *AuthService) link(path, token string) string {
	return strings.TrimRight(s.cfg.AppBaseURL, "/") + path + "?token=" + url.QueryEscape(token)
}

func (s *AuthService) tokenLive(token *string, expiresAt *time.Time) bool {
	if token == nil || *token == "" || expiresAt == nil {
		return false
	}
	return s.now().Before(*expiresAt)
}

func (s *AuthService) normalizeEmail(emailAddr string) string {
	emailAddr = strings.TrimSpace(emailAddr)
	if s.cfg.NormalizeEmail {
		emailAddr = strings.ToLower(emailAddr)
	}
	return emailAddr
}

func isValidEmail(emailAddr string) bool {
	if emailAddr == "" {
		return false
	}
	addr, err := mail.ParseAddress(emailAddr)
	return err == nil && addr.Address == emailAddr
}

// codeMatches compara el código ingresado contra los primeros 6 caracteres
// del token; también acepta el token completo.
func codeMatches(token, code string) bool {
	code = strings.TrimSpace(code)
	if len(code) == len(token) {
		return subtle.ConstantTimeCompare([]byte(strings.ToLower(code)), []byte(token)) == 1
	}
	if len(code) != verificationCodeLength {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.ToUpper(code)), []byte(CodeFromToken(token))) == 1
}
