package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fittrack/internal/config"
	"fittrack/internal/db"
	"fittrack/internal/email"
	apihttp "fittrack/internal/http"
	"fittrack/internal/repository"
	"fittrack/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Ping(ctx, pool); err != nil {
		logger.Fatal("db ping", zap.Error(err))
	}
	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	emailSender, closeSender := newEmailSender(cfg, logger)
	defer closeSender()

	var (
		otpLimiter  service.OTPRateLimiter
		revocations = service.NewMemoryRevocationStore()
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-memory limiter and revocations", zap.Error(err))
		} else {
			otpLimiter = service.NewRedisOTPRateLimiter(redisClient, cfg.OTPTTL, cfg.OTPRequestsPerWindow)
			revocations = service.NewRedisRevocationStore(redisClient)
		}
		cancel()
	}
	if otpLimiter == nil {
		otpLimiter = service.NewOTPRateLimiter(cfg.OTPTTL, cfg.OTPRequestsPerWindow)
	}

	userRepo := repository.NewPgUserRepository(pool)
	otpRepo := repository.NewPgOTPRepository(pool)
	store := repository.NewStore(pool)
	sessionSvc := service.NewSessionService(cfg.JWTSecret, cfg.SessionTTL, revocations)
	authSvc := service.NewAuthService(logger, userRepo, otpRepo, store, sessionSvc, emailSender, otpLimiter, service.AuthConfig{
		AppBaseURL:      cfg.AppBaseURL,
		VerificationTTL: cfg.VerificationTTL,
		OTPTTL:          cfg.OTPTTL,
		LegacyResetTTL:  cfg.LegacyResetTTL,
		NormalizeEmail:  cfg.NormalizeEmail,
		BcryptCost:      cfg.BcryptCost,
	})

	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		if err := authSvc.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			logger.Fatal("ensure admin", zap.Error(err))
		}
	}

	authHandler := apihttp.NewAuthHandler(logger, authSvc, sessionSvc, apihttp.CookieConfig{
		Name:   cfg.SessionCookieName,
		Secure: cfg.SessionCookieSecure,
	})
	router := apihttp.NewRouter(logger, authHandler, apihttp.NewLoginThrottle(cfg.LoginRatePerMinute), cfg.PasswordResetFlow)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server",
		zap.String("port", cfg.HTTPPort),
		zap.String("reset_flow", cfg.PasswordResetFlow),
		zap.String("mail_transport", cfg.MailTransport),
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("server stopped")
}

// newEmailSender elige el transporte de correo. Si el transporte falla al
// iniciar se usa el sender deshabilitado y los envíos reportan error.
func newEmailSender(cfg *config.Config, logger *zap.Logger) (email.Sender, func()) {
	noop := func() {}
	switch cfg.MailTransport {
	case config.MailTransportKafka:
		sender, err := email.NewKafkaSender(cfg.KafkaBrokers, cfg.KafkaMailTopic)
		if err != nil {
			logger.Warn("kafka sender init failed", zap.Error(err))
			return email.NewDisabledSender("kafka sender not configured"), noop
		}
		return sender, func() {
			if err := sender.Close(); err != nil {
				logger.Warn("kafka sender close", zap.Error(err))
			}
		}
	case config.MailTransportSMTP:
		if cfg.SMTPHost == "" {
			logger.Warn("smtp host not configured, email disabled")
			return email.NewDisabledSender("email sender not configured"), noop
		}
		sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
			return email.NewDisabledSender("email sender not configured"), noop
		}
		return sender, noop
	default:
		return email.NewDisabledSender("email disabled by configuration"), noop
	}
}
