package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Flujos de reset de password soportados. Solo uno se monta en el router.
const (
	ResetFlowOTP   = "otp"
	ResetFlowToken = "token"
)

// Transportes de correo soportados.
const (
	MailTransportSMTP     = "smtp"
	MailTransportKafka    = "kafka"
	MailTransportDisabled = "disabled"
)

// Config centraliza la configuración del servicio. Se construye una vez al
// arrancar y se inyecta; nadie la modifica después.
type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	AppBaseURL  string `env:"APP_BASE_URL" envDefault:"http://localhost:5173"`

	JWTSecret           string        `env:"JWT_SECRET,required"`
	SessionTTL          time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	SessionCookieName   string        `env:"SESSION_COOKIE_NAME" envDefault:"session"`
	SessionCookieSecure bool          `env:"SESSION_COOKIE_SECURE" envDefault:"false"`

	BcryptCost        int           `env:"BCRYPT_COST" envDefault:"10"`
	VerificationTTL   time.Duration `env:"VERIFICATION_TTL" envDefault:"24h"`
	OTPTTL            time.Duration `env:"OTP_TTL" envDefault:"10m"`
	LegacyResetTTL    time.Duration `env:"LEGACY_RESET_TTL" envDefault:"1h"`
	PasswordResetFlow string        `env:"PASSWORD_RESET_FLOW" envDefault:"otp"`
	NormalizeEmail    bool          `env:"NORMALIZE_EMAIL" envDefault:"true"`

	LoginRatePerMinute   int `env:"LOGIN_RATE_PER_MINUTE" envDefault:"20"`
	OTPRequestsPerWindow int `env:"OTP_REQUESTS_PER_WINDOW" envDefault:"3"`

	MailTransport  string   `env:"MAIL_TRANSPORT" envDefault:"smtp"`
	SMTPHost       string   `env:"SMTP_HOST"`
	SMTPPort       int      `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser       string   `env:"SMTP_USER"`
	SMTPPass       string   `env:"SMTP_PASS"`
	SMTPFrom       string   `env:"SMTP_FROM"`
	SMTPFromName   string   `env:"SMTP_FROM_NAME" envDefault:"FitTrack"`
	SMTPUseTLS     bool     `env:"SMTP_USE_TLS" envDefault:"false"`
	KafkaBrokers   []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaMailTopic string   `env:"KAFKA_MAIL_TOPIC" envDefault:"mail.outbound"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rechaza combinaciones que el servicio no sabe atender.
func (c *Config) Validate() error {
	c.PasswordResetFlow = strings.ToLower(strings.TrimSpace(c.PasswordResetFlow))
	switch c.PasswordResetFlow {
	case ResetFlowOTP, ResetFlowToken:
	default:
		return fmt.Errorf("PASSWORD_RESET_FLOW must be %q or %q, got %q", ResetFlowOTP, ResetFlowToken, c.PasswordResetFlow)
	}

	c.MailTransport = strings.ToLower(strings.TrimSpace(c.MailTransport))
	switch c.MailTransport {
	case MailTransportSMTP, MailTransportKafka, MailTransportDisabled:
	default:
		return fmt.Errorf("MAIL_TRANSPORT must be smtp, kafka or disabled, got %q", c.MailTransport)
	}
	if c.MailTransport == MailTransportKafka && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when MAIL_TRANSPORT=kafka")
	}

	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET must not be blank")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost)
	}
	return nil
}

// ClientConfig configura el cliente de terminal.
type ClientConfig struct {
	APIBaseURL      string        `env:"API_BASE_URL" envDefault:"http://localhost:8080"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"5m"`
	IdleWarningLead time.Duration `env:"IDLE_WARNING_LEAD" envDefault:"1m"`
}

// LoadClientConfig carga la configuración del cliente desde el entorno.
func LoadClientConfig() (*ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if cfg.IdleWarningLead >= cfg.IdleTimeout {
		return nil, fmt.Errorf("IDLE_WARNING_LEAD must be shorter than IDLE_TIMEOUT")
	}
	return &cfg, nil
}
