package domain

import "time"

// OTP es un código numérico de reset de password. Se marca como usado al
// consumirse; la fila se conserva para auditoría.
type OTP struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Code      string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	IsUsed    bool      `json:"is_used"`
	CreatedAt time.Time `json:"created_at"`
}

// LiveAt indica si el código todavía puede aceptarse en el instante now.
func (o OTP) LiveAt(now time.Time) bool {
	return !o.IsUsed && now.Before(o.ExpiresAt)
}
