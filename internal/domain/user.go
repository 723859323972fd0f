package domain

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// User es la fila de credenciales. Si IsVerified es true, VerificationToken
// y TokenExpiresAt son nil.
type User struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Email             string     `json:"email"`
	PasswordHash      string     `json:"-"`
	Role              Role       `json:"role"`
	Status            Status     `json:"status"`
	IsVerified        bool       `json:"isVerified"`
	VerificationToken *string    `json:"-"`
	TokenExpiresAt    *time.Time `json:"-"`
	ResetToken        *string    `json:"-"`
	ResetExpiresAt    *time.Time `json:"-"`
	LastLogin         *time.Time `json:"lastLogin,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// PublicUser es la proyección que se devuelve a los clientes.
type PublicUser struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Role       Role       `json:"role"`
	Status     Status     `json:"status"`
	IsVerified bool       `json:"isVerified"`
	LastLogin  *time.Time `json:"lastLogin,omitempty"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Role:       u.Role,
		Status:     u.Status,
		IsVerified: u.IsVerified,
		LastLogin:  u.LastLogin,
	}
}
