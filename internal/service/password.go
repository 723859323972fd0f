package service

import (
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	// bcrypt no admite más de 72 bytes.
	maxPasswordLength = 72
)

// PasswordHasher aplica bcrypt con sal por password.
type PasswordHasher struct {
	cost int
}

func NewPasswordHasher(cost int) PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return PasswordHasher{cost: cost}
}

func (h PasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Matches compara en tiempo constante; un hash vacío o corrupto nunca coincide.
func (h PasswordHasher) Matches(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func validatePassword(password string) error {
	switch {
	case len(password) < minPasswordLength:
		return invalidInput("password", "must be at least 8 characters")
	case len(password) > maxPasswordLength:
		return invalidInput("password", "must be at most 72 bytes")
	}
	return nil
}
