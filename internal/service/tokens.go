package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strings"
)

const (
	verificationTokenBytes = 32
	verificationCodeLength = 6
	otpLength              = 6
)

// TokenGenerator produce los secretos de verificación y de reset.
type TokenGenerator interface {
	// VerificationToken devuelve 64 caracteres hex (256 bits).
	VerificationToken() (string, error)
	// OTP devuelve 6 dígitos uniformes, conservando ceros a la izquierda.
	OTP() (string, error)
}

type randomTokens struct {
	rand io.Reader
}

func NewRandomTokens() TokenGenerator {
	return randomTokens{rand: rand.Reader}
}

func (g randomTokens) VerificationToken() (string, error) {
	buf := make([]byte, verificationTokenBytes)
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func (g randomTokens) OTP() (string, error) {
	n, err := rand.Int(g.rand, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// CodeFromToken deriva el código tipeable: los primeros 6 caracteres en mayúscula.
func CodeFromToken(token string) string {
	if len(token) < verificationCodeLength {
		return strings.ToUpper(token)
	}
	return strings.ToUpper(token[:verificationCodeLength])
}

func isValidOTPCode(code string) bool {
	if len(code) != otpLength {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
