package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"fittrack/internal/domain"
	"fittrack/internal/email"
	"fittrack/internal/repository"
)

// ForgotPassword emite un OTP de 6 dígitos con vida de OTPTTL. Los OTP
// anteriores del usuario se borran antes de insertar el nuevo.
func (s *AuthService) ForgotPassword(ctx context.Context, emailAddr string) error {
	user, err := s.findByEmail(ctx, emailAddr)
	if err != nil {
		return err
	}
	if !s.limiter.Allow("reset:" + user.Email) {
		return ErrRateLimited
	}

	code, err := s.tokens.OTP()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	otp := domain.OTP{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Email:     user.Email,
		Code:      code,
		ExpiresAt: now.Add(s.cfg.OTPTTL),
		CreatedAt: now,
	}
	if err := s.otps.InsertOTP(ctx, otp); err != nil {
		return upstream("insert otp", err)
	}

	if s.sender == nil {
		return ErrEmailSendFailure
	}
	msg, err := email.PasswordResetOTPMessage(user.Email, user.Name, code, otp.ExpiresAt)
	if err != nil {
		return err
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		s.logger.Warn("send password reset otp failed", zap.Error(err), zap.String("user_id", user.ID))
		return ErrEmailSendFailure
	}
	return nil
}

// VerifyOTP no modifica estado: puede llamarse varias veces antes del reset.
func (s *AuthService) VerifyOTP(ctx context.Context, emailAddr, code string) (bool, error) {
	_, err := s.liveOTP(ctx, s.normalizeEmail(emailAddr), code)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrOTPInvalid):
		return false, nil
	default:
		return false, err
	}
}

// ResetPassword vuelve a validar el OTP, reemplaza el hash y marca el OTP
// como usado sin borrarlo.
func (s *AuthService) ResetPassword(ctx context.Context, emailAddr, code, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	user, err := s.findByEmail(ctx, emailAddr)
	if err != nil {
		return err
	}
	otp, err := s.liveOTP(ctx, user.Email, code)
	if err != nil {
		return err
	}
	if otp.UserID != user.ID {
		return ErrOTPInvalid
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	// El OTP se consume antes de tocar el password; si otra petición lo
	// consumió primero, esta falla sin escribir nada.
	err = s.tx.WithTx(ctx, func(users repository.UserRepository, otps repository.OTPRepository) error {
		if err := otps.MarkOTPUsed(ctx, otp.ID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOTPInvalid
			}
			return upstream("mark otp used", err)
		}
		if err := users.UpdateUserPassword(ctx, user.ID, hash); err != nil {
			return upstream("update password", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("password reset completed", zap.String("user_id", user.ID))
	return nil
}

func (s *AuthService) liveOTP(ctx context.Context, emailAddr, code string) (domain.OTP, error) {
	code = strings.TrimSpace(code)
	if emailAddr == "" || !isValidOTPCode(code) {
		return domain.OTP{}, ErrOTPInvalid
	}
	otp, err := s.otps.FindOTP(ctx, emailAddr, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OTP{}, ErrOTPInvalid
		}
		return domain.OTP{}, upstream("find otp", err)
	}
	if !otp.LiveAt(s.now()) {
		return domain.OTP{}, ErrOTPInvalid
	}
	return otp, nil
}

// RequestTokenReset es el flujo de reset alternativo: guarda un token en la
// fila del usuario con vida de LegacyResetTTL y envía enlace y código.
// Solo se monta cuando PASSWORD_RESET_FLOW=token.
func (s *AuthService) RequestTokenReset(ctx context.Context, emailAddr string) error {
	user, err := s.findByEmail(ctx, emailAddr)
	if err != nil {
		return err
	}
	if !s.limiter.Allow("reset:" + user.Email) {
		return ErrRateLimited
	}

	token, err := s.tokens.VerificationToken()
	if err != nil {
		return err
	}
	expiresAt := s.now().UTC().Add(s.cfg.LegacyResetTTL)
	if err := s.users.UpdateUserResetToken(ctx, user.ID, &token, &expiresAt); err != nil {
		return upstream("store reset token", err)
	}

	if s.sender == nil {
		return ErrEmailSendFailure
	}
	msg, err := email.PasswordResetLinkMessage(user.Email, user.Name, s.link("/reset-password", token), CodeFromToken(token), expiresAt)
	if err != nil {
		return err
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		s.logger.Warn("send password reset link failed", zap.Error(err), zap.String("user_id", user.ID))
		return ErrEmailSendFailure
	}
	return nil
}

// ResetPasswordWithCode completa el flujo por token. El token se limpia en
// el mismo UPDATE que cambia el hash, así un código solo sirve una vez.
func (s *AuthService) ResetPasswordWithCode(ctx context.Context, emailAddr, code, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	user, err := s.findByEmail(ctx, emailAddr)
	if err != nil {
		return err
	}
	if !s.tokenLive(user.ResetToken, user.ResetExpiresAt) || !codeMatches(*user.ResetToken, code) {
		return ErrResetTokenInvalid
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.ConsumeResetToken(ctx, user.ID, *user.ResetToken, hash, s.now()); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrResetTokenInvalid
		}
		return upstream("consume reset token", err)
	}
	s.logger.Info("password reset completed", zap.String("user_id", user.ID), zap.String("flow", "token"))
	return nil
}

// directTx corre fn sobre los repositorios sin transacción. Lo usa el
// servicio cuando no se le da un TxRunner.
type directTx struct {
	users repository.UserRepository
	otps  repository.OTPRepository
}

func (d directTx) WithTx(_ context.Context, fn func(repository.UserRepository, repository.OTPRepository) error) error {
	return fn(d.users, d.otps)
}
