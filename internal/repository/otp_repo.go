package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fittrack/internal/domain"
)

// OTPRepository persiste los códigos de reset de password.
type OTPRepository interface {
	// InsertOTP borra los OTP previos del usuario e inserta el nuevo en una
	// sola transacción.
	InsertOTP(ctx context.Context, otp domain.OTP) error
	// FindOTP devuelve la fila más reciente con ese email y código, usada o no.
	FindOTP(ctx context.Context, email, code string) (domain.OTP, error)
	// MarkOTPUsed consume el OTP solo si sigue sin usar y vigente; si no,
	// devuelve pgx.ErrNoRows.
	MarkOTPUsed(ctx context.Context, id string) error
	DeleteOTPsForUser(ctx context.Context, userID string) error
}

// PgOTPRepository implementa OTPRepository sobre pgx.
type PgOTPRepository struct {
	db Querier
}

func NewPgOTPRepository(db Querier) *PgOTPRepository {
	return &PgOTPRepository{db: db}
}

func (r *PgOTPRepository) InsertOTP(ctx context.Context, otp domain.OTP) error {
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		// El lock de la fila del usuario serializa emisiones concurrentes.
		var id string
		if err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, otp.UserID).Scan(&id); err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		if err := deleteOTPsForUser(ctx, tx, otp.UserID); err != nil {
			return fmt.Errorf("delete previous otps: %w", err)
		}
		const insert = `
			INSERT INTO password_otps (id, user_id, email, code, expires_at, is_used, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		_, err := tx.Exec(ctx, insert,
			otp.ID,
			otp.UserID,
			otp.Email,
			otp.Code,
			otp.ExpiresAt,
			otp.IsUsed,
			otp.CreatedAt,
		)
		return err
	})
}

func (r *PgOTPRepository) FindOTP(ctx context.Context, email, code string) (domain.OTP, error) {
	const query = `
		SELECT id, user_id, email, code, expires_at, is_used, created_at
		FROM password_otps
		WHERE email = $1 AND code = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	var otp domain.OTP
	err := r.db.QueryRow(ctx, query, email, code).Scan(
		&otp.ID,
		&otp.UserID,
		&otp.Email,
		&otp.Code,
		&otp.ExpiresAt,
		&otp.IsUsed,
		&otp.CreatedAt,
	)
	if err != nil {
		return domain.OTP{}, err
	}
	return otp, nil
}

func (r *PgOTPRepository) MarkOTPUsed(ctx context.Context, id string) error {
	const query = `
		UPDATE password_otps
		SET is_used = TRUE
		WHERE id = $1 AND is_used = FALSE AND expires_at > now()
	`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PgOTPRepository) DeleteOTPsForUser(ctx context.Context, userID string) error {
	return deleteOTPsForUser(ctx, r.db, userID)
}

func deleteOTPsForUser(ctx context.Context, db Querier, userID string) error {
	_, err := db.Exec(ctx, `DELETE FROM password_otps WHERE user_id = $1`, userID)
	return err
}
