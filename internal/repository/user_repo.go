package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"fittrack/internal/domain"
)

// ErrDuplicateEmail indica que el insert violó la unicidad de users.email.
var ErrDuplicateEmail = errors.New("email already registered")

const uniqueViolation = "23505"

// UserRepository define el contrato de persistencia para usuarios.
// Las lecturas sin resultado devuelven pgx.ErrNoRows.
type UserRepository interface {
	FindUserByEmail(ctx context.Context, email string) (domain.User, error)
	FindUserByID(ctx context.Context, id string) (domain.User, error)
	FindUserByVerificationToken(ctx context.Context, token string) (domain.User, error)
	InsertUser(ctx context.Context, user domain.User) error
	UpdateUserVerification(ctx context.Context, id string, verified bool, token *string, expiresAt *time.Time) error
	UpdateUserResetToken(ctx context.Context, id string, token *string, expiresAt *time.Time) error
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	// ConsumeResetToken cambia el hash y limpia el token de reset solo si el
	// token coincide y sigue vigente en at; si no, devuelve pgx.ErrNoRows.
	ConsumeResetToken(ctx context.Context, id, token, passwordHash string, at time.Time) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// PgUserRepository implementa UserRepository sobre pgx.
type PgUserRepository struct {
	db Querier
}

func NewPgUserRepository(db Querier) *PgUserRepository {
	return &PgUserRepository{db: db}
}

const userColumns = `
	id, name, email, password_hash, role, status, is_verified,
	verification_token, token_expires_at, reset_token, reset_token_expires_at,
	last_login, created_at
`

func (r *PgUserRepository) FindUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.findOne(ctx, `SELECT`+userColumns+`FROM users WHERE email = $1`, email)
}

func (r *PgUserRepository) FindUserByID(ctx context.Context, id string) (domain.User, error) {
	return r.findOne(ctx, `SELECT`+userColumns+`FROM users WHERE id = $1`, id)
}

func (r *PgUserRepository) FindUserByVerificationToken(ctx context.Context, token string) (domain.User, error) {
	return r.findOne(ctx, `SELECT`+userColumns+`FROM users WHERE verification_token = $1`, token)
}

func (r *PgUserRepository) findOne(ctx context.Context, query string, arg any) (domain.User, error) {
	var (
		u      domain.User
		role   string
		status string
	)
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&role,
		&status,
		&u.IsVerified,
		&u.VerificationToken,
		&u.TokenExpiresAt,
		&u.ResetToken,
		&u.ResetExpiresAt,
		&u.LastLogin,
		&u.CreatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}
	u.Role = domain.Role(role)
	u.Status = domain.Status(status)
	return u, nil
}

func (r *PgUserRepository) InsertUser(ctx context.Context, user domain.User) error {
	const query = `
		INSERT INTO users (
			id, name, email, password_hash, role, status, is_verified,
			verification_token, token_expires_at, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		string(user.Status),
		user.IsVerified,
		user.VerificationToken,
		user.TokenExpiresAt,
		user.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}

// UpdateUserVerification escribe el estado de verificación completo. Con
// verified=true el token siempre se limpia, aunque se pase uno.
func (r *PgUserRepository) UpdateUserVerification(ctx context.Context, id string, verified bool, token *string, expiresAt *time.Time) error {
	if verified {
		token, expiresAt = nil, nil
	}
	const query = `
		UPDATE users
		SET is_verified = $2, verification_token = $3, token_expires_at = $4
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, verified, token, expiresAt)
}

func (r *PgUserRepository) UpdateUserResetToken(ctx context.Context, id string, token *string, expiresAt *time.Time) error {
	const query = `
		UPDATE users
		SET reset_token = $2, reset_token_expires_at = $3
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, token, expiresAt)
}

func (r *PgUserRepository) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	const query = `UPDATE users SET password_hash = $2 WHERE id = $1`
	return r.execOne(ctx, query, id, passwordHash)
}

func (r *PgUserRepository) ConsumeResetToken(ctx context.Context, id, token, passwordHash string, at time.Time) error {
	const query = `
		UPDATE users
		SET password_hash = $2, reset_token = NULL, reset_token_expires_at = NULL
		WHERE id = $1 AND reset_token = $3 AND reset_token_expires_at > $4
	`
	return r.execOne(ctx, query, id, passwordHash, token, at)
}

func (r *PgUserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE users SET last_login = $2 WHERE id = $1`
	return r.execOne(ctx, query, id, at)
}

func (r *PgUserRepository) execOne(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
