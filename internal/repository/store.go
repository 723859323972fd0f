package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier es lo que los repositorios necesitan de la base. Lo cumplen
// *pgxpool.Pool y pgx.Tx, así el mismo código corre dentro o fuera de una
// transacción.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxRunner ejecuta fn con repositorios atados a una única transacción.
// Si fn devuelve error no se confirma nada.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(users UserRepository, otps OTPRepository) error) error
}

type Store struct {
	db Querier
}

func NewStore(db Querier) *Store {
	return &Store{db: db}
}

func (s *Store) WithTx(ctx context.Context, fn func(users UserRepository, otps OTPRepository) error) error {
	return inTx(ctx, s.db, func(tx pgx.Tx) error {
		return fn(NewPgUserRepository(tx), NewPgOTPRepository(tx))
	})
}

// inTx confirma si fn termina sin error y deshace en cualquier otro caso,
// panics incluidos.
func inTx(ctx context.Context, db Querier, fn func(tx pgx.Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	err = fn(tx)
	return err
}
