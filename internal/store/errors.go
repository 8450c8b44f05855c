package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("not found")
	ErrTxDone   = errors.New("transaction already finished")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// wrapNotFound turns sql.ErrNoRows into ErrNotFound and wraps everything
// else with the operation name.
func wrapNotFound(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func IsUniqueViolation(err error) bool {
	return hasPgCode(err, pgUniqueViolation)
}

func IsForeignKeyViolation(err error) bool {
	return hasPgCode(err, pgForeignKeyViolation)
}

func IsCheckViolation(err error) bool {
	return hasPgCode(err, pgCheckViolation)
}

func hasPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
