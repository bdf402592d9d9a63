package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/klarasod/studio-go/internal/repository"
)

// IsRetryable reports whether err is a transient serialization or deadlock
// failure that the caller may safely retry.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return true
		}
	}

	return false
}

func translateDBErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}

	var pge *pgconn.PgError
	if errors.As(err, &pge) {
		switch pge.Code {
		// unique_violation: payment_ref already claimed by another booking
		case "23505":
			return repository.ErrConflict
		// foreign_key_violation: class still referenced by bookings
		case "23503":
			return repository.ErrClassReferenced
		}
	}

	return err
}

func wrapDBErr(op string, err error) error {
	return fmt.Errorf("%s:%w", op, translateDBErr(err))
}
