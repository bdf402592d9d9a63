package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klarasod/studio-go/internal/domain"
	"github.com/klarasod/studio-go/internal/repository"
)

// FailedRepo is the append-only ledger of payments that could not be turned
// into bookings. Rows are never deleted; only the refunded flag is updated
// during admin remediation.
type FailedRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *FailedRepo) With(db DB) *FailedRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *FailedRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Record appends one ledger entry and returns its ID.
func (r *FailedRepo) Record(ctx context.Context, fb domain.FailedBooking) (int64, error) {
	const op = "postgres.FailedRepo.Record"

	db := r.handle()

	var id int64
	if err := db.QueryRow(ctx,
		`INSERT INTO failed_bookings(
		 	class_id, user_id, guest_name, guest_email,
		 	payment_ref, gateway_paid, method, reason
		 )
       	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
     	 RETURNING id`,
		fb.ClassID, fb.UserID, fb.GuestName, fb.GuestEmail,
		fb.PaymentRef, fb.GatewayPaid, fb.Method, fb.Reason,
	).Scan(&id); err != nil {
		return 0, wrapDBErr(op, err)
	}

	return id, nil
}

// ListUnrefundedCard lists the triage view: card payments that went through
// at the gateway, produced no booking, and have not been refunded yet.
func (r *FailedRepo) ListUnrefundedCard(ctx context.Context) ([]domain.FailedBooking, error) {
	const op = "postgres.FailedRepo.ListUnrefundedCard"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, class_id, user_id, guest_name, guest_email,
		        payment_ref, gateway_paid, method, reason, refunded, created_at
       	 FROM failed_bookings
      	 WHERE method = $1 AND gateway_paid = true AND refunded = false
      	 ORDER BY created_at`,
		domain.MethodCard,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.FailedBooking
	for rows.Next() {
		var fb domain.FailedBooking
		if err := rows.Scan(
			&fb.ID, &fb.ClassID, &fb.UserID, &fb.GuestName, &fb.GuestEmail,
			&fb.PaymentRef, &fb.GatewayPaid, &fb.Method, &fb.Reason,
			&fb.Refunded, &fb.CreatedAt,
		); err != nil {
			return nil, wrapDBErr(op, err)
		}

		out = append(out, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

// ByID retrieves one ledger entry.
//
// Returns:
//   - error: repository.ErrNotFound if the entry does not exist.
func (r *FailedRepo) ByID(ctx context.Context, id int64) (*domain.FailedBooking, error) {
	const op = "postgres.FailedRepo.ByID"

	db := r.handle()

	var fb domain.FailedBooking
	err := db.QueryRow(ctx,
		`SELECT id, class_id, user_id, guest_name, guest_email,
		        payment_ref, gateway_paid, method, reason, refunded, created_at
       	 FROM failed_bookings WHERE id = $1`,
		id,
	).Scan(
		&fb.ID, &fb.ClassID, &fb.UserID, &fb.GuestName, &fb.GuestEmail,
		&fb.PaymentRef, &fb.GatewayPaid, &fb.Method, &fb.Reason,
		&fb.Refunded, &fb.CreatedAt,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &fb, nil
}

// SetRefunded flips the refunded flag on a ledger entry. The guard on
// refunded = false keeps remediation idempotent.
func (r *FailedRepo) SetRefunded(ctx context.Context, id int64) error {
	const op = "postgres.FailedRepo.SetRefunded"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE failed_bookings SET refunded = true WHERE id = $1 AND refunded = false`,
		id,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM failed_bookings WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return wrapDBErr(op, err)
		}
		if !exists {
			return wrapDBErr(op, pgx.ErrNoRows)
		}
		return fmt.Errorf("%s:%w", op, repository.ErrAlreadyRefunded)
	}

	return nil
}
