package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klarasod/studio-go/internal/domain"
	"github.com/klarasod/studio-go/internal/repository"
)

// serializationRetries bounds retries of the confirmed-booking transaction
// when Postgres aborts it with a serialization failure.
const serializationRetries = 3

type BookingRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *BookingRepo) With(db DB) *BookingRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *BookingRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// CountByClass returns the number of confirmed bookings for a class. The
// booking flow must call this fresh before every write decision; it is never
// cached.
func (r *BookingRepo) CountByClass(ctx context.Context, classID int64) (int, error) {
	const op = "postgres.BookingRepo.CountByClass"

	db := r.handle()

	var n int
	if err := db.QueryRow(ctx,
		`SELECT count(*) FROM bookings WHERE class_id = $1`,
		classID,
	).Scan(&n); err != nil {
		return 0, wrapDBErr(op, err)
	}

	return n, nil
}

// ByPaymentRef looks up the booking created for an external payment
// reference. This is the idempotency guard: a hit means the payment has
// already produced a booking.
//
// Returns:
//   - error: repository.ErrNotFound if no booking carries the reference.
func (r *BookingRepo) ByPaymentRef(ctx context.Context, ref string) (*domain.BookingWithDetail, error) {
	const op = "postgres.BookingRepo.ByPaymentRef"

	db := r.handle()

	var out domain.BookingWithDetail
	err := db.QueryRow(ctx,
		`SELECT b.id, b.class_id, b.created_at,
		        d.booking_id, d.user_id, d.guest_name, d.guest_email,
		        d.method, d.payment_ref, d.swish_paid, d.refunded, d.refunded_at, d.created_at
       	 FROM booking_details d
       	 JOIN bookings b ON b.id = d.booking_id
      	 WHERE d.payment_ref = $1`,
		ref,
	).Scan(
		&out.Booking.ID, &out.Booking.ClassID, &out.Booking.CreatedAt,
		&out.Detail.BookingID, &out.Detail.UserID, &out.Detail.GuestName, &out.Detail.GuestEmail,
		&out.Detail.Method, &out.Detail.PaymentRef, &out.Detail.SwishPaid,
		&out.Detail.Refunded, &out.Detail.RefundedAt, &out.Detail.CreatedAt,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &out, nil
}

// ByID retrieves a booking with its detail.
//
// Returns:
//   - error: repository.ErrNotFound if the booking is not found.
func (r *BookingRepo) ByID(ctx context.Context, id uuid.UUID) (*domain.BookingWithDetail, error) {
	const op = "postgres.BookingRepo.ByID"

	db := r.handle()

	var out domain.BookingWithDetail
	err := db.QueryRow(ctx,
		`SELECT b.id, b.class_id, b.created_at,
		        d.booking_id, d.user_id, d.guest_name, d.guest_email,
		        d.method, d.payment_ref, d.swish_paid, d.refunded, d.refunded_at, d.created_at
       	 FROM bookings b
       	 JOIN booking_details d ON d.booking_id = b.id
      	 WHERE b.id = $1`,
		id,
	).Scan(
		&out.Booking.ID, &out.Booking.ClassID, &out.Booking.CreatedAt,
		&out.Detail.BookingID, &out.Detail.UserID, &out.Detail.GuestName, &out.Detail.GuestEmail,
		&out.Detail.Method, &out.Detail.PaymentRef, &out.Detail.SwishPaid,
		&out.Detail.Refunded, &out.Detail.RefundedAt, &out.Detail.CreatedAt,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &out, nil
}

// HeadByID retrieves the booking row alone, with or without a detail row.
// Admin remediation deletes through this lookup so an orphan booking can
// still be cancelled.
//
// Returns:
//   - error: repository.ErrNotFound if the booking is not found.
func (r *BookingRepo) HeadByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.HeadByID"

	db := r.handle()

	var out domain.Booking
	err := db.QueryRow(ctx,
		`SELECT id, class_id, created_at FROM bookings WHERE id = $1`,
		id,
	).Scan(&out.ID, &out.ClassID, &out.CreatedAt)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &out, nil
}

// CreateConfirmed runs the capacity check and the paired booking/detail
// insert inside a single serializable transaction. Two purchasers racing for
// the last seat cannot both commit: one of them is aborted with a
// serialization failure and re-checked, so the seat limit holds without any
// compensating delete. The unique index on payment_ref turns a duplicate
// reference into repository.ErrConflict.
//
// Returns:
//   - error: repository.ErrNotFound if the class does not exist.
//   - error: repository.ErrClassFull if the class has no free seats.
//   - error: repository.ErrConflict if the payment reference is already used.
func (r *BookingRepo) CreateConfirmed(ctx context.Context, nb domain.NewBooking) (*domain.BookingWithDetail, error) {
	const op = "postgres.BookingRepo.CreateConfirmed"

	if r.db != nil {
		out, err := r.createConfirmedCore(ctx, r.db, nb)
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, translateDBErr(err))
		}
		return out, nil
	}

	var lastErr error
	for attempt := 0; attempt < serializationRetries; attempt++ {
		out, err := r.createConfirmedTx(ctx, nb)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			break
		}
	}

	return nil, fmt.Errorf("%s:%w", op, translateDBErr(lastErr))
}

func (r *BookingRepo) createConfirmedTx(ctx context.Context, nb domain.NewBooking) (*domain.BookingWithDetail, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, err
	}

	defer tx.Rollback(ctx)

	out, err := r.createConfirmedCore(ctx, tx, nb)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return out, nil
}

func (r *BookingRepo) createConfirmedCore(ctx context.Context, db DB, nb domain.NewBooking) (*domain.BookingWithDetail, error) {
	var seatLimit int
	if err := db.QueryRow(ctx,
		`SELECT seat_limit FROM classes WHERE id = $1`,
		nb.ClassID,
	).Scan(&seatLimit); err != nil {
		return nil, err
	}

	var booked int
	if err := db.QueryRow(ctx,
		`SELECT count(*) FROM bookings WHERE class_id = $1`,
		nb.ClassID,
	).Scan(&booked); err != nil {
		return nil, err
	}

	if booked >= seatLimit {
		return nil, repository.ErrClassFull
	}

	out := domain.BookingWithDetail{
		Booking: domain.Booking{
			ID:      uuid.New(),
			ClassID: nb.ClassID,
		},
	}

	if err := db.QueryRow(ctx,
		`INSERT INTO bookings(id, class_id)
       	 VALUES ($1, $2)
     	 RETURNING created_at`,
		out.Booking.ID, nb.ClassID,
	).Scan(&out.Booking.CreatedAt); err != nil {
		return nil, err
	}

	out.Detail = domain.BookingDetail{
		BookingID:  out.Booking.ID,
		UserID:     nb.UserID,
		GuestName:  nb.GuestName,
		GuestEmail: nb.GuestEmail,
		Method:     nb.Method,
		PaymentRef: nb.PaymentRef,
		SwishPaid:  nb.SwishPaid,
	}

	if err := db.QueryRow(ctx,
		`INSERT INTO booking_details(
		 	booking_id, user_id, guest_name, guest_email,
		 	method, payment_ref, swish_paid
		 )
       	 VALUES ($1, $2, $3, $4, $5, $6, $7)
     	 RETURNING created_at`,
		out.Booking.ID, nb.UserID, nb.GuestName, nb.GuestEmail,
		nb.Method, nb.PaymentRef, nb.SwishPaid,
	).Scan(&out.Detail.CreatedAt); err != nil {
		return nil, err
	}

	return &out, nil
}

// Delete removes a booking; the detail row goes with it via ON DELETE
// CASCADE. Used by admin cancellation and refund-with-removal.
//
// Returns:
//   - error: repository.ErrNotFound if the booking is not found.
func (r *BookingRepo) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "postgres.BookingRepo.Delete"

	db := r.handle()

	tag, err := db.Exec(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return wrapDBErr(op, pgx.ErrNoRows)
	}

	return nil
}

// MarkSwishPaid flips the manual-payment-received flag.
//
// Returns:
//   - error: repository.ErrNotFound if the booking has no detail row.
func (r *BookingRepo) MarkSwishPaid(ctx context.Context, id uuid.UUID) error {
	const op = "postgres.BookingRepo.MarkSwishPaid"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE booking_details SET swish_paid = true WHERE booking_id = $1`,
		id,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return wrapDBErr(op, pgx.ErrNoRows)
	}

	return nil
}

// SetRefunded stamps a detail as refunded. The guard on refunded = false
// makes the second refund of the same booking a no-op reported as
// repository.ErrAlreadyRefunded.
func (r *BookingRepo) SetRefunded(ctx context.Context, id uuid.UUID) error {
	const op = "postgres.BookingRepo.SetRefunded"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE booking_details
         SET refunded = true, refunded_at = now()
      	 WHERE booking_id = $1 AND refunded = false`,
		id,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrAlreadyRefunded)
	}

	return nil
}

// ListByClass lists bookings with details for one class, newest first.
func (r *BookingRepo) ListByClass(ctx context.Context, classID int64) ([]domain.BookingWithDetail, error) {
	const op = "postgres.BookingRepo.ListByClass"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT b.id, b.class_id, b.created_at,
		        d.booking_id, d.user_id, d.guest_name, d.guest_email,
		        d.method, d.payment_ref, d.swish_paid, d.refunded, d.refunded_at, d.created_at
       	 FROM bookings b
       	 JOIN booking_details d ON d.booking_id = b.id
      	 WHERE b.class_id = $1
      	 ORDER BY b.created_at DESC`,
		classID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.BookingWithDetail
	for rows.Next() {
		var bd domain.BookingWithDetail
		if err := rows.Scan(
			&bd.Booking.ID, &bd.Booking.ClassID, &bd.Booking.CreatedAt,
			&bd.Detail.BookingID, &bd.Detail.UserID, &bd.Detail.GuestName, &bd.Detail.GuestEmail,
			&bd.Detail.Method, &bd.Detail.PaymentRef, &bd.Detail.SwishPaid,
			&bd.Detail.Refunded, &bd.Detail.RefundedAt, &bd.Detail.CreatedAt,
		); err != nil {
			return nil, wrapDBErr(op, err)
		}

		out = append(out, bd)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

// Orphans returns bookings that have no detail row. A non-empty result is an
// integrity violation left behind by out-of-band damage; the booking flow
// itself cannot produce one because both rows commit in the same transaction.
func (r *BookingRepo) Orphans(ctx context.Context) ([]domain.Booking, error) {
	const op = "postgres.BookingRepo.Orphans"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT b.id, b.class_id, b.created_at
       	 FROM bookings b
       	 LEFT JOIN booking_details d ON d.booking_id = b.id
      	 WHERE d.booking_id IS NULL
      	 ORDER BY b.created_at`,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		var b domain.Booking
		if err := rows.Scan(&b.ID, &b.ClassID, &b.CreatedAt); err != nil {
			return nil, wrapDBErr(op, err)
		}

		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}
