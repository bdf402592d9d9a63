package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klarasod/studio-go/internal/domain"
)

type ClassRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *ClassRepo) With(db DB) *ClassRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *ClassRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Create inserts a class session and returns its ID.
func (r *ClassRepo) Create(ctx context.Context, c domain.ClassSession) (int64, error) {
	const op = "postgres.ClassRepo.Create"

	db := r.handle()

	var id int64
	if err := db.QueryRow(ctx,
		`INSERT INTO classes(title, starts_at, ends_at, seat_limit, price_cents)
       	 VALUES ($1, $2, $3, $4, $5)
     	 RETURNING id`,
		c.Title, c.StartsAt, c.EndsAt, c.SeatLimit, c.PriceCents,
	).Scan(&id); err != nil {
		return 0, wrapDBErr(op, err)
	}

	return id, nil
}

// Update rewrites the editable attributes of a class session.
//
// Returns:
//   - error: repository.ErrNotFound if the class does not exist.
func (r *ClassRepo) Update(ctx context.Context, c domain.ClassSession) error {
	const op = "postgres.ClassRepo.Update"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE classes
         SET title = $2, starts_at = $3, ends_at = $4, seat_limit = $5, price_cents = $6
      	 WHERE id = $1`,
		c.ID, c.Title, c.StartsAt, c.EndsAt, c.SeatLimit, c.PriceCents,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return wrapDBErr(op, pgx.ErrNoRows)
	}

	return nil
}

// Delete removes a class session.
//
// Returns:
//   - error: repository.ErrNotFound if the class does not exist.
//   - error: repository.ErrClassReferenced while bookings still point at it.
func (r *ClassRepo) Delete(ctx context.Context, id int64) error {
	const op = "postgres.ClassRepo.Delete"

	db := r.handle()

	tag, err := db.Exec(ctx, `DELETE FROM classes WHERE id = $1`, id)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return wrapDBErr(op, pgx.ErrNoRows)
	}

	return nil
}

// ByID retrieves a class session by its ID.
//
// Returns:
//   - error: repository.ErrNotFound if the class is not found.
func (r *ClassRepo) ByID(ctx context.Context, id int64) (*domain.ClassSession, error) {
	const op = "postgres.ClassRepo.ByID"

	db := r.handle()

	var c domain.ClassSession
	err := db.QueryRow(ctx,
		`SELECT id, title, starts_at, ends_at, seat_limit, price_cents, created_at
       	 FROM classes WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Title, &c.StartsAt, &c.EndsAt, &c.SeatLimit, &c.PriceCents, &c.CreatedAt)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &c, nil
}

// ListUpcoming lists class sessions that have not yet started.
func (r *ClassRepo) ListUpcoming(ctx context.Context, limit, offset int) ([]domain.ClassSession, error) {
	const op = "postgres.ClassRepo.ListUpcoming"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, title, starts_at, ends_at, seat_limit, price_cents, created_at
		 FROM classes
		 WHERE starts_at >= now()
		 ORDER BY starts_at
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.ClassSession
	for rows.Next() {
		var c domain.ClassSession
		if err := rows.Scan(
			&c.ID, &c.Title, &c.StartsAt, &c.EndsAt,
			&c.SeatLimit, &c.PriceCents, &c.CreatedAt,
		); err != nil {
			return nil, wrapDBErr(op, err)
		}

		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}
