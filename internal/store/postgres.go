package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"user-records/internal/db"
)

// OpenDB opens a PostgreSQL connection pool using DATABASE_URL.
func OpenDB(databaseURL string) (*sql.DB, error) {
	if databaseURL == "" {
		return nil, errors.New("DATABASE_URL is empty")
	}

	conn, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(30 * time.Minute)

	// Validate connectivity immediately.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}

// Postgres implements Gateway on a database/sql pool.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open pool. The caller keeps ownership of conn.
func NewPostgres(conn *sql.DB) *Postgres {
	return &Postgres{db: conn}
}

// Initialize creates the users table if it does not exist.
func (p *Postgres) Initialize(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, db.CreateUsersTable()); err != nil {
		return fmt.Errorf("initialize schema: %w", classify(err))
	}
	return nil
}

// Insert stores a new user and returns the id assigned by the database.
func (p *Postgres) Insert(ctx context.Context, name, email string) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO users (name, email) VALUES ($1, $2) RETURNING id`,
		name, email,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", classify(err))
	}
	return id, nil
}

func (p *Postgres) FetchByID(ctx context.Context, id int64) (Record, error) {
	var (
		rec   Record
		rowID int64
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, email FROM users WHERE id = $1`, id,
	).Scan(&rowID, &rec.Name, &rec.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("fetch user %d: %w", id, classify(err))
	}
	rec.ID = ptr(rowID)
	return rec, nil
}

// FetchAll returns every user ordered by id. An empty table yields an
// empty, non-nil slice.
func (p *Postgres) FetchAll(ctx context.Context) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name, email FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", classify(err))
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			rec   Record
			rowID int64
		)
		if err := rows.Scan(&rowID, &rec.Name, &rec.Email); err != nil {
			return nil, fmt.Errorf("scan user: %w", classify(err))
		}
		rec.ID = ptr(rowID)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", classify(err))
	}
	return out, nil
}

// UpdateByID overwrites name and email. It returns ErrNotFound when no row
// has the id.
func (p *Postgres) UpdateByID(ctx context.Context, id int64, name, email string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE users SET name = $1, email = $2 WHERE id = $3`,
		name, email, id,
	)
	if err != nil {
		return fmt.Errorf("update user %d: %w", id, classify(err))
	}
	return requireAffected(res)
}

// DeleteByID removes the row. It returns ErrNotFound when no row has the id.
func (p *Postgres) DeleteByID(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user %d: %w", id, classify(err))
	}
	return requireAffected(res)
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
