// Package store persists settlement receipts so resource servers can audit
// what was paid for which resource.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Receipt is one settled payment recorded by the resource-server middleware.
type Receipt struct {
	ID          uuid.UUID
	Payer       string
	PayTo       string
	Asset       string
	Amount      string
	Network     string
	Resource    string
	Transaction string
	CreatedAt   time.Time
}

// ReceiptStore records and lists settlement receipts.
type ReceiptStore interface {
	Insert(ctx context.Context, r Receipt) (uuid.UUID, error)
	ListByPayTo(ctx context.Context, payTo string, limit int) ([]Receipt, error)
}

// PostgresStore implements ReceiptStore on a SQL database.
type PostgresStore struct {
	db *sql.DB
}

// Open connects to the database at dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an existing database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate creates the receipts table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS receipts (
			id UUID PRIMARY KEY,
			payer TEXT NOT NULL,
			pay_to TEXT NOT NULL,
			asset TEXT NOT NULL,
			amount TEXT NOT NULL,
			network TEXT NOT NULL,
			resource TEXT NOT NULL,
			transaction_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create receipts table: %w", err)
	}
	return nil
}

// Insert records a receipt and returns its generated id.
func (s *PostgresStore) Insert(ctx context.Context, r Receipt) (uuid.UUID, error) {
	id := r.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO receipts (id, payer, pay_to, asset, amount, network, resource, transaction_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, r.Payer, r.PayTo, r.Asset, r.Amount, r.Network, r.Resource, r.Transaction, createdAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert receipt: %w", err)
	}
	return id, nil
}

// ListByPayTo returns the most recent receipts addressed to one receiver.
func (s *PostgresStore) ListByPayTo(ctx context.Context, payTo string, limit int) ([]Receipt, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payer, pay_to, asset, amount, network, resource, transaction_hash, created_at
		FROM receipts
		WHERE pay_to = $1
		ORDER BY created_at DESC
		LIMIT $2`, payTo, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []Receipt
	for rows.Next() {
		var r Receipt
		if err := rows.Scan(&r.ID, &r.Payer, &r.PayTo, &r.Asset, &r.Amount, &r.Network, &r.Resource, &r.Transaction, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read receipts: %w", err)
	}
	return receipts, nil
}
