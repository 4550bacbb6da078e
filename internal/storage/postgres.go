package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigratePostgres applies the embedded store migrations to the database
// at databaseURL.
func MigratePostgres(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	// The pgx/v5 migrate driver registers the pgx5 scheme.
	url := databaseURL
	if strings.HasPrefix(url, "postgres://") {
		url = "pgx5://" + strings.TrimPrefix(url, "postgres://")
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// PostgresIdempotencyStore implements IdempotencyStore on PostgreSQL.
type PostgresIdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewPostgresIdempotencyStore creates a Postgres-backed idempotency store.
func NewPostgresIdempotencyStore(pool *pgxpool.Pool) *PostgresIdempotencyStore {
	return &PostgresIdempotencyStore{pool: pool}
}

// Get implements IdempotencyStore.
func (s *PostgresIdempotencyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query := `
		SELECT response
		FROM payout_idempotency
		WHERE idempotency_key = $1 AND expires_at > now()
	`

	var response []byte
	err := s.pool.QueryRow(ctx, query, key).Scan(&response)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get idempotency record: %w", err)
	}
	return response, true, nil
}

// Put implements IdempotencyStore. Last write wins.
func (s *PostgresIdempotencyStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	query := `
		INSERT INTO payout_idempotency (idempotency_key, response, created_at, expires_at)
		VALUES ($1, $2, now(), now() + $3)
		ON CONFLICT (idempotency_key)
		DO UPDATE SET response = EXCLUDED.response, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
	`

	if _, err := s.pool.Exec(ctx, query, key, value, ttl); err != nil {
		return fmt.Errorf("put idempotency record: %w", err)
	}
	return nil
}

// PostgresReceiptStore implements ReceiptStore on PostgreSQL. The
// conditional insert on the composite primary key is the atomic
// single-winner claim.
type PostgresReceiptStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewPostgresReceiptStore creates a Postgres-backed receipt store.
func NewPostgresReceiptStore(pool *pgxpool.Pool) *PostgresReceiptStore {
	return &PostgresReceiptStore{pool: pool, ttl: DefaultReceiptTTL}
}

// ConsumeOnce implements ReceiptStore. An expired marker may be
// reclaimed; the conditional update keeps that transition atomic too.
func (s *PostgresReceiptStore) ConsumeOnce(ctx context.Context, namespace, receiptID string) (bool, error) {
	query := `
		INSERT INTO payout_receipts (namespace, receipt_id, consumed_at, expires_at)
		VALUES ($1, $2, now(), now() + $3)
		ON CONFLICT (namespace, receipt_id)
		DO UPDATE SET consumed_at = now(), expires_at = now() + $3
		WHERE payout_receipts.expires_at <= now()
	`

	tag, err := s.pool.Exec(ctx, query, namespace, receiptID, s.ttl)
	if err != nil {
		return false, fmt.Errorf("consume receipt %s/%s: %w", namespace, receiptID, err)
	}
	return tag.RowsAffected() == 1, nil
}
