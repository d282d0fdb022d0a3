package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"stealth/internal/registry/models"
	"stealth/pkg/domain"
	"stealth/pkg/platform/sentinel"
	txcontext "stealth/pkg/platform/tx"
)

const uniqueViolation = "23505"

// PostgresStore persists entries in the registry_entries table. It is pure
// I/O: authorization and validation happen in the callbacks supplied by the
// service. Queries join a transaction carried in the context when present.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) conn(ctx context.Context) dbConn {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// CreateIfAbsent inserts the entry. A conflict on either the address or the
// handle leaves the existing row untouched and reports ErrAlreadyUsed.
func (s *PostgresStore) CreateIfAbsent(ctx context.Context, entry *models.Entry) error {
	query := `
		INSERT INTO registry_entries (address, handle, authority, destination, bump, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT DO NOTHING
	`
	result, err := s.conn(ctx).ExecContext(ctx, query,
		entry.Address.Bytes(),
		entry.Handle,
		entry.Authority.Bytes(),
		entry.Destination.Bytes(),
		int16(entry.Bump),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create entry %s: %w", entry.Handle, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create entry rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("create entry %s: %w", entry.Handle, sentinel.ErrAlreadyUsed)
	}
	return nil
}

func (s *PostgresStore) FindByAddress(ctx context.Context, address domain.Identity) (*models.Entry, error) {
	query := `
		SELECT address, handle, authority, destination, bump
		FROM registry_entries
		WHERE address = $1
	`
	entry, err := scanEntry(s.conn(ctx).QueryRowContext(ctx, query, address.Bytes()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find entry: %w", err)
	}
	return entry, nil
}

// Execute locks the row with SELECT ... FOR UPDATE, runs validate and mutate,
// and writes the mutable columns back, all in one transaction.
func (s *PostgresStore) Execute(ctx context.Context, address domain.Identity, validate func(*models.Entry) error, mutate func(*models.Entry)) (*models.Entry, error) {
	if tx, ok := txcontext.From(ctx); ok {
		return s.executeInTx(ctx, tx, address, validate, mutate)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin entry transaction: %w", err)
	}
	entry, err := s.executeInTx(ctx, tx, address, validate, mutate)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit entry transaction: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) executeInTx(ctx context.Context, tx *sql.Tx, address domain.Identity, validate func(*models.Entry) error, mutate func(*models.Entry)) (*models.Entry, error) {
	query := `
		SELECT address, handle, authority, destination, bump
		FROM registry_entries
		WHERE address = $1
		FOR UPDATE
	`
	entry, err := scanEntry(tx.QueryRowContext(ctx, query, address.Bytes()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lock entry: %w", err)
	}

	if err := validate(entry); err != nil {
		return nil, err
	}
	mutate(entry)

	update := `
		UPDATE registry_entries
		SET authority = $2, destination = $3, updated_at = NOW()
		WHERE address = $1
	`
	if _, err := tx.ExecContext(ctx, update, entry.Address.Bytes(), entry.Authority.Bytes(), entry.Destination.Bytes()); err != nil {
		return nil, fmt.Errorf("update entry: %w", err)
	}
	return entry, nil
}

// Count returns the number of stored entries.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.conn(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM registry_entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

func scanEntry(row *sql.Row) (*models.Entry, error) {
	var (
		address, authority, destination []byte
		handle                          string
		bump                            int16
	)
	if err := row.Scan(&address, &handle, &authority, &destination, &bump); err != nil {
		return nil, err
	}
	entry := &models.Entry{Handle: handle, Bump: uint8(bump)}
	if err := copyIdentity(&entry.Address, address); err != nil {
		return nil, err
	}
	if err := copyIdentity(&entry.Authority, authority); err != nil {
		return nil, err
	}
	if err := copyIdentity(&entry.Destination, destination); err != nil {
		return nil, err
	}
	return entry, nil
}

func copyIdentity(dst *domain.Identity, raw []byte) error {
	if len(raw) != domain.IdentitySize {
		return fmt.Errorf("identity column has %d bytes: %w", len(raw), sentinel.ErrCorrupt)
	}
	copy(dst[:], raw)
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}
