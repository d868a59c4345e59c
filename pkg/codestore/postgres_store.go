package codestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a single table with an optimistic
// version column. Conditional writes rely on the version predicate in the
// UPDATE/DELETE statements, so they are atomic across processes.
//
// Expected schema:
//
//	CREATE TABLE two_factor_record (
//	    identity TEXT NOT NULL,
//	    kind     TEXT NOT NULL,
//	    ref      TEXT NOT NULL,
//	    value    BYTEA NOT NULL,
//	    version  BIGINT NOT NULL,
//	    PRIMARY KEY (identity, kind, ref)
//	);
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed store on an existing pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (Record, error) {
	query := `
		SELECT value, version
		FROM two_factor_record
		WHERE identity = $1 AND kind = $2 AND ref = $3`

	record := Record{Key: key}
	err := s.db.QueryRow(ctx, query, key.Identity, string(key.Kind), key.Ref).
		Scan(&record.Value, &record.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("failed to get record: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) Put(ctx context.Context, key Key, value []byte) (Record, error) {
	query := `
		INSERT INTO two_factor_record (identity, kind, ref, value, version)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (identity, kind, ref)
		DO UPDATE SET value = EXCLUDED.value, version = two_factor_record.version + 1
		RETURNING version`

	record := Record{Key: key, Value: value}
	err := s.db.QueryRow(ctx, query, key.Identity, string(key.Kind), key.Ref, value).
		Scan(&record.Version)
	if err != nil {
		return Record{}, fmt.Errorf("failed to put record: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) PutIfAbsent(ctx context.Context, key Key, value []byte) (Record, error) {
	query := `
		INSERT INTO two_factor_record (identity, kind, ref, value, version)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (identity, kind, ref) DO NOTHING`

	tag, err := s.db.Exec(ctx, query, key.Identity, string(key.Kind), key.Ref, value)
	if err != nil {
		return Record{}, fmt.Errorf("failed to insert record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Record{}, ErrConflict
	}
	return Record{Key: key, Value: value, Version: 1}, nil
}

func (s *PostgresStore) CompareAndSwap(ctx context.Context, key Key, value []byte, expectedVersion int64) (Record, error) {
	query := `
		UPDATE two_factor_record
		SET value = $4, version = version + 1
		WHERE identity = $1 AND kind = $2 AND ref = $3 AND version = $5
		RETURNING version`

	record := Record{Key: key, Value: value}
	err := s.db.QueryRow(ctx, query, key.Identity, string(key.Kind), key.Ref, value, expectedVersion).
		Scan(&record.Version)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("failed to swap record: %w", err)
	}

	// Distinguish a lost race from a deleted record.
	if _, getErr := s.Get(ctx, key); errors.Is(getErr, ErrNotFound) {
		return Record{}, ErrNotFound
	}
	return Record{}, ErrConflict
}

func (s *PostgresStore) CompareAndDelete(ctx context.Context, key Key, expectedVersion int64) error {
	query := `
		DELETE FROM two_factor_record
		WHERE identity = $1 AND kind = $2 AND ref = $3 AND version = $4`

	tag, err := s.db.Exec(ctx, query, key.Identity, string(key.Kind), key.Ref, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Distinguish a lost race from a record deleted by someone else.
	if _, getErr := s.Get(ctx, key); errors.Is(getErr, ErrNotFound) {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *PostgresStore) Delete(ctx context.Context, key Key) error {
	query := `
		DELETE FROM two_factor_record
		WHERE identity = $1 AND kind = $2 AND ref = $3`

	_, err := s.db.Exec(ctx, query, key.Identity, string(key.Kind), key.Ref)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, identity string, kind Kind) ([]Record, error) {
	query := `
		SELECT ref, value, version
		FROM two_factor_record
		WHERE identity = $1 AND kind = $2`

	rows, err := s.db.Query(ctx, query, identity, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record := Record{Key: Key{Identity: identity, Kind: kind}}
		if err := rows.Scan(&record.Key.Ref, &record.Value, &record.Version); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) DeleteAll(ctx context.Context, identity string, kinds ...Kind) error {
	kindNames := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		kindNames = append(kindNames, string(kind))
	}

	query := `
		DELETE FROM two_factor_record
		WHERE identity = $1 AND kind = ANY($2)`

	_, err := s.db.Exec(ctx, query, identity, kindNames)
	if err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}
	return nil
}
