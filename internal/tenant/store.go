package tenant

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"

// Store is an open handle on one tenant's SQLite file. Callers close it.
type Store struct {
	DB   *sqlx.DB
	Kind Kind
	ID   int64
	Path string
}

func openStore(path string, kind Kind, id int64) (*Store, error) {
	db, err := sqlx.Open(driverName, path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open tenant store: %w", err)
	}
	// one writer per file; handles are short lived
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping tenant store: %w", err)
	}

	return &Store{DB: db, Kind: kind, ID: id, Path: path}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// userVersion returns the schema version recorded in the file header.
func (s *Store) userVersion() (int, error) {
	var version int
	if err := s.DB.Get(&version, "PRAGMA user_version"); err != nil {
		return 0, err
	}
	return version, nil
}

// execTrans runs stmt inside a transaction.
func (s *Store) execTrans(ctx context.Context, stmt string) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// Tables lists the user tables of the store, sorted by name.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	var names []string
	err := s.DB.SelectContext(ctx, &names,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return names, nil
}
