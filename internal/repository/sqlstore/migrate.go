package sqlstore

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/livsafe-api/internal/repository/sqlstore/migrations"
)

const migrationsTableName = "schema_migrations"

type migration struct {
	version int
	name    string
}

// Migrate applies the embedded scripts for db's driver that are not yet
// recorded in schema_migrations. It returns the number applied.
func Migrate(ctx context.Context, db *sqlx.DB) (int, error) {
	source, err := fs.Sub(migrations.FS, db.DriverName())
	if err != nil {
		return 0, fmt.Errorf("no migrations for driver %s: %w", db.DriverName(), err)
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)`, migrationsTableName))
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", migrationsTableName, err)
	}

	var applied []int
	if err := db.SelectContext(ctx, &applied, fmt.Sprintf(`SELECT version FROM %s`, migrationsTableName)); err != nil {
		return 0, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	pending, err := listMigrations(source)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range pending {
		if done[m.version] {
			continue
		}

		script, err := fs.ReadFile(source, m.name)
		if err != nil {
			return count, err
		}

		err = withTx(ctx, db, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, string(script)); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				tx.Rebind(fmt.Sprintf(`INSERT INTO %s (version, name, applied_at) VALUES (?, ?, ?)`, migrationsTableName)),
				m.version, m.name, time.Now().UTC())
			return err
		})
		if err != nil {
			return count, fmt.Errorf("migration %s failed: %w", m.name, err)
		}

		log.Info().Str("migration", m.name).Msg("applied shared store migration")
		count++
	}

	return count, nil
}

func listMigrations(source fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(source, ".")
	if err != nil {
		return nil, err
	}

	list := make([]migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		v, err := strconv.Atoi(strings.Split(e.Name(), "_")[0])
		if err != nil {
			return nil, fmt.Errorf("bad migration name %q: %w", e.Name(), err)
		}
		list = append(list, migration{version: v, name: e.Name()})
	}

	sort.Slice(list, func(i, j int) bool { return list[i].version < list[j].version })
	return list, nil
}

func withTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
