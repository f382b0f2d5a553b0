package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// Migrator applies the numbered SQL files in a directory
// ({version}_{name}.up.sql / .down.sql) and records them in
// public.schema_migrations.
type Migrator struct {
	db  *sql.DB
	dir string
	log zerolog.Logger
}

func NewMigrator(db *sql.DB, migrationsDir string, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, dir: migrationsDir, log: logger}
}

type migration struct {
	version string
	up      string
}

// Pending lists the up files not yet applied, oldest first.
func (m *Migrator) Pending(ctx context.Context) ([]string, error) {
	todo, err := m.pending(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(todo))
	for _, mg := range todo {
		names = append(names, mg.up)
	}
	return names, nil
}

// Up applies every pending migration, one transaction each. A failure
// stops the run with the earlier versions committed.
func (m *Migrator) Up(ctx context.Context) error {
	todo, err := m.pending(ctx)
	if err != nil {
		return err
	}
	for _, mg := range todo {
		m.log.Info().Str("file", mg.up).Msg("applying migration")
		err := m.run(ctx, mg.up, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`,
				mg.version, mg.up)
			return err
		})
		if err != nil {
			return err
		}
	}
	if len(todo) > 0 {
		m.log.Info().Int("applied", len(todo)).Msg("schema up to date")
	}
	return nil
}

// Down reverts the most recently applied migration. It is a no-op on an
// empty history.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureHistory(ctx); err != nil {
		return err
	}

	var version, upFile string
	err := m.db.QueryRowContext(ctx,
		`SELECT version, filename FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&version, &upFile)
	if errors.Is(err, sql.ErrNoRows) {
		m.log.Info().Msg("nothing to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("latest migration: %w", err)
	}

	downFile := strings.TrimSuffix(upFile, upSuffix) + downSuffix
	err = m.run(ctx, downFile, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM public.schema_migrations WHERE version = $1`, version)
		return err
	})
	if err != nil {
		return err
	}
	m.log.Info().Str("file", downFile).Msg("rolled back migration")
	return nil
}

// run executes file and then record inside a single transaction.
func (m *Migrator) run(ctx context.Context, file string, record func(*sql.Tx) error) error {
	body, err := os.ReadFile(filepath.Join(m.dir, file))
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", file, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("exec %s: %w", file, err)
	}
	if err := record(tx); err != nil {
		return fmt.Errorf("record %s: %w", file, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", file, err)
	}
	return nil
}

func (m *Migrator) pending(ctx context.Context) ([]migration, error) {
	if err := m.ensureHistory(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	all, err := m.scan()
	if err != nil {
		return nil, err
	}

	var todo []migration
	for _, mg := range all {
		if !applied[mg.version] {
			todo = append(todo, mg)
		}
	}
	return todo, nil
}

func (m *Migrator) ensureHistory(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create migration history: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read migration history: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		seen[v] = true
	}
	return seen, rows.Err()
}

// scan returns the directory's up files by version. Down files are only
// read by Down, by name.
func (m *Migrator) scan() ([]migration, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[string]*migration)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		version, _, ok := strings.Cut(name, "_")
		if !ok || !strings.HasSuffix(name, upSuffix) {
			continue
		}
		if prev, dup := byVersion[version]; dup {
			return nil, fmt.Errorf("version %s has two up files: %s, %s", version, prev.up, name)
		}
		byVersion[version] = &migration{version: version, up: name}
	}

	out := make([]migration, 0, len(byVersion))
	for _, mg := range byVersion {
		out = append(out, *mg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}
