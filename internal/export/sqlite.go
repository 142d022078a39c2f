// Package export mirrors flushed catalog tables into a SQLite database so the
// catalog can be queried with SQL. The CSV files stay authoritative.
package export

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"ytcatalog/internal/catalog"
)

// SQLite holds an open mirror database.
type SQLite struct {
	db   *sql.DB
	path string
	log  logrus.FieldLogger
}

// OpenSQLite opens (or creates) the mirror database at path.
func OpenSQLite(path string, log logrus.FieldLogger) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("export: mkdir %s: %w", filepath.Dir(path), err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("export: open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite: single writer
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("export: open db: %w", err)
	}
	return &SQLite{db: db, path: path, log: log.WithField("sqlite", path)}, nil
}

// Hook returns a flush hook that mirrors every written table.
func (s *SQLite) Hook() catalog.FlushHook {
	return s.WriteTable
}

// WriteTable replaces the mirror of t: the table is dropped, recreated with
// one TEXT column per header entry and filled in a single transaction.
func (s *SQLite) WriteTable(t *catalog.Table) error {
	if len(t.Header) == 0 {
		return nil
	}
	name := quote(t.Name)
	columns := lo.Map(t.Header, func(col string, _ int) string { return quote(col) })

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("export %s: begin: %w", t.Name, err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec("DROP TABLE IF EXISTS " + name); err != nil {
		return fmt.Errorf("export %s: drop: %w", t.Name, err)
	}
	defs := lo.Map(columns, func(col string, _ int) string { return col + " TEXT" })
	if _, err := tx.Exec(fmt.Sprintf("CREATE TABLE %s (%s)", name, strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("export %s: create: %w", t.Name, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	stmt, err := tx.Prepare(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", name, strings.Join(columns, ", "), placeholders))
	if err != nil {
		return fmt.Errorf("export %s: prepare: %w", t.Name, err)
	}
	defer stmt.Close()

	args := make([]any, len(t.Header))
	for _, row := range t.Rows {
		for i, col := range t.Header {
			args[i] = row[col]
		}
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("export %s: insert: %w", t.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("export %s: commit: %w", t.Name, err)
	}
	s.log.WithFields(logrus.Fields{"table": t.Name, "rows": len(t.Rows)}).Debug("table mirrored")
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
