package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"ytcatalog/internal/storage"
)

// ErrMissingColumn is returned when a table lacks a column the pipeline
// cannot work without.
var ErrMissingColumn = errors.New("catalog: required column missing")

// FlushHook observes every table written by Flush.
type FlushHook func(t *Table) error

// Store holds every catalog table for one run.
type Store struct {
	fs     afero.Fs
	dir    string
	log    logrus.FieldLogger
	tables map[string]*Table
	dirty  map[string]bool
	hooks  []FlushHook
}

// Open creates missing tables with only a header row, then loads every table
// in dir into memory.
func Open(fs afero.Fs, dir string, log logrus.FieldLogger) (*Store, error) {
	s := &Store{
		fs:     fs,
		dir:    dir,
		log:    log,
		tables: make(map[string]*Table, len(Schemas)),
		dirty:  make(map[string]bool),
	}
	if err := s.EnsureTables(); err != nil {
		return nil, err
	}
	for _, schema := range Schemas {
		t, err := s.load(schema)
		if err != nil {
			return nil, err
		}
		s.tables[schema.Name] = t
	}
	return s, nil
}

// Dir returns the data directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file path of a table.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+".csv")
}

// EnsureTables writes a header-only file for every table that does not exist yet.
func (s *Store) EnsureTables() error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return &storage.StorageError{Op: "write", Entity: "directory", ID: s.dir, Err: err}
	}
	for _, schema := range Schemas {
		path := s.Path(schema.Name)
		exists, err := afero.Exists(s.fs, path)
		if err != nil {
			return &storage.StorageError{Op: "read", Entity: "table", ID: schema.Name, Err: err}
		}
		if exists {
			continue
		}
		var buf bytes.Buffer
		if err := WriteCSV(&buf, schema.Header, nil); err != nil {
			return err
		}
		if err := storage.WriteFileAtomic(s.fs, path, buf.Bytes()); err != nil {
			return &storage.StorageError{Op: "write", Entity: "table", ID: schema.Name, Err: err}
		}
	}
	return nil
}

func (s *Store) load(schema Schema) (*Table, error) {
	f, err := s.fs.Open(s.Path(schema.Name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Table{Name: schema.Name, Header: slices.Clone(schema.Header)}, nil
		}
		return nil, &storage.StorageError{Op: "read", Entity: "table", ID: schema.Name, Err: err}
	}
	defer f.Close()

	fileHeader, rows, err := ReadCSV(f)
	if err != nil {
		return nil, &storage.StorageError{Op: "read", Entity: "table", ID: schema.Name, Err: errors.Join(storage.ErrStorageCorrupt, err)}
	}

	header := slices.Clone(schema.Header)
	if len(fileHeader) > 0 && !slices.Equal(fileHeader, schema.Header) {
		s.log.WithFields(logrus.Fields{
			"table":    schema.FileName(),
			"expected": schema.Header,
			"found":    fileHeader,
		}).Warn("table header differs from schema")
		if schema.KeepFileHeader {
			if len(rows) > 0 && !lo.Contains(fileHeader, schema.Header[0]) {
				return nil, &storage.StorageError{Op: "read", Entity: "table", ID: schema.Name,
					Err: fmt.Errorf("%w: %s", ErrMissingColumn, schema.Header[0])}
			}
			header = fileHeader
		}
	}
	return &Table{Name: schema.Name, Header: header, Rows: rows}, nil
}

// Table returns a copy of the named table.
func (s *Store) Table(name string) *Table {
	t, ok := s.tables[name]
	if !ok {
		return &Table{Name: name}
	}
	return t.Clone()
}

// Rows returns the rows of the named table. The slice is a copy but the rows
// are shared; use Table for an independent copy.
func (s *Store) Rows(name string) []Row {
	t, ok := s.tables[name]
	if !ok {
		return nil
	}
	return slices.Clone(t.Rows)
}

// Header returns the header used when writing the named table.
func (s *Store) Header(name string) []string {
	if t, ok := s.tables[name]; ok {
		return slices.Clone(t.Header)
	}
	return nil
}

// Replace swaps the full contents of a table and marks it for the next Flush.
func (s *Store) Replace(name string, rows []Row) {
	t, ok := s.tables[name]
	if !ok {
		schema, _ := Lookup(name)
		t = &Table{Name: name, Header: slices.Clone(schema.Header)}
		s.tables[name] = t
	}
	t.Rows = rows
	s.dirty[name] = true
}

// Dirty reports whether a table has unflushed changes.
func (s *Store) Dirty(name string) bool {
	return s.dirty[name]
}

// OnFlush registers a hook run after each table is written.
func (s *Store) OnFlush(hook FlushHook) {
	s.hooks = append(s.hooks, hook)
}

// Flush atomically rewrites every table replaced since the last flush.
// Tables are written in schema order.
func (s *Store) Flush() error {
	for _, schema := range Schemas {
		if !s.dirty[schema.Name] {
			continue
		}
		if err := s.flushTable(s.tables[schema.Name]); err != nil {
			return err
		}
		delete(s.dirty, schema.Name)
	}
	return nil
}

func (s *Store) flushTable(t *Table) error {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, t.Header, t.Rows); err != nil {
		return &storage.StorageError{Op: "write", Entity: "table", ID: t.Name, Err: err}
	}
	if err := storage.WriteFileAtomic(s.fs, s.Path(t.Name), buf.Bytes()); err != nil {
		return &storage.StorageError{Op: "write", Entity: "table", ID: t.Name, Err: err}
	}
	s.log.WithFields(logrus.Fields{"table": t.Name, "rows": len(t.Rows)}).Debug("table flushed")

	for _, hook := range s.hooks {
		if err := hook(t); err != nil {
			return fmt.Errorf("flush hook for %s: %w", t.Name, err)
		}
	}
	return nil
}
