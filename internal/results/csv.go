package results

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// CSVStore keeps run records in a single CSV file. A file whose header
// differs from Columns is rewritten in the current layout on first touch;
// cells are carried over by column name.
type CSVStore struct {
	path string
	mu   sync.Mutex
}

// NewCSVStore creates a store backed by path. The file is created lazily.
func NewCSVStore(path string) *CSVStore {
	return &CSVStore{path: path}
}

func (s *CSVStore) Path() string { return s.path }

// Append writes rec as a new row, creating the file and header if needed.
func (s *CSVStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	header, rows, err := s.read()
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if exists && !slices.Equal(header, Columns) {
		if err := s.rewrite(rows); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open results: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if !exists {
		if err := w.Write(Columns); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := w.Write(rec.Row()); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	w.Flush()
	return w.Error()
}

// List returns every stored record in file order. A missing file is empty.
func (s *CSVStore) List(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	header, rows, err := s.read()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !slices.Equal(header, Columns) {
		if err := s.rewrite(rows); err != nil {
			return nil, err
		}
	}
	out := make([]Record, len(rows))
	for i, row := range rows {
		out[i] = ParseRow(row)
	}
	return out, nil
}

// read returns the header and rows keyed by header name. Rows shorter or
// longer than the header are tolerated.
func (s *CSVStore) read() ([]string, []map[string]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read results header: %w", err)
	}

	var rows []map[string]string
	for {
		cells, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read results row: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(cells) {
				row[name] = cells[i]
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

func (s *CSVStore) rewrite(rows []map[string]string) error {
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create results: %w", err)
	}
	w := csv.NewWriter(f)
	_ = w.Write(Columns)
	for _, row := range rows {
		cells := make([]string, len(Columns))
		for i, name := range Columns {
			cells[i] = row[name]
		}
		_ = w.Write(cells)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("migrate results: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("migrate results: %w", err)
	}
	return os.Rename(tmp, s.path)
}
