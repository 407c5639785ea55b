// Package jsonldb stores records as JSON Lines: a schema header line followed
// by one JSON object per record.
package jsonldb

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/maruel/recdb/internal/errors"
	"github.com/maruel/recdb/internal/schema"
	"github.com/maruel/recdb/internal/table"
)

// maxLine bounds the size of one encoded record.
const maxLine = 16 << 20

// File is a JSONL file holding the records of one entity type.
type File[T any] struct {
	path string
	reg  *schema.Registry[T]
	mu   sync.Mutex
}

// Open returns the JSONL file at path, creating its directory if needed. The
// file itself is created on the first write.
func Open[T any](path string, reg *schema.Registry[T]) (*File[T], error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return &File[T]{path: path, reg: reg}, nil
}

// Path returns the file path.
func (f *File[T]) Path() string {
	return f.path
}

// Load decodes every record of the file. A missing file holds no records.
func (f *File[T]) Load() ([]table.Entry[T], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fh, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.IO("open", f.path, err)
	}
	defer func() {
		_ = fh.Close()
	}()
	return Read(fh, f.reg)
}

// Append adds one record at the end of the file, writing the header first if
// the file is new.
func (f *File[T]) Append(row T) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var buf bytes.Buffer
	st, err := os.Stat(f.path)
	if err != nil || st.Size() == 0 {
		if err := writeHeader(&buf, f.reg); err != nil {
			return err
		}
	}
	if err := writeRow(&buf, f.reg, row); err != nil {
		return err
	}

	fh, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.IO("open", f.path, err)
	}
	defer func() {
		_ = fh.Close()
	}()
	if _, err := fh.Write(buf.Bytes()); err != nil {
		return errors.IO("write", f.path, err)
	}
	return nil
}

// Replace rewrites the whole file with rows.
func (f *File[T]) Replace(rows []T) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fh, err := os.Create(f.path)
	if err != nil {
		return errors.IO("create", f.path, err)
	}
	defer func() {
		_ = fh.Close()
	}()
	if err := Write(fh, f.reg, rows); err != nil {
		return err
	}
	return fh.Close()
}

// Read decodes a JSONL stream. Keys are matched to fields ignoring case; a key
// naming no field is an error. The first undecodable line stops the read and
// the records decoded before it are returned along with the error.
func Read[T any](r io.Reader, reg *schema.Registry[T]) ([]table.Entry[T], error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	var out []table.Entry[T]
	line := 0
	header := false
	for scanner.Scan() {
		line++
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		if !header {
			var h schemaHeader
			if err := json.Unmarshal(b, &h); err != nil {
				return nil, errors.Format("invalid schema header").AtRow(line).Wrap(err)
			}
			if err := h.Validate(); err != nil {
				return nil, errors.Format("invalid schema header").AtRow(line).Wrap(err)
			}
			if err := checkHeader(&h, reg); err != nil {
				return nil, errors.Format("schema header does not match "+reg.Entity()).AtRow(line).Wrap(err)
			}
			header = true
			continue
		}
		v, err := decodeRow(b, reg)
		if err != nil {
			return out, errors.Format("invalid record").AtRow(line).Wrap(err)
		}
		out = append(out, table.Entry[T]{Line: line, Record: v})
	}
	if err := scanner.Err(); err != nil {
		return out, errors.Format("failed to read records").AtRow(line + 1).Wrap(err)
	}
	return out, nil
}

func decodeRow[T any](b []byte, reg *schema.Registry[T]) (T, error) {
	var v T
	var m map[string]any
	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()
	if err := d.Decode(&m); err != nil {
		return v, err
	}
	seen := make(map[string]bool, len(m))
	for k, x := range m {
		f, ok := reg.Lookup(k)
		if !ok {
			return v, errors.UnknownField(reg.Entity(), k)
		}
		if err := f.Assign(&v, x); err != nil {
			return v, err
		}
		seen[f.Name] = true
	}
	// An absent key is null.
	for _, f := range reg.Fields() {
		if seen[f.Name] {
			continue
		}
		if err := f.Assign(&v, nil); err != nil {
			return v, err
		}
	}
	return v, nil
}

// Write encodes the header line then rows, keys in field declaration order.
func Write[T any](w io.Writer, reg *schema.Registry[T], rows []T) error {
	bw := bufio.NewWriter(w)
	if err := writeHeader(bw, reg); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writeRow(bw, reg, row); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

func writeHeader[T any](w io.Writer, reg *schema.Registry[T]) error {
	data, err := json.Marshal(headerFor(reg))
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

func writeRow[T any](w io.Writer, reg *schema.Registry[T], row T) error {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range reg.Fields() {
		if i != 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return fmt.Errorf("failed to marshal key %s: %w", f.Name, err)
		}
		val, err := json.Marshal(f.Get(row))
		if err != nil {
			return fmt.Errorf("failed to marshal field %s: %w", f.Name, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteString("}\n")
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	return nil
}
