// Package snapshot persists a whole record sequence as one binary blob.
//
// The blob is the gob encoding of the records prefixed by a magic string and
// the BLAKE2b-256 sum of the encoding.
package snapshot

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"

	"github.com/maruel/recdb/internal/errors"
	"golang.org/x/crypto/blake2b"
)

const magic = "RECDBSN1"

// Encode writes rows to w. It fails with NOT_SERIALIZABLE when T cannot be
// gob encoded; nothing is written in that case.
func Encode[T any](w io.Writer, rows []T) error {
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(rows); err != nil {
		return errors.NotSerializable(reflect.TypeFor[T]().String(), err)
	}
	sum := blake2b.Sum256(payload.Bytes())
	var buf bytes.Buffer
	buf.Grow(len(magic) + len(sum) + payload.Len())
	buf.WriteString(magic)
	buf.Write(sum[:])
	buf.Write(payload.Bytes())
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Decode reads rows written by Encode, verifying the checksum.
func Decode[T any](r io.Reader) ([]T, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if len(data) < len(magic)+blake2b.Size256 || string(data[:len(magic)]) != magic {
		return nil, errors.Format("not a snapshot")
	}
	data = data[len(magic):]
	payload := data[blake2b.Size256:]
	if sum := blake2b.Sum256(payload); !bytes.Equal(sum[:], data[:blake2b.Size256]) {
		return nil, errors.Format("snapshot checksum mismatch")
	}
	var rows []T
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&rows); err != nil {
		return nil, errors.Format("invalid snapshot").Wrap(err)
	}
	return rows, nil
}

// Save writes rows to path through a temporary file. On failure the partial
// output is removed and any previous file at path is left untouched.
func Save[T any](path string, rows []T) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.IO("create directory for", path, err)
	}
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.IO("create", path, err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()
	if err := Encode(f, rows); err != nil {
		return err
	}
	if err := f.Chmod(0o644); err != nil {
		return errors.IO("chmod", f.Name(), err)
	}
	if err := f.Close(); err != nil {
		return errors.IO("close", f.Name(), err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return errors.IO("rename", path, err)
	}
	return nil
}

// Load reads the snapshot at path.
func Load[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.IO("open", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	return Decode[T](f)
}
