package summary

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// Write serializes a summary to a stream.
func Write(w io.Writer, f *File) error {
	enc := msgpack.NewEncoder(w)
	return enc.Encode(f)
}

// Read deserializes a summary from a stream.
func Read(r io.Reader) (*File, error) {
	dec := msgpack.NewDecoder(r)
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("summary: decode: %w", err)
	}
	return &f, nil
}

// WriteFile writes a summary to disk through a temp file and an atomic
// rename, so a crashed run never leaves a truncated summary behind.
func WriteFile(path string, f *File) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.Remove(tmp.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			fmt.Printf("failed to remove temp file: %v", rmErr)
		}
	}()

	if err := Write(tmp, f); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadFile reads a summary from disk. A missing file is reported as
// (nil, nil) so callers can distinguish absence from corruption.
func ReadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			panic(closeErr)
		}
	}()
	return Read(f)
}
