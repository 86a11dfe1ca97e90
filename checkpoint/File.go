package checkpoint

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// File stores a model in a single file. Saves are atomic: the model is
// written to a temporary file which then replaces the previous one.
type File struct {
	path string
}

// NewFile returns a Store writing to path
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the file the model is stored in
func (f *File) Path() string {
	return f.path
}

// Save implements the Store interface
func (f *File) Save(ctx context.Context, obj gob.GobEncoder) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save: %w", err)
	}

	data, err := obj.GobEncode()
	if err != nil {
		return fmt.Errorf("save: could not encode model: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("save: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save: %w", err)
	}

	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

// Load implements the Store interface
func (f *File) Load(ctx context.Context, into gob.GobDecoder) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("load: %w", err)
	}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load: %w", err)
	}

	if err := decodeInto(into, data); err != nil {
		return false, fmt.Errorf("load: %v: %w", f.path, err)
	}
	return true, nil
}

// Close implements the Store interface
func (f *File) Close() error {
	return nil
}
