package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"switchyard/api/fsutil"
	"switchyard/api/model"
)

// FileBackend keeps the registry document as a JSON file.
type FileBackend struct {
	Path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{Path: path}
}

func (f *FileBackend) Load(_ context.Context) (*model.RegistryState, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	var st model.RegistryState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.Path, err)
	}
	return &st, nil
}

func (f *FileBackend) Save(_ context.Context, st *model.RegistryState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	return fsutil.WriteFileAtomic(f.Path, data, 0644)
}
