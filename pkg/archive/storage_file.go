package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileStorage keeps snapshots as files in a single directory.
type FileStorage struct {
	basePath string
}

func NewFileStorage(basePath string) (*FileStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &FileStorage{basePath: basePath}, nil
}

func (fs *FileStorage) Save(ctx context.Context, name string, data io.Reader) error {
	file, err := os.Create(filepath.Join(fs.basePath, name))
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		return fmt.Errorf("failed to write archive file: %w", err)
	}
	return nil
}

func (fs *FileStorage) Load(ctx context.Context, name string) (io.ReadCloser, error) {
	file, err := os.Open(filepath.Join(fs.basePath, name))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive file: %w", err)
	}
	return file, nil
}

// List returns file names carrying the given prefix, in lexical order.
func (fs *FileStorage) List(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func (fs *FileStorage) Delete(ctx context.Context, name string) error {
	return os.Remove(filepath.Join(fs.basePath, name))
}
