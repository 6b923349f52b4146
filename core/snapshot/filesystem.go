package snapshot

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/relabs-tech/popstats/core/logger"
)

// LocalFilesystem stores snapshots below a base folder
type LocalFilesystem struct {
	baseFolder string
}

// NewLocalFilesystem returns a LocalFilesystem. The base folder is created if
// it does not exist yet.
func NewLocalFilesystem(baseFolder string) (*LocalFilesystem, error) {
	if baseFolder == "" {
		return nil, errors.New("base folder must not be empty")
	}
	if err := os.MkdirAll(baseFolder, 0700); err != nil {
		return nil, err
	}
	logger.Default().Debugln("snapshot filesystem enabled in", baseFolder)
	return &LocalFilesystem{baseFolder: baseFolder}, nil
}

// Put writes data to key
func (f *LocalFilesystem) Put(ctx context.Context, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	path := filepath.Join(f.baseFolder, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	logger.FromContext(ctx).Debugf("Filesystem: writing key '%s'", key)
	return os.WriteFile(path, data, 0600)
}

// Get reads the data stored at key
func (f *LocalFilesystem) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(f.baseFolder, filepath.FromSlash(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// List returns all keys starting with prefix, sorted
func (f *LocalFilesystem) List(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	err := filepath.WalkDir(f.baseFolder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.baseFolder, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	sort.Strings(keys)
	return keys, err
}
