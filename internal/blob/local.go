package blob

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore is a filesystem-backed Store. Object names preserve slashes as
// nested directories; missing parent directories are created on write.
type LocalStore struct {
	basePath string
}

// NewLocalStore returns a Store rooted at basePath, creating it if absent.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &LocalStore{basePath: basePath}, nil
}

func (l *LocalStore) path(name string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(name))
}

func (l *LocalStore) SaveJSON(_ context.Context, name string, value interface{}) error {
	p := l.path(name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func (l *LocalStore) LoadJSON(_ context.Context, name string, out interface{}) (bool, error) {
	data, err := os.ReadFile(l.path(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, nil
	}
	return true, nil
}

func (l *LocalStore) Delete(_ context.Context, name string) error {
	err := os.Remove(l.path(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (l *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.Walk(l.basePath, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.basePath, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasSuffix(rel, ".json") {
			return nil
		}
		if strings.HasPrefix(rel, prefix) {
			names = append(names, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (l *LocalStore) Exists(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(l.path(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
