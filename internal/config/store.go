package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/joho/godotenv"
)

// Store is a read-only key-value source.
type Store interface {
	Get(key string) (string, bool)
}

// MapStore is an in-memory Store.
type MapStore map[string]string

func (m MapStore) Get(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// EnvStore reads keys from environment variables: with prefix "HUME_" the
// key "apiKey" maps to HUME_API_KEY.
type EnvStore struct {
	Prefix string
	Lookup func(string) (string, bool)
}

// NewEnvStore reads the process environment.
func NewEnvStore(prefix string) *EnvStore {
	return &EnvStore{Prefix: prefix, Lookup: os.LookupEnv}
}

func (e *EnvStore) Get(key string) (string, bool) {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return lookup(EnvName(e.Prefix, key))
}

// EnvName converts a camelCase key to its upper snake case variable name.
func EnvName(prefix, key string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for i, r := range key {
		if unicode.IsUpper(r) && i > 0 {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding existing ones. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// FileStore is a persistent Store backed by a JSON object on disk.
type FileStore struct {
	path string

	mu     sync.Mutex
	values map[string]string
}

// OpenFileStore reads path. A missing file yields an empty store that is
// created on the first Set.
func OpenFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, values: map[string]string{}}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fs, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &fs.values); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return fs, nil
}

// DefaultFilePath is the per-user settings file.
func DefaultFilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "emo-go.json"
	}
	return filepath.Join(dir, "emo-go", "settings.json")
}

func (fs *FileStore) Get(key string) (string, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	v, ok := fs.values[key]
	return v, ok
}

// Set stores value and writes the file.
func (fs *FileStore) Set(key, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.values[key] = value
	return fs.save()
}

// Delete removes key and writes the file.
func (fs *FileStore) Delete(key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.values, key)
	return fs.save()
}

// Keys returns the stored keys in order.
func (fs *FileStore) Keys() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	keys := make([]string, 0, len(fs.values))
	for k := range fs.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (fs *FileStore) save() error {
	data, err := json.MarshalIndent(fs.values, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fs.path), 0o700); err != nil {
		return err
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, fs.path)
}
