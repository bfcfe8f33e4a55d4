// Package identity persists the current user's identity between runs.
package identity

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dkeye/voicesync/internal/domain"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

var ErrNotCached = errors.New("identity not cached")

// Cache is a YAML file holding one domain.Identity.
type Cache struct {
	path string
}

func NewCache(path string) *Cache {
	return &Cache{path: path}
}

func (c *Cache) Path() string { return c.path }

func (c *Cache) Load() (domain.Identity, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Identity{}, ErrNotCached
	}
	if err != nil {
		return domain.Identity{}, fmt.Errorf("read identity: %w", err)
	}
	var id domain.Identity
	if err := yaml.Unmarshal(data, &id); err != nil {
		return domain.Identity{}, fmt.Errorf("parse identity %s: %w", c.path, err)
	}
	if err := id.Validate(); err != nil {
		return domain.Identity{}, fmt.Errorf("identity %s: %w", c.path, err)
	}
	return id, nil
}

// Save writes id atomically with owner-only permissions since it holds the
// bearer token.
func (c *Cache) Save(id domain.Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(id)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".identity-*")
	if err != nil {
		return fmt.Errorf("create identity file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write identity: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod identity: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close identity: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("store identity: %w", err)
	}
	log.Info().Str("module", "identity").Str("user_id", id.User.ID.String()).Str("path", c.path).Msg("identity cached")
	return nil
}

// Clear removes the cached identity, e.g. after the server rejected the token.
func (c *Cache) Clear() error {
	err := os.Remove(c.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove identity: %w", err)
	}
	return nil
}
