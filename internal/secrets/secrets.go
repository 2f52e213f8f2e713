// Package secrets resolves credentials from the environment or from mounted
// secret files.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Key identifies a secret.
type Key string

const (
	GraphUsername Key = "graph_username"
	GraphPassword Key = "graph_password"
)

// Provider kinds.
const (
	ProviderEnv = "env"
	ProviderDir = "dir"
)

// ErrNotFound is returned when no provider holds the secret.
var ErrNotFound = errors.New("secret not found")

// Provider is a read-only secret backend.
type Provider interface {
	Get(ctx context.Context, key Key) (string, error)
	Name() string
}

// Config configures the secrets manager.
type Config struct {
	// Provider is "env" or "dir".
	Provider string
	// Dir holds one file per key for the dir provider.
	Dir string
	// EnvPrefix is prepended to upper-cased keys (default: "GIFTMAP_").
	EnvPrefix string
}

// DefaultConfig returns the env-based configuration.
func DefaultConfig() *Config {
	return &Config{
		Provider:  ProviderEnv,
		EnvPrefix: "GIFTMAP_",
	}
}

// Manager looks secrets up in its primary provider, then in the environment,
// and caches hits.
type Manager struct {
	primary  Provider
	fallback Provider
	cacheMu  sync.RWMutex
	cache    map[Key]string
}

// NewManager creates a secrets manager.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	env := NewEnvProvider(cfg.EnvPrefix)
	m := &Manager{cache: make(map[Key]string)}

	switch cfg.Provider {
	case ProviderEnv, "":
		m.primary = env
	case ProviderDir:
		dir, err := NewDirProvider(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("create dir provider: %w", err)
		}
		m.primary = dir
		m.fallback = env
	default:
		return nil, fmt.Errorf("unknown secrets provider: %s", cfg.Provider)
	}
	return m, nil
}

// Get retrieves a secret, trying the primary provider then the fallback.
func (m *Manager) Get(ctx context.Context, key Key) (string, error) {
	m.cacheMu.RLock()
	if val, ok := m.cache[key]; ok {
		m.cacheMu.RUnlock()
		return val, nil
	}
	m.cacheMu.RUnlock()

	for _, p := range []Provider{m.primary, m.fallback} {
		if p == nil {
			continue
		}
		if val, err := p.Get(ctx, key); err == nil && val != "" {
			m.cacheMu.Lock()
			m.cache[key] = val
			m.cacheMu.Unlock()
			return val, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, key)
}

// Resolve returns configured when it is set, otherwise the secret for key.
// A missing secret resolves to the empty string.
func (m *Manager) Resolve(ctx context.Context, key Key, configured string) string {
	if configured != "" {
		return configured
	}
	val, err := m.Get(ctx, key)
	if err != nil {
		return ""
	}
	return val
}

// EnvProvider reads secrets from environment variables.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment-based provider.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = "GIFTMAP_"
	}
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return ProviderEnv }

// Get tries the prefixed variable first, then the bare upper-cased key.
func (p *EnvProvider) Get(ctx context.Context, key Key) (string, error) {
	name := strings.ToUpper(string(key))
	if val := os.Getenv(p.prefix + name); val != "" {
		return val, nil
	}
	if val := os.Getenv(name); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("%w: env %s%s", ErrNotFound, p.prefix, name)
}
