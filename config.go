package abac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers understood by StoreConfig.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config represents the complete abac configuration
type Config struct {
	Version  uint16       `json:"version" yaml:"version"`
	Engine   EngineConfig `json:"engine" yaml:"engine"`
	Store    StoreConfig  `json:"store" yaml:"store"`
	Policies []*Policy    `json:"policies" yaml:"policies"`
}

type EngineConfig struct {
	BatchWorkerCount int               `json:"batch_worker_count,omitempty" yaml:"batch_worker_count,omitempty"`
	PolicyCache      PolicyCacheConfig `json:"policy_cache" yaml:"policy_cache"`
}

// PolicyCacheConfig sizes the optional read-through cache in front of the
// policy store. Decisions are never cached.
type PolicyCacheConfig struct {
	Enabled     bool  `json:"enabled" yaml:"enabled"`
	NumCounters int64 `json:"num_counters,omitempty" yaml:"num_counters,omitempty"`
	MaxCost     int64 `json:"max_cost,omitempty" yaml:"max_cost,omitempty"`
	BufferItems int64 `json:"buffer_items,omitempty" yaml:"buffer_items,omitempty"`
	TTLMillis   int64 `json:"ttl_ms,omitempty" yaml:"ttl_ms,omitempty"`
}

func (c PolicyCacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMillis) * time.Millisecond
}

type StoreConfig struct {
	Driver      string `json:"driver,omitempty" yaml:"driver,omitempty"`
	DSN         string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	RedisAddr   string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPrefix string `json:"redis_prefix,omitempty" yaml:"redis_prefix,omitempty"`
}

// DriverName defaults an empty driver to memory.
func (c StoreConfig) DriverName() string {
	if c.Driver == "" {
		return StoreMemory
	}
	return strings.ToLower(c.Driver)
}

// ConfigLoader loads configuration from various formats
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile picks the decoder from the file extension.
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = l.LoadYAML(data)
	case ".json":
		cfg, err = l.LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// SaveFile writes the config in the format implied by the extension.
func (c *Config) SaveFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = c.ToYAML()
	case ".json":
		data, err = c.ToJSON()
	default:
		return fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the store settings and every policy, reporting all problems.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.DriverName() {
	case StoreMemory, StoreSQLite:
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store: redis_addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown driver %q", c.Store.Driver))
	}
	if c.Engine.BatchWorkerCount < 0 {
		errs = append(errs, fmt.Errorf("engine: batch_worker_count must be >= 0, got %d", c.Engine.BatchWorkerCount))
	}
	seen := make(map[string]bool, len(c.Policies))
	for i, p := range c.Policies {
		if p == nil {
			errs = append(errs, fmt.Errorf("policies[%d]: empty entry", i))
			continue
		}
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("policies[%d]: id is required", i))
		} else if seen[p.ID] {
			errs = append(errs, fmt.Errorf("policies[%d]: duplicate id %q", i, p.ID))
		}
		seen[p.ID] = true
		if err := ValidatePolicy(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EngineOptions translates the engine section into options for NewEngine.
func (c *Config) EngineOptions() []EngineOption {
	var opts []EngineOption
	if c.Engine.BatchWorkerCount > 0 {
		opts = append(opts, WithBatchWorkers(c.Engine.BatchWorkerCount))
	}
	return opts
}

// ApplyPolicies creates or updates every configured policy in w.
func ApplyPolicies(ctx context.Context, w PolicyWriter, cfg *Config) error {
	for _, p := range cfg.Policies {
		if p == nil {
			continue
		}
		_, err := w.GetPolicy(ctx, p.ID)
		switch {
		case errors.Is(err, ErrPolicyNotFound):
			if err := w.CreatePolicy(ctx, p); err != nil {
				return fmt.Errorf("create policy %s: %w", p.ID, err)
			}
		case err != nil:
			return fmt.Errorf("get policy %s: %w", p.ID, err)
		default:
			if err := w.UpdatePolicy(ctx, p); err != nil {
				return fmt.Errorf("update policy %s: %w", p.ID, err)
			}
		}
	}
	return nil
}

// ============================================================================
// POLICY DEFAULTS
// ============================================================================

// DefaultPriority is used when a decoded policy does not set one.
const DefaultPriority = 100

// A decoded policy is active with the default priority unless it says otherwise.

func (p *Policy) UnmarshalJSON(b []byte) error {
	type plain Policy
	tmp := plain{IsActive: true, Priority: DefaultPriority}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*p = Policy(tmp)
	return nil
}

func (p *Policy) UnmarshalYAML(node *yaml.Node) error {
	type plain Policy
	tmp := plain{IsActive: true, Priority: DefaultPriority}
	if err := node.Decode(&tmp); err != nil {
		return err
	}
	*p = Policy(tmp)
	return nil
}
