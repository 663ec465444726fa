package abac

// ConfigBuilder provides fluent API for building configurations
type ConfigBuilder struct {
	cfg *Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		cfg: &Config{
			Version:  1,
			Policies: []*Policy{},
			Store:    StoreConfig{Driver: StoreMemory},
			Engine: EngineConfig{
				BatchWorkerCount: 8,
				PolicyCache: PolicyCacheConfig{
					NumCounters: 1e4,
					MaxCost:     1 << 20,
					BufferItems: 64,
					TTLMillis:   5000,
				},
			},
		},
	}
}

func (b *ConfigBuilder) Version(v uint16) *ConfigBuilder {
	b.cfg.Version = v
	return b
}

func (b *ConfigBuilder) AddPolicy(p *Policy) *ConfigBuilder {
	b.cfg.Policies = append(b.cfg.Policies, p)
	return b
}

func (b *ConfigBuilder) Store(s StoreConfig) *ConfigBuilder {
	b.cfg.Store = s
	return b
}

// EnablePolicyCache turns on the read-through policy cache with the current sizing.
func (b *ConfigBuilder) EnablePolicyCache() *ConfigBuilder {
	b.cfg.Engine.PolicyCache.Enabled = true
	return b
}

func (b *ConfigBuilder) EngineSettings(fn func(*EngineConfig)) *ConfigBuilder {
	fn(&b.cfg.Engine)
	return b
}

func (b *ConfigBuilder) Build() *Config {
	return b.cfg
}

func (b *ConfigBuilder) ToYAML() ([]byte, error) {
	return b.cfg.ToYAML()
}

func (b *ConfigBuilder) ToJSON() ([]byte, error) {
	return b.cfg.ToJSON()
}
