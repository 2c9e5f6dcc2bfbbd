// Package config loads and validates the cxref project configuration,
// surfacing exactly the keys named in spec §6.
package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/spf13/viper"

	"cxref/internal/xerrors"
)

// CacheConfig controls the on-disk cache (§4.6, §6).
type CacheConfig struct {
	Directory        string `mapstructure:"directory"`
	Format           string `mapstructure:"format"` // "binary" | "json"
	HierarchicalPath bool   `mapstructure:"hierarchicalPath"`
	RetainInMemory   int    `mapstructure:"retainInMemory"` // 0|1|2
}

// IndexConfig controls indexing policy (§4.5, §4.7, §6).
type IndexConfig struct {
	OnChange         bool     `mapstructure:"onChange"`
	InitialNoLinkage bool     `mapstructure:"initialNoLinkage"`
	TrackDependency  int      `mapstructure:"trackDependency"` // 0 off / 1 once / 2 always
	Threads          int      `mapstructure:"threads"`
	Comments         int      `mapstructure:"comments"` // 0 none / 1 doxygen / 2 all
	Excludes         []string `mapstructure:"excludes"`
}

// SessionConfig controls preamble/session caching (§4.8, §6).
type SessionConfig struct {
	MaxNum int `mapstructure:"maxNum"`
}

// DiagnosticsConfig controls debounce windows (negative disables).
type DiagnosticsConfig struct {
	OnOpen   int `mapstructure:"onOpen"`
	OnSave   int `mapstructure:"onSave"`
	OnChange int `mapstructure:"onChange"`
}

// MultiVersionRule is one (pathGlob, extraArgs) entry for the
// multi-version indexing matcher (SPEC_FULL §4 supplement).
type MultiVersionRule struct {
	PathGlob  string   `mapstructure:"pathGlob"`
	ExtraArgs []string `mapstructure:"extraArgs"`
}

// Config is the full set of settings the core recognizes.
type Config struct {
	RepoRoot     string             `mapstructure:"repoRoot"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Index        IndexConfig        `mapstructure:"index"`
	Session      SessionConfig      `mapstructure:"session"`
	Diagnostics  DiagnosticsConfig  `mapstructure:"diagnostics"`
	MultiVersion []MultiVersionRule `mapstructure:"multiVersion"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// LoggingConfig controls the ambient logger (not part of spec.md's core,
// but required ambient stack per SPEC_FULL §3).
type LoggingConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		RepoRoot: ".",
		Cache: CacheConfig{
			Directory:        ".cxref/cache",
			Format:           "binary",
			HierarchicalPath: false,
			RetainInMemory:   1,
		},
		Index: IndexConfig{
			OnChange:         true,
			InitialNoLinkage: true,
			TrackDependency:  1,
			Threads:          0, // 0 => runtime.NumCPU()/2
			Comments:         1,
			Excludes:         []string{"**/build/**", "**/.git/**", "**/vendor/**"},
		},
		Session: SessionConfig{MaxNum: 16},
		Diagnostics: DiagnosticsConfig{
			OnOpen:   0,
			OnSave:   0,
			OnChange: 500,
		},
		Logging: LoggingConfig{Format: "human", Level: "info"},
	}
}

//go:embed schema.json
var schemaJSON []byte

func validateAgainstSchema(raw []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("cxref-config.json", bytes.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("config: loading schema: %w", err)
	}
	schema, err := compiler.Compile("cxref-config.json")
	if err != nil {
		return fmt.Errorf("config: compiling schema: %w", err)
	}

	var doc interface{}
	if err := jsonschema.UnmarshalJSON(bytes.NewReader(raw), &doc); err != nil {
		return fmt.Errorf("config: parsing json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("config: schema validation: %w", err)
	}
	return nil
}

// LoadResult carries the parsed config plus provenance for diagnostics.
type LoadResult struct {
	Config       *Config
	ConfigPath   string
	EnvOverrides []string
	UsedDefaults bool
}

// LoadConfig loads `<repoRoot>/.cxref/config.json`, validating it against
// the bundled schema before unmarshalling. Missing files fall back to
// DefaultConfig; parse errors are logged by the caller and defaults are
// used (§7 "config parse errors — logged, defaults used").
func LoadConfig(repoRoot string) (*Config, error) {
	result, err := LoadConfigWithDetails(repoRoot)
	if err != nil {
		return DefaultConfig(), err
	}
	return result.Config, nil
}

// LoadConfigWithDetails is LoadConfig plus the path/overrides/defaults
// provenance the daemon reports on startup.
func LoadConfigWithDetails(repoRoot string) (*LoadResult, error) {
	if envPath := os.Getenv("CXREF_CONFIG_PATH"); envPath != "" {
		return loadConfigFromPath(envPath)
	}

	v := viper.New()
	setViperDefaults(v, DefaultConfig())
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(repoRoot, ".cxref"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return &LoadResult{Config: DefaultConfig(), UsedDefaults: true}, nil
		}
		return nil, xerrors.Wrap(xerrors.ConfigError, err, "config: reading config file")
	}

	if raw, err := os.ReadFile(v.ConfigFileUsed()); err == nil {
		if err := validateAgainstSchema(raw); err != nil {
			return nil, xerrors.Wrap(xerrors.ConfigError, err, "config: invalid config file")
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.ConfigError, err, "config: unmarshalling config")
	}

	overrides := applyEnvOverrides(cfg)

	return &LoadResult{Config: cfg, ConfigPath: v.ConfigFileUsed(), EnvOverrides: overrides}, nil
}

func loadConfigFromPath(path string) (*LoadResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ConfigError, err, "config: reading CXREF_CONFIG_PATH")
	}
	if err := validateAgainstSchema(raw); err != nil {
		return nil, xerrors.Wrap(xerrors.ConfigError, err, "config: invalid config file")
	}

	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
		return nil, xerrors.Wrap(xerrors.ConfigError, err, "config: parsing CXREF_CONFIG_PATH")
	}
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.ConfigError, err, "config: unmarshalling CXREF_CONFIG_PATH")
	}
	overrides := applyEnvOverrides(cfg)
	return &LoadResult{Config: cfg, ConfigPath: path, EnvOverrides: overrides}, nil
}

func setViperDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("repoRoot", d.RepoRoot)
	v.SetDefault("cache.directory", d.Cache.Directory)
	v.SetDefault("cache.format", d.Cache.Format)
	v.SetDefault("cache.hierarchicalPath", d.Cache.HierarchicalPath)
	v.SetDefault("cache.retainInMemory", d.Cache.RetainInMemory)
	v.SetDefault("index.onChange", d.Index.OnChange)
	v.SetDefault("index.initialNoLinkage", d.Index.InitialNoLinkage)
	v.SetDefault("index.trackDependency", d.Index.TrackDependency)
	v.SetDefault("index.threads", d.Index.Threads)
	v.SetDefault("index.comments", d.Index.Comments)
	v.SetDefault("index.excludes", d.Index.Excludes)
	v.SetDefault("session.maxNum", d.Session.MaxNum)
	v.SetDefault("diagnostics.onOpen", d.Diagnostics.OnOpen)
	v.SetDefault("diagnostics.onSave", d.Diagnostics.OnSave)
	v.SetDefault("diagnostics.onChange", d.Diagnostics.OnChange)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.level", d.Logging.Level)
}

// envVarDef records how to decode one environment-variable override.
type envVarDef struct {
	path    func(*Config) *string
	intPath func(*Config) *int
	boolPath func(*Config) *bool
}

// envVarMappings lists every environment variable that can override a
// config value, keyed by variable name.
var envVarMappings = map[string]envVarDef{
	"CXREF_CACHE_DIRECTORY":      {path: func(c *Config) *string { return &c.Cache.Directory }},
	"CXREF_CACHE_FORMAT":         {path: func(c *Config) *string { return &c.Cache.Format }},
	"CXREF_CACHE_RETAIN_IN_MEMORY": {intPath: func(c *Config) *int { return &c.Cache.RetainInMemory }},
	"CXREF_INDEX_THREADS":        {intPath: func(c *Config) *int { return &c.Index.Threads }},
	"CXREF_INDEX_TRACK_DEPENDENCY": {intPath: func(c *Config) *int { return &c.Index.TrackDependency }},
	"CXREF_INDEX_COMMENTS":       {intPath: func(c *Config) *int { return &c.Index.Comments }},
	"CXREF_INDEX_ON_CHANGE":      {boolPath: func(c *Config) *bool { return &c.Index.OnChange }},
	"CXREF_SESSION_MAX_NUM":      {intPath: func(c *Config) *int { return &c.Session.MaxNum }},
	"CXREF_LOG_LEVEL":            {path: func(c *Config) *string { return &c.Logging.Level }},
	"CXREF_LOG_FORMAT":           {path: func(c *Config) *string { return &c.Logging.Format }},
}

// applyEnvOverrides mutates cfg in place from recognized environment
// variables and returns the names of the variables that were applied.
func applyEnvOverrides(cfg *Config) []string {
	var applied []string
	for name, def := range envVarMappings {
		raw, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		switch {
		case def.path != nil:
			*def.path(cfg) = raw
		case def.intPath != nil:
			n, err := strconv.Atoi(raw)
			if err != nil {
				continue
			}
			*def.intPath(cfg) = n
		case def.boolPath != nil:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				continue
			}
			*def.boolPath(cfg) = b
		}
		applied = append(applied, name)
	}
	return applied
}

// GetSupportedEnvVars returns the names of every environment variable
// LoadConfig recognizes, for `cxref doctor`-style introspection.
func GetSupportedEnvVars() []string {
	names := make([]string, 0, len(envVarMappings))
	for name := range envVarMappings {
		names = append(names, name)
	}
	return names
}

// Validate re-checks the range and enum constraints on the final config,
// including values set by environment overrides, which the schema pass never
// sees.
func (c *Config) Validate() error {
	if c.Cache.RetainInMemory < 0 || c.Cache.RetainInMemory > 2 {
		return fmt.Errorf("config: cache.retainInMemory must be 0, 1, or 2, got %d", c.Cache.RetainInMemory)
	}
	if c.Index.TrackDependency < 0 || c.Index.TrackDependency > 2 {
		return fmt.Errorf("config: index.trackDependency must be 0, 1, or 2, got %d", c.Index.TrackDependency)
	}
	if c.Index.Comments < 0 || c.Index.Comments > 2 {
		return fmt.Errorf("config: index.comments must be 0, 1, or 2, got %d", c.Index.Comments)
	}
	if c.Cache.Format != "binary" && c.Cache.Format != "json" {
		return fmt.Errorf("config: cache.format must be 'binary' or 'json', got %q", c.Cache.Format)
	}
	return nil
}
