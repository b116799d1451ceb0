package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PolicyFile is a set of named limiter configurations loaded from a
// YAML file, typically one policy per route class or client tier plus
// a default.
//
// File format:
//
//	default:
//	  algorithm: token_bucket
//	  capacity: 100
//	  refill_amount: 10
//	  refill_interval: 1s
//	policies:
//	  search:
//	    algorithm: sliding_window_log
//	    max_permits: 30
//	    window: 1m
//	  upload:
//	    algorithm: concurrency
//	    max_concurrency: 4
//
// Durations use Go syntax ("500ms", "1m30s"). Validation of the
// numeric constraints happens when a Config is turned into a limiter.
type PolicyFile struct {
	// Default applies to names with no dedicated policy; nil means
	// unknown names are an error.
	Default *Config

	// Policies maps policy names to their configurations.
	Policies map[string]Config
}

// yamlConfig is the file-level shape of one Config; durations arrive
// as strings.
type yamlConfig struct {
	Algorithm      string `yaml:"algorithm"`
	Capacity       int64  `yaml:"capacity"`
	RefillAmount   int64  `yaml:"refill_amount"`
	RefillInterval string `yaml:"refill_interval"`
	InitialTokens  *int64 `yaml:"initial_tokens"`
	MaxPermits     int64  `yaml:"max_permits"`
	Window         string `yaml:"window"`
	PollInterval   string `yaml:"poll_interval"`
	LeakInterval   string `yaml:"leak_interval"`
	MaxConcurrency int64  `yaml:"max_concurrency"`
}

type yamlFile struct {
	Default  *yamlConfig           `yaml:"default"`
	Policies map[string]yamlConfig `yaml:"policies"`
}

// LoadPolicyFile reads and parses a policy file from disk.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicies(data)
}

// ParsePolicies parses policy YAML from memory.
func ParsePolicies(data []byte) (*PolicyFile, error) {
	var raw yamlFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	out := &PolicyFile{Policies: make(map[string]Config, len(raw.Policies))}
	if raw.Default != nil {
		cfg, err := raw.Default.toConfig()
		if err != nil {
			return nil, fmt.Errorf("default policy: %w", err)
		}
		out.Default = &cfg
	}
	for name, yc := range raw.Policies {
		cfg, err := yc.toConfig()
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", name, err)
		}
		out.Policies[name] = cfg
	}
	return out, nil
}

// ConfigFor returns the configuration for a policy name, falling back
// to the default.
func (f *PolicyFile) ConfigFor(name string) (Config, error) {
	if cfg, ok := f.Policies[name]; ok {
		return cfg, nil
	}
	if f.Default != nil {
		return *f.Default, nil
	}
	return Config{}, fmt.Errorf("no policy named %q and no default", name)
}

// toConfig converts the YAML shape into a Config, parsing the
// algorithm name and every duration field.
func (yc *yamlConfig) toConfig() (Config, error) {
	algo, err := ParseAlgorithm(yc.Algorithm)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Algorithm:      algo,
		Capacity:       yc.Capacity,
		RefillAmount:   yc.RefillAmount,
		InitialTokens:  yc.InitialTokens,
		MaxPermits:     yc.MaxPermits,
		MaxConcurrency: yc.MaxConcurrency,
	}
	if cfg.RefillInterval, err = parseDuration(yc.RefillInterval, "refill_interval"); err != nil {
		return Config{}, err
	}
	if cfg.Window, err = parseDuration(yc.Window, "window"); err != nil {
		return Config{}, err
	}
	if cfg.PollInterval, err = parseDuration(yc.PollInterval, "poll_interval"); err != nil {
		return Config{}, err
	}
	if cfg.LeakInterval, err = parseDuration(yc.LeakInterval, "leak_interval"); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseDuration(s, field string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
