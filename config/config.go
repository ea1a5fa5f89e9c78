// Package config loads the run configuration: the declared sources, where
// outputs go and which optional sinks are enabled.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"diseaseindex/schema"
)

// Source formats.
const (
	FormatTable   = "table"   // one row per record, columns renamed into the schema
	FormatBinary  = "binary"  // one-hot symptom matrix
	FormatReports = "reports" // free-text reports run through the extractor
)

var ErrNoSources = errors.New("no sources configured")

type Config struct {
	// Reference names the source whose contagious/chronic/treatments
	// values seed the attribute backfill map.
	Reference string         `yaml:"reference"`
	Sources   []SourceConfig `yaml:"sources"`
	Output    OutputConfig   `yaml:"output"`
	Index     IndexConfig    `yaml:"index"`
	NER       NERConfig      `yaml:"ner"`
	Postgres  PostgresConfig `yaml:"postgres"`
	Redis     RedisConfig    `yaml:"redis"`
	Log       LogConfig      `yaml:"log"`
}

type SourceConfig struct {
	Name        string            `yaml:"name"`
	Path        string            `yaml:"path"`
	Format      string            `yaml:"format"`
	Rename      map[string]string `yaml:"rename"`
	Defaults    map[string]string `yaml:"defaults"`
	MultiValued []string          `yaml:"multi_valued"`
}

type OutputConfig struct {
	Dir          string `yaml:"dir"`
	CanonicalCSV string `yaml:"canonical_csv"`
	Parquet      string `yaml:"parquet"`
	SymptomIndex string `yaml:"symptom_index"`
	DiseaseIndex string `yaml:"disease_index"`
}

type IndexConfig struct {
	Shards  int `yaml:"shards"`
	Workers int `yaml:"workers"`
}

type NERConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	TokenEnv    string        `yaml:"token_env"`
	EntityGroup string        `yaml:"entity_group"`
	Timeout     time.Duration `yaml:"timeout"`
	Retries     int           `yaml:"retries"`
	Concurrency int           `yaml:"concurrency"`
	// Vocabulary enables the offline dictionary extractor when no
	// endpoint is configured.
	Vocabulary []string `yaml:"vocabulary"`
}

type PostgresConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	Addr   string        `yaml:"addr"`
	Prefix string        `yaml:"prefix"`
	TTL    time.Duration `yaml:"ttl"`
}

type LogConfig struct {
	Mode string `yaml:"mode"`
}

// Load reads and validates a YAML config file. Relative source paths are
// resolved against the config file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	base := filepath.Dir(path)
	for i := range cfg.Sources {
		if p := cfg.Sources[i].Path; p != "" && !filepath.IsAbs(p) {
			cfg.Sources[i].Path = filepath.Join(base, p)
		}
	}
	if cfg.Output.Dir != "" && !filepath.IsAbs(cfg.Output.Dir) {
		cfg.Output.Dir = filepath.Join(base, cfg.Output.Dir)
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Sources {
		if c.Sources[i].Format == "" {
			c.Sources[i].Format = FormatTable
		}
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "final"
	}
	if c.Output.CanonicalCSV == "" {
		c.Output.CanonicalCSV = "merged_disease_symptom_list.csv"
	}
	if c.Output.SymptomIndex == "" {
		c.Output.SymptomIndex = "symptom_search.json"
	}
	if c.Output.DiseaseIndex == "" {
		c.Output.DiseaseIndex = "disease_search.json"
	}
	if c.Index.Shards <= 0 {
		c.Index.Shards = 1
	}
	if c.Index.Workers <= 0 {
		c.Index.Workers = 1
	}
	if c.NER.Concurrency <= 0 {
		c.NER.Concurrency = 4
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "diseaseindex"
	}
	if c.Log.Mode == "" {
		c.Log.Mode = "development"
	}
}

// Validate reports configuration errors. These are fatal for a run.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return ErrNoSources
	}

	canonical := make(map[string]bool, len(schema.Fields))
	for _, f := range schema.Fields {
		canonical[f] = true
	}

	names := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("source %d: missing name", i)
		}
		if names[s.Name] {
			return fmt.Errorf("source %q: duplicate name", s.Name)
		}
		names[s.Name] = true
		if s.Path == "" {
			return fmt.Errorf("source %q: missing path", s.Name)
		}
		switch s.Format {
		case FormatTable, FormatBinary, FormatReports:
		default:
			return fmt.Errorf("source %q: unknown format %q", s.Name, s.Format)
		}
		for from, to := range s.Rename {
			if !canonical[to] {
				return fmt.Errorf("source %q: column %q renamed to non-canonical field %q", s.Name, from, to)
			}
		}
		for f := range s.Defaults {
			if !canonical[f] {
				return fmt.Errorf("source %q: default for non-canonical field %q", s.Name, f)
			}
		}
		for _, f := range s.MultiValued {
			if !canonical[f] {
				return fmt.Errorf("source %q: multi_valued names non-canonical field %q", s.Name, f)
			}
		}
	}
	if c.Reference != "" && !names[c.Reference] {
		return fmt.Errorf("reference %q is not a declared source", c.Reference)
	}
	return nil
}
