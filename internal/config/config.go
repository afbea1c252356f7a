package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	toml "github.com/pelletier/go-toml/v2"
)

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Logging  LoggingConfig  `toml:"logging"`
	Indexing IndexingConfig `toml:"indexing"`
	Server   ServerConfig   `toml:"server"`
	Types    []TypeConfig   `toml:"types"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type LoggingConfig struct {
	Level   string        `toml:"level"`
	DevFile DevFileConfig `toml:"dev_file"`
}

type DevFileConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type IndexingConfig struct {
	BatchSize     int    `toml:"batch_size"`
	MaxDepth      int    `toml:"max_depth"`
	DefaultTenant string `toml:"default_tenant"`
}

type ServerConfig struct {
	HTTPBind    string `toml:"http_bind"`
	APIEndpoint string `toml:"api_endpoint"`
	MCPEndpoint string `toml:"mcp_endpoint"`
}

// TypeConfig maps one entity type into the index.
type TypeConfig struct {
	Name            string           `toml:"name"`
	Indexed         bool             `toml:"indexed"`
	ProvidedID      bool             `toml:"provided_id"`
	DocumentIDField string           `toml:"document_id_field,omitempty"`
	Fields          []string         `toml:"fields"`
	Embeds          []EmbedConfig    `toml:"embeds,omitempty"`
	Intercept       *InterceptConfig `toml:"intercept,omitempty"`
}

// EmbedConfig declares records of Type referenced by Field that are embedded in the owning document.
type EmbedConfig struct {
	Field  string   `toml:"field"`
	Type   string   `toml:"type"`
	Fields []string `toml:"fields"`
	As     string   `toml:"as,omitempty"`
}

// InterceptConfig overrides containment propagation for matching records.
type InterceptConfig struct {
	Field    string `toml:"field"`
	Equals   string `toml:"equals"`
	Override string `toml:"override"`
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
				Dir:     ".indexplan/log",
			},
		},
		Indexing: IndexingConfig{
			BatchSize:     1000,
			MaxDepth:      8,
			DefaultTenant: "default",
		},
		Server: ServerConfig{
			HTTPBind:    "127.0.0.1:8080",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
	}
}

// Example returns the defaults plus a small library mapping used by `init`.
func Example(dbPath string) Config {
	cfg := Default(dbPath)
	cfg.Types = []TypeConfig{
		{Name: "author", Indexed: true, Fields: []string{"name"}},
		{
			Name:    "book",
			Indexed: true,
			Fields:  []string{"title", "year", "status"},
			Embeds: []EmbedConfig{
				{Field: "author_ids", Type: "author", Fields: []string{"name"}, As: "authors"},
			},
			Intercept: &InterceptConfig{Field: "status", Equals: "draft", Override: "skip"},
		},
	}
	return cfg
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Save writes cfg as TOML, creating the parent directory.
func Save(path string, cfg Config) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("config path is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	encoded, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	c.Database.Path = strings.TrimSpace(c.Database.Path)
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if _, err := log.ParseLevel(strings.TrimSpace(c.Logging.Level)); err != nil {
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	if c.Indexing.BatchSize <= 0 {
		return fmt.Errorf("indexing.batch_size must be > 0")
	}
	if c.Indexing.MaxDepth <= 0 {
		return fmt.Errorf("indexing.max_depth must be > 0")
	}
	if strings.TrimSpace(c.Indexing.DefaultTenant) == "" {
		return errors.New("indexing.default_tenant is required")
	}

	api := strings.Trim(strings.TrimSpace(c.Server.APIEndpoint), "/")
	mcp := strings.Trim(strings.TrimSpace(c.Server.MCPEndpoint), "/")
	if api != "" && api == mcp {
		return errors.New("server.api_endpoint and server.mcp_endpoint must differ")
	}

	seenType := map[string]struct{}{}
	for idx, typ := range c.Types {
		name := strings.TrimSpace(typ.Name)
		if name == "" {
			return fmt.Errorf("types[%d].name is required", idx)
		}
		if _, ok := seenType[name]; ok {
			return fmt.Errorf("types[%d].name is duplicated: %s", idx, name)
		}
		seenType[name] = struct{}{}
		for embedIdx, embed := range typ.Embeds {
			if strings.TrimSpace(embed.Field) == "" {
				return fmt.Errorf("types[%d].embeds[%d].field is required", idx, embedIdx)
			}
			if strings.TrimSpace(embed.Type) == "" {
				return fmt.Errorf("types[%d].embeds[%d].type is required", idx, embedIdx)
			}
		}
		if typ.Intercept != nil {
			switch strings.TrimSpace(strings.ToLower(typ.Intercept.Override)) {
			case "", "apply_default", "update", "skip", "remove":
			default:
				return fmt.Errorf("invalid types[%d].intercept.override: %q", idx, typ.Intercept.Override)
			}
		}
	}
	for idx, typ := range c.Types {
		for embedIdx, embed := range typ.Embeds {
			if _, ok := seenType[strings.TrimSpace(embed.Type)]; !ok {
				return fmt.Errorf("types[%d].embeds[%d] references unknown type %q", idx, embedIdx, embed.Type)
			}
		}
	}

	return nil
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
