package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default("/tmp/indexplan.db")
	if cfg.Database.Path != "/tmp/indexplan.db" {
		t.Fatalf("unexpected db path %q", cfg.Database.Path)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("unexpected log level %q", cfg.Logging.Level)
	}
	if cfg.Indexing.BatchSize != 1000 || cfg.Indexing.MaxDepth != 8 {
		t.Fatalf("unexpected indexing defaults %+v", cfg.Indexing)
	}
	if cfg.Indexing.DefaultTenant != "default" {
		t.Fatalf("unexpected default tenant %q", cfg.Indexing.DefaultTenant)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	defaults := Default("/tmp/indexplan.db")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"), defaults)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != defaults.Database.Path {
		t.Fatalf("expected default db path, got %q", cfg.Database.Path)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[database]
path = "/custom/indexplan.db"

[logging]
level = "debug"

[indexing]
batch_size = 10
max_depth = 3

[[types]]
name = "author"
indexed = true
fields = ["name"]

[[types]]
name = "book"
indexed = true
fields = ["title"]

[[types.embeds]]
field = "author_ids"
type = "author"
fields = ["name"]
as = "authors"

[types.intercept]
field = "status"
equals = "draft"
override = "skip"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path, Default("/tmp/default.db"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/custom/indexplan.db" {
		t.Fatalf("unexpected db path %q", cfg.Database.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected log level %q", cfg.Logging.Level)
	}
	if cfg.Indexing.BatchSize != 10 || cfg.Indexing.MaxDepth != 3 {
		t.Fatalf("unexpected indexing config %+v", cfg.Indexing)
	}
	if cfg.Indexing.DefaultTenant != "default" {
		t.Fatalf("expected default tenant preserved, got %q", cfg.Indexing.DefaultTenant)
	}
	if len(cfg.Types) != 2 {
		t.Fatalf("expected 2 types, got %d", len(cfg.Types))
	}
	book := cfg.Types[1]
	if len(book.Embeds) != 1 || book.Embeds[0].As != "authors" {
		t.Fatalf("unexpected embeds %+v", book.Embeds)
	}
	if book.Intercept == nil || book.Intercept.Override != "skip" {
		t.Fatalf("unexpected intercept %+v", book.Intercept)
	}
}

func TestValidateRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "empty db", mutate: func(c *Config) { c.Database.Path = " " }, want: "database path"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, want: "logging.level"},
		{name: "batch size", mutate: func(c *Config) { c.Indexing.BatchSize = 0 }, want: "batch_size"},
		{name: "max depth", mutate: func(c *Config) { c.Indexing.MaxDepth = -1 }, want: "max_depth"},
		{name: "tenant", mutate: func(c *Config) { c.Indexing.DefaultTenant = "" }, want: "default_tenant"},
		{name: "endpoints", mutate: func(c *Config) { c.Server.MCPEndpoint = "/api/v1/" }, want: "must differ"},
		{name: "type name", mutate: func(c *Config) { c.Types = []TypeConfig{{}} }, want: "types[0].name"},
		{name: "duplicate type", mutate: func(c *Config) {
			c.Types = []TypeConfig{{Name: "a"}, {Name: "a"}}
		}, want: "duplicated"},
		{name: "unknown embed", mutate: func(c *Config) {
			c.Types = []TypeConfig{{Name: "a", Embeds: []EmbedConfig{{Field: "b_id", Type: "b"}}}}
		}, want: "unknown type"},
		{name: "override", mutate: func(c *Config) {
			c.Types = []TypeConfig{{Name: "a", Intercept: &InterceptConfig{Field: "x", Override: "boom"}}}
		}, want: "intercept.override"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default("/tmp/indexplan.db")
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestSaveRoundTripsExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	example := Example("/tmp/indexplan.db")
	if err := Save(path, example); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(path, Default("/other.db"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Database.Path != "/tmp/indexplan.db" {
		t.Fatalf("unexpected db path %q", loaded.Database.Path)
	}
	if len(loaded.Types) != 2 || loaded.Types[1].Intercept == nil {
		t.Fatalf("unexpected types %+v", loaded.Types)
	}
}
