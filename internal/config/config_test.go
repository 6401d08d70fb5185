package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoad(t *testing.T) {
	t.Run("creates defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sub", "datarepo.yaml")
		cfg, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(Default(), *cfg); diff != "" {
			t.Errorf("config mismatch (-want +got):\n%s", diff)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
		again, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(cfg, again); diff != "" {
			t.Errorf("reloaded config mismatch (-want +got):\n%s", diff)
		}
	})
	t.Run("partial file keeps defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "datarepo.yaml")
		data := "repo: notes\nlog_level: debug\njournal:\n  enabled: true\n"
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			t.Fatal(err)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatal(err)
		}
		want := Default()
		want.Repo = "notes"
		want.LogLevel = "debug"
		want.Journal.Enabled = true
		if diff := cmp.Diff(want, *cfg); diff != "" {
			t.Errorf("config mismatch (-want +got):\n%s", diff)
		}
		l, err := cfg.Level()
		if err != nil {
			t.Fatal(err)
		}
		if l != slog.LevelDebug {
			t.Errorf("Level() = %v, want debug", l)
		}
	})
	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "datarepo.yaml")
		if err := os.WriteFile(path, []byte("repo: [\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "failed to parse") {
			t.Fatalf("Load() error = %v, want parse error", err)
		}
	})
	t.Run("invalid value", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "datarepo.yaml")
		if err := os.WriteFile(path, []byte("load_workers: -1\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "load_workers") {
			t.Fatalf("Load() error = %v, want load_workers error", err)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		want   string
	}{
		{"default", func(*Config) {}, ""},
		{"no data dir", func(c *Config) { c.DataDir = "" }, "data_dir is required"},
		{"no repo", func(c *Config) { c.Repo = "" }, "repo is required"},
		{"nested repo", func(c *Config) { c.Repo = "a/b" }, "single path element"},
		{"dot repo", func(c *Config) { c.Repo = ".." }, "single path element"},
		{"negative workers", func(c *Config) { c.LoadWorkers = -2 }, "load_workers"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"upper level", func(c *Config) { c.LogLevel = "WARN" }, ""},
		{"journal disabled", func(c *Config) { c.Journal.AuthorName = "" }, ""},
		{"journal no author", func(c *Config) {
			c.Journal.Enabled = true
			c.Journal.AuthorName = ""
		}, "journal: author_name is required"},
		{"journal no email", func(c *Config) {
			c.Journal.Enabled = true
			c.Journal.AuthorEmail = ""
		}, "journal: author_email is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(&c)
			err := c.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want %q", err, tt.want)
			}
		})
	}
}
