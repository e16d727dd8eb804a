package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "askpatch.yaml")
	data := `
max_retries: 4
apply_mode: commit
allowed_prefixes: [src/, docs/]
waiter:
  inactivity: 9s
  min_chars: 40
browser:
  debug_url: ws://127.0.0.1:9333/devtools/browser/x
  selectors:
    send: button.send
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	if err := cfg.LoadFile(path, true); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.MaxRetries != 4 || cfg.ApplyMode != "commit" {
		t.Fatalf("scalars not loaded: %+v", cfg)
	}
	if strings.Join(cfg.AllowedPrefixes, ",") != "src/,docs/" {
		t.Fatalf("prefixes = %v", cfg.AllowedPrefixes)
	}
	if cfg.Waiter.Inactivity != 9*time.Second || cfg.Waiter.MinChars != 40 {
		t.Fatalf("waiter = %+v", cfg.Waiter)
	}
	if cfg.Waiter.StableFor != time.Second {
		t.Fatalf("unset waiter field lost its default: %+v", cfg.Waiter)
	}
	if cfg.Browser.Selectors.Send != "button.send" || cfg.Browser.Selectors.Input == "" {
		t.Fatalf("selectors = %+v", cfg.Browser.Selectors)
	}
}

func TestLoadFileMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	if err := Default().LoadFile(missing, false); err != nil {
		t.Fatalf("implicit missing file should be ignored: %v", err)
	}
	if err := Default().LoadFile(missing, true); err == nil {
		t.Fatal("explicit missing file should fail")
	}
}

func TestLoadEnv(t *testing.T) {
	cfg := Default()
	err := cfg.LoadEnv(envMap(map[string]string{
		"ASKPATCH_MAX_RETRIES":      "5",
		"ASKPATCH_ITERATE":          "true",
		"ASKPATCH_ALLOWED_PREFIXES": "a/, b/ ,",
		"ASKPATCH_INACTIVITY":       "12s",
		"ASKPATCH_DEBUG_URL":        "http://localhost:9000",
	}))
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if cfg.MaxRetries != 5 || !cfg.Iterate {
		t.Fatalf("scalars = %+v", cfg)
	}
	if strings.Join(cfg.AllowedPrefixes, "|") != "a/|b/" {
		t.Fatalf("prefixes = %q", cfg.AllowedPrefixes)
	}
	if cfg.Waiter.Inactivity != 12*time.Second || cfg.Browser.DebugURL != "http://localhost:9000" {
		t.Fatalf("nested = %+v %+v", cfg.Waiter, cfg.Browser)
	}
}

func TestLoadEnvRejectsBadValues(t *testing.T) {
	err := Default().LoadEnv(envMap(map[string]string{"ASKPATCH_MAX_RETRIES": "many"}))
	if err == nil || !strings.Contains(err.Error(), "ASKPATCH_MAX_RETRIES") {
		t.Fatalf("err = %v", err)
	}
}

func TestFlagsOverrideOnlyWhenSet(t *testing.T) {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags := NewFlags(fs).Session()
	if err := fs.Parse([]string{"--apply", "apply", "--allow", "src/", "--inactivity", "3s"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	cfg := Default()
	cfg.MaxRetries = 7
	flags.Apply(cfg)

	if cfg.ApplyMode != "apply" {
		t.Fatalf("apply mode = %q", cfg.ApplyMode)
	}
	if cfg.MaxRetries != 7 {
		t.Fatalf("unset flag overrode max retries: %d", cfg.MaxRetries)
	}
	if len(cfg.AllowedPrefixes) != 1 || cfg.AllowedPrefixes[0] != "src/" {
		t.Fatalf("prefixes = %v", cfg.AllowedPrefixes)
	}
	if cfg.Waiter.Inactivity != 3*time.Second {
		t.Fatalf("inactivity = %s", cfg.Waiter.Inactivity)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"bad apply mode", func(c *Config) { c.ApplyMode = "push" }, false},
		{"bad secret policy", func(c *Config) { c.SecretPolicy = "ignore" }, false},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, false},
		{"prompt and file", func(c *Config) { c.Prompt = "x"; c.PromptFile = "y" }, false},
		{"stable beyond inactivity", func(c *Config) { c.Waiter.StableFor = 10 * time.Second }, false},
		{"iterate with check", func(c *Config) { c.Iterate = true }, false},
		{"iterate with none", func(c *Config) { c.Iterate = true; c.ApplyMode = "none" }, false},
		{"iterate with apply", func(c *Config) { c.Iterate = true; c.ApplyMode = "apply" }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); (err == nil) != tc.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}
