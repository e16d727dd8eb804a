// Package cli holds askpatch's configuration and its three sources: a YAML
// file, ASKPATCH_* environment variables and command-line flags.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/sokinpui/askpatch/internal/browser"
	"github.com/sokinpui/askpatch/internal/waiter"
	"github.com/sokinpui/askpatch/model"
)

// EnvPrefix prefixes every environment variable askpatch reads.
const EnvPrefix = "ASKPATCH_"

// Config holds every setting. Later sources override earlier ones:
// defaults, then the YAML file, then the environment, then flags.
type Config struct {
	Prompt          string        `yaml:"prompt"`
	PromptFile      string        `yaml:"prompt_file"`
	MaxRetries      int           `yaml:"max_retries"`
	ApplyMode       string        `yaml:"apply_mode"`
	SecretPolicy    string        `yaml:"secret_policy"`
	ExitOnPartial   bool          `yaml:"exit_on_partial"`
	Iterate         bool          `yaml:"iterate"`
	Strict          bool          `yaml:"strict"`
	AllowedPrefixes []string      `yaml:"allowed_prefixes"`
	RepoRoot        string        `yaml:"repo_root"`
	CommitMessage   string        `yaml:"commit_message"`
	ArtifactDir     string        `yaml:"artifact_dir"`
	LedgerPath      string        `yaml:"ledger_path"`
	Scope           string        `yaml:"scope"`
	HardTimeout     time.Duration `yaml:"hard_timeout"`
	MinCopyChars    int           `yaml:"min_copy_chars"`
	NoAnimation     bool          `yaml:"no_animation"`
	Addr            string        `yaml:"addr"`

	Waiter  waiter.Config  `yaml:"waiter"`
	Browser browser.Config `yaml:"browser"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MaxRetries:    2,
		ApplyMode:     string(model.ApplyCheck),
		SecretPolicy:  string(model.SecretsSanitize),
		ExitOnPartial: true,
		CommitMessage: "askpatch: apply assistant patch",
		HardTimeout:   5 * time.Minute,
		MinCopyChars:  20,
		Addr:          "127.0.0.1:7411",
		Waiter:        waiter.DefaultConfig(),
		Browser: browser.Config{
			DebugURL:      "http://127.0.0.1:9222",
			URL:           "https://chatgpt.com/",
			URLMatch:      "chatgpt.com",
			ActionTimeout: 15 * time.Second,
			CopySettle:    300 * time.Millisecond,
			Selectors:     browser.DefaultSelectors(),
		},
	}
}

// LoadFile overlays the YAML file at path. A missing path is not an error
// when the file was not asked for explicitly.
func (c *Config) LoadFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// LoadEnv overlays ASKPATCH_* variables read through getenv.
func (c *Config) LoadEnv(getenv func(string) string) error {
	e := envReader{getenv: getenv}
	c.Prompt = e.str("PROMPT", c.Prompt)
	c.PromptFile = e.str("PROMPT_FILE", c.PromptFile)
	c.MaxRetries = e.integer("MAX_RETRIES", c.MaxRetries)
	c.ApplyMode = e.str("APPLY_MODE", c.ApplyMode)
	c.SecretPolicy = e.str("SECRET_POLICY", c.SecretPolicy)
	c.ExitOnPartial = e.boolean("EXIT_ON_PARTIAL", c.ExitOnPartial)
	c.Iterate = e.boolean("ITERATE", c.Iterate)
	c.Strict = e.boolean("STRICT", c.Strict)
	c.AllowedPrefixes = e.list("ALLOWED_PREFIXES", c.AllowedPrefixes)
	c.RepoRoot = e.str("REPO_ROOT", c.RepoRoot)
	c.CommitMessage = e.str("COMMIT_MESSAGE", c.CommitMessage)
	c.ArtifactDir = e.str("ARTIFACT_DIR", c.ArtifactDir)
	c.LedgerPath = e.str("LEDGER_PATH", c.LedgerPath)
	c.Scope = e.str("SCOPE", c.Scope)
	c.HardTimeout = e.duration("HARD_TIMEOUT", c.HardTimeout)
	c.MinCopyChars = e.integer("MIN_COPY_CHARS", c.MinCopyChars)
	c.NoAnimation = e.boolean("NO_ANIMATION", c.NoAnimation)
	c.Addr = e.str("ADDR", c.Addr)

	c.Waiter.Interval = e.duration("POLL_INTERVAL", c.Waiter.Interval)
	c.Waiter.StableFor = e.duration("STABLE_FOR", c.Waiter.StableFor)
	c.Waiter.Inactivity = e.duration("INACTIVITY", c.Waiter.Inactivity)
	c.Waiter.MinChars = e.integer("MIN_CHARS", c.Waiter.MinChars)

	c.Browser.DebugURL = e.str("DEBUG_URL", c.Browser.DebugURL)
	c.Browser.URL = e.str("CHAT_URL", c.Browser.URL)
	c.Browser.URLMatch = e.str("CHAT_URL_MATCH", c.Browser.URLMatch)
	return e.err
}

// Validate checks enums and option combinations.
func (c *Config) Validate() error {
	switch model.ApplyMode(c.ApplyMode) {
	case model.ApplyNone, model.ApplyCheck, model.ApplyApply, model.ApplyCommit:
	default:
		return fmt.Errorf("invalid apply mode %q: want none, check, apply or commit", c.ApplyMode)
	}
	switch model.SecretPolicy(c.SecretPolicy) {
	case model.SecretsOff, model.SecretsSanitize, model.SecretsFail:
	default:
		return fmt.Errorf("invalid secret policy %q: want off, sanitize or fail", c.SecretPolicy)
	}
	if c.Iterate {
		switch model.ApplyMode(c.ApplyMode) {
		case model.ApplyNone, model.ApplyCheck:
			return fmt.Errorf("iterate needs apply mode apply or commit, got %q", c.ApplyMode)
		}
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.Prompt != "" && c.PromptFile != "" {
		return errors.New("--prompt and --prompt-file are mutually exclusive")
	}
	if c.Waiter.Inactivity > 0 && c.Waiter.StableFor > c.Waiter.Inactivity {
		return fmt.Errorf("stable-for (%s) must not exceed inactivity (%s)", c.Waiter.StableFor, c.Waiter.Inactivity)
	}
	return nil
}

// envReader reads typed values, keeping the first parse error.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) lookup(key string) (string, bool) {
	v := strings.TrimSpace(e.getenv(EnvPrefix + key))
	return v, v != ""
}

func (e *envReader) fail(key, v string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, key, v, err)
	}
}

func (e *envReader) str(key, fallback string) string {
	if v, ok := e.lookup(key); ok {
		return v
	}
	return fallback
}

func (e *envReader) integer(key string, fallback int) int {
	v, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return fallback
	}
	return n
}

func (e *envReader) boolean(key string, fallback bool) bool {
	v, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return fallback
	}
	return b
}

func (e *envReader) duration(key string, fallback time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return fallback
	}
	return d
}

func (e *envReader) list(key string, fallback []string) []string {
	v, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Flags binds command-line flags. Only flags the user set override the
// configuration, so file and environment values survive unset flags.
type Flags struct {
	fs      *pflag.FlagSet
	vals    *Config
	setters map[string]func(*Config)
}

// NewFlags creates an empty binding over fs.
func NewFlags(fs *pflag.FlagSet) *Flags {
	return &Flags{fs: fs, vals: Default(), setters: make(map[string]func(*Config))}
}

func bind[T any](f *Flags, name string, field func(*Config) *T, register func(p *T, def T)) {
	register(field(f.vals), *field(Default()))
	f.setters[name] = func(c *Config) { *field(c) = *field(f.vals) }
}

// Session registers the flags that shape a session.
func (f *Flags) Session() *Flags {
	fs := f.fs
	bind(f, "prompt", func(c *Config) *string { return &c.Prompt }, func(p *string, d string) {
		fs.StringVarP(p, "prompt", "p", d, "Prompt to send (default: read from a file, stdin or the clipboard).")
	})
	bind(f, "prompt-file", func(c *Config) *string { return &c.PromptFile }, func(p *string, d string) {
		fs.StringVarP(p, "prompt-file", "f", d, "Read the prompt from this file ('-' for stdin).")
	})
	bind(f, "max-retries", func(c *Config) *int { return &c.MaxRetries }, func(p *int, d int) {
		fs.IntVarP(p, "max-retries", "r", d, "Follow-up prompts allowed after the first answer.")
	})
	bind(f, "apply", func(c *Config) *string { return &c.ApplyMode }, func(p *string, d string) {
		fs.StringVarP(p, "apply", "a", d, "What to do with a valid diff: none, check, apply or commit.")
	})
	bind(f, "secrets", func(c *Config) *string { return &c.SecretPolicy }, func(p *string, d string) {
		fs.StringVar(p, "secrets", d, "Prompt secret policy: off, sanitize or fail.")
	})
	bind(f, "exit-on-partial", func(c *Config) *bool { return &c.ExitOnPartial }, func(p *bool, d bool) {
		fs.BoolVar(p, "exit-on-partial", d, "Stop with status partial when an answer ends inside an open code fence.")
	})
	bind(f, "iterate", func(c *Config) *bool { return &c.Iterate }, func(p *bool, d bool) {
		fs.BoolVarP(p, "iterate", "i", d, "Keep asking for incremental diffs after a valid one.")
	})
	bind(f, "commit-message", func(c *Config) *string { return &c.CommitMessage }, func(p *string, d string) {
		fs.StringVarP(p, "commit-message", "m", d, "Commit message for --apply=commit.")
	})
	bind(f, "artifacts", func(c *Config) *string { return &c.ArtifactDir }, func(p *string, d string) {
		fs.StringVar(p, "artifacts", d, "Directory for per-session artifacts (default: $TMPDIR/askpatch).")
	})
	bind(f, "scope", func(c *Config) *string { return &c.Scope }, func(p *string, d string) {
		fs.StringVar(p, "scope", d, "CSS selector narrowing where assistant turns are looked up.")
	})
	bind(f, "timeout", func(c *Config) *time.Duration { return &c.HardTimeout }, func(p *time.Duration, d time.Duration) {
		fs.DurationVarP(p, "timeout", "t", d, "Hard limit on waiting for one answer.")
	})
	bind(f, "min-copy-chars", func(c *Config) *int { return &c.MinCopyChars }, func(p *int, d int) {
		fs.IntVar(p, "min-copy-chars", d, "Smallest copied answer preferred over the page text.")
	})
	bind(f, "no-animation", func(c *Config) *bool { return &c.NoAnimation }, func(p *bool, d bool) {
		fs.BoolVar(p, "no-animation", d, "Disable the progress spinner.")
	})
	bind(f, "debug-url", func(c *Config) *string { return &c.Browser.DebugURL }, func(p *string, d string) {
		fs.StringVar(p, "debug-url", d, "DevTools endpoint of the running browser.")
	})
	bind(f, "chat-url", func(c *Config) *string { return &c.Browser.URL }, func(p *string, d string) {
		fs.StringVar(p, "chat-url", d, "Chat page opened when no matching tab exists.")
	})
	bind(f, "stable-for", func(c *Config) *time.Duration { return &c.Waiter.StableFor }, func(p *time.Duration, d time.Duration) {
		fs.DurationVar(p, "stable-for", d, "How long text must stay unchanged before the send button counts as done.")
	})
	bind(f, "inactivity", func(c *Config) *time.Duration { return &c.Waiter.Inactivity }, func(p *time.Duration, d time.Duration) {
		fs.DurationVar(p, "inactivity", d, "How long text must stay unchanged to finish without UI signals.")
	})
	return f.Diff()
}

// Diff registers the flags that shape diff validation.
func (f *Flags) Diff() *Flags {
	fs := f.fs
	bind(f, "strict", func(c *Config) *bool { return &c.Strict }, func(p *bool, d bool) {
		fs.BoolVar(p, "strict", d, "Also require file headers and reject unsafe paths.")
	})
	bind(f, "allow", func(c *Config) *[]string { return &c.AllowedPrefixes }, func(p *[]string, d []string) {
		fs.StringSliceVar(p, "allow", d, "Only accept diffs touching these path prefixes.")
	})
	return f.Repo()
}

// Repo registers the flags that locate the repository and its ledger.
func (f *Flags) Repo() *Flags {
	fs := f.fs
	bind(f, "repo", func(c *Config) *string { return &c.RepoRoot }, func(p *string, d string) {
		fs.StringVarP(p, "repo", "C", d, "Repository root (default: the git root of the working directory).")
	})
	bind(f, "ledger", func(c *Config) *string { return &c.LedgerPath }, func(p *string, d string) {
		fs.StringVar(p, "ledger", d, "Session ledger database (default: <repo>/.askpatch/ledger.db).")
	})
	return f
}

// Serve registers the flags of the HTTP server.
func (f *Flags) Serve() *Flags {
	fs := f.fs
	bind(f, "addr", func(c *Config) *string { return &c.Addr }, func(p *string, d string) {
		fs.StringVar(p, "addr", d, "Listen address.")
	})
	return f.Repo()
}

// Apply copies every flag the user set onto c.
func (f *Flags) Apply(c *Config) {
	f.fs.Visit(func(fl *pflag.Flag) {
		if set, ok := f.setters[fl.Name]; ok {
			set(c)
		}
	})
}

// Load builds the configuration: defaults, the YAML file at path, the
// environment, then flags.
func Load(path string, explicit bool, flags *Flags) (*Config, error) {
	cfg := Default()
	if err := cfg.LoadFile(path, explicit); err != nil {
		return nil, err
	}
	if err := cfg.LoadEnv(os.Getenv); err != nil {
		return nil, err
	}
	if flags != nil {
		flags.Apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
