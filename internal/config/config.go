// Package config loads and validates ouroboros configuration.
//
// Secrets come from the environment (optionally via a .env file in the
// working directory); everything else is tunable through OURO_-prefixed
// environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "OURO"

// Secret env names are kept stable across versions; renaming them would
// strand existing deployments.
const (
	EnvOpenAIKey   = "OPENAI_API_KEY"
	EnvGeminiKey   = "GEMINI_API_KEY"
	EnvGitHubToken = "GITHUB_TOKEN"
	EnvRepo        = "REPO"
)

// TrackerConfig configures the issue tracker integration.
type TrackerConfig struct {
	Token        string        // GitHub API token
	Repo         string        // "owner/name"
	BaseURL      string        // API root, override for tests
	PollInterval time.Duration // sleep between poll cycles
	ErrorBackoff time.Duration // longer sleep after a loop-level error
	TaskLabel    string
	FailedLabel  string
	RetryLabel   string
}

// LLMConfig configures the completion service.
type LLMConfig struct {
	Provider    string // "openai" or "gemini"
	APIKey      string
	Model       string
	BaseURL     string // openai only, override for tests
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// EvolutionConfig configures the mutation pipeline itself.
type EvolutionConfig struct {
	WorkDir         string        // directory holding the versioned source files
	BootstrapFile   string        // hand-written v0, e.g. "agent.go"
	Runner          []string      // argv prefix used to invoke a version file
	SelfCheckFlag   string        // flag passed to a version for the smoke test
	SelfCheckWant   string        // exact stdout acknowledgment on success
	ScriptTimeout   time.Duration // wall clock bound on mutation script execution
	ValidateTimeout time.Duration // wall clock bound on the self-check
	MaxAttempts     int           // in-pass generation attempts per task
	DefaultBranch   string        // branch review requests merge into
	FailureCeiling  int           // max bytes of failure output fed back on retry
}

// Config is the root configuration for the agent.
type Config struct {
	Tracker   TrackerConfig
	LLM       LLMConfig
	Evolution EvolutionConfig
}

// Load reads .env (if present), binds environment variables and returns the
// resolved configuration. It does not validate secrets; call Validate before
// starting the loop.
func Load() (*Config, error) {
	// Best effort: a missing .env just means the environment is already set.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	cfg := &Config{
		Tracker: TrackerConfig{
			BaseURL:      v.GetString("tracker.base_url"),
			PollInterval: v.GetDuration("tracker.poll_interval"),
			ErrorBackoff: v.GetDuration("tracker.error_backoff"),
			TaskLabel:    v.GetString("tracker.task_label"),
			FailedLabel:  v.GetString("tracker.failed_label"),
			RetryLabel:   v.GetString("tracker.retry_label"),
		},
		LLM: LLMConfig{
			Provider:    v.GetString("llm.provider"),
			Model:       v.GetString("llm.model"),
			BaseURL:     v.GetString("llm.base_url"),
			Timeout:     v.GetDuration("llm.timeout"),
			MaxTokens:   v.GetInt("llm.max_tokens"),
			Temperature: v.GetFloat64("llm.temperature"),
		},
		Evolution: EvolutionConfig{
			WorkDir:         v.GetString("evolution.workdir"),
			BootstrapFile:   v.GetString("evolution.bootstrap"),
			Runner:          v.GetStringSlice("evolution.runner"),
			SelfCheckFlag:   v.GetString("evolution.selfcheck_flag"),
			SelfCheckWant:   v.GetString("evolution.selfcheck_want"),
			ScriptTimeout:   v.GetDuration("evolution.script_timeout"),
			ValidateTimeout: v.GetDuration("evolution.validate_timeout"),
			MaxAttempts:     v.GetInt("evolution.max_attempts"),
			DefaultBranch:   v.GetString("evolution.default_branch"),
			FailureCeiling:  v.GetInt("evolution.failure_ceiling"),
		},
	}

	// Secrets bypass the OURO_ prefix for compatibility with the historical
	// deployment environment.
	cfg.Tracker.Token = os.Getenv(EnvGitHubToken)
	cfg.Tracker.Repo = os.Getenv(EnvRepo)
	switch cfg.LLM.Provider {
	case "gemini":
		cfg.LLM.APIKey = os.Getenv(EnvGeminiKey)
	default:
		cfg.LLM.APIKey = os.Getenv(EnvOpenAIKey)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tracker.base_url", "https://api.github.com")
	v.SetDefault("tracker.poll_interval", 30*time.Second)
	v.SetDefault("tracker.error_backoff", 60*time.Second)
	v.SetDefault("tracker.task_label", "agent-task")
	v.SetDefault("tracker.failed_label", "agent-failed")
	v.SetDefault("tracker.retry_label", "agent-retry")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.timeout", 2*time.Minute)
	v.SetDefault("llm.max_tokens", 4000)
	v.SetDefault("llm.temperature", 0.7)

	v.SetDefault("evolution.workdir", ".")
	v.SetDefault("evolution.bootstrap", "agent.go")
	v.SetDefault("evolution.runner", []string{"go", "run"})
	v.SetDefault("evolution.selfcheck_flag", "--selfcheck")
	v.SetDefault("evolution.selfcheck_want", "OK")
	v.SetDefault("evolution.script_timeout", 60*time.Second)
	v.SetDefault("evolution.validate_timeout", 10*time.Second)
	v.SetDefault("evolution.max_attempts", 3)
	v.SetDefault("evolution.default_branch", "main")
	v.SetDefault("evolution.failure_ceiling", 8192)
}

// Validate checks that every required secret is present. All missing values
// are reported at once so the operator can fix the environment in one go.
func (c *Config) Validate() error {
	var missing []string
	if c.LLM.APIKey == "" {
		if c.LLM.Provider == "gemini" {
			missing = append(missing, EnvGeminiKey)
		} else {
			missing = append(missing, EnvOpenAIKey)
		}
	}
	if c.Tracker.Token == "" {
		missing = append(missing, EnvGitHubToken)
	}
	if c.Tracker.Repo == "" {
		missing = append(missing, EnvRepo)
	}
	if len(missing) > 0 {
		return &StartupError{Missing: missing}
	}
	if c.Evolution.MaxAttempts < 1 {
		return &StartupError{Reason: "evolution.max_attempts must be at least 1"}
	}
	if len(c.Evolution.Runner) == 0 {
		return &StartupError{Reason: "evolution.runner must not be empty"}
	}
	return nil
}

// StartupError is fatal: the process must not start the loop without a
// complete environment.
type StartupError struct {
	Missing []string
	Reason  string
}

func (e *StartupError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("missing required environment variables: %s", strings.Join(e.Missing, ", "))
	}
	return e.Reason
}
