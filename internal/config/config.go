// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Runner   RunnerConfig   `mapstructure:"runner" yaml:"runner"`
	Web      WebConfig      `mapstructure:"web" yaml:"web"`
	Observer ObserverConfig `mapstructure:"observer" yaml:"observer"`
	Runs     RunsConfig     `mapstructure:"runs" yaml:"runs"`
}

// LoggerConfig controls the zap logger construction.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to terminal colors for the console encoder.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// RunnerConfig controls the operator-agent subprocess (narrative executor).
type RunnerConfig struct {
	Command        string        `mapstructure:"command" yaml:"command"`
	ExtraArgs      string        `mapstructure:"extra_args" yaml:"extra_args"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	OpenAIKeyVar   string        `mapstructure:"openai_key_var" yaml:"openai_key_var"`
	CollapsePrompt bool          `mapstructure:"collapse_prompt" yaml:"collapse_prompt"`
}

// WebConfig controls the web execution engine deadlines and visual runtime.
type WebConfig struct {
	InteractiveTimeout time.Duration `mapstructure:"interactive_timeout" yaml:"interactive_timeout"`
	StepHardTimeout    time.Duration `mapstructure:"step_hard_timeout" yaml:"step_hard_timeout"`
	RunHardTimeout     time.Duration `mapstructure:"run_hard_timeout" yaml:"run_hard_timeout"`
	LearningWindow     time.Duration `mapstructure:"learning_window" yaml:"learning_window"`
	PostActionPause    time.Duration `mapstructure:"post_action_pause" yaml:"post_action_pause"`
	MaxRetries         int           `mapstructure:"max_retries" yaml:"max_retries"`
	MouseSpeed         float64       `mapstructure:"mouse_speed" yaml:"mouse_speed"`
	ClickHold          time.Duration `mapstructure:"click_hold" yaml:"click_hold"`
	BrowserBinary      string        `mapstructure:"browser_binary" yaml:"browser_binary"`
}

// ObserverConfig controls the in-page observer channel.
type ObserverConfig struct {
	// NoiseMode is "minimal" or "debug". Minimal drops manual mousemove,
	// scroll and trivial clicks while the session is under user control.
	NoiseMode string `mapstructure:"noise_mode" yaml:"noise_mode"`
	// EventsPerSecond rate-limits /event ingestion per session agent.
	EventsPerSecond float64 `mapstructure:"events_per_second" yaml:"events_per_second"`
	EventBurst      int     `mapstructure:"event_burst" yaml:"event_burst"`
}

// RunsConfig locates the on-disk runs tree.
type RunsConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
}

// Environment variable names honored on top of viper's file/flag precedence.
// These are the stable external contract; the viper keys are internal.
const (
	EnvRunnerCommand      = "OI_BRIDGE_COMMAND"
	EnvRunnerArgs         = "OI_BRIDGE_ARGS"
	EnvRunnerTimeout      = "OI_BRIDGE_TIMEOUT_SECONDS"
	EnvInteractiveTimeout = "BRIDGE_WEB_INTERACTIVE_TIMEOUT_SECONDS"
	EnvStepHardTimeout    = "BRIDGE_WEB_STEP_HARD_TIMEOUT_SECONDS"
	EnvRunHardTimeout     = "BRIDGE_WEB_RUN_HARD_TIMEOUT_SECONDS"
	EnvLearningWindow     = "BRIDGE_LEARNING_WINDOW_SECONDS"
	EnvObserverNoiseMode  = "BRIDGE_OBSERVER_NOISE_MODE"
	EnvOpenAIKey          = "OPENAI_API_KEY"
	EnvDisplay            = "DISPLAY"
)

// SetDefaults registers every config default with viper. Called once from the
// root command before unmarshalling.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "bridge-cli")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "red")

	v.SetDefault("runner.command", "interpreter")
	v.SetDefault("runner.extra_args", "")
	v.SetDefault("runner.timeout", 300*time.Second)
	v.SetDefault("runner.openai_key_var", EnvOpenAIKey)
	v.SetDefault("runner.collapse_prompt", true)

	v.SetDefault("web.interactive_timeout", 8*time.Second)
	v.SetDefault("web.step_hard_timeout", 20*time.Second)
	v.SetDefault("web.run_hard_timeout", 120*time.Second)
	v.SetDefault("web.learning_window", 25*time.Second)
	v.SetDefault("web.post_action_pause", 250*time.Millisecond)
	v.SetDefault("web.max_retries", 2)
	v.SetDefault("web.mouse_speed", 1.0)
	v.SetDefault("web.click_hold", 70*time.Millisecond)
	v.SetDefault("web.browser_binary", "")

	v.SetDefault("observer.noise_mode", "minimal")
	v.SetDefault("observer.events_per_second", 40.0)
	v.SetDefault("observer.event_burst", 80)

	v.SetDefault("runs.root", "runs")
}

// BindEnvOverrides maps the legacy BRIDGE_*/OI_BRIDGE_* environment variables
// onto viper keys so they participate in normal precedence.
func BindEnvOverrides(v *viper.Viper) {
	_ = v.BindEnv("runner.command", EnvRunnerCommand)
	_ = v.BindEnv("runner.extra_args", EnvRunnerArgs)
	_ = v.BindEnv("runner.timeout_seconds", EnvRunnerTimeout)
	_ = v.BindEnv("web.interactive_timeout_seconds", EnvInteractiveTimeout)
	_ = v.BindEnv("web.step_hard_timeout_seconds", EnvStepHardTimeout)
	_ = v.BindEnv("web.run_hard_timeout_seconds", EnvRunHardTimeout)
	_ = v.BindEnv("web.learning_window_seconds", EnvLearningWindow)
	_ = v.BindEnv("observer.noise_mode", EnvObserverNoiseMode)
}

// ApplySecondOverrides folds the *_SECONDS env keys (plain integers) into the
// duration fields after unmarshalling. Out-of-range values are clamped rather
// than rejected so a bad environment cannot brick a run.
func (c *Config) ApplySecondOverrides(v *viper.Viper) {
	if s := v.GetInt("runner.timeout_seconds"); s > 0 {
		c.Runner.Timeout = time.Duration(s) * time.Second
	}
	if s := v.GetInt("web.interactive_timeout_seconds"); s > 0 {
		c.Web.InteractiveTimeout = time.Duration(s) * time.Second
	}
	if s := v.GetInt("web.step_hard_timeout_seconds"); s > 0 {
		c.Web.StepHardTimeout = time.Duration(s) * time.Second
	}
	if s := v.GetInt("web.run_hard_timeout_seconds"); s > 0 {
		c.Web.RunHardTimeout = time.Duration(s) * time.Second
	}
	if s := v.GetInt("web.learning_window_seconds"); s > 0 {
		c.Web.LearningWindow = time.Duration(s) * time.Second
	}
	c.Clamp()
}

// Clamp enforces the documented bounds on deadline knobs.
func (c *Config) Clamp() {
	c.Web.InteractiveTimeout = clampDuration(c.Web.InteractiveTimeout, time.Second, 60*time.Second)
	if c.Web.StepHardTimeout < c.Web.InteractiveTimeout {
		c.Web.StepHardTimeout = c.Web.InteractiveTimeout
	}
	c.Web.LearningWindow = clampDuration(c.Web.LearningWindow, time.Second, 10*time.Minute)
	if c.Web.MaxRetries < 0 {
		c.Web.MaxRetries = 0
	}
	if c.Observer.NoiseMode != "debug" {
		c.Observer.NoiseMode = "minimal"
	}
}

// Validate checks invariants that clamping cannot repair.
func (c *Config) Validate() error {
	if c.Runner.Command == "" {
		return fmt.Errorf("runner.command must not be empty")
	}
	if c.Web.RunHardTimeout <= 0 {
		return fmt.Errorf("web.run_hard_timeout must be a positive duration")
	}
	if c.Web.StepHardTimeout <= 0 {
		return fmt.Errorf("web.step_hard_timeout must be a positive duration")
	}
	switch strings.ToLower(c.Observer.NoiseMode) {
	case "minimal", "debug":
	default:
		return fmt.Errorf("observer.noise_mode must be 'minimal' or 'debug', got %q", c.Observer.NoiseMode)
	}
	if c.Runs.Root == "" {
		return fmt.Errorf("runs.root must not be empty")
	}
	return nil
}

// RunsRoot expands the configured runs root (supports ~).
func (c *Config) RunsRoot() (string, error) {
	expanded, err := homedir.Expand(c.Runs.Root)
	if err != nil {
		return "", fmt.Errorf("failed to expand runs root %q: %w", c.Runs.Root, err)
	}
	return expanded, nil
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
