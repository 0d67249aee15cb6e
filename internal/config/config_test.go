// File: internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConfig(t *testing.T, mutate func(v *viper.Viper)) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	if mutate != nil {
		mutate(v)
	}
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	cfg.ApplySecondOverrides(v)
	return &cfg
}

func TestDefaults(t *testing.T) {
	cfg := newConfig(t, nil)

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.Equal(t, "interpreter", cfg.Runner.Command)
	assert.Equal(t, 300*time.Second, cfg.Runner.Timeout)
	assert.Equal(t, 8*time.Second, cfg.Web.InteractiveTimeout)
	assert.Equal(t, 20*time.Second, cfg.Web.StepHardTimeout)
	assert.Equal(t, 120*time.Second, cfg.Web.RunHardTimeout)
	assert.Equal(t, 25*time.Second, cfg.Web.LearningWindow)
	assert.Equal(t, 2, cfg.Web.MaxRetries)
	assert.Equal(t, "minimal", cfg.Observer.NoiseMode)
	assert.Equal(t, "runs", cfg.Runs.Root)
	assert.NoError(t, cfg.Validate())
}

func TestSecondOverrides(t *testing.T) {
	cfg := newConfig(t, func(v *viper.Viper) {
		v.Set("web.interactive_timeout_seconds", 15)
		v.Set("web.run_hard_timeout_seconds", 240)
		v.Set("runner.timeout_seconds", 60)
		v.Set("web.learning_window_seconds", 40)
	})

	assert.Equal(t, 15*time.Second, cfg.Web.InteractiveTimeout)
	assert.Equal(t, 240*time.Second, cfg.Web.RunHardTimeout)
	assert.Equal(t, 60*time.Second, cfg.Runner.Timeout)
	assert.Equal(t, 40*time.Second, cfg.Web.LearningWindow)
}

func TestInteractiveTimeoutClamped(t *testing.T) {
	low := newConfig(t, func(v *viper.Viper) {
		v.Set("web.interactive_timeout_seconds", 0)
	})
	assert.Equal(t, 8*time.Second, low.Web.InteractiveTimeout, "zero means unset, default stands")

	tiny := newConfig(t, func(v *viper.Viper) {
		v.Set("web.interactive_timeout", "100ms")
	})
	assert.Equal(t, time.Second, tiny.Web.InteractiveTimeout)

	huge := newConfig(t, func(v *viper.Viper) {
		v.Set("web.interactive_timeout_seconds", 600)
	})
	assert.Equal(t, 60*time.Second, huge.Web.InteractiveTimeout)
	// The step hard deadline can never undercut the interactive one.
	assert.GreaterOrEqual(t, huge.Web.StepHardTimeout, huge.Web.InteractiveTimeout)
}

func TestNoiseModeNormalization(t *testing.T) {
	cfg := newConfig(t, func(v *viper.Viper) {
		v.Set("observer.noise_mode", "loud")
	})
	assert.Equal(t, "minimal", cfg.Observer.NoiseMode)

	cfg = newConfig(t, func(v *viper.Viper) {
		v.Set("observer.noise_mode", "debug")
	})
	assert.Equal(t, "debug", cfg.Observer.NoiseMode)
}

func TestValidateRejectsBrokenConfig(t *testing.T) {
	cfg := newConfig(t, nil)
	cfg.Runner.Command = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runner.command")

	cfg = newConfig(t, nil)
	cfg.Runs.Root = ""
	assert.Error(t, cfg.Validate())
}

func TestRunsRootExpansion(t *testing.T) {
	cfg := newConfig(t, func(v *viper.Viper) {
		v.Set("runs.root", "~/bridge-runs")
	})
	root, err := cfg.RunsRoot()
	require.NoError(t, err)
	assert.NotContains(t, root, "~")
}
