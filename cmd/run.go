// -- cmd/run.go --
package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/bridge-cli/internal/bridge"
	"github.com/xkilldash9x/bridge-cli/internal/observability"
)

// exitError carries a CLI exit code alongside the failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var typed *exitError
	if errors.As(err, &typed) {
		return typed.code
	}
	return 1
}

// runFlags holds the flag set shared by run/gui-run/web-run.
type runFlags struct {
	mode             string
	verified         bool
	visual           bool
	visualCursor     bool
	visualPulse      bool
	humanMouse       bool
	teaching         bool
	confirmSensitive bool
	keepOpen         bool
	attach           string
}

func (f *runFlags) register(cmd *cobra.Command, withMode bool) {
	if withMode {
		cmd.Flags().StringVar(&f.mode, "mode", "shell", "execution mode: shell|gui|web")
	}
	cmd.Flags().BoolVar(&f.verified, "verified", false, "require before/after evidence for every interactive step")
	cmd.Flags().BoolVar(&f.visual, "visual", false, "enable the visual runtime (cursor, pulses, human mouse)")
	cmd.Flags().BoolVar(&f.visualCursor, "visual-cursor", true, "show the injected cursor in visual mode")
	cmd.Flags().BoolVar(&f.visualPulse, "visual-click-pulse", true, "show click pulses in visual mode")
	cmd.Flags().BoolVar(&f.humanMouse, "visual-human-mouse", true, "use human mouse trajectories in visual mode")
	cmd.Flags().BoolVar(&f.teaching, "teaching", false, "enable retries, handoff and selector learning")
	cmd.Flags().BoolVar(&f.confirmSensitive, "confirm-sensitive", false, "auto-approve sensitive actions")
	cmd.Flags().BoolVar(&f.keepOpen, "keep-open", false, "keep the web session open after the run")
	cmd.Flags().StringVar(&f.attach, "attach", "", "attach to an existing web session id (or 'last')")
}

func (f *runFlags) toBridge(mode string) bridge.Flags {
	return bridge.Flags{
		Mode:             mode,
		Verified:         f.verified,
		Visual:           f.visual,
		VisualCursor:     f.visualCursor,
		VisualPulse:      f.visualPulse,
		HumanMouse:       f.humanMouse,
		Teaching:         f.teaching,
		ConfirmSensitive: f.confirmSensitive,
		KeepOpen:         f.keepOpen,
		AttachSessionID:  normalizeAttach(f.attach),
	}
}

func normalizeAttach(attach string) string {
	return strings.TrimSpace(attach)
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run a task and emit a structured report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRun(cmd, args[0], flags, flags.mode)
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newGuiRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "gui-run <task>",
		Short: "Run a task in GUI mode (alias for run --mode gui)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRun(cmd, args[0], flags, "gui")
		},
	}
	flags.register(cmd, false)
	return cmd
}

func newWebRunCmd() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "web-run <task>",
		Short: "Run a task in web mode (alias for run --mode web)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRun(cmd, args[0], flags, "web")
		},
	}
	flags.register(cmd, false)
	return cmd
}

func executeRun(cmd *cobra.Command, task string, flags *runFlags, mode string) error {
	store, err := runsStore()
	if err != nil {
		return &exitError{code: bridge.ExitBootstrap, err: err}
	}
	registry, err := sessionRegistry()
	if err != nil {
		return &exitError{code: bridge.ExitBootstrap, err: err}
	}

	// Attach resolution happens here so "last" works uniformly.
	bridgeFlags := flags.toBridge(mode)
	if bridgeFlags.AttachSessionID == "last" {
		s, err := registry.LastSession()
		if err != nil {
			return &exitError{code: bridge.ExitBootstrap, err: err}
		}
		bridgeFlags.AttachSessionID = s.SessionID
	}

	b := bridge.New(&appCfg, store, registry, observability.GetLogger())
	outcome, err := b.Run(cmd.Context(), task, bridgeFlags)
	if err != nil {
		return &exitError{code: outcome.ExitCode, err: err}
	}

	data, marshalErr := outcome.Report.Marshal()
	if marshalErr == nil {
		fmt.Fprint(cmd.OutOrStdout(), string(data))
	}
	if outcome.ExitCode != bridge.ExitOK {
		return &exitError{
			code: outcome.ExitCode,
			err:  fmt.Errorf("run %s finished with result=%s", outcome.RunID, outcome.Report.Result),
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newGuiRunCmd())
	rootCmd.AddCommand(newWebRunCmd())
}
