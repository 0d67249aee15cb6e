// -- cmd/web.go --
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/bridge-cli/internal/bridge"
	"github.com/xkilldash9x/bridge-cli/internal/observability"
	"github.com/xkilldash9x/bridge-cli/internal/runstore"
	"github.com/xkilldash9x/bridge-cli/internal/session"
	"github.com/xkilldash9x/bridge-cli/internal/steps"
)

func newWebOpenCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "web-open",
		Short: "Open a persistent browser session with its control agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := sessionRegistry()
			if err != nil {
				return &exitError{code: bridge.ExitBootstrap, err: err}
			}
			if url != "" {
				if normalized := steps.NormalizeURL(url); normalized != "" {
					url = normalized
				} else {
					return &exitError{code: bridge.ExitInvalidArgs, err: fmt.Errorf("invalid --url: %s", url)}
				}
			}
			s, err := registry.Create(cmd.Context(), url)
			if err != nil {
				return &exitError{code: bridge.ExitBootstrap, err: err}
			}
			return printJSON(cmd, s)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "initial URL for the session")
	return cmd
}

func newWebReleaseCmd() *cobra.Command {
	var attach string
	cmd := &cobra.Command{
		Use:   "web-release",
		Short: "Release assistant control of a web session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := sessionRegistry()
			if err != nil {
				return &exitError{code: bridge.ExitBootstrap, err: err}
			}
			s, err := resolveAttach(registry, attach)
			if err != nil {
				return &exitError{code: bridge.ExitInvalidArgs, err: err}
			}
			client, err := session.NewClient(s)
			if err != nil {
				// Agent offline: fall back to the registry record.
				if markErr := registry.MarkControlled(cmd.Context(), s, false); markErr != nil {
					return &exitError{code: bridge.ExitBootstrap, err: markErr}
				}
				return printJSON(cmd, s)
			}
			payload, err := client.PostAction(cmd.Context(), "release")
			if err != nil {
				return &exitError{code: bridge.ExitBootstrap, err: err}
			}
			return printJSON(cmd, payload)
		},
	}
	cmd.Flags().StringVar(&attach, "attach", "last", "session id (or 'last')")
	return cmd
}

func newWebCloseCmd() *cobra.Command {
	var attach string
	cmd := &cobra.Command{
		Use:   "web-close",
		Short: "Close a web session, its browser and its control agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := sessionRegistry()
			if err != nil {
				return &exitError{code: bridge.ExitBootstrap, err: err}
			}
			s, err := resolveAttach(registry, attach)
			if err != nil {
				return &exitError{code: bridge.ExitInvalidArgs, err: err}
			}
			if client, clientErr := session.NewClient(s); clientErr == nil {
				if payload, actionErr := client.PostAction(cmd.Context(), "close"); actionErr == nil {
					return printJSON(cmd, payload)
				}
			}
			// Agent unreachable: close directly.
			if err := registry.Close(cmd.Context(), s); err != nil {
				return &exitError{code: bridge.ExitBootstrap, err: err}
			}
			return printJSON(cmd, s)
		},
	}
	cmd.Flags().StringVar(&attach, "attach", "last", "session id (or 'last')")
	return cmd
}

// newControlAgentCmd is the hidden re-exec target that serves one session's
// control surface. The registry spawns it detached.
func newControlAgentCmd() *cobra.Command {
	var sessionID string
	var port int
	cmd := &cobra.Command{
		Use:    "control-agent",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sessionID == "" || port <= 0 {
				return &exitError{code: bridge.ExitInvalidArgs, err: fmt.Errorf("control-agent requires --session-id and --port")}
			}
			registry, err := sessionRegistry()
			if err != nil {
				return err
			}
			runtime := session.NewAgentRuntime(
				appCfg.Observer.NoiseMode,
				appCfg.Observer.EventsPerSecond,
				appCfg.Observer.EventBurst,
			)
			agent := session.NewAgent(sessionID, registry, runtime, observability.GetLogger())
			return agent.Serve(port)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session-id", "", "session to serve")
	cmd.Flags().IntVar(&port, "port", 0, "loopback port to bind")
	return cmd
}

func printJSON(cmd *cobra.Command, payload any) error {
	data, err := runstore.MarshalIndentJSON(payload)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func init() {
	rootCmd.AddCommand(newWebOpenCmd())
	rootCmd.AddCommand(newWebReleaseCmd())
	rootCmd.AddCommand(newWebCloseCmd())
	rootCmd.AddCommand(newControlAgentCmd())
}
