// -- cmd/live.go --
package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/bridge-cli/internal/bridge"
	"github.com/xkilldash9x/bridge-cli/internal/session"
)

// newLiveCmd follows a session's control state and the latest run log in
// real time until interrupted.
func newLiveCmd() *cobra.Command {
	var attach string
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Follow a web session's control state and recent events",
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
				return &exitError{code: bridge.ExitBootstrap, err: err}
			}

			// Follow the latest run's bridge log alongside the agent state.
			logLines := make(chan string, 64)
			if store, storeErr := runsStore(); storeErr == nil {
				if status, ok, statusErr := store.ReadStatus(); statusErr == nil && ok {
					go followLog(filepath.Join(status.RunDir, "bridge.log"), logLines)
				}
			}

			ticker := time.NewTicker(1500 * time.Millisecond)
			defer ticker.Stop()
			lastEventAt := ""
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case line := <-logLines:
					fmt.Fprintln(cmd.OutOrStdout(), "log | "+line)
				case <-ticker.C:
					state, stateErr := client.State(cmd.Context())
					if stateErr != nil {
						fmt.Fprintln(cmd.OutOrStdout(), "state | agent offline: "+stateErr.Error())
						continue
					}
					control, _ := state["control"].(map[string]any)
					fmt.Fprintf(cmd.OutOrStdout(), "state | %s %s url=%s incident=%v learning=%v\n",
						asStringValue(control["color"]), asStringValue(control["label"]),
						asStringValue(state["url"]), state["incident_open"], state["learning_active"])
					if at := asStringValue(state["last_event_at"]); at != "" && at != lastEventAt {
						lastEventAt = at
						if events, ok := state["recent_events"].([]any); ok && len(events) > 0 {
							if event, ok := events[len(events)-1].(map[string]any); ok {
								fmt.Fprintf(cmd.OutOrStdout(), "event | %s %s %s\n",
									asStringValue(event["severity"]), asStringValue(event["type"]),
									asStringValue(event["message"]))
							}
						}
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&attach, "attach", "last", "session id (or 'last')")
	return cmd
}

func followLog(path string, out chan<- string) {
	t, err := tail.TailFile(path, tail.Config{Follow: true, ReOpen: true, MustExist: false, Logger: tail.DiscardingLogger})
	if err != nil {
		return
	}
	for line := range t.Lines {
		if line == nil {
			continue
		}
		out <- line.Text
	}
}

func asStringValue(v any) string {
	s, _ := v.(string)
	return s
}

func init() {
	rootCmd.AddCommand(newLiveCmd())
}
