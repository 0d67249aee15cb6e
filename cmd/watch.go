// -- cmd/watch.go --
package cmd

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/bridge-cli/internal/bridge"
	"github.com/xkilldash9x/bridge-cli/internal/session"
)

// newWatchCmd filters a session's observer events by severity and mirrors
// run finalizations from the runs tree.
func newWatchCmd() *cobra.Command {
	var (
		attach    string
		only      string
		sinceLast bool
		notify    bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a session for warnings/errors and run finalizations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch only {
			case "", "warn", "error":
			default:
				return &exitError{code: bridge.ExitInvalidArgs, err: fmt.Errorf("--only accepts warn|error")}
			}

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

			// fsnotify mirrors status.json rewrites so finalizations show up
			// without polling the file.
			statusEvents := make(chan string, 8)
			store, err := runsStore()
			if err == nil {
				if watcher, watchErr := fsnotify.NewWatcher(); watchErr == nil {
					defer watcher.Close()
					if addErr := watcher.Add(store.Root); addErr == nil {
						go func() {
							for event := range watcher.Events {
								if strings.HasSuffix(event.Name, "status.json") &&
									event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
									statusEvents <- event.Name
								}
							}
						}()
					}
				}
			}

			seen := map[string]bool{}
			if sinceLast {
				// Pre-mark current events so only new ones print.
				if state, stateErr := client.State(cmd.Context()); stateErr == nil {
					for _, key := range eventKeys(state) {
						seen[key] = true
					}
				}
			}

			ticker := time.NewTicker(1200 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-statusEvents:
					if status, ok, statusErr := store.ReadStatus(); statusErr == nil && ok {
						line := fmt.Sprintf("run | %s state=%s result=%s", status.RunID, status.State, status.Result)
						fmt.Fprintln(cmd.OutOrStdout(), line)
						if notify {
							sendNotification("bridge run", line)
						}
					}
				case <-ticker.C:
					state, stateErr := client.State(cmd.Context())
					if stateErr != nil {
						continue
					}
					events, _ := state["recent_events"].([]any)
					for _, raw := range events {
						event, _ := raw.(map[string]any)
						if event == nil {
							continue
						}
						severity := asStringValue(event["severity"])
						if !severityMatches(severity, only) {
							continue
						}
						key := asStringValue(event["created_at"]) + "|" + asStringValue(event["type"]) + "|" + asStringValue(event["message"])
						if seen[key] {
							continue
						}
						seen[key] = true
						line := fmt.Sprintf("%s | %s %s %s",
							severity, asStringValue(event["type"]),
							asStringValue(event["message"]), asStringValue(event["url"]))
						fmt.Fprintln(cmd.OutOrStdout(), line)
						if notify {
							sendNotification("bridge "+severity, line)
						}
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&attach, "attach", "last", "session id (or 'last')")
	cmd.Flags().StringVar(&only, "only", "", "filter by severity: warn|error")
	cmd.Flags().BoolVar(&sinceLast, "since-last", false, "skip events recorded before the watch started")
	cmd.Flags().BoolVar(&notify, "notify", false, "send desktop notifications via notify-send")
	return cmd
}

func severityMatches(severity, only string) bool {
	switch only {
	case "warn":
		return severity == "warn" || severity == "error"
	case "error":
		return severity == "error"
	default:
		return severity != "info"
	}
}

func eventKeys(state map[string]any) []string {
	events, _ := state["recent_events"].([]any)
	var keys []string
	for _, raw := range events {
		event, _ := raw.(map[string]any)
		if event == nil {
			continue
		}
		keys = append(keys, asStringValue(event["created_at"])+"|"+asStringValue(event["type"])+"|"+asStringValue(event["message"]))
	}
	return keys
}

func sendNotification(title, body string) {
	if _, err := exec.LookPath("notify-send"); err != nil {
		return
	}
	_ = exec.Command("notify-send", title, body).Start()
}

func init() {
	rootCmd.AddCommand(newWatchCmd())
}
