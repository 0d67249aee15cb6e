// -- cmd/status.go --
package cmd

import (
	"fmt"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/bridge-cli/internal/bridge"
	"github.com/xkilldash9x/bridge-cli/internal/runstore"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the latest run status and last session liveness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := runsStore()
			if err != nil {
				return &exitError{code: bridge.ExitBootstrap, err: err}
			}
			status, ok, err := store.ReadStatus()
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), `{"status": "no-runs"}`)
				return nil
			}

			payload := map[string]any{
				"run_id":      status.RunID,
				"run_dir":     status.RunDir,
				"task":        status.Task,
				"result":      status.Result,
				"state":       status.State,
				"report_path": status.ReportPath,
				"updated_at":  status.UpdatedAt,
			}
			if parsed, parseErr := time.Parse(time.RFC3339, status.UpdatedAt); parseErr == nil {
				payload["updated_ago"] = humanize.Time(parsed)
			}
			if status.Progress != "" {
				payload["progress"] = status.Progress
			}

			// Session liveness is recomputed, never echoed from disk.
			if registry, regErr := sessionRegistry(); regErr == nil {
				if s, sessErr := registry.LastSession(); sessErr == nil {
					browserAlive, agentOnline := registry.Alive(cmd.Context(), s)
					payload["last_session"] = map[string]any{
						"session_id":   s.SessionID,
						"state":        s.State,
						"url":          s.URL,
						"controlled":   s.Controlled,
						"browser_alive": browserAlive,
						"agent_online": agentOnline,
					}
				}
			}
			return printJSON(cmd, payload)
		},
	}
}

func newLogsCmd() *cobra.Command {
	var tailCount int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Tail the latest run's logs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := runsStore()
			if err != nil {
				return &exitError{code: bridge.ExitBootstrap, err: err}
			}
			status, ok, err := store.ReadStatus()
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs yet")
				return nil
			}
			for _, name := range []string{"bridge.log", "oi_stdout.log", "oi_stderr.log"} {
				path := status.RunDir + "/" + name
				lines, tailErr := runstore.TailLines(path, tailCount)
				if tailErr != nil || len(lines) == 0 {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "== %s ==\n", name)
				for _, line := range lines {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&tailCount, "tail", 40, "number of lines per log")
	return cmd
}

func init() {
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newLogsCmd())
}
