// -- cmd/doctor.go --
package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/bridge-cli/internal/config"
)

// doctorCheck is one environment probe and its verdict.
type doctorCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

func newDoctorCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment for the selected execution mode",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var checks []doctorCheck

			checks = append(checks, binaryCheck("operator agent", appCfg.Runner.Command))
			checks = append(checks, doctorCheck{
				Name:   "openai api key",
				OK:     os.Getenv(appCfg.Runner.OpenAIKeyVar) != "",
				Detail: appCfg.Runner.OpenAIKeyVar + " must be set for the cloud reasoning backend",
			})

			switch mode {
			case "gui":
				checks = append(checks, doctorCheck{
					Name:   "display",
					OK:     os.Getenv(config.EnvDisplay) != "",
					Detail: "DISPLAY must point at an X session",
				})
				for _, tool := range []string{"xdotool", "wmctrl", "xwininfo"} {
					checks = append(checks, binaryCheck(tool, tool))
				}
				checks = append(checks, anyBinaryCheck("screenshot tool", "import", "scrot"))
			case "web":
				checks = append(checks, anyBinaryCheck("chromium browser",
					"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"))
			}

			healthy := true
			for _, check := range checks {
				if !check.OK {
					healthy = false
				}
			}
			payload := map[string]any{"mode": mode, "healthy": healthy, "checks": checks}
			if err := printJSON(cmd, payload); err != nil {
				return err
			}
			if !healthy {
				return &exitError{code: 4, err: fmt.Errorf("doctor found problems for mode %s", mode)}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "shell", "mode to check: shell|gui|web")
	return cmd
}

func binaryCheck(name, binary string) doctorCheck {
	path, err := exec.LookPath(binary)
	if err != nil {
		return doctorCheck{Name: name, OK: false, Detail: binary + " not found in PATH"}
	}
	return doctorCheck{Name: name, OK: true, Detail: path}
}

func anyBinaryCheck(name string, binaries ...string) doctorCheck {
	for _, binary := range binaries {
		if path, err := exec.LookPath(binary); err == nil {
			return doctorCheck{Name: name, OK: true, Detail: path}
		}
	}
	return doctorCheck{Name: name, OK: false, Detail: "none of " + fmt.Sprint(binaries) + " found"}
}

func init() {
	rootCmd.AddCommand(newDoctorCmd())
}
