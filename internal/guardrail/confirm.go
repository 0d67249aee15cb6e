// File: internal/guardrail/confirm.go
package guardrail

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrSensitiveRejected is returned when the operator declines (or cannot be
// asked to approve) sensitive actions.
type ErrSensitiveRejected struct {
	Reason string
}

func (e *ErrSensitiveRejected) Error() string { return e.Reason }

// ConfirmSensitive gates a run that carries sensitive intents. autoConfirm
// corresponds to --confirm-sensitive; without it, a TTY prompt is required
// and a literal YES answer approves.
func ConfirmSensitive(items []string, autoConfirm bool, in io.Reader, out io.Writer, isTTY bool) error {
	if len(items) == 0 || autoConfirm {
		return nil
	}
	if !isTTY {
		return &ErrSensitiveRejected{
			Reason: "sensitive actions detected but no TTY for confirmation; use --confirm-sensitive to proceed",
		}
	}
	fmt.Fprintln(out, "Sensitive actions detected:")
	for _, item := range items {
		fmt.Fprintf(out, "- %s\n", item)
	}
	fmt.Fprint(out, "Type YES to continue: ")
	reader := bufio.NewReader(in)
	answer, _ := reader.ReadString('\n')
	if strings.TrimSpace(answer) != "YES" {
		return &ErrSensitiveRejected{Reason: "sensitive actions rejected by user"}
	}
	return nil
}

// IsTTY reports whether the given file is attached to a terminal.
func IsTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
