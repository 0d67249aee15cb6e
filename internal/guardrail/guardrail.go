// File: internal/guardrail/guardrail.go
// Description: Static policy layer over candidate action strings. Pure
// functions: no IO, no state. Rejections surface as blocked_guardrail step
// outcomes upstream; nothing here ever executes anything.
package guardrail

import (
	"fmt"
	"regexp"
	"strings"
)

// Mode selects which allowlist applies.
type Mode string

const (
	ModeShell Mode = "shell"
	ModeGUI   Mode = "gui"
	ModeWeb   Mode = "web"
)

// Decision is the result of evaluating one candidate action.
type Decision struct {
	Allowed   bool
	Reason    string
	Sensitive bool
	Rule      string
}

// shellAllowedPrefixes are the observation-only binaries permitted in shell
// mode. Order is cosmetic; matching is by first token.
var shellAllowedPrefixes = []string{
	"cat", "curl", "date", "echo", "env", "find", "grep", "head", "hostname",
	"ifconfig", "ip", "ls", "netstat", "ping", "printenv", "ps", "pwd", "rg",
	"sed", "tail", "top", "uname", "uptime", "wc", "which", "whoami",
	"xwininfo", "xdotool", "wmctrl",
}

// guiAllowedPrefixes adds the screenshot/window tools on top of shell's set.
var guiAllowedPrefixes = append(append([]string{}, shellAllowedPrefixes...), "import", "scrot")

// blockedTokens reject a command outright wherever they appear.
var blockedTokens = []string{
	"rm", "rmdir", "mv", "dd", "mkfs", "shutdown", "reboot", "poweroff",
	"kill", "killall", "pkill", "chmod", "chown", "git", "pip", "pip3",
	"apt", "apt-get", "npm", "yarn", "pnpm", "docker", "kubectl", "tee",
	">", ">>", ":(){:|:&};:",
}

// sensitiveTokens require explicit confirmation but are not rejected.
var sensitiveTokens = []string{"sudo", "ssh", "scp", "curl", "wget"}

// codeExtensions flag a code-edit intent when combined with an edit verb.
var codeExtensions = []string{
	".py", ".js", ".ts", ".tsx", ".jsx", ".java", ".go", ".rs", ".cpp",
	".c", ".h", ".cs", ".rb", ".php", ".swift", ".kt",
}

var editVerbs = []string{"edit", "modify", "write", "refactor", "patch", "implement", "create file"}

// editorInvocations are editor binaries whose appearance in an action means a
// source edit is being attempted.
var editorInvocations = []string{"vim", "vi ", "nano", "emacs", "code ", "sed -i"}

var coordinateClickRE = regexp.MustCompile(`xdotool\s+(?:mousemove\b.*\bclick\b|click\s+--\S*\s*\d)`)
var guiStateChangingRE = regexp.MustCompile(`xdotool\s+(?:click|key|type)\b`)

// TaskViolatesCodeEditRule inspects a free-text task for code-editing intent.
// A run whose task demands source edits is rejected before any backend runs.
func TaskViolatesCodeEditRule(task string) bool {
	normalized := strings.ToLower(task)
	hasVerb := false
	for _, verb := range editVerbs {
		if strings.Contains(normalized, verb) {
			hasVerb = true
			break
		}
	}
	if !hasVerb {
		return false
	}
	for _, ext := range codeExtensions {
		if strings.Contains(normalized, ext) {
			return true
		}
	}
	return false
}

// TaskSensitiveIntents returns the sensitive tokens present in the task text.
func TaskSensitiveIntents(task string) []string {
	normalized := strings.ToLower(task)
	var hits []string
	for _, token := range sensitiveTokens {
		if containsToken(normalized, token) {
			hits = append(hits, token)
		}
	}
	return hits
}

// EvaluateCommand applies the blocked/allow/sensitive rules for one shell or
// GUI command string.
func EvaluateCommand(command string, mode Mode) Decision {
	parts, err := splitCommand(command)
	if err != nil {
		return Decision{Allowed: false, Reason: "malformed shell command", Rule: "shape"}
	}
	if len(parts) == 0 {
		return Decision{Allowed: false, Reason: "empty command", Rule: "shape"}
	}

	tokenSet := make(map[string]bool, len(parts))
	for _, part := range parts {
		tokenSet[part] = true
	}
	for _, blocked := range blockedTokens {
		if tokenSet[blocked] || containsToken(command, blocked) {
			return Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("blocked command token detected: %s", blocked),
				Rule:    "destructive",
			}
		}
	}

	for _, editor := range editorInvocations {
		if strings.Contains(command, editor) {
			return Decision{Allowed: false, Reason: "editor invocation detected", Rule: "code-edit"}
		}
	}

	allowlist := shellAllowedPrefixes
	if mode == ModeGUI {
		allowlist = guiAllowedPrefixes
	}
	prefixOK := false
	for _, allowed := range allowlist {
		if parts[0] == allowed {
			prefixOK = true
			break
		}
	}
	if !prefixOK {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("command not in allowlist: %s", parts[0]),
			Rule:    "allowlist",
		}
	}

	if mode == ModeGUI {
		if coordinateClickRE.MatchString(command) {
			return Decision{
				Allowed: false,
				Reason:  "coordinate clicks are not allowed; clicks need an explicit target window",
				Rule:    "gui-coordinate-click",
			}
		}
		if guiStateChangingRE.MatchString(command) && !strings.Contains(command, "--window") {
			return Decision{
				Allowed: false,
				Reason:  "state-changing xdotool action without explicit --window target",
				Rule:    "gui-window-target",
			}
		}
	}

	for _, token := range sensitiveTokens {
		if tokenSet[token] || containsToken(command, token) {
			return Decision{
				Allowed:   true,
				Reason:    "sensitive command requires explicit confirmation",
				Sensitive: true,
				Rule:      "sensitive",
			}
		}
	}
	return Decision{Allowed: true, Reason: "allowed command"}
}

// EvaluateAction checks a full action entry of the form "cmd: <command>".
// Web mode only admits engine-authored playwright actions; the engine never
// routes external strings through here, so anything else is forged.
func EvaluateAction(action string, mode Mode) Decision {
	trimmed := strings.TrimSpace(action)
	if !strings.HasPrefix(trimmed, "cmd: ") {
		return Decision{Allowed: false, Reason: "action must serialize as 'cmd: <command>'", Rule: "shape"}
	}
	command := strings.TrimSpace(strings.TrimPrefix(trimmed, "cmd: "))
	if command == "" {
		return Decision{Allowed: false, Reason: "action carries an empty command", Rule: "shape"}
	}
	if mode == ModeWeb {
		if strings.HasPrefix(command, "playwright ") {
			return Decision{Allowed: true, Reason: "engine-internal web action"}
		}
		return Decision{Allowed: false, Reason: "web mode only permits engine-internal playwright actions", Rule: "allowlist"}
	}
	return EvaluateCommand(command, mode)
}

// splitCommand performs a minimal shell-style split honoring quotes.
func splitCommand(command string) ([]string, error) {
	var (
		parts   []string
		current strings.Builder
		quote   rune
	)
	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ' ' || r == '\t':
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in command")
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts, nil
}

func containsToken(text, token string) bool {
	if token == ">" || token == ">>" {
		return strings.Contains(text, token)
	}
	re := regexp.MustCompile(`(?:^|[^\w-])` + regexp.QuoteMeta(token) + `(?:$|[^\w-])`)
	return re.MatchString(text)
}
