// File: internal/steps/parser.go
// Description: Turns free-text tasks into frozen plans. Literal markers win
// over natural-language fallbacks; captures are position-ordered and
// overlapping matches are dropped so one phrase never yields two steps.
package steps

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Parse errors are fatal for the run: no plan, no engine.
var (
	ErrUnparseableTask = errors.New("unparseable-task: no recognizable steps in task")
	ErrAmbiguousURL    = errors.New("ambiguous-url: task names more than one URL")
	ErrEmptyPlan       = errors.New("empty-plan: task produced no steps")
)

const quoteClass = `"'“”`

var (
	urlRE = regexp.MustCompile(`https?://[^\s"'“”<>]+`)

	clickTextRE = regexp.MustCompile(
		`(?i)(?:click|haz\s+click|pulsa|presiona)[^"'“”<>]{0,120}[` + quoteClass + `]([^` + quoteClass + `]{1,120})[` + quoteClass + `]`)
	clickSelectorRE = regexp.MustCompile(
		`(?i)(?:click|haz\s+click|pulsa|presiona)\s+(?:en\s+)?(?:el\s+)?selector\s*[=:]?\s*[` + quoteClass + `]([^` + quoteClass + `]{1,160})[` + quoteClass + `]`)
	clickSelectorUnquotedRE = regexp.MustCompile(
		`(?i)(?:click|haz\s+click|pulsa|presiona)\s+(?:en\s+)?(?:el\s+)?selector\s*[=:]?\s*([#.\[][^\s,;]{1,200})`)
	bareSelectorRE = regexp.MustCompile(
		`(?i)selector\s*[=:]?\s*[` + quoteClass + `]([^` + quoteClass + `]{1,160})[` + quoteClass + `]`)
	fillLiteralRE = regexp.MustCompile(
		`(?i)fill\s+selector\s*[=:]\s*[` + quoteClass + `]([^` + quoteClass + `]{1,160})[` + quoteClass + `]\s+value\s*[=:]\s*[` + quoteClass + `]([^` + quoteClass + `]{0,240})[` + quoteClass + `]`)
	fillRE = regexp.MustCompile(
		`(?i)(?:type|fill|escribe|rellena|teclea)\b[^\n\r]{0,80}?(?:text|texto|value)?\s*[=:]?\s*[` + quoteClass + `]([^` + quoteClass + `]{1,240})[` + quoteClass + `][^\n\r]{0,120}?(?:in|into|en)\s+(?:selector\s*[=:]?\s*)?[` + quoteClass + `]([^` + quoteClass + `]{1,160})[` + quoteClass + `]`)
	fillAltRE = regexp.MustCompile(
		`(?i)(?:type|fill|escribe|rellena|teclea)\b[^\n\r]{0,80}?(?:in|into|en)\s+(?:selector\s*[=:]?\s*)?[` + quoteClass + `]([^` + quoteClass + `]{1,160})[` + quoteClass + `][^\n\r]{0,120}?(?:text|texto|value)?\s*[=:]?\s*[` + quoteClass + `]([^` + quoteClass + `]{1,240})[` + quoteClass + `]`)
	selectValueRE = regexp.MustCompile(
		`(?i)\b(?:select|selecciona)\b[^\n\r]{0,80}?value\s*[=:]?\s*[` + quoteClass + `]([^` + quoteClass + `]{1,120})[` + quoteClass + `][^\n\r]{0,80}?(?:from|en)\s+(?:selector\s*[=:]?\s*)?[` + quoteClass + `]([^` + quoteClass + `]{1,160})[` + quoteClass + `]`)
	selectLabelRE = regexp.MustCompile(
		`(?i)\b(?:select|selecciona)\b[^\n\r]{0,120}?(?:label|texto|opci[oó]n|option)?\s*[=:]?\s*[` + quoteClass + `]([^` + quoteClass + `]{1,120})[` + quoteClass + `][^\n\r]{0,120}?(?:from|en)\s+(?:selector\s*[=:]?\s*)?[` + quoteClass + `]([^` + quoteClass + `]{1,160})[` + quoteClass + `]`)
	waitSelectorRE = regexp.MustCompile(
		`(?i)(?:wait|espera)(?:\s+for)?\s+selector\s*[=:]?\s*[` + quoteClass + `]([^` + quoteClass + `]{1,160})[` + quoteClass + `]`)
	waitTextRE = regexp.MustCompile(
		`(?i)(?:wait|espera)(?:\s+for)?\s+text\s*[=:]?\s*[` + quoteClass + `]([^` + quoteClass + `]{1,160})[` + quoteClass + `]`)
	bulkCardsRE = regexp.MustCompile(
		`(?i)bulk\s+click\s+(?:selector\s*)?[` + quoteClass + `]([^` + quoteClass + `]{1,160})[` + quoteClass + `]\s+(?:in|on)\s+cards\s+[` + quoteClass + `]([^` + quoteClass + `]{1,120})[` + quoteClass + `]\s+where\s+text\s+[` + quoteClass + `]([^` + quoteClass + `]{1,120})[` + quoteClass + `]`)
	bulkEmptyRE = regexp.MustCompile(
		`(?i)bulk\s+click\s+(?:selector\s*)?[` + quoteClass + `]([^` + quoteClass + `]{1,160})[` + quoteClass + `]\s+until\s+empty`)
	verifyVisibleRE = regexp.MustCompile(`(?i)\bverify\s+visible\b|\bverifica\b`)
	// activate/open take a target; list/active never do. Two expressions keep
	// one op from swallowing the next as its target.
	windowTargetRE = regexp.MustCompile(`(?i)\bwindow:(activate|open)\s+("[^"]+"|\S+)`)
	windowBareRE   = regexp.MustCompile(`(?i)\bwindow:(list|active)\b`)
)

// trailingPunct is stripped from extracted URLs; tasks end sentences with
// the URL more often than URLs end with ';'.
const trailingPunct = ".,;:!?)]}"

// capture is a positioned candidate step.
type capture struct {
	start, end int
	step       Step
}

// Parser builds frozen plans.
type Parser struct {
	// DemoLoginText is the auto-inserted login click label.
	DemoLoginText string
}

// NewParser returns a Parser with the default demo-login label.
func NewParser() *Parser {
	return &Parser{DemoLoginText: "Entrar demo"}
}

// Parse extracts the ordered plan from a task. The first step is the
// open_url navigation when the task names a URL.
func (p *Parser) Parse(task string) (Plan, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return Plan{}, ErrUnparseableTask
	}

	rawURL, err := p.extractURL(task)
	if err != nil {
		return Plan{}, err
	}

	captures := p.collectCaptures(task)
	plan := Plan{}
	if rawURL != "" {
		plan.Steps = append(plan.Steps, Step{Kind: KindOpenURL, Target: rawURL, Origin: OriginTask})
	}
	for _, c := range captures {
		plan.Steps = append(plan.Steps, c.step)
	}

	if len(plan.Steps) == 0 {
		return Plan{}, ErrUnparseableTask
	}
	if plan.Interactive() == 0 && rawURL == "" && !p.hasNonInteractive(plan) {
		return Plan{}, ErrEmptyPlan
	}
	return plan, nil
}

func (p *Parser) hasNonInteractive(plan Plan) bool {
	for _, s := range plan.Steps {
		if !s.Interactive() {
			return true
		}
	}
	return false
}

// extractURL finds at most one URL, normalizing away trailing punctuation and
// matched quotes.
func (p *Parser) extractURL(task string) (string, error) {
	matches := urlRE.FindAllString(task, -1)
	if len(matches) == 0 {
		return "", nil
	}
	normalized := make(map[string]bool)
	var first string
	for _, m := range matches {
		u := NormalizeURL(m)
		if u == "" {
			continue
		}
		if first == "" {
			first = u
		}
		normalized[u] = true
	}
	if len(normalized) > 1 {
		return "", fmt.Errorf("%w: %s", ErrAmbiguousURL, strings.Join(keys(normalized), ", "))
	}
	if first == "" {
		return "", fmt.Errorf("%w: %q is not a valid absolute URL", ErrUnparseableTask, matches[0])
	}
	return first, nil
}

// NormalizeURL strips trailing punctuation and stray quotes, then validates
// the remainder as an absolute URL. Returns "" when invalid.
func NormalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	for len(trimmed) > 0 {
		last := trimmed[len(trimmed)-1]
		if strings.ContainsRune(trailingPunct, rune(last)) || last == '"' || last == '\'' {
			trimmed = trimmed[:len(trimmed)-1]
			continue
		}
		break
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return ""
	}
	return trimmed
}

// collectCaptures runs every marker regex, sorts by position, and drops
// overlaps (earlier span wins). click-text fallbacks only fill the gaps the
// specific markers left uncovered.
func (p *Parser) collectCaptures(task string) []capture {
	var caps []capture
	add := func(loc []int, step Step) {
		step.Origin = OriginTask
		caps = append(caps, capture{start: loc[0], end: loc[1], step: step})
	}

	for _, m := range bulkCardsRE.FindAllStringSubmatchIndex(task, -1) {
		packed := strings.TrimSpace(task[m[4]:m[5]]) + "||" + strings.TrimSpace(task[m[6]:m[7]])
		add(m[0:2], Step{Kind: KindBulkClickCards, Target: strings.TrimSpace(task[m[2]:m[3]]), Value: packed})
	}
	for _, m := range bulkEmptyRE.FindAllStringSubmatchIndex(task, -1) {
		add(m[0:2], Step{Kind: KindBulkClickEmpty, Target: strings.TrimSpace(task[m[2]:m[3]])})
	}
	for _, m := range fillLiteralRE.FindAllStringSubmatchIndex(task, -1) {
		add(m[0:2], Step{Kind: KindFillSelector, Target: strings.TrimSpace(task[m[2]:m[3]]), Value: strings.TrimSpace(task[m[4]:m[5]])})
	}
	for _, m := range fillRE.FindAllStringSubmatchIndex(task, -1) {
		add(m[0:2], Step{Kind: KindFillSelector, Target: strings.TrimSpace(task[m[4]:m[5]]), Value: strings.TrimSpace(task[m[2]:m[3]])})
	}
	for _, m := range fillAltRE.FindAllStringSubmatchIndex(task, -1) {
		add(m[0:2], Step{Kind: KindFillSelector, Target: strings.TrimSpace(task[m[2]:m[3]]), Value: strings.TrimSpace(task[m[4]:m[5]])})
	}
	for _, m := range selectValueRE.FindAllStringSubmatchIndex(task, -1) {
		add(m[0:2], Step{Kind: KindSelectValue, Target: strings.TrimSpace(task[m[4]:m[5]]), Value: strings.TrimSpace(task[m[2]:m[3]])})
	}
	for _, m := range selectLabelRE.FindAllStringSubmatchIndex(task, -1) {
		add(m[0:2], Step{Kind: KindSelectLabel, Target: strings.TrimSpace(task[m[4]:m[5]]), Value: strings.TrimSpace(task[m[2]:m[3]])})
	}
	for _, m := range waitSelectorRE.FindAllStringSubmatchIndex(task, -1) {
		add(m[0:2], Step{Kind: KindWaitSelector, Target: strings.TrimSpace(task[m[2]:m[3]])})
	}
	for _, m := range waitTextRE.FindAllStringSubmatchIndex(task, -1) {
		add(m[0:2], Step{Kind: KindWaitText, Target: strings.TrimSpace(task[m[2]:m[3]])})
	}
	for _, m := range clickSelectorRE.FindAllStringSubmatchIndex(task, -1) {
		add(m[0:2], Step{Kind: KindClickSelector, Target: strings.TrimSpace(task[m[2]:m[3]])})
	}
	for _, m := range clickSelectorUnquotedRE.FindAllStringSubmatchIndex(task, -1) {
		add(m[0:2], Step{Kind: KindClickSelector, Target: strings.TrimSpace(task[m[2]:m[3]])})
	}
	for _, m := range windowTargetRE.FindAllStringSubmatchIndex(task, -1) {
		op := strings.ToLower(task[m[2]:m[3]])
		target := strings.Trim(strings.TrimSpace(task[m[4]:m[5]]), `"`)
		kind := KindWindowActivate
		if op == "open" {
			kind = KindWindowOpen
		}
		add(m[0:2], Step{Kind: kind, Target: target})
	}
	for _, m := range windowBareRE.FindAllStringSubmatchIndex(task, -1) {
		kind := KindWindowList
		if strings.ToLower(task[m[2]:m[3]]) == "active" {
			kind = KindWindowActive
		}
		add(m[0:2], Step{Kind: kind})
	}
	for _, m := range verifyVisibleRE.FindAllStringIndex(task, -1) {
		add(m, Step{Kind: KindVerifyVisible})
	}

	filtered := dropOverlaps(caps)

	// Text-click fallback for spans no specific marker claimed.
	spans := make([][2]int, len(filtered))
	for i, c := range filtered {
		spans[i] = [2]int{c.start, c.end}
	}
	for _, m := range clickTextRE.FindAllStringSubmatchIndex(task, -1) {
		if overlapsAny(m[0], m[1], spans) {
			continue
		}
		filtered = append(filtered, capture{
			start: m[0], end: m[1],
			step: Step{Kind: KindClickText, Target: strings.TrimSpace(task[m[2]:m[3]]), Origin: OriginTask},
		})
	}

	// Bare selector mentions with no verb become clicks only when nothing
	// else matched at all.
	if len(filtered) == 0 {
		for _, m := range bareSelectorRE.FindAllStringSubmatchIndex(task, -1) {
			filtered = append(filtered, capture{
				start: m[0], end: m[1],
				step: Step{Kind: KindClickSelector, Target: strings.TrimSpace(task[m[2]:m[3]]), Origin: OriginTask},
			})
		}
	}

	sortCaptures(filtered)
	return filtered
}

// RequestsLoginClick reports whether the plan already asks for a login-style
// click. Guards the auto demo-login insertion against double clicks.
func RequestsLoginClick(plan Plan) bool {
	for _, s := range plan.Steps {
		if s.Kind != KindClickText {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(s.Target)) {
		case "entrar demo", "entrar", "login", "sign in", "iniciar sesión":
			return true
		}
	}
	return false
}

// WithAutoDemoLogin prepends an optional demo-login click (after open_url)
// unless the task already requests one.
func (p *Parser) WithAutoDemoLogin(plan Plan) Plan {
	if RequestsLoginClick(plan) {
		return plan
	}
	auto := Step{Kind: KindClickText, Target: p.DemoLoginText, Optional: true, Origin: OriginAuto}
	out := Plan{Steps: make([]Step, 0, len(plan.Steps)+1)}
	inserted := false
	for _, s := range plan.Steps {
		out.Steps = append(out.Steps, s)
		if !inserted && s.Kind == KindOpenURL {
			out.Steps = append(out.Steps, auto)
			inserted = true
		}
	}
	if !inserted {
		out.Steps = append([]Step{auto}, out.Steps...)
	}
	return out
}

func dropOverlaps(caps []capture) []capture {
	sortCaptures(caps)
	var out []capture
	lastEnd := -1
	for _, c := range caps {
		if c.start >= lastEnd {
			out = append(out, c)
			lastEnd = c.end
		}
	}
	return out
}

func overlapsAny(start, end int, spans [][2]int) bool {
	for _, span := range spans {
		if start < span[1] && end > span[0] {
			return true
		}
	}
	return false
}

func sortCaptures(caps []capture) {
	for i := 1; i < len(caps); i++ {
		for j := i; j > 0 && caps[j].start < caps[j-1].start; j-- {
			caps[j], caps[j-1] = caps[j-1], caps[j]
		}
	}
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
