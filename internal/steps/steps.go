// File: internal/steps/steps.go
// Description: Typed step plans. A plan is frozen once parsed: the engine
// consumes steps strictly in order and nothing downstream may reorder them.
package steps

import (
	"fmt"
	"strings"
)

// Kind enumerates the primitive step types.
type Kind string

const (
	KindOpenURL        Kind = "open_url"
	KindClickText      Kind = "click_text"
	KindClickSelector  Kind = "click_selector"
	KindFillSelector   Kind = "fill_selector"
	KindSelectLabel    Kind = "select_label"
	KindSelectValue    Kind = "select_value"
	KindWaitSelector   Kind = "wait_selector"
	KindWaitText       Kind = "wait_text"
	KindVerifyVisible  Kind = "verify_visible"
	KindWindowList     Kind = "window_list"
	KindWindowActive   Kind = "window_active"
	KindWindowActivate Kind = "window_activate"
	KindWindowOpen     Kind = "window_open"
	KindBulkClickCards Kind = "bulk_click_in_cards"
	KindBulkClickEmpty Kind = "bulk_click_until_empty"
)

// Origin records where a step came from.
type Origin string

const (
	OriginTask     Origin = "task"
	OriginAuto     Origin = "auto"
	OriginLearning Origin = "learning"
)

// Step is one frozen primitive of a plan.
type Step struct {
	Kind     Kind   `json:"kind"`
	Target   string `json:"target"`
	Value    string `json:"value,omitempty"`
	Optional bool   `json:"optional,omitempty"`
	Origin   Origin `json:"origin,omitempty"`
}

// Interactive reports whether the step performs a state-changing interaction
// (and therefore produces before/after evidence and an actions[] entry).
func (s Step) Interactive() bool {
	switch s.Kind {
	case KindOpenURL, KindClickText, KindClickSelector, KindFillSelector,
		KindSelectLabel, KindSelectValue, KindBulkClickCards, KindBulkClickEmpty:
		return true
	}
	return false
}

// WindowOp reports whether the step is a GUI window operation.
func (s Step) WindowOp() bool {
	switch s.Kind {
	case KindWindowList, KindWindowActive, KindWindowActivate, KindWindowOpen:
		return true
	}
	return false
}

// Signature is the stable human-readable identity used in logs, findings and
// watchdog bookkeeping.
func (s Step) Signature(idx, total int) string {
	return fmt.Sprintf("step %d/%d %s:%s", idx, total, s.Kind, s.Target)
}

// Serialize renders the step as its literal task marker. Parse(Serialize(p))
// must reproduce the plan exactly.
func (s Step) Serialize() string {
	switch s.Kind {
	case KindOpenURL:
		return "open " + s.Target
	case KindClickText:
		return fmt.Sprintf("click %q", s.Target)
	case KindClickSelector:
		return fmt.Sprintf("click selector:%q", s.Target)
	case KindFillSelector:
		return fmt.Sprintf("fill selector:%q value:%q", s.Target, s.Value)
	case KindSelectLabel:
		return fmt.Sprintf("select %q from selector %q", s.Value, s.Target)
	case KindSelectValue:
		return fmt.Sprintf("select value:%q from selector %q", s.Value, s.Target)
	case KindWaitSelector:
		return fmt.Sprintf("wait selector:%q", s.Target)
	case KindWaitText:
		return fmt.Sprintf("wait text:%q", s.Target)
	case KindVerifyVisible:
		return "verify visible"
	case KindWindowList:
		return "window:list"
	case KindWindowActive:
		return "window:active"
	case KindWindowActivate:
		return "window:activate " + quoteIfSpaced(s.Target)
	case KindWindowOpen:
		return "window:open " + quoteIfSpaced(s.Target)
	case KindBulkClickCards:
		card, text := s.bulkCardParts()
		return fmt.Sprintf("bulk click %q in cards %q where text %q", s.Target, card, text)
	case KindBulkClickEmpty:
		return fmt.Sprintf("bulk click %q until empty", s.Target)
	}
	return ""
}

// bulkCardParts splits the packed "card||text" value of a bulk card step.
func (s Step) bulkCardParts() (card, text string) {
	parts := strings.SplitN(s.Value, "||", 2)
	card = parts[0]
	if len(parts) > 1 {
		text = parts[1]
	}
	return card, text
}

// BulkCardScope returns the container selector and text filter for a
// bulk_click_in_cards step.
func (s Step) BulkCardScope() (card, text string) {
	return s.bulkCardParts()
}

func quoteIfSpaced(s string) string {
	if strings.ContainsAny(s, " \t") {
		return `"` + s + `"`
	}
	return s
}

// Plan is a frozen ordered step list.
type Plan struct {
	Steps []Step `json:"steps"`
}

// Serialize renders the plan as a task string whose parse reproduces it.
func (p Plan) Serialize() string {
	parts := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		if marker := s.Serialize(); marker != "" {
			parts = append(parts, marker)
		}
	}
	return strings.Join(parts, ", ")
}

// Interactive counts the interactive steps of the plan.
func (p Plan) Interactive() int {
	n := 0
	for _, s := range p.Steps {
		if s.Interactive() {
			n++
		}
	}
	return n
}
