// File: internal/steps/parser_test.go
package steps

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURLWithTrailingPunctuation(t *testing.T) {
	parser := NewParser()

	plan, err := parser.Parse(`abre http://localhost:5173, haz click en botón "Entrar demo"`)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)

	assert.Equal(t, KindOpenURL, plan.Steps[0].Kind)
	assert.Equal(t, "http://localhost:5173", plan.Steps[0].Target)
	assert.Equal(t, KindClickText, plan.Steps[1].Kind)
	assert.Equal(t, "Entrar demo", plan.Steps[1].Target)
}

func TestParseLiteralMarkers(t *testing.T) {
	parser := NewParser()

	cases := []struct {
		name   string
		task   string
		kind   Kind
		target string
		value  string
	}{
		{"click selector", `click selector:"#login-btn"`, KindClickSelector, "#login-btn", ""},
		{"click selector unquoted", `click selector: #save`, KindClickSelector, "#save", ""},
		{"fill literal", `fill selector:"#user" value:"admin"`, KindFillSelector, "#user", "admin"},
		{"select label", `select "Rock" from selector "#genre"`, KindSelectLabel, "#genre", "Rock"},
		{"select value", `select value:"rock" from selector "#genre"`, KindSelectValue, "#genre", "rock"},
		{"wait selector", `wait selector:"#player"`, KindWaitSelector, "#player", ""},
		{"wait text", `wait text:"Bienvenido"`, KindWaitText, "Bienvenido", ""},
		{"bulk until empty", `bulk click "#remove" until empty`, KindBulkClickEmpty, "#remove", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := parser.Parse(tc.task)
			require.NoError(t, err)
			require.Len(t, plan.Steps, 1)
			assert.Equal(t, tc.kind, plan.Steps[0].Kind)
			assert.Equal(t, tc.target, plan.Steps[0].Target)
			assert.Equal(t, tc.value, plan.Steps[0].Value)
		})
	}
}

func TestParseBulkClickInCards(t *testing.T) {
	parser := NewParser()
	plan, err := parser.Parse(`bulk click "#add" in cards ".track-card" where text "READY"`)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)

	step := plan.Steps[0]
	assert.Equal(t, KindBulkClickCards, step.Kind)
	assert.Equal(t, "#add", step.Target)
	card, text := step.BulkCardScope()
	assert.Equal(t, ".track-card", card)
	assert.Equal(t, "READY", text)
}

func TestParseWindowOps(t *testing.T) {
	parser := NewParser()
	plan, err := parser.Parse(`window:list window:activate "Mozilla Firefox" window:active`)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 3)
	assert.Equal(t, KindWindowList, plan.Steps[0].Kind)
	assert.Equal(t, KindWindowActivate, plan.Steps[1].Kind)
	assert.Equal(t, "Mozilla Firefox", plan.Steps[1].Target)
	assert.Equal(t, KindWindowActive, plan.Steps[2].Kind)
}

func TestParseAmbiguousURL(t *testing.T) {
	parser := NewParser()
	_, err := parser.Parse(`abre http://localhost:5173 y luego http://localhost:9999`)
	assert.True(t, errors.Is(err, ErrAmbiguousURL))
}

func TestParseUnparseableTask(t *testing.T) {
	parser := NewParser()
	_, err := parser.Parse("   ")
	assert.True(t, errors.Is(err, ErrUnparseableTask))

	_, err = parser.Parse("hum de hum nothing to do here")
	assert.True(t, errors.Is(err, ErrUnparseableTask))
}

func TestAutoDemoLoginDedup(t *testing.T) {
	parser := NewParser()

	// Explicit demo click: auto-insertion must not add a second one.
	plan, err := parser.Parse(`abre http://localhost:5173, haz click en botón "Entrar demo"`)
	require.NoError(t, err)
	require.True(t, RequestsLoginClick(plan))
	withAuto := parser.WithAutoDemoLogin(plan)
	assert.Equal(t, len(plan.Steps), len(withAuto.Steps), "plan length must equal parsed steps")

	// No demo click: auto-insertion adds one optional click after open_url.
	plan, err = parser.Parse(`abre http://localhost:5173, haz click en botón "Stop"`)
	require.NoError(t, err)
	require.False(t, RequestsLoginClick(plan))
	withAuto = parser.WithAutoDemoLogin(plan)
	require.Len(t, withAuto.Steps, len(plan.Steps)+1)
	auto := withAuto.Steps[1]
	assert.Equal(t, KindClickText, auto.Kind)
	assert.Equal(t, "Entrar demo", auto.Target)
	assert.True(t, auto.Optional)
	assert.Equal(t, OriginAuto, auto.Origin)
}

func TestPlanRoundTrip(t *testing.T) {
	parser := NewParser()
	original := Plan{Steps: []Step{
		{Kind: KindOpenURL, Target: "http://localhost:5173", Origin: OriginTask},
		{Kind: KindClickText, Target: "Entrar demo", Origin: OriginTask},
		{Kind: KindClickSelector, Target: "#player-stop-btn", Origin: OriginTask},
		{Kind: KindFillSelector, Target: "#search", Value: "lofi", Origin: OriginTask},
		{Kind: KindWaitText, Target: "Resultados", Origin: OriginTask},
	}}

	parsed, err := parser.Parse(original.Serialize())
	require.NoError(t, err)
	require.Equal(t, len(original.Steps), len(parsed.Steps), "serialized: %s", original.Serialize())
	for i := range original.Steps {
		assert.Equal(t, original.Steps[i].Kind, parsed.Steps[i].Kind, "step %d", i)
		assert.Equal(t, original.Steps[i].Target, parsed.Steps[i].Target, "step %d", i)
		assert.Equal(t, original.Steps[i].Value, parsed.Steps[i].Value, "step %d", i)
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:5173,":        "http://localhost:5173",
		"http://localhost:5173.":        "http://localhost:5173",
		`http://example.com/path)`:      "http://example.com/path",
		`http://example.com/q?x=1;`:     "http://example.com/q?x=1",
		"https://example.com":           "https://example.com",
		"not-a-url":                     "",
		"http://":                       "",
	}
	for raw, expected := range cases {
		assert.Equal(t, expected, NormalizeURL(raw), "input %q", raw)
	}
}

func TestInteractiveClassification(t *testing.T) {
	assert.True(t, Step{Kind: KindClickText}.Interactive())
	assert.True(t, Step{Kind: KindOpenURL}.Interactive())
	assert.False(t, Step{Kind: KindWaitText}.Interactive())
	assert.False(t, Step{Kind: KindWindowList}.Interactive())
	assert.True(t, Step{Kind: KindWindowOpen}.WindowOp())
}
