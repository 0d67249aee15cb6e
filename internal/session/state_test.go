// File: internal/session/state_test.go
package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Control color must be a pure function of the four booleans, first match
// winning: incident, learning, controlled, agent-online, offline.
func TestDeriveControlState(t *testing.T) {
	cases := []struct {
		name                                            string
		controlled, learning, incident, agentOnline     bool
		color                                           ControlColor
	}{
		{"incident wins over everything", true, true, true, true, ColorRed},
		{"learning beats control", true, true, false, true, ColorOrange},
		{"assistant control", true, false, false, true, ColorBlue},
		{"controlled even when agent offline", true, false, false, false, ColorBlue},
		{"agent idle", false, false, false, true, ColorGreen},
		{"everything off", false, false, false, false, ColorGray},
		{"incident without agent", false, false, true, false, ColorRed},
		{"learning without agent", false, true, false, false, ColorOrange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := DeriveControlState(tc.controlled, tc.learning, tc.incident, tc.agentOnline)
			assert.Equal(t, tc.color, state.Color)
			assert.NotEmpty(t, state.Label)
		})
	}
}

func TestDeriveControlStatePurity(t *testing.T) {
	first := DeriveControlState(true, false, false, true)
	second := DeriveControlState(true, false, false, true)
	assert.Equal(t, first, second)
}
