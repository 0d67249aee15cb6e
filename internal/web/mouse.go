// File: internal/web/mouse.go
// Description: Human-mouse movement for visual mode. Trajectories are cubic
// Bezier paths with an ease-in-out-cubic velocity profile; durations follow
// Fitts's Law so short hops are quick and long reaches decelerate visibly.
package web

import (
	"context"
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
)

// point is a viewport coordinate.
type point struct {
	X, Y float64
}

// mouse drives trusted CDP mouse events plus the cursor overlay.
type mouse struct {
	pos       point
	speed     float64
	clickHold time.Duration
	visual    bool
	pulse     bool
	rng       *rand.Rand
}

func newMouse(speed float64, clickHold time.Duration, visual, pulse bool) *mouse {
	if speed <= 0 {
		speed = 1.0
	}
	return &mouse{
		pos:       point{X: 40, Y: 40},
		speed:     speed,
		clickHold: clickHold,
		visual:    visual,
		pulse:     pulse,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// easeInOutCubic is the velocity profile along the path.
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// fittsDuration models movement time from travel distance.
func (m *mouse) fittsDuration(distance float64) time.Duration {
	const targetWidth = 30.0
	const a, b = 120.0, 140.0
	id := math.Log2(1.0 + distance/targetWidth)
	ms := (a + b*id) / m.speed
	ms += ms * (m.rng.Float64()*0.3 - 0.15)
	return time.Duration(ms) * time.Millisecond
}

// bezierPath deforms the straight line with two perpendicular control points.
func (m *mouse) bezierPath(start, end point, steps int) []point {
	dx, dy := end.X-start.X, end.Y-start.Y
	dist := math.Hypot(dx, dy)
	if dist < 1 || steps <= 1 {
		return []point{end}
	}
	// Perpendicular wobble proportional to distance.
	nx, ny := -dy/dist, dx/dist
	bend1 := (m.rng.Float64() - 0.5) * dist * 0.2
	bend2 := (m.rng.Float64() - 0.5) * dist * 0.15
	p1 := point{X: start.X + dx/3 + nx*bend1, Y: start.Y + dy/3 + ny*bend1}
	p2 := point{X: start.X + 2*dx/3 + nx*bend2, Y: start.Y + 2*dy/3 + ny*bend2}

	path := make([]point, steps)
	for i := 0; i < steps; i++ {
		t := easeInOutCubic(float64(i) / float64(steps-1))
		omt := 1 - t
		path[i] = point{
			X: omt*omt*omt*start.X + 3*omt*omt*t*p1.X + 3*omt*t*t*p2.X + t*t*t*end.X,
			Y: omt*omt*omt*start.Y + 3*omt*omt*t*p1.Y + 3*omt*t*t*p2.Y + t*t*t*end.Y,
		}
	}
	return path
}

// MoveTo interpolates mousemove events along a human path to the target.
func (m *mouse) MoveTo(ctx context.Context, target point) error {
	dist := math.Hypot(target.X-m.pos.X, target.Y-m.pos.Y)
	duration := m.fittsDuration(dist)
	steps := int(duration.Seconds() * 60)
	if steps < 2 {
		steps = 2
	}
	path := m.bezierPath(m.pos, target, steps)
	stepPause := duration / time.Duration(len(path))

	for _, p := range path {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := chromedp.Run(ctx,
			input.DispatchMouseEvent(input.MouseMoved, p.X, p.Y).WithButtons(0),
		); err != nil {
			return err
		}
		if m.visual {
			m.moveCursorOverlay(ctx, p)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(stepPause):
		}
	}
	m.pos = target
	return nil
}

// Click presses and releases at the current position with a held-button
// pause, firing the click pulse in visual mode.
func (m *mouse) Click(ctx context.Context) error {
	hold := m.clickHold
	if hold <= 0 {
		hold = 60 * time.Millisecond
	}
	hold += time.Duration(m.rng.Int63n(int64(30 * time.Millisecond)))

	if err := chromedp.Run(ctx,
		input.DispatchMouseEvent(input.MousePressed, m.pos.X, m.pos.Y).
			WithButton(input.Left).WithClickCount(1),
	); err != nil {
		return err
	}
	if m.visual && m.pulse {
		m.clickPulseOverlay(ctx, m.pos)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(hold):
	}
	return chromedp.Run(ctx,
		input.DispatchMouseEvent(input.MouseReleased, m.pos.X, m.pos.Y).
			WithButton(input.Left).WithClickCount(1),
	)
}

func (m *mouse) moveCursorOverlay(ctx context.Context, p point) {
	var ignored any
	js := "window.__bridgeMoveCursor && window.__bridgeMoveCursor(" +
		formatFloat(p.X) + "," + formatFloat(p.Y) + ")"
	_ = chromedp.Run(ctx, chromedp.Evaluate(js, &ignored))
}

func (m *mouse) clickPulseOverlay(ctx context.Context, p point) {
	var ignored any
	js := "window.__bridgeClickPulse && window.__bridgeClickPulse(" +
		formatFloat(p.X) + "," + formatFloat(p.Y) + ")"
	_ = chromedp.Run(ctx, chromedp.Evaluate(js, &ignored))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 1, 64)
}
