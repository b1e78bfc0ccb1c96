package capture

import (
	"context"
	"sync"

	"github.com/gdamore/tcell/v2"

	"scrollglide/internal/physics"
	"scrollglide/internal/router"
)

// Terminal captures mouse wheel events from a tcell screen.
//
// The screen's event loop belongs to the caller; it hands every event to
// HandleEvent, which reports whether the event was a wheel event and what was
// decided for it. Ctrl+wheel is treated as the zoom modifier.
type Terminal struct {
	screen  tcell.Screen
	handler Handler
	target  physics.TargetID
	process string

	pauseSwitch

	mu      sync.Mutex
	started bool
}

// NewTerminal creates a terminal source for screen. process is reported as the
// owning process name of every event.
func NewTerminal(screen tcell.Screen, handler Handler, target physics.TargetID, process string) *Terminal {
	return &Terminal{screen: screen, handler: handler, target: target, process: process}
}

// Start enables mouse reporting on the screen.
func (t *Terminal) Start(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		t.screen.EnableMouse()
		t.started = true
	}
	return nil
}

// Stop disables mouse reporting.
func (t *Terminal) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return ErrNotStarted
	}
	t.screen.DisableMouse()
	t.started = false
	return nil
}

// Running reports whether mouse reporting is enabled.
func (t *Terminal) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// HandleEvent routes ev if it carries wheel motion. handled is false for any
// other event. The returned decision is Accepted only if every wheel axis in
// the event was accepted.
func (t *Terminal) HandleEvent(ev tcell.Event) (decision router.Decision, handled bool) {
	mev, ok := ev.(*tcell.EventMouse)
	if !ok {
		return router.PassThrough, false
	}

	var wheels []router.Event
	buttons := mev.Buttons()
	add := func(mask tcell.ButtonMask, delta int16, axis physics.Axis) {
		if buttons&mask != 0 {
			wheels = append(wheels, router.Event{
				Delta:        delta,
				Axis:         axis,
				Target:       t.target,
				ProcessName:  t.process,
				ZoomModifier: mev.Modifiers()&tcell.ModCtrl != 0,
			})
		}
	}
	add(tcell.WheelUp, WheelUnit, physics.Vertical)
	add(tcell.WheelDown, -WheelUnit, physics.Vertical)
	add(tcell.WheelLeft, -WheelUnit, physics.Horizontal)
	add(tcell.WheelRight, WheelUnit, physics.Horizontal)

	if len(wheels) == 0 {
		return router.PassThrough, false
	}
	if t.Paused() || wheels[0].ZoomModifier {
		return router.PassThrough, true
	}

	decision = router.Accepted
	for _, w := range wheels {
		if t.handler(w) != router.Accepted {
			decision = router.PassThrough
		}
	}
	return decision, true
}
