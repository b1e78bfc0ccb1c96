package capture

import (
	"sync/atomic"

	"scrollglide/internal/physics"
	"scrollglide/internal/router"
)

// Focus identifies the surface a wheel event lands on.
type Focus struct {
	Target      physics.TargetID
	ProcessName string
}

// FocusSource reports the currently focused surface. Current runs on the
// capture path and must not block.
type FocusSource interface {
	Current() Focus
}

// frameDispatcher turns device frames into routed events and decides what is
// forwarded to the host. It holds no locks; all state is atomic.
type frameDispatcher struct {
	handler Handler
	focus   FocusSource
	paused  *pauseSwitch
	ctrl    atomic.Bool
}

// trackModifiers updates the zoom-modifier state from a keyboard frame.
func (d *frameDispatcher) trackModifiers(evs []InputEvent) {
	for _, ev := range evs {
		if ev.Type == EV_KEY && (ev.Code == KEY_LEFTCTRL || ev.Code == KEY_RIGHTCTRL) {
			d.ctrl.Store(ev.Value != evValueRelease)
		}
	}
}

// dispatch routes the wheel content of one pointer frame.
// It returns the events the host should still see, or nil.
func (d *frameDispatcher) dispatch(evs []InputEvent, device physics.TargetID) []InputEvent {
	wf := scanFrame(evs)
	if !wf.hasVertical && !wf.hasHorizontal {
		return filterFrame(evs, false, false)
	}
	if d.paused.Paused() || d.ctrl.Load() {
		return filterFrame(evs, false, false)
	}

	focus := Focus{Target: device}
	if d.focus != nil {
		focus = d.focus.Current()
	}

	consume := func(delta int32, axis physics.Axis) bool {
		ev := router.Event{
			Delta:        clampInt16(delta),
			Axis:         axis,
			Target:       focus.Target,
			ProcessName:  focus.ProcessName,
			SelfInjected: wf.selfInjected,
		}
		return d.handler(ev) == router.Accepted
	}

	consumeV := wf.hasVertical && wf.vertical != 0 && consume(wf.vertical, physics.Vertical)
	consumeH := wf.hasHorizontal && wf.horizontal != 0 && consume(wf.horizontal, physics.Horizontal)
	return filterFrame(evs, consumeV, consumeH)
}
