// Package capture observes wheel input and hands each event to a Handler.
//
// Backends deliver events synchronously on their own goroutine. The handler
// decides whether the original event is consumed (router.Accepted) or left to
// the host (router.PassThrough). Events with the zoom modifier held never reach
// the handler.
package capture

import (
	"context"
	"errors"
	"sync/atomic"

	"scrollglide/internal/router"
)

var (
	// ErrInstall wraps any failure to install the observation (open, grab, epoll).
	ErrInstall = errors.New("capture install failed")
	// ErrUnsupported is returned by backends not available on this platform.
	ErrUnsupported = errors.New("capture backend not supported on this platform")
	// ErrNotStarted is returned by Stop when the source is not running.
	ErrNotStarted = errors.New("capture not started")
)

// DefaultVirtualDeviceName is the name our uinput pointer registers with.
const DefaultVirtualDeviceName = "scrollglide virtual pointer"

// Handler routes one wheel event. It runs on the capture path and must be fast.
type Handler func(router.Event) router.Decision

// Source is a system-wide (or screen-wide) wheel observer.
//
// Start installs the observation and Stop removes it. Running reports whether
// it is still installed; a backend may lose its devices and stop by itself.
// Pause and Resume keep it installed but let every event straight through
// without calling the handler.
type Source interface {
	Start(ctx context.Context) error
	Stop() error
	Running() bool
	Pause()
	Resume()
	Paused() bool
}

// pauseSwitch is the Pause/Resume half of a Source.
type pauseSwitch struct {
	paused atomic.Bool
}

func (p *pauseSwitch) Pause() { p.paused.Store(true) }
func (p *pauseSwitch) Resume() { p.paused.Store(false) }
func (p *pauseSwitch) Paused() bool { return p.paused.Load() }
