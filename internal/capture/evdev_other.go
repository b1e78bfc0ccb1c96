//go:build !linux

package capture

import (
	"context"
	"fmt"
	"log/slog"

	"scrollglide/internal/physics"
)

// EvdevConfig selects the devices an Evdev source reads.
type EvdevConfig struct {
	Pointers  []string
	Keyboards []string
	Grab      bool
	SkipName  string
}

// Forwarder re-emits frames the host should still see.
type Forwarder interface {
	Forward(evs []InputEvent) error
}

// Evdev is only available on Linux; every Start fails with ErrUnsupported.
type Evdev struct {
	pauseSwitch
}

func NewEvdev(EvdevConfig, Handler, Forwarder, FocusSource, *slog.Logger) *Evdev {
	return &Evdev{}
}

func (s *Evdev) Start(context.Context) error {
	return fmt.Errorf("%w: evdev", ErrUnsupported)
}

func (s *Evdev) Stop() error { return ErrNotStarted }

func (s *Evdev) Running() bool { return false }

// VirtualDevice is only available on Linux.
type VirtualDevice struct{}

func OpenVirtualDevice(path, name string) (*VirtualDevice, error) {
	return nil, fmt.Errorf("%w: uinput", ErrUnsupported)
}

func (d *VirtualDevice) Name() string { return "" }
func (d *VirtualDevice) Emit(physics.Command) error { return ErrUnsupported }
func (d *VirtualDevice) Forward([]InputEvent) error { return ErrUnsupported }
func (d *VirtualDevice) Close() error { return nil }
