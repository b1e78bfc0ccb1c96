//go:build linux

package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"scrollglide/internal/physics"
)

// ioctl numbers (from <linux/input.h>)
const (
	eviocgrab    = 0x40044590 // _IOW('E', 0x90, int)
	eviocgname   = 0x81004506 // _IOC(_IOC_READ, 'E', 0x06, 256)
	deviceNameSz = 256
)

// EvdevConfig selects the devices an Evdev source reads.
type EvdevConfig struct {
	Pointers  []string // wheel devices, e.g. /dev/input/by-id/...-event-mouse
	Keyboards []string // optional, only read for the zoom modifier
	Grab      bool     // take exclusive access and re-emit what is not consumed

	// SkipName is a device name that is never opened (our own virtual device).
	SkipName string
}

// Forwarder re-emits frames the host should still see.
type Forwarder interface {
	Forward(evs []InputEvent) error
}

type evdevDevice struct {
	path     string
	fd       int
	keyboard bool
	target   physics.TargetID
	pending  []InputEvent
	dropping bool
}

// Evdev observes Linux input devices through epoll.
//
// Instead of one goroutine per device blocking on read(), a single goroutine
// waits on epoll for all devices plus an eventfd used to stop it. Each Start
// creates a fresh poller; the loop owns its descriptors and releases them when
// it exits, whether Stop asked it to or the devices went away.
type Evdev struct {
	cfg     EvdevConfig
	forward Forwarder
	logger  *slog.Logger

	pauseSwitch
	dispatcher frameDispatcher

	mu      sync.Mutex
	running bool
	stopfd  int
	done    chan struct{}
}

// poller is the set of descriptors one capture run owns.
type poller struct {
	epfd    int
	stopfd  int
	devices map[int]*evdevDevice
}

// NewEvdev creates an evdev source. forward may be nil when Grab is false.
// focus may be nil, in which case the device itself is the target.
func NewEvdev(cfg EvdevConfig, handler Handler, forward Forwarder, focus FocusSource, logger *slog.Logger) *Evdev {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Evdev{cfg: cfg, forward: forward, logger: logger}
	s.dispatcher = frameDispatcher{handler: handler, focus: focus, paused: &s.pauseSwitch}
	return s
}

// Running reports whether the capture loop is alive. It turns false on Stop
// and also when the loop gives up on its own (epoll failure, every pointer
// device gone).
func (s *Evdev) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start opens and registers all devices. Calling Start on a running source
// is a no-op. Failures are wrapped with ErrInstall and leave nothing open.
func (s *Evdev) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if len(s.cfg.Pointers) == 0 {
		return fmt.Errorf("%w: no pointer devices configured", ErrInstall)
	}
	if s.cfg.Grab && s.forward == nil {
		return fmt.Errorf("%w: grabbing requires a forwarding device", ErrInstall)
	}

	p := &poller{devices: make(map[int]*evdevDevice)}

	open := func(path string, keyboard bool) error {
		fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			return fmt.Errorf("%w: open %s: %v (run as root or add user to 'input' group)", ErrInstall, path, err)
		}
		if name := deviceName(fd); s.cfg.SkipName != "" && name == s.cfg.SkipName {
			unix.Close(fd)
			s.logger.Warn("skipping own virtual device", "device", path)
			return nil
		}
		if s.cfg.Grab && !keyboard {
			if err := unix.IoctlSetInt(fd, eviocgrab, 1); err != nil {
				unix.Close(fd)
				return fmt.Errorf("%w: grab %s: %v", ErrInstall, path, err)
			}
		}
		p.devices[fd] = &evdevDevice{path: path, fd: fd, keyboard: keyboard, target: deviceTarget(path)}
		return nil
	}

	for _, path := range s.cfg.Pointers {
		if err := open(path, false); err != nil {
			p.releaseDevices(s.cfg.Grab)
			return err
		}
	}
	for _, path := range s.cfg.Keyboards {
		if err := open(path, true); err != nil {
			p.releaseDevices(s.cfg.Grab)
			return err
		}
	}
	if p.pointerCount() == 0 {
		p.releaseDevices(s.cfg.Grab)
		return fmt.Errorf("%w: no usable pointer devices", ErrInstall)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		p.releaseDevices(s.cfg.Grab)
		return fmt.Errorf("%w: epoll_create1: %v", ErrInstall, err)
	}
	stopfd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		p.releaseDevices(s.cfg.Grab)
		return fmt.Errorf("%w: eventfd: %v", ErrInstall, err)
	}
	p.epfd, p.stopfd = epfd, stopfd

	fail := func(err error) error {
		unix.Close(stopfd)
		unix.Close(epfd)
		p.releaseDevices(s.cfg.Grab)
		return err
	}
	for fd := range p.devices {
		event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			return fail(fmt.Errorf("%w: epoll_ctl_add fd=%d: %v", ErrInstall, fd, err))
		}
	}
	stopEvent := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(stopfd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, stopfd, &stopEvent); err != nil {
		return fail(fmt.Errorf("%w: epoll_ctl_add eventfd: %v", ErrInstall, err))
	}

	if !s.cfg.Grab {
		s.logger.Warn("devices are not grabbed; the host also receives the original wheel events")
	}

	done := make(chan struct{})
	s.stopfd = stopfd
	s.done = done
	s.running = true

	go s.loop(p, done)
	go func() {
		select {
		case <-ctx.Done():
			if err := s.Stop(); err != nil && !errors.Is(err, ErrNotStarted) {
				s.logger.Warn("stopping capture", "error", err)
			}
		case <-done:
		}
	}()

	s.logger.Info("capture installed", "pointers", p.pointerCount(), "keyboards", len(p.devices)-p.pointerCount(), "grab", s.cfg.Grab)
	return nil
}

// Stop wakes the loop, waits for it and releases every device.
// It returns ErrNotStarted if the loop is not running, including after it
// stopped on its own.
func (s *Evdev) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.running = false
	done := s.done

	// The loop closes stopfd only after it has seen running, which needs s.mu.
	var one [8]byte
	one[0] = 1
	_, err := unix.Write(s.stopfd, one[:])
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("signal capture loop: %w", err)
	}
	<-done
	return nil
}

// loop runs one capture session and tears it down.
func (s *Evdev) loop(p *poller, done chan struct{}) {
	stopped := s.poll(p)

	p.releaseDevices(s.cfg.Grab)
	unix.Close(p.epfd)

	s.mu.Lock()
	if s.done == done && s.running {
		s.running = false
		if !stopped {
			s.logger.Error("capture loop exited; use start to reinstall")
		}
	}
	s.mu.Unlock()

	unix.Close(p.stopfd)
	close(done)
}

// poll waits for and consumes device input. It returns true when woken by
// Stop and false when capture cannot continue.
func (s *Evdev) poll(p *poller) bool {
	const maxEvents = 32
	epollEvents := make([]unix.EpollEvent, maxEvents)
	buf := make([]byte, 64*inputEventSize)
	var evs []InputEvent

	for {
		n, err := unix.EpollWait(p.epfd, epollEvents, -1)
		if err != nil {
			// Handle interrupted system call (e.g., SIGINT)
			if err == syscall.EINTR {
				continue
			}
			s.logger.Error("epoll_wait failed, capture stopped", "error", err)
			return false
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			if fd == p.stopfd {
				return true
			}
			d := p.devices[fd]
			if d == nil {
				continue
			}

			// Drain what is readable first; a hang-up can arrive with the last frame.
			if epollEvents[i].Events&unix.EPOLLIN != 0 {
				for {
					nr, err := unix.Read(fd, buf)
					if err != nil || nr <= 0 {
						if err != nil && err != unix.EAGAIN && err != unix.EINTR {
							s.logger.Warn("read from input device", "device", d.path, "error", err)
						}
						break
					}
					evs = decodeEvents(buf[:nr], evs[:0])
					s.consume(d, evs)
				}
			}

			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				s.logger.Warn("input device gone", "device", d.path)
				p.dropDevice(fd, s.cfg.Grab)
				if p.pointerCount() == 0 {
					s.logger.Error("no pointer devices left, capture stopped")
					return false
				}
			}
		}
	}
}

// consume assembles frames and handles each completed one.
func (s *Evdev) consume(d *evdevDevice, evs []InputEvent) {
	for _, ev := range evs {
		if ev.Type == EV_SYN && ev.Code == SYN_DROPPED {
			// The kernel buffer overran; discard until the next report.
			d.pending = d.pending[:0]
			d.dropping = true
			continue
		}
		if ev.Type != EV_SYN || ev.Code != SYN_REPORT {
			if !d.dropping {
				d.pending = append(d.pending, ev)
			}
			continue
		}
		if d.dropping {
			d.dropping = false
			continue
		}

		frame := append(d.pending, synReport)
		d.pending = d.pending[:0]

		if d.keyboard {
			s.dispatcher.trackModifiers(frame)
			continue
		}

		out := s.dispatcher.dispatch(frame, d.target)
		if !s.cfg.Grab || len(out) == 0 {
			continue
		}
		if err := s.forward.Forward(out); err != nil {
			s.logger.Warn("forwarding input frame failed", "device", d.path, "error", err)
		}
	}
}

func (p *poller) dropDevice(fd int, grab bool) {
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if grab && !p.devices[fd].keyboard {
		_ = unix.IoctlSetInt(fd, eviocgrab, 0)
	}
	unix.Close(fd)
	delete(p.devices, fd)
}

func (p *poller) releaseDevices(grab bool) {
	for fd, d := range p.devices {
		if grab && !d.keyboard {
			_ = unix.IoctlSetInt(fd, eviocgrab, 0)
		}
		unix.Close(fd)
	}
	clear(p.devices)
}

func (p *poller) pointerCount() int {
	n := 0
	for _, d := range p.devices {
		if !d.keyboard {
			n++
		}
	}
	return n
}

// deviceName returns the kernel name of an evdev device, or "".
func deviceName(fd int) string {
	var name [deviceNameSz]byte
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), eviocgname, uintptr(unsafe.Pointer(&name[0])))
	if errno != 0 {
		return ""
	}
	if i := bytes.IndexByte(name[:], 0); i >= 0 {
		return string(name[:i])
	}
	return string(name[:])
}

// deviceTarget derives a stable target id from the device path.
func deviceTarget(path string) physics.TargetID {
	h := fnv.New64a()
	_, _ = h.Write([]byte(path))
	return physics.TargetID(h.Sum64())
}
