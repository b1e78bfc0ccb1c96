//go:build linux

package capture

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"scrollglide/internal/physics"
)

// uinput ioctl numbers (from <linux/uinput.h>)
const (
	uiSetEvBit   = 0x40045564 // _IOW('U', 100, int)
	uiSetKeyBit  = 0x40045565 // _IOW('U', 101, int)
	uiSetRelBit  = 0x40045566 // _IOW('U', 102, int)
	uiSetMscBit  = 0x40045568 // _IOW('U', 104, int)
	uiDevSetup   = 0x405c5503 // _IOW('U', 3, struct uinput_setup)
	uiDevCreate  = 0x5501     // _IO('U', 1)
	uiDevDestroy = 0x5502     // _IO('U', 2)

	busVirtual = 0x06
)

// uinputSetup mirrors struct uinput_setup.
type uinputSetup struct {
	BusType uint16
	Vendor  uint16
	Product uint16
	Version uint16
	Name    [80]byte
	FFMax   uint32
}

// VirtualDevice is a uinput pointer. It is both the motion sink of the engine
// and the forwarder for grabbed frames the engine did not take.
type VirtualDevice struct {
	mu    sync.Mutex
	f     *os.File
	name  string
	notch [2]int32 // hi-res remainder per axis, not yet reported as a detent
}

// OpenVirtualDevice creates the virtual pointer through path (usually /dev/uinput).
func OpenVirtualDevice(path, name string) (*VirtualDevice, error) {
	if name == "" {
		name = DefaultVirtualDeviceName
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrInstall, path, err)
	}
	fd := int(f.Fd())

	fail := func(what string, err error) (*VirtualDevice, error) {
		f.Close()
		return nil, fmt.Errorf("%w: uinput %s: %v", ErrInstall, what, err)
	}

	for _, ev := range []int{EV_SYN, EV_KEY, EV_REL, EV_MSC} {
		if err := unix.IoctlSetInt(fd, uiSetEvBit, ev); err != nil {
			return fail("set evbit", err)
		}
	}
	for _, key := range []int{BTN_LEFT, BTN_RIGHT, BTN_MIDDLE, BTN_SIDE, BTN_EXTRA} {
		if err := unix.IoctlSetInt(fd, uiSetKeyBit, key); err != nil {
			return fail("set keybit", err)
		}
	}
	for _, rel := range []int{REL_X, REL_Y, REL_HWHEEL, REL_WHEEL, REL_WHEEL_HI_RES, REL_HWHEEL_HI_RES} {
		if err := unix.IoctlSetInt(fd, uiSetRelBit, rel); err != nil {
			return fail("set relbit", err)
		}
	}
	if err := unix.IoctlSetInt(fd, uiSetMscBit, MSC_RAW); err != nil {
		return fail("set mscbit", err)
	}

	setup := uinputSetup{BusType: busVirtual, Vendor: 0x5353, Product: 0x4d53, Version: 1}
	copy(setup.Name[:len(setup.Name)-1], name)
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uiDevSetup, uintptr(unsafe.Pointer(&setup))); errno != 0 {
		return fail("dev setup", errno)
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uiDevCreate, 0); errno != 0 {
		return fail("dev create", errno)
	}

	return &VirtualDevice{f: f, name: name}, nil
}

// Name returns the registered device name.
func (d *VirtualDevice) Name() string { return d.name }

// Emit writes one engine command as a signed high-resolution wheel frame.
// Legacy detent events follow once a full WheelUnit has accumulated so
// clients without high-resolution support still scroll.
func (d *VirtualDevice) Emit(cmd physics.Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeLocked(commandFrame(cmd, &d.notch))
}

// Forward re-emits a captured frame unchanged.
func (d *VirtualDevice) Forward(evs []InputEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeLocked(evs)
}

func (d *VirtualDevice) writeLocked(evs []InputEvent) error {
	if d.f == nil {
		return os.ErrClosed
	}
	if _, err := d.f.Write(encodeEvents(evs)); err != nil {
		return fmt.Errorf("write uinput: %w", err)
	}
	return nil
}

// Close destroys the virtual device.
func (d *VirtualDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	_, _, _ = unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), uiDevDestroy, 0)
	err := d.f.Close()
	d.f = nil
	return err
}
