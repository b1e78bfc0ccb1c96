package capture

import (
	"bytes"
	"encoding/binary"
	"math"

	"scrollglide/internal/physics"
)

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_SYN = 0x00
	EV_KEY = 0x01
	EV_REL = 0x02
	EV_MSC = 0x04

	SYN_REPORT  = 0
	SYN_DROPPED = 3

	MSC_RAW = 0x03

	REL_X             = 0x00
	REL_Y             = 0x01
	REL_HWHEEL        = 0x06
	REL_WHEEL         = 0x08
	REL_WHEEL_HI_RES  = 0x0b
	REL_HWHEEL_HI_RES = 0x0c

	KEY_LEFTCTRL  = 29
	KEY_RIGHTCTRL = 97

	BTN_LEFT   = 0x110
	BTN_RIGHT  = 0x111
	BTN_MIDDLE = 0x112
	BTN_SIDE   = 0x113
	BTN_EXTRA  = 0x114
)

// WheelUnit is the delta of one wheel detent.
const WheelUnit = 120

// evValueRelease is the EV_KEY value of a key release; press and autorepeat are non-zero.
const evValueRelease = 0

// InputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type InputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// inputEventSize is the wire size of InputEvent on 64-bit Linux.
var inputEventSize = binary.Size(InputEvent{})

var synReport = InputEvent{Type: EV_SYN, Code: SYN_REPORT}

// decodeEvents parses whole events from buf. A trailing partial event is ignored.
func decodeEvents(buf []byte, out []InputEvent) []InputEvent {
	reader := bytes.NewReader(nil)
	for len(buf) >= inputEventSize {
		reader.Reset(buf[:inputEventSize])
		buf = buf[inputEventSize:]

		var ev InputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}
		out = append(out, ev)
	}
	return out
}

// encodeEvents serializes events for a write to uinput.
func encodeEvents(evs []InputEvent) []byte {
	var buf bytes.Buffer
	buf.Grow(len(evs) * inputEventSize)
	for _, ev := range evs {
		// bytes.Buffer writes cannot fail.
		_ = binary.Write(&buf, binary.LittleEndian, ev)
	}
	return buf.Bytes()
}

// wheelFrame is the wheel content of one SYN_REPORT frame.
type wheelFrame struct {
	vertical, horizontal       int32
	hasVertical, hasHorizontal bool
	selfInjected               bool
}

// scanFrame extracts wheel motion in WheelUnit units.
// High-resolution codes win over legacy detent codes when both are present.
func scanFrame(evs []InputEvent) wheelFrame {
	var (
		wf                 wheelFrame
		notchV, notchH     int32
		hiResV, hiResH     int32
		hasHiV, hasHiH     bool
		hasNotchV, hasNotH bool
	)
	for _, ev := range evs {
		switch ev.Type {
		case EV_MSC:
			if ev.Code == MSC_RAW && uint32(ev.Value) == physics.Signature {
				wf.selfInjected = true
			}
		case EV_REL:
			switch ev.Code {
			case REL_WHEEL:
				notchV += ev.Value
				hasNotchV = true
			case REL_HWHEEL:
				notchH += ev.Value
				hasNotH = true
			case REL_WHEEL_HI_RES:
				hiResV += ev.Value
				hasHiV = true
			case REL_HWHEEL_HI_RES:
				hiResH += ev.Value
				hasHiH = true
			}
		}
	}

	switch {
	case hasHiV:
		wf.vertical, wf.hasVertical = hiResV, true
	case hasNotchV:
		wf.vertical, wf.hasVertical = notchV*WheelUnit, true
	}
	switch {
	case hasHiH:
		wf.horizontal, wf.hasHorizontal = hiResH, true
	case hasNotH:
		wf.horizontal, wf.hasHorizontal = notchH*WheelUnit, true
	}
	return wf
}

func isWheelCode(code uint16, axis physics.Axis) bool {
	if axis == physics.Horizontal {
		return code == REL_HWHEEL || code == REL_HWHEEL_HI_RES
	}
	return code == REL_WHEEL || code == REL_WHEEL_HI_RES
}

// filterFrame drops the wheel events of consumed axes. It returns nil when
// nothing but synchronization would be left.
func filterFrame(evs []InputEvent, consumeV, consumeH bool) []InputEvent {
	out := make([]InputEvent, 0, len(evs))
	payload := false
	for _, ev := range evs {
		if ev.Type == EV_REL &&
			((consumeV && isWheelCode(ev.Code, physics.Vertical)) ||
				(consumeH && isWheelCode(ev.Code, physics.Horizontal))) {
			continue
		}
		if ev.Type != EV_SYN {
			payload = true
		}
		out = append(out, ev)
	}
	if !payload {
		return nil
	}
	return out
}

// commandFrame renders an engine command as a uinput frame. notch carries the
// high-resolution remainder per axis between calls.
func commandFrame(cmd physics.Command, notch *[2]int32) []InputEvent {
	var hiRes, detent uint16 = REL_WHEEL_HI_RES, REL_WHEEL
	idx := 0
	if cmd.Axis == physics.Horizontal {
		hiRes, detent, idx = REL_HWHEEL_HI_RES, REL_HWHEEL, 1
	}

	evs := []InputEvent{
		{Type: EV_MSC, Code: MSC_RAW, Value: int32(cmd.Signature)},
		{Type: EV_REL, Code: hiRes, Value: cmd.Delta},
	}
	notch[idx] += cmd.Delta
	if n := notch[idx] / WheelUnit; n != 0 {
		evs = append(evs, InputEvent{Type: EV_REL, Code: detent, Value: n})
		notch[idx] -= n * WheelUnit
	}
	return append(evs, synReport)
}

func clampInt16(v int32) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}
