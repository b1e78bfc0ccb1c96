package capture

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"

	"scrollglide/internal/physics"
	"scrollglide/internal/router"
)

func rel(code uint16, v int32) InputEvent { return InputEvent{Type: EV_REL, Code: code, Value: v} }

func key(code uint16, v int32) InputEvent { return InputEvent{Type: EV_KEY, Code: code, Value: v} }

type recordingHandler struct {
	mu       sync.Mutex
	events   []router.Event
	decision router.Decision
}

func (h *recordingHandler) handle(ev router.Event) router.Decision {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return h.decision
}

func (h *recordingHandler) seen() []router.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]router.Event(nil), h.events...)
}

func TestDecodeEncodeEvents(t *testing.T) {
	in := []InputEvent{
		{Sec: 1, Usec: 2, Type: EV_REL, Code: REL_WHEEL, Value: -1},
		synReport,
	}
	buf := encodeEvents(in)
	if len(buf) != 2*inputEventSize {
		t.Fatalf("encoded %d bytes, want %d", len(buf), 2*inputEventSize)
	}
	// A trailing partial event is ignored.
	got := decodeEvents(append(buf, 1, 2, 3), nil)
	if !reflect.DeepEqual(got, in) {
		t.Errorf("decoded %+v, want %+v", got, in)
	}
}

func TestInputEventSize(t *testing.T) {
	if inputEventSize != 24 {
		t.Errorf("input_event size = %d, want 24", inputEventSize)
	}
}

func TestScanFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame []InputEvent
		want  wheelFrame
	}{
		{"legacy detent", []InputEvent{rel(REL_WHEEL, -2), synReport},
			wheelFrame{vertical: -240, hasVertical: true}},
		{"hi-res wins", []InputEvent{rel(REL_WHEEL, 1), rel(REL_WHEEL_HI_RES, 120), synReport},
			wheelFrame{vertical: 120, hasVertical: true}},
		{"partial hi-res", []InputEvent{rel(REL_WHEEL_HI_RES, 30), synReport},
			wheelFrame{vertical: 30, hasVertical: true}},
		{"horizontal", []InputEvent{rel(REL_HWHEEL, 1), synReport},
			wheelFrame{horizontal: 120, hasHorizontal: true}},
		{"motion only", []InputEvent{rel(REL_X, 4), rel(REL_Y, -1), synReport},
			wheelFrame{}},
		{"signed frame", []InputEvent{
			{Type: EV_MSC, Code: MSC_RAW, Value: int32(physics.Signature)},
			rel(REL_WHEEL_HI_RES, 7), synReport},
			wheelFrame{vertical: 7, hasVertical: true, selfInjected: true}},
		{"foreign raw scan code", []InputEvent{
			{Type: EV_MSC, Code: MSC_RAW, Value: 0x1234},
			rel(REL_WHEEL, 1), synReport},
			wheelFrame{vertical: 120, hasVertical: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scanFrame(tt.frame); got != tt.want {
				t.Errorf("scanFrame = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFilterFrame(t *testing.T) {
	frame := []InputEvent{rel(REL_X, 3), rel(REL_WHEEL, 1), rel(REL_WHEEL_HI_RES, 120), rel(REL_HWHEEL, 1), synReport}

	got := filterFrame(frame, true, false)
	want := []InputEvent{rel(REL_X, 3), rel(REL_HWHEEL, 1), synReport}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("filterFrame = %+v, want %+v", got, want)
	}

	if got := filterFrame([]InputEvent{rel(REL_WHEEL, 1), synReport}, true, false); got != nil {
		t.Errorf("only SYN left, want nil, got %+v", got)
	}
}

func TestDispatch_AcceptedWheelIsConsumed(t *testing.T) {
	h := &recordingHandler{decision: router.Accepted}
	d := &frameDispatcher{handler: h.handle, paused: &pauseSwitch{}}

	frame := []InputEvent{rel(REL_X, 2), rel(REL_WHEEL, 1), synReport}
	out := d.dispatch(frame, 42)

	if want := []InputEvent{rel(REL_X, 2), synReport}; !reflect.DeepEqual(out, want) {
		t.Errorf("forwarded %+v, want %+v", out, want)
	}
	evs := h.seen()
	if len(evs) != 1 {
		t.Fatalf("handler calls = %d", len(evs))
	}
	if evs[0].Delta != 120 || evs[0].Axis != physics.Vertical || evs[0].Target != 42 {
		t.Errorf("event = %+v", evs[0])
	}
}

func TestDispatch_PassThroughIsForwarded(t *testing.T) {
	h := &recordingHandler{decision: router.PassThrough}
	d := &frameDispatcher{handler: h.handle, paused: &pauseSwitch{}}

	frame := []InputEvent{rel(REL_WHEEL, -1), synReport}
	if out := d.dispatch(frame, 1); !reflect.DeepEqual(out, frame) {
		t.Errorf("forwarded %+v, want the whole frame", out)
	}
}

func TestDispatch_SelfInjectedFlag(t *testing.T) {
	h := &recordingHandler{decision: router.PassThrough}
	d := &frameDispatcher{handler: h.handle, paused: &pauseSwitch{}}

	cmd := physics.Command{Axis: physics.Vertical, Delta: 12, Signature: physics.Signature}
	var notch [2]int32
	d.dispatch(commandFrame(cmd, &notch), 1)

	evs := h.seen()
	if len(evs) != 1 || !evs[0].SelfInjected || evs[0].Delta != 12 {
		t.Errorf("events = %+v", evs)
	}
}

func TestDispatch_PausedAndZoomSkipHandler(t *testing.T) {
	h := &recordingHandler{decision: router.Accepted}
	p := &pauseSwitch{}
	d := &frameDispatcher{handler: h.handle, paused: p}
	frame := []InputEvent{rel(REL_WHEEL, 1), synReport}

	p.Pause()
	if out := d.dispatch(frame, 1); !reflect.DeepEqual(out, frame) {
		t.Errorf("paused: forwarded %+v", out)
	}
	p.Resume()

	d.trackModifiers([]InputEvent{key(KEY_LEFTCTRL, 1), synReport})
	if out := d.dispatch(frame, 1); !reflect.DeepEqual(out, frame) {
		t.Errorf("zoom: forwarded %+v", out)
	}
	d.trackModifiers([]InputEvent{key(KEY_LEFTCTRL, 0), synReport})

	if n := len(h.seen()); n != 0 {
		t.Fatalf("handler called %d times while paused or zooming", n)
	}
	if out := d.dispatch(frame, 1); out != nil {
		t.Errorf("after release: forwarded %+v, want consumed", out)
	}
}

type fixedFocus Focus

func (f fixedFocus) Current() Focus { return Focus(f) }

func TestDispatch_UsesFocus(t *testing.T) {
	h := &recordingHandler{decision: router.Accepted}
	d := &frameDispatcher{handler: h.handle, paused: &pauseSwitch{}, focus: fixedFocus{Target: 77, ProcessName: "vlc"}}
	d.dispatch([]InputEvent{rel(REL_HWHEEL, -1), synReport}, 1)

	evs := h.seen()
	if len(evs) != 1 || evs[0].Target != 77 || evs[0].ProcessName != "vlc" || evs[0].Axis != physics.Horizontal || evs[0].Delta != -120 {
		t.Errorf("events = %+v", evs)
	}
}

func TestCommandFrame_DetentAccumulation(t *testing.T) {
	var notch [2]int32
	detents := int32(0)
	for i := 0; i < 10; i++ {
		frame := commandFrame(physics.Command{Axis: physics.Vertical, Delta: 30, Signature: physics.Signature}, &notch)
		if frame[0].Type != EV_MSC || uint32(frame[0].Value) != physics.Signature {
			t.Fatalf("frame does not start with the signature: %+v", frame)
		}
		if frame[len(frame)-1] != synReport {
			t.Fatalf("frame not terminated: %+v", frame)
		}
		for _, ev := range frame {
			if ev.Type == EV_REL && ev.Code == REL_WHEEL {
				detents += ev.Value
			}
		}
	}
	// 300 hi-res units: two full detents, 60 carried.
	if detents != 2 || notch[0] != 60 {
		t.Errorf("detents = %d, remainder = %d", detents, notch[0])
	}

	frame := commandFrame(physics.Command{Axis: physics.Horizontal, Delta: -120, Signature: physics.Signature}, &notch)
	want := []InputEvent{
		{Type: EV_MSC, Code: MSC_RAW, Value: int32(physics.Signature)},
		rel(REL_HWHEEL_HI_RES, -120),
		rel(REL_HWHEEL, -1),
		synReport,
	}
	if !reflect.DeepEqual(frame, want) {
		t.Errorf("horizontal frame = %+v", frame)
	}
}

func TestProcessCache(t *testing.T) {
	calls := 0
	c := NewProcessCache(30*time.Second, func(pid int) (string, error) {
		calls++
		if pid == 2 {
			return "", errors.New("gone")
		}
		return "firefox", nil
	})
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	if got := c.Name(1); got != "firefox" {
		t.Fatalf("Name(1) = %q", got)
	}
	c.Name(1)
	if calls != 1 {
		t.Errorf("lookups = %d, want 1 (cached)", calls)
	}

	now = now.Add(31 * time.Second)
	c.Name(1)
	if calls != 2 {
		t.Errorf("lookups = %d, want 2 after expiry", calls)
	}

	if got := c.Name(2); got != "" {
		t.Errorf("failed lookup = %q, want empty", got)
	}
	if got := c.Name(0); got != "" || calls != 3 {
		t.Errorf("pid 0 should not be looked up (calls=%d)", calls)
	}
}

func TestParsePID(t *testing.T) {
	if pid, err := parsePID([]byte(" 4242\n")); err != nil || pid != 4242 {
		t.Errorf("parsePID = %d, %v", pid, err)
	}
	for _, bad := range []string{"", "abc", "-1", "0"} {
		if _, err := parsePID([]byte(bad)); err == nil {
			t.Errorf("parsePID(%q) should fail", bad)
		}
	}
}

func TestTerminal_WheelTranslation(t *testing.T) {
	screen := tcell.NewSimulationScreen("UTF-8")
	if err := screen.Init(); err != nil {
		t.Fatal(err)
	}
	defer screen.Fini()

	h := &recordingHandler{decision: router.Accepted}
	term := NewTerminal(screen, h.handle, 5, "scrollglide-view")
	if err := term.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		buttons tcell.ButtonMask
		delta   int16
		axis    physics.Axis
	}{
		{tcell.WheelUp, 120, physics.Vertical},
		{tcell.WheelDown, -120, physics.Vertical},
		{tcell.WheelLeft, -120, physics.Horizontal},
		{tcell.WheelRight, 120, physics.Horizontal},
	}
	for _, tt := range tests {
		d, handled := term.HandleEvent(tcell.NewEventMouse(0, 0, tt.buttons, tcell.ModNone))
		if !handled || d != router.Accepted {
			t.Errorf("buttons %v: decision %v handled %v", tt.buttons, d, handled)
		}
	}
	evs := h.seen()
	if len(evs) != len(tests) {
		t.Fatalf("handler calls = %d", len(evs))
	}
	for i, tt := range tests {
		if evs[i].Delta != tt.delta || evs[i].Axis != tt.axis || evs[i].Target != 5 || evs[i].ProcessName != "scrollglide-view" {
			t.Errorf("event %d = %+v", i, evs[i])
		}
	}

	if _, handled := term.HandleEvent(tcell.NewEventMouse(0, 0, tcell.Button1, tcell.ModNone)); handled {
		t.Error("click should not be handled")
	}
	if _, handled := term.HandleEvent(tcell.NewEventResize(80, 24)); handled {
		t.Error("resize should not be handled")
	}

	if d, _ := term.HandleEvent(tcell.NewEventMouse(0, 0, tcell.WheelUp, tcell.ModCtrl)); d != router.PassThrough {
		t.Error("ctrl+wheel should pass through")
	}
	term.Pause()
	if d, _ := term.HandleEvent(tcell.NewEventMouse(0, 0, tcell.WheelUp, tcell.ModNone)); d != router.PassThrough {
		t.Error("paused terminal should pass through")
	}
	if n := len(h.seen()); n != len(tests) {
		t.Errorf("handler called for zoom or paused events (%d calls)", n)
	}

	if err := term.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := term.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("second Stop = %v, want ErrNotStarted", err)
	}
}
