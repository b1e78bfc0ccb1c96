// Package telemetry streams engine motion, scroll activity and daemon status to
// WebSocket viewers.
//
// Frames are JSON text messages with an envelope {type, ts, data}:
//
//	status_init  sent once on connect (StatusData)
//	status       daemon state changed (StatusData)
//	motion       engine output summed over a coalescing window (MotionData)
//	activity     an accepted wheel event (ActivityData)
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"scrollglide/internal/physics"
	"scrollglide/internal/router"
)

const (
	FrameStatusInit = "status_init"
	FrameStatus     = "status"
	FrameMotion     = "motion"
	FrameActivity   = "activity"
)

// Envelope is the wire format of every frame.
type Envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

// StatusData is the payload of status and status_init frames.
type StatusData struct {
	Enabled   bool         `json:"enabled"`
	Paused    bool         `json:"paused"`
	Installed bool         `json:"installed"`
	Active    bool         `json:"active"`
	Stats     router.Stats `json:"stats"`
}

// MotionData sums the commands emitted during one window.
type MotionData struct {
	Vertical   int32  `json:"vertical"`
	Horizontal int32  `json:"horizontal"`
	Commands   int    `json:"commands"`
	Target     uint64 `json:"target"`
}

// ActivityData describes one accepted wheel event.
type ActivityData struct {
	Process string `json:"process"`
	Delta   int16  `json:"delta"`
	Axis    string `json:"axis"`
}

type outbound struct {
	typ  string
	data any
	at   time.Time

	// set for motion only
	cmd physics.Command
}

// Publisher turns engine commands and router activity into frames.
//
// Emit and Activity are called on the clock and capture paths respectively;
// they never block. Motion is coalesced: frames go out at most once per
// window even while commands keep arriving.
type Publisher struct {
	hub    *Hub
	window time.Duration
	in     chan outbound
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher builds a publisher flushing motion at most hz times per second.
func NewPublisher(hub *Hub, hz int, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if hz <= 0 {
		hz = 30
	}
	return &Publisher{
		hub:    hub,
		window: time.Second / time.Duration(hz),
		in:     make(chan outbound, 512),
		logger: logger,
		now:    time.Now,
	}
}

// Emit implements physics.Sink.
func (p *Publisher) Emit(cmd physics.Command) error {
	p.enqueue(outbound{typ: FrameMotion, cmd: cmd})
	return nil
}

// Activity publishes an accepted event. It matches router.Router.OnActivity.
func (p *Publisher) Activity(a router.Activity) {
	p.enqueue(outbound{
		typ:  FrameActivity,
		data: ActivityData{Process: a.ProcessName, Delta: a.Delta, Axis: a.Axis.String()},
		at:   a.At,
	})
}

// Status publishes a daemon state change.
func (p *Publisher) Status(s StatusData) {
	p.enqueue(outbound{typ: FrameStatus, data: s})
}

func (p *Publisher) enqueue(o outbound) {
	select {
	case p.in <- o:
	default:
		// Viewers are best-effort; never stall the engine for them.
	}
}

// Run coalesces and broadcasts until ctx is canceled. It flushes pending
// motion before returning.
func (p *Publisher) Run(ctx context.Context) {
	var pending *MotionData
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if pending == nil {
			return
		}
		p.broadcast(FrameMotion, *pending, time.Time{})
		pending = nil
	}
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, timerC = nil, nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			stopTimer()
			return

		case <-timerC:
			flush()
			stopTimer()

		case o := <-p.in:
			if o.typ == FrameMotion {
				if pending == nil {
					pending = &MotionData{}
				}
				switch o.cmd.Axis {
				case physics.Horizontal:
					pending.Horizontal += o.cmd.Delta
				default:
					pending.Vertical += o.cmd.Delta
				}
				pending.Commands++
				pending.Target = uint64(o.cmd.Target)
				// The window is not extended by further motion.
				if timer == nil {
					timer = time.NewTimer(p.window)
					timerC = timer.C
				}
				continue
			}

			// Keep ordering: motion that happened before this event goes first.
			flush()
			stopTimer()
			p.broadcast(o.typ, o.data, o.at)
		}
	}
}

func (p *Publisher) broadcast(typ string, data any, at time.Time) {
	msg, err := marshalFrame(typ, data, at, p.now)
	if err != nil {
		p.logger.Warn("telemetry marshal failed", "type", typ, "error", err)
		return
	}
	p.hub.BroadcastBytes(msg)
}

func marshalFrame(typ string, data any, at time.Time, now func() time.Time) ([]byte, error) {
	ts := at
	if ts.IsZero() {
		ts = now()
	}
	ts = ts.UTC()
	return json.Marshal(envelope{Type: typ, Ts: &ts, Data: data})
}
