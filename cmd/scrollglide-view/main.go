package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"

	"scrollglide/internal/capture"
	"scrollglide/internal/easing"
	"scrollglide/internal/logging"
	"scrollglide/internal/physics"
	"scrollglide/internal/router"
	"scrollglide/internal/settings"
)

// viewTarget identifies the pager to the engine.
const viewTarget physics.TargetID = 1

const frameInterval = 16 * time.Millisecond // ~60 FPS

func main() {
	var (
		configPath = flag.String("config", "", "Optional scrollglide YAML config (engine section is used)")
		easingName = flag.String("easing", "", "Easing curve override")
		updateHz   = flag.Int("update-hz", physics.DefaultUpdateHz, "Simulation rate in Hz")
		logFile    = flag.String("log-file", "", "Write debug logs here (the terminal is busy)")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: scrollglide-view [options] [file]\n\n")
		fmt.Fprintf(os.Stderr, "Pages through a file (or generated text) with smooth wheel scrolling.\n")
		fmt.Fprintf(os.Stderr, "Keys: q quit, p pause smoothing, Home/End/g/G jump, arrows/j/k line\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(*configPath, *easingName, *updateHz, *logFile, flag.Arg(0)); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath, easingName string, updateHz int, logFile, file string) error {
	cfg := settings.DefaultConfig()
	if configPath != "" {
		loaded, err := settings.LoadConfigFile(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if easingName != "" {
		cfg.Engine.Easing = easingName
	}
	if _, err := easing.ParseKind(cfg.Engine.Easing); err != nil {
		return err
	}

	logger := logging.Discard()
	if logFile != "" {
		f, err := os.OpenFile(settings.ExpandPath(logFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logger = logging.New(logging.LevelDebug, f)
	}

	lines, err := readLines(file)
	if err != nil {
		return err
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("create screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("init screen: %w", err)
	}
	defer screen.Fini()

	_, h := screen.Size()
	v := newViewer(screen, lines, h-1, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock, err := physics.NewClock(v.engine, updateHz, logger)
	if err != nil {
		return err
	}
	go clock.Run(ctx)

	if err := v.term.Start(ctx); err != nil {
		return err
	}
	defer v.term.Stop()

	v.loop()
	return nil
}

// viewer binds the pager to a terminal capture source and the engine.
type viewer struct {
	screen tcell.Screen
	pager  *pager
	engine *physics.Engine
	router *router.Router
	term   *capture.Terminal
}

func newViewer(screen tcell.Screen, lines []string, height int, cfg settings.Config, logger *slog.Logger) *viewer {
	v := &viewer{screen: screen, pager: newPager(lines, height)}

	// Engine output scrolls the pager; the wheel itself never does while
	// smoothing is on.
	sink := physics.SinkFunc(func(cmd physics.Command) error {
		if cmd.Axis == physics.Vertical {
			v.pager.scrollUnits(cmd.Delta)
		}
		return nil
	})
	v.engine = physics.New(cfg.ToEngineConfig(), sink, logger)

	// No exclusions: the pager is the only target.
	policy := router.NewPolicy(cfg.ToEngineConfig(), cfg.ScrollMultiplier, nil, nil, "")
	v.router = router.New(v.engine, policy, logger)

	v.term = capture.NewTerminal(screen, func(ev router.Event) router.Decision {
		return v.router.Route(ev, time.Now())
	}, viewTarget, "pager")
	return v
}

// loop runs until the user quits.
func (v *viewer) loop() {
	events := make(chan tcell.Event, 100)
	go func() {
		for {
			ev := v.screen.PollEvent()
			if ev == nil {
				return
			}
			events <- ev
		}
	}()

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case ev := <-events:
			if !v.handle(ev) {
				return
			}
		case now := <-ticker.C:
			v.pager.update(float32(now.Sub(last).Seconds()))
			last = now
			v.draw()
		}
	}
}

// handle processes one terminal event. It returns false to quit.
func (v *viewer) handle(ev tcell.Event) bool {
	if decision, ok := v.term.HandleEvent(ev); ok {
		if decision == router.PassThrough {
			// Smoothing is off for this event: scroll by the raw notch.
			// Ctrl+wheel is zoom, which the pager does not do.
			if mev, isMouse := ev.(*tcell.EventMouse); isMouse && mev.Modifiers()&tcell.ModCtrl == 0 {
				v.pager.scrollUnits(rawWheel(mev))
			}
		}
		return true
	}

	switch ev := ev.(type) {
	case *tcell.EventKey:
		return v.handleKey(ev)
	case *tcell.EventResize:
		_, h := v.screen.Size()
		v.pager.resize(h - 1)
		v.screen.Sync()
	}
	return true
}

func (v *viewer) handleKey(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return false
	case tcell.KeyHome:
		v.engine.Reset()
		v.pager.top()
	case tcell.KeyEnd:
		v.engine.Reset()
		v.pager.bottom()
	case tcell.KeyUp:
		v.pager.scrollLines(-1)
	case tcell.KeyDown:
		v.pager.scrollLines(1)
	case tcell.KeyRune:
		switch ev.Rune() {
		case 'q':
			return false
		case 'g':
			v.engine.Reset()
			v.pager.top()
		case 'G':
			v.engine.Reset()
			v.pager.bottom()
		case 'k':
			v.pager.scrollLines(-1)
		case 'j':
			v.pager.scrollLines(1)
		case 'p':
			if v.term.Paused() {
				v.term.Resume()
			} else {
				v.term.Pause()
				v.engine.Reset()
			}
		}
	}
	return true
}

// rawWheel is the unsmoothed vertical delta of a wheel event.
func rawWheel(ev *tcell.EventMouse) int32 {
	b := ev.Buttons()
	switch {
	case b&tcell.WheelUp != 0:
		return capture.WheelUnit
	case b&tcell.WheelDown != 0:
		return -capture.WheelUnit
	}
	return 0
}

func (v *viewer) draw() {
	v.screen.Clear()
	w, h := v.screen.Size()

	rows, _ := v.pager.visible()
	for y, line := range rows {
		drawText(v.screen, 0, y, w, line, tcell.StyleDefault)
	}

	snap := v.engine.Snapshot()
	mode := "smooth"
	if v.term.Paused() {
		mode = "raw"
	}
	status := fmt.Sprintf(" line %.1f/%d  v=%+.1f  peak=%+.1f  glide=%t  %s  %s",
		v.pager.position(), len(v.pager.lines), snap.RemainingVelocity, snap.PeakVelocity, snap.Gliding, mode, statusHint)
	drawText(v.screen, 0, h-1, w, status, tcell.StyleDefault.Reverse(true))
	v.screen.Show()
}

const statusHint = "q:quit p:pause g/G:jump"

func drawText(s tcell.Screen, x, y, width int, text string, style tcell.Style) {
	col := x
	for _, r := range text {
		if col >= width {
			break
		}
		if r == '\t' {
			r = ' '
		}
		s.SetContent(col, y, r, nil, style)
		col++
	}
	for ; col < width; col++ {
		s.SetContent(col, y, ' ', nil, style)
	}
}

// readLines loads file, or generates numbered demo text when file is empty.
func readLines(file string) ([]string, error) {
	if file == "" {
		lines := make([]string, 2000)
		for i := range lines {
			lines[i] = fmt.Sprintf("%5d  %s", i+1, strings.Repeat("~ ", i%37))
		}
		return lines, nil
	}

	f, err := os.Open(settings.ExpandPath(file))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", file, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return lines, nil
}
