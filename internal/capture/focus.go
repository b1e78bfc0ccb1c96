package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"sync/atomic"
	"time"

	"scrollglide/internal/physics"
)

// DefaultFocusPollInterval is how often the focus command runs.
const DefaultFocusPollInterval = 250 * time.Millisecond

// FocusTracker polls an external command that prints the pid of the focused
// window (for example `xdotool getactivewindow getwindowpid`) and publishes the
// result for the capture path. Names are resolved through a ProcessCache.
type FocusTracker struct {
	argv     []string
	interval time.Duration
	cache    *ProcessCache
	logger   *slog.Logger

	cur atomic.Pointer[Focus]
}

// NewFocusTracker creates a tracker. argv must name at least the program.
func NewFocusTracker(argv []string, interval time.Duration, cache *ProcessCache, logger *slog.Logger) (*FocusTracker, error) {
	if len(argv) == 0 {
		return nil, errors.New("focus command is empty")
	}
	if interval <= 0 {
		interval = DefaultFocusPollInterval
	}
	if cache == nil {
		cache = NewProcessCache(0, nil)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	t := &FocusTracker{argv: argv, interval: interval, cache: cache, logger: logger}
	t.cur.Store(&Focus{})
	return t, nil
}

// Current returns the last observed focus.
func (t *FocusTracker) Current() Focus {
	return *t.cur.Load()
}

// Run polls until ctx is canceled.
func (t *FocusTracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	failing := false
	for {
		if err := t.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Log once per failure streak; the command may be absent on Wayland.
			if !failing {
				t.logger.Warn("focus command failed", "command", t.argv[0], "error", err)
			}
			failing = true
		} else if failing {
			t.logger.Info("focus command recovered", "command", t.argv[0])
			failing = false
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (t *FocusTracker) poll(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, t.interval)
	defer cancel()

	out, err := exec.CommandContext(cctx, t.argv[0], t.argv[1:]...).Output()
	if err != nil {
		return err
	}
	pid, err := parsePID(out)
	if err != nil {
		return err
	}
	t.cur.Store(&Focus{
		Target:      physics.TargetID(pid),
		ProcessName: t.cache.Name(pid),
	})
	return nil
}

func parsePID(out []byte) (int, error) {
	s := string(bytes.TrimSpace(out))
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("focus command printed %q, want a pid", s)
	}
	return pid, nil
}
