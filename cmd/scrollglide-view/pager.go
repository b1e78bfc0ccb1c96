package main

import (
	"math"
	"sync"

	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"

	"scrollglide/internal/capture"
)

// linesPerNotch is how far one wheel detent moves the view.
const linesPerNotch = 3

// jumpDuration is the Home/End animation length in seconds.
const jumpDuration = 0.35

// pager is a scrollable view over a fixed set of lines.
//
// Offset is fractional so sub-line engine steps accumulate; rendering rounds
// down. The engine's clock goroutine and the UI goroutine both touch it.
type pager struct {
	mu     sync.Mutex
	lines  []string
	offset float64
	height int

	jump *gween.Tween
}

func newPager(lines []string, height int) *pager {
	return &pager{lines: lines, height: height}
}

// maxOffsetLocked is the largest offset that still fills the view.
func (p *pager) maxOffsetLocked() float64 {
	m := len(p.lines) - p.height
	if m < 0 {
		return 0
	}
	return float64(m)
}

func (p *pager) clampLocked() {
	p.offset = math.Max(0, math.Min(p.offset, p.maxOffsetLocked()))
}

// scrollUnits moves by a wheel delta. Positive deltas scroll toward the top.
// Any running jump animation is cancelled.
func (p *pager) scrollUnits(delta int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jump = nil
	p.offset -= float64(delta) * linesPerNotch / capture.WheelUnit
	p.clampLocked()
}

// scrollLines moves by whole lines (keyboard).
func (p *pager) scrollLines(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jump = nil
	p.offset += float64(n)
	p.clampLocked()
}

// jumpTo animates towards line over jumpDuration.
func (p *pager) jumpTo(line float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	target := math.Max(0, math.Min(line, p.maxOffsetLocked()))
	p.jump = gween.New(float32(p.offset), float32(target), jumpDuration, ease.OutCubic)
}

func (p *pager) top() { p.jumpTo(0) }
func (p *pager) bottom() { p.jumpTo(math.Inf(1)) }

// animating reports whether a jump is in progress.
func (p *pager) animating() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jump != nil
}

// update advances the jump animation by dt seconds.
func (p *pager) update(dt float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.jump == nil {
		return
	}
	cur, done := p.jump.Update(dt)
	p.offset = float64(cur)
	p.clampLocked()
	if done {
		p.jump = nil
	}
}

// resize changes the view height.
func (p *pager) resize(height int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if height < 1 {
		height = 1
	}
	p.height = height
	p.clampLocked()
}

// visible returns the lines to draw and the first line's index.
func (p *pager) visible() ([]string, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	first := int(math.Floor(p.offset))
	last := first + p.height
	if last > len(p.lines) {
		last = len(p.lines)
	}
	if first > last {
		first = last
	}
	return p.lines[first:last], first
}

// position returns the current fractional offset.
func (p *pager) position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offset
}
