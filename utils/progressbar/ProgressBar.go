// Package progressbar implements functionality of printing a progress
// bar to the terminal window
package progressbar

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	ts "github.com/samuelfneumann/gamelearn/timestep"
)

// ProgressBar prints the fraction of an episode budget which has been
// played. It is a tracker.Tracker: each Last timestep it tracks
// completes an episode and redraws the bar. ProgressBar is safe for
// concurrent use, so a single bar may track many sessions.
type ProgressBar struct {
	// Width determines the number of characters wide that the progress
	// bar should be
	width int

	// maxProgress determines the number of episodes after which the
	// progress bar reaches 100%
	maxProgress int

	mu              sync.Mutex
	currentProgress int
	startTime       time.Time
	out             io.Writer
	closed          bool
}

// NewProgressBar returns a new progress bar that is width characters
// wide and reaches 100% after max episodes, printing to out
func NewProgressBar(out io.Writer, width, max int) *ProgressBar {
	return &ProgressBar{
		width:       width,
		maxProgress: max,
		startTime:   time.Now(),
		out:         out,
	}
}

// Track implements the tracker.Tracker interface
func (p *ProgressBar) Track(t ts.TimeStep) {
	if !t.Last() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentProgress < p.maxProgress {
		p.currentProgress++
	}
	p.display()
}

// Progress returns the number of finished episodes
func (p *ProgressBar) Progress() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentProgress
}

// Close moves to the line after the progress bar. The bar is not
// redrawn afterwards.
func (p *ProgressBar) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	fmt.Fprintln(p.out)
}

// display redraws the bar. The caller must hold p.mu.
func (p *ProgressBar) display() {
	if p.closed {
		return
	}

	var bar strings.Builder
	bar.WriteString("|")

	filled := p.width
	if p.maxProgress > 0 {
		filled = p.currentProgress * p.width / p.maxProgress
	}
	bar.WriteString(strings.Repeat("█", filled))
	bar.WriteString(strings.Repeat(" ", p.width-filled))

	percent := 100.0
	if p.maxProgress > 0 {
		percent = float64(p.currentProgress) / float64(p.maxProgress) * 100
	}
	fmt.Fprintf(&bar, "| [%.2f%% | %d/%d episodes | elapsed: %v]",
		percent, p.currentProgress, p.maxProgress,
		time.Since(p.startTime).Truncate(time.Second))

	fmt.Fprintf(p.out, "\n\033[1A\033[K%v", bar.String())
}
