// Package output handles all probey CLI output formatting.
package output

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/vulnverified/probey/internal/engine"
)

// Progress writes stage progress updates to stderr. During probing it also
// drives a per-host progress bar.
type Progress struct {
	w       io.Writer
	verbose bool
	silent  bool
	noColor bool
	warn    *color.Color
	mu      sync.Mutex
	start   time.Time
	bar     *progressbar.ProgressBar
}

// NewProgress creates a progress reporter.
func NewProgress(w io.Writer, verbose, silent, noColor bool) *Progress {
	warn := color.New(color.FgYellow)
	if noColor {
		warn.DisableColor()
	}
	return &Progress{
		w:       w,
		verbose: verbose,
		silent:  silent,
		noColor: noColor,
		warn:    warn,
		start:   time.Now(),
	}
}

// Stage prints a stage header like "[1/2] Reading hosts..."
func (p *Progress) Stage(num, total int, msg string) {
	if p.silent {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearBar()
	fmt.Fprintf(p.w, "[%d/%d] %s\n", num, total, msg)
}

// Detail prints verbose detail (only in verbose mode).
func (p *Progress) Detail(msg string) {
	if !p.verbose || p.silent {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearBar()
	fmt.Fprintf(p.w, "  %s\n", msg)
}

// Warn prints a warning to stderr.
func (p *Progress) Warn(msg string) {
	if p.silent {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearBar()
	p.warn.Fprintf(p.w, "  ! %s\n", msg)
}

// StartHosts implements engine.HostObserver.
func (p *Progress) StartHosts(total int) {
	if p.silent || total == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription("probing"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionEnableColorCodes(!p.noColor),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// HostDone implements engine.HostObserver.
func (p *Progress) HostDone(rec engine.HostRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

// Complete finishes the progress bar and prints the elapsed time.
func (p *Progress) Complete() {
	if p.silent {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
	elapsed := time.Since(p.start)
	fmt.Fprintf(p.w, "\nCompleted in %.1fs\n", elapsed.Seconds())
}

// clearBar erases the bar so a line can be printed; the next Add redraws it.
// Callers hold p.mu.
func (p *Progress) clearBar() {
	if p.bar != nil {
		_ = p.bar.Clear()
	}
}
