package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Display periodically renders a Context to a terminal.
type Display struct {
	ctx      *Context
	out      io.Writer
	interval time.Duration
	stopCh   chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewDisplay creates a new progress display
func NewDisplay(ctx *Context, out io.Writer, interval time.Duration) *Display {
	if out == nil {
		out = os.Stdout
	}
	return &Display{
		ctx:      ctx,
		out:      out,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start starts the progress display
func (d *Display) Start() {
	go d.displayLoop()
}

// Stop stops the display and prints the final line. It waits for the loop
// to exit and may be called more than once.
func (d *Display) Stop() {
	d.once.Do(func() { close(d.stopCh) })
	<-d.done
}

func (d *Display) displayLoop() {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprintf(d.out, "\r\033[K%s", Render(d.ctx.Snapshot()))
		case <-d.stopCh:
			fmt.Fprintf(d.out, "\r\033[K%s\n", Render(d.ctx.Snapshot()))
			return
		}
	}
}

// Render formats one progress line.
func Render(s Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %d/%d (%.1f%%) %s, %s/s, elapsed %s",
		progressBar(s.Percent(), 30),
		s.Completed, s.Total, s.Percent(),
		humanize.Bytes(uint64(s.Bytes)),
		humanize.Bytes(uint64(s.Rate())),
		FormatDuration(s.Elapsed),
	)
	if eta := s.ETA(); eta > 0 {
		fmt.Fprintf(&b, ", eta %s", FormatDuration(eta))
	}
	if s.Label != "" {
		fmt.Fprintf(&b, " | %s", s.Label)
	}
	if s.Cancelled {
		b.WriteString(" | cancelling")
	}

	return b.String()
}

func progressBar(percent float64, width int) string {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	filled := int(percent * float64(width) / 100)
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// IsTerminalSupported checks if stdout is a terminal
func IsTerminalSupported() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fileInfo.Mode()&os.ModeCharDevice != 0
}
