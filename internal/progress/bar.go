// Package progress renders search progress on a terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/bleepsandbloops/bitflip/internal/search"
)

// DefaultWidth is the number of cells in the bar itself.
const DefaultWidth = 30

var (
	filledStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	emptyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	percentStyle = lipgloss.NewStyle().Bold(true)
)

// Bar writes progress snapshots to a writer. On a terminal it redraws one
// line in place; otherwise it writes one plain line per snapshot.
type Bar struct {
	mu       sync.Mutex
	out      io.Writer
	tty      bool
	width    int
	rendered bool
}

// New returns a Bar writing to out. Terminal mode is used when out is a
// terminal file.
func New(out io.Writer) *Bar {
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}
	return NewWithMode(out, tty)
}

// NewWithMode returns a Bar with terminal mode forced on or off.
func NewWithMode(out io.Writer, tty bool) *Bar {
	return &Bar{out: out, tty: tty, width: DefaultWidth}
}

// Interactive reports whether the bar redraws in place.
func (b *Bar) Interactive() bool {
	return b.tty
}

// Render draws p. It has the signature of search.ProgressFunc.
func (b *Bar) Render(p search.Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tty {
		fmt.Fprintf(b.out, "\r%s %s %s", b.bar(p.Percent), percentStyle.Render(fmt.Sprintf("%3.0f%%", p.Percent)), stats(p))
	} else {
		fmt.Fprintf(b.out, "progress: %3.0f%% %s\n", p.Percent, stats(p))
	}
	b.rendered = true
}

// Finish ends the in-place line so later output starts on a fresh line.
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tty && b.rendered {
		fmt.Fprintln(b.out)
	}
	b.rendered = false
}

func (b *Bar) bar(percent float64) string {
	filled := int(percent / 100 * float64(b.width))
	filled = max(0, min(filled, b.width))
	return "[" + filledStyle.Render(strings.Repeat("#", filled)) +
		emptyStyle.Render(strings.Repeat("-", b.width-filled)) + "]"
}

func stats(p search.Progress) string {
	s := fmt.Sprintf("%d/%d bits, %.0f/s, %s", p.Completed, p.Total, p.Rate, p.Elapsed.Round(time.Millisecond))
	// running is the normal case and idle means no engine is attached
	if p.State != search.StateRunning && p.State != search.StateIdle {
		s += ", " + p.State.String()
	}
	return "(" + s + ")"
}
