// Package tui holds the small interactive pieces of the CLI: the inline
// transfer progress bar and the slot prompt.
package tui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
)

var stageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(10)

// ProgressBar renders transfer progress inline on one terminal row. It
// is driven synchronously from the upload engine's progress callbacks.
type ProgressBar struct {
	bar   progress.Model
	out   io.Writer
	dirty bool
}

func NewProgressBar() *ProgressBar {
	return &ProgressBar{
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(40),
		),
		out: os.Stdout,
	}
}

// Set redraws the bar for the named stage at fraction complete.
func (p *ProgressBar) Set(stage string, fraction float64) {
	fmt.Fprintf(p.out, "\r%s %s", stageStyle.Render(stage), p.bar.ViewAs(fraction))
	p.dirty = true
}

// Done terminates the progress row if anything was drawn.
func (p *ProgressBar) Done() {
	if p.dirty {
		fmt.Fprintln(p.out)
		p.dirty = false
	}
}
