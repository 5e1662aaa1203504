// Package progress wraps the progress bar used by one-shot CLI commands.
// A nil *Bar is valid and does nothing, so library code can report progress
// unconditionally.
package progress

import "github.com/schollz/progressbar/v3"

type Bar struct {
	bar *progressbar.ProgressBar
}

// New returns a visible progress bar when enabled, and a no-op bar
// otherwise (scheduled runs, tests).
func New(enabled bool, description string) *Bar {
	if !enabled {
		return nil
	}
	return &Bar{bar: progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)}
}

func (b *Bar) AddMax(n int) {
	if b == nil || b.bar == nil {
		return
	}
	b.bar.AddMax(n)
}

func (b *Bar) Add(n int) {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Add(n)
}

func (b *Bar) Finish() {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Finish()
}
