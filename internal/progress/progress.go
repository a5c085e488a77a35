// Package progress wraps schollz/progressbar behind an enabled/disabled
// Bar so callers don't have to branch on whether progress reporting is
// wanted. Adapted from the dupedog repo's internal/progress package.
package progress

import (
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

const updateInterval = 100 * time.Millisecond

// Bar wraps a progressbar.ProgressBar; every method is a no-op when the
// bar was created disabled, so call sites never need to check.
type Bar struct {
	bar *progressbar.ProgressBar
}

// New creates a byte-count progress bar against os.Stderr. If enabled is
// false, every method on the returned Bar is a no-op.
func New(enabled bool, totalBytes int64, description string) *Bar {
	if !enabled {
		return &Bar{}
	}
	bar := progressbar.NewOptions64(totalBytes,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionThrottle(updateInterval),
		progressbar.OptionShowBytes(true),
		progressbar.OptionClearOnFinish(),
	)
	return &Bar{bar: bar}
}

// Write lets Bar itself act as an io.Writer sink, so it can be passed to
// io.TeeReader/io.MultiWriter to track bytes as they stream through.
func (b *Bar) Write(p []byte) (int, error) {
	if b.bar == nil {
		return len(p), nil
	}
	return b.bar.Write(p)
}

// Finish completes rendering. Safe to call on a disabled Bar.
func (b *Bar) Finish() {
	if b.bar != nil {
		_ = b.bar.Finish()
	}
}
