package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// printProgress renders an ASCII progress bar to stdout: a fixed-width
// bracketed bar, percentage, current throughput, and an ETA.
func printProgress(label string, current, total int64, startTime time.Time) {
	elapsed := time.Since(startTime).Seconds()
	if elapsed == 0 {
		elapsed = 0.001
	}
	speed := float64(current) / elapsed

	var pct float64
	if total > 0 {
		pct = float64(current) / float64(total) * 100
	}

	var eta string
	if speed > 0 && total > 0 {
		remaining := float64(total-current) / speed
		eta = formatProgressDuration(time.Duration(remaining) * time.Second)
	} else {
		eta = "--:--"
	}

	bar := renderProgressBar(pct, 30)
	fmt.Printf("\r%-24s %s %.1f%% %s/s ETA %s  ", truncateLabel(label, 24), bar, pct, humanize.Bytes(uint64(speed)), eta)
}

func truncateLabel(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func renderProgressBar(pct float64, width int) string {
	filled := int(pct / 100 * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	empty := width - filled
	if filled > 0 {
		return "[" + strings.Repeat("=", filled-1) + ">" + strings.Repeat(" ", empty) + "]"
	}
	return "[" + strings.Repeat(" ", width) + "]"
}

func formatProgressDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

// progressThrottle tracks when a progress bar was last redrawn, so a
// chunk-granularity ProgressFunc callback doesn't flood the terminal.
type progressThrottle struct {
	last time.Time
}

// allow reports whether enough time has passed (or the transfer just
// finished) to redraw, throttled to once per 100ms.
func (p *progressThrottle) allow(bytesSoFar, fileSize int64) bool {
	done := fileSize > 0 && bytesSoFar >= fileSize
	if done || time.Since(p.last) > 100*time.Millisecond {
		p.last = time.Now()
		return true
	}
	return false
}

// newProgressReporter returns a peer.ProgressFunc that redraws an ASCII bar
// per file, resetting its per-file clock whenever fileIndex changes. A nil
// function is returned when quiet is set, so callers can pass it straight
// through without a branch at each call site.
func newProgressReporter(quiet bool) func(fileIndex int, bytesSoFar, fileSize int64) {
	if quiet {
		return nil
	}
	throttle := &progressThrottle{}
	var curIndex = -1
	var curStart time.Time
	return func(fileIndex int, bytesSoFar, fileSize int64) {
		if fileIndex != curIndex {
			curIndex = fileIndex
			curStart = time.Now()
			throttle.last = time.Time{}
		}
		if throttle.allow(bytesSoFar, fileSize) {
			printProgress(fmt.Sprintf("file %d", fileIndex+1), bytesSoFar, fileSize, curStart)
		}
		if fileSize > 0 && bytesSoFar >= fileSize {
			fmt.Println()
		}
	}
}
