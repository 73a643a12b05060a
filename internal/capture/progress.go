package capture

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ProgressEvent is produced on each successful fragment write and observed
// best-effort by the reporter (§3, §4.6).
type ProgressEvent struct {
	Kind      TrackKind
	Itag      int
	Bytes     int
	MaxSeq    int
	StartFrag int
}

type trackTotals struct {
	fragments int
	bytes     int64
	maxSeq    int
	startFrag int
}

// Reporter aggregates ProgressEvents across both tracks and renders a single
// status line, grounded on Info.go's ProgressInfo channel consumer in
// main.go and DownloadInfo.PrintStatus/SetStatus.
type Reporter struct {
	mu      sync.Mutex
	start   time.Time
	totals  [2]trackTotals
	onLine  func(string)
	lastLen int
}

// NewReporter builds a Reporter that calls onLine with each rendered status
// string. onLine may be nil to disable rendering (e.g. non-interactive runs).
func NewReporter(onLine func(string)) *Reporter {
	return &Reporter{start: time.Now(), onLine: onLine}
}

// Observe folds one ProgressEvent into the running totals and renders an
// updated status line.
func (r *Reporter) Observe(ev ProgressEvent) {
	r.mu.Lock()
	t := &r.totals[ev.Kind]
	t.fragments++
	t.bytes += int64(ev.Bytes)
	if ev.MaxSeq > t.maxSeq {
		t.maxSeq = ev.MaxSeq
	}
	t.startFrag = ev.StartFrag
	line := r.renderLocked()
	r.mu.Unlock()

	if r.onLine != nil {
		r.onLine(line)
	}
}

// FragmentCounts returns the number of fragments written so far per track,
// used by end-of-capture mismatch warnings (§4.5 termination, §8 scenario 5).
func (r *Reporter) FragmentCounts() (audio, video int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totals[TrackAudio].fragments, r.totals[TrackVideo].fragments
}

func (r *Reporter) renderLocked() string {
	elapsed := time.Since(r.start)
	h := int(elapsed.Hours())
	m := int(elapsed.Minutes()) % 60
	s := int(elapsed.Seconds()) % 60

	var sb strings.Builder
	fmt.Fprintf(&sb, "\rElapsed: %02d:%02d:%02d", h, m, s)

	for _, kind := range []TrackKind{TrackVideo, TrackAudio} {
		t := r.totals[kind]
		if t.fragments == 0 && t.bytes == 0 {
			continue
		}
		fmt.Fprintf(&sb, "; %s: %d fragments, %s", kind, t.fragments, FormatSize(t.bytes))
	}

	return sb.String()
}

// FormatSize renders a byte count in human units, grounded on
// util.go:FormatSize.
func FormatSize(bsize int64) string {
	const (
		_ = iota
		kib float64 = 1 << (10 * iota)
		mib
		gib
	)
	v := float64(bsize)
	switch {
	case v >= gib:
		return fmt.Sprintf("%.2fGiB", v/gib)
	case v >= mib:
		return fmt.Sprintf("%.2fMiB", v/mib)
	case v >= kib:
		return fmt.Sprintf("%.2fKiB", v/kib)
	}
	return fmt.Sprintf("%dB", bsize)
}
