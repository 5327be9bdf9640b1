// Package progress tracks session-wide counters. The worker is the only
// writer, the UI boundary reads snapshots, so atomics are sufficient.
package progress

import "sync/atomic"

type Tracker struct {
	totalFiles      atomic.Int64
	downloadedFiles atomic.Int64
	totalBytes      atomic.Int64
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// SetTotalFiles records the counting-pass result. Until it is called the
// overall percentage is reported as complete rather than divided by zero.
func (t *Tracker) SetTotalFiles(n int) {
	t.totalFiles.Store(int64(n))
}

func (t *Tracker) AddDownloaded(bytes int64) {
	t.downloadedFiles.Add(1)
	t.totalBytes.Add(bytes)
}

func (t *Tracker) TotalFiles() int {
	return int(t.totalFiles.Load())
}

func (t *Tracker) DownloadedFiles() int {
	return int(t.downloadedFiles.Load())
}

func (t *Tracker) TotalBytes() int64 {
	return t.totalBytes.Load()
}

// OverallPercent returns downloaded/total as an integer percentage clamped
// to [0,100]. An unknown total yields 100, matching the single-file mode
// behavior where no counting pass runs.
func (t *Tracker) OverallPercent() int {
	total := t.totalFiles.Load()
	if total <= 0 {
		return 100
	}

	pct := int(t.downloadedFiles.Load() * 100 / total)
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}

	return pct
}
