// Package ledger persists the set of fully downloaded destination paths so a
// restarted run can skip work it already finished.
package ledger

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Ledger is backed by a newline-delimited text file inside the destination
// root. A single worker appends to it; readers only exist at process start.
type Ledger struct {
	fs        afero.Fs
	path      string
	completed map[string]struct{}

	log *slog.Logger
}

// Open loads the ledger file under root, creating an empty ledger when the
// file does not exist yet.
func Open(fs afero.Fs, root, fileName string, log *slog.Logger) (*Ledger, error) {
	l := &Ledger{
		fs:        fs,
		path:      filepath.Join(root, fileName),
		completed: make(map[string]struct{}),
		log:       log.With(slog.String("item", "Ledger")),
	}

	f, err := fs.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}

		return nil, fmt.Errorf("cannot open ledger %s: %w", l.path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}

		l.completed[line] = struct{}{}
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("cannot read ledger %s: %w", l.path, err)
	}

	l.log.Info("Ledger loaded", slog.Int("completed", len(l.completed)))

	return l, nil
}

// Contains reports whether the destination path is already fully downloaded.
func (l *Ledger) Contains(destPath string) bool {
	_, ok := l.completed[destPath]

	return ok
}

// Record appends the destination path to the backing file and flushes before
// returning, so an entry is durable once Record succeeds. Recording a path
// twice is a no-op.
func (l *Ledger) Record(destPath string) error {
	if l.Contains(destPath) {
		return nil
	}

	f, err := l.fs.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("cannot open ledger %s: %w", l.path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(destPath + "\n"); err != nil {
		return fmt.Errorf("cannot append to ledger %s: %w", l.path, err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("cannot sync ledger %s: %w", l.path, err)
	}

	l.completed[destPath] = struct{}{}

	return nil
}

// Len returns the number of recorded paths.
func (l *Ledger) Len() int {
	return len(l.completed)
}
