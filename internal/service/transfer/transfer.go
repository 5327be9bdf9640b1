// Package transfer drives a single file download: stream, progress, pause
// and cancel checks at chunk granularity, retry on transient network
// failure, manual redirect handling, completion ledger recording.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/inhies/go-bytesize"
	"github.com/spf13/afero"

	"github.com/mbanedar/stressfree/internal/common"
	"github.com/mbanedar/stressfree/internal/config"
	"github.com/mbanedar/stressfree/internal/control"
	"github.com/mbanedar/stressfree/internal/entity"
	"github.com/mbanedar/stressfree/internal/progress"
	"github.com/mbanedar/stressfree/internal/transport"
	"github.com/mbanedar/stressfree/internal/util"
)

type StreamOpener interface {
	OpenStream(ctx context.Context, rawURL string) (*transport.Stream, error)
}

type Ledger interface {
	Contains(destPath string) bool
	Record(destPath string) error
}

// EventSink receives progress and log notifications as work happens.
type EventSink interface {
	Log(msg string)
	FileProgress(percent int)
	OverallProgress(percent int)
	TimeRemaining(msg string)
}

type Transfer struct {
	fs      afero.Fs
	opener  StreamOpener
	ledger  Ledger
	sink    EventSink
	ctl     *control.State
	tracker *progress.Tracker
	cfg     *config.TransferConfig
	pending []string

	log *slog.Logger
}

func New(fs afero.Fs, opener StreamOpener, ledger Ledger, sink EventSink,
	ctl *control.State, tracker *progress.Tracker, cfg *config.TransferConfig, log *slog.Logger) *Transfer {
	return &Transfer{
		fs:      fs,
		opener:  opener,
		ledger:  ledger,
		sink:    sink,
		ctl:     ctl,
		tracker: tracker,
		cfg:     cfg,
		log:     log.With(slog.String("item", "Transfer")),
	}
}

// Pending returns the source URLs that received a non-success, non-redirect
// status during this run.
func (t *Transfer) Pending() []string {
	out := make([]string, len(t.pending))
	copy(out, t.pending)

	return out
}

// Download fetches one file. The returned status is terminal for the
// attempt. Only cancellation, exhausted retries and local storage failures
// come back as errors; a permanent HTTP failure is recorded in the pending
// list and returns a nil error so the crawl continues.
func (t *Transfer) Download(ctx context.Context, target entity.TransferTarget) (entity.TransferStatus, error) {
	if t.ctl.Canceled() {
		return entity.TransferCanceled, common.ErrCanceled
	}

	if t.ledger.Contains(target.DestinationPath) {
		t.sink.Log("Skipping already downloaded file: " + target.DestinationPath)
		t.log.Info("Skip completed file", slog.String("path", target.DestinationPath))

		return entity.TransferSkipped, nil
	}

	var (
		rawURL    = target.SourceURL
		redirects int
		attempts  int
		start     = time.Now()
		state     = entity.TransferPending
	)

	for {
		if t.ctl.Canceled() {
			return entity.TransferCanceled, common.ErrCanceled
		}

		stream, err := t.opener.OpenStream(ctx, rawURL)
		if err != nil {
			var nerr *common.NetworkError
			if !errors.As(err, &nerr) {
				return entity.TransferFailedPermanent, err
			}

			state = t.transition(state, entity.TransferFailedRetrying, rawURL)
			if rerr := t.delayRetry(&attempts, rawURL, err); rerr != nil {
				if errors.Is(rerr, common.ErrCanceled) {
					return entity.TransferCanceled, rerr
				}

				return entity.TransferFailedRetrying, rerr
			}

			continue
		}

		if stream.StatusCode == http.StatusFound {
			loc := stream.Location
			stream.Close()

			redirects++
			if redirects > t.cfg.MaxRedirects {
				t.pending = append(t.pending, target.SourceURL)
				t.sink.Log(fmt.Sprintf("Failed to download %s: %s",
					target.SourceURL, common.ErrTooManyRedirects))
				t.log.Warn("Download failed",
					slog.String("url", target.SourceURL),
					slog.Any("error", common.ErrTooManyRedirects))

				return entity.TransferFailedPermanent, nil
			}

			t.sink.Log("Redirected to: " + loc)
			t.log.Info("Redirect", slog.String("from", rawURL), slog.String("to", loc))
			// subsequent attempts go against the redirect target
			rawURL = loc

			continue
		}

		if stream.StatusCode != http.StatusOK {
			code := stream.StatusCode
			stream.Close()

			t.pending = append(t.pending, rawURL)
			t.sink.Log(fmt.Sprintf("Failed to download %s: %d", rawURL, code))
			if code == http.StatusUnauthorized {
				t.sink.Log("Authentication required. Please provide username and password.")
			}
			t.log.Warn("Download failed", slog.String("url", rawURL), slog.Int("status", code))

			return entity.TransferFailedPermanent, nil
		}

		state = t.transition(state, entity.TransferStreaming, rawURL)
		written, err := t.streamToFile(stream, rawURL, target.DestinationPath)
		stream.Close()

		if err != nil {
			if errors.Is(err, common.ErrCanceled) {
				// partial file stays on disk, ledger untouched
				return entity.TransferCanceled, err
			}

			var nerr *common.NetworkError
			if !errors.As(err, &nerr) {
				return entity.TransferFailedPermanent, err
			}

			state = t.transition(state, entity.TransferFailedRetrying, rawURL)
			if rerr := t.delayRetry(&attempts, rawURL, err); rerr != nil {
				if errors.Is(rerr, common.ErrCanceled) {
					return entity.TransferCanceled, rerr
				}

				return entity.TransferFailedRetrying, rerr
			}

			continue
		}

		if err := t.finish(target, written, stream.Size, start); err != nil {
			return entity.TransferFailedPermanent, err
		}

		return entity.TransferCompleted, nil
	}
}

// transition advances the per-file state machine and records the step.
func (t *Transfer) transition(from, to entity.TransferStatus, rawURL string) entity.TransferStatus {
	t.log.Debug("Transfer state",
		slog.String("url", rawURL),
		slog.String("from", from.String()),
		slog.String("to", to.String()))

	return to
}

// streamToFile copies the body into the destination in fixed-size chunks,
// checking the pause and cancel flags after every chunk. Each call starts
// from byte zero; a retried attempt rewrites the whole file.
func (t *Transfer) streamToFile(stream *transport.Stream, rawURL, destPath string) (int64, error) {
	f, err := t.fs.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("cannot create %s: %w", destPath, err)
	}
	defer f.Close()

	buf := make([]byte, t.cfg.ChunkSize)

	var written int64
	for {
		n, rerr := stream.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("cannot write %s: %w", destPath, werr)
			}

			written += int64(n)
			t.sink.FileProgress(percent(written, stream.Size))
		}

		if !t.ctl.WaitWhilePaused() {
			return written, common.ErrCanceled
		}

		if rerr != nil {
			if rerr == io.EOF {
				break
			}

			return written, &common.NetworkError{URL: rawURL, Err: rerr}
		}
	}

	if err := f.Sync(); err != nil {
		return written, fmt.Errorf("cannot sync %s: %w", destPath, err)
	}

	return written, nil
}

func (t *Transfer) finish(target entity.TransferTarget, written, size int64, start time.Time) error {
	if err := t.ledger.Record(target.DestinationPath); err != nil {
		return fmt.Errorf("cannot record completion of %s: %w", target.DestinationPath, err)
	}

	t.tracker.AddDownloaded(written)
	t.sink.FileProgress(100)
	t.sink.OverallProgress(t.tracker.OverallPercent())

	elapsed := time.Since(start)
	if size > 0 && written > 0 {
		// elapsed time projected over whatever the declared size says is
		// still missing; zero once the file arrived in full
		left := elapsed * time.Duration(size-written) / time.Duration(written)
		t.sink.TimeRemaining("Time remaining for current file: " + util.FormatDuration(left))
	}
	if remaining := t.tracker.TotalFiles() - t.tracker.DownloadedFiles(); remaining > 0 {
		t.sink.TimeRemaining("Overall time remaining: " +
			util.FormatDuration(elapsed*time.Duration(remaining)))
	}

	humanSize := bytesize.New(float64(written))
	if total := t.tracker.TotalFiles(); total > 0 {
		t.sink.Log(fmt.Sprintf("Downloaded: %s (%d/%d) - %s",
			target.DestinationPath, t.tracker.DownloadedFiles(), total, humanSize))
	} else {
		t.sink.Log(fmt.Sprintf("Downloaded: %s - %s", target.DestinationPath, humanSize))
	}

	t.log.Info("File completed",
		slog.String("path", target.DestinationPath),
		slog.Int64("bytes", written),
		slog.Duration("elapsed", elapsed))

	return nil
}

// delayRetry sleeps the configured delay before the next attempt. It returns
// nil when the caller should retry, ErrCanceled when the run was canceled
// while waiting, or ErrRetriesExhausted when a bounded attempt budget ran out.
func (t *Transfer) delayRetry(attempts *int, rawURL string, cause error) error {
	if t.ctl.Canceled() {
		return common.ErrCanceled
	}

	*attempts++
	if t.cfg.MaxAttempts > 0 && *attempts >= t.cfg.MaxAttempts {
		return fmt.Errorf("%w for %s: %s", common.ErrRetriesExhausted, rawURL, cause)
	}

	t.sink.Log(fmt.Sprintf("Network issue encountered for %s: %s. Retrying in %s...",
		rawURL, cause, t.cfg.RetryDelay()))
	t.log.Warn("Network issue, will retry",
		slog.String("url", rawURL),
		slog.Duration("delay", t.cfg.RetryDelay()),
		slog.Any("error", cause))

	if !t.ctl.Sleep(t.cfg.RetryDelay()) {
		return common.ErrCanceled
	}

	return nil
}

func percent(written, size int64) int {
	if size <= 0 {
		return 0
	}

	pct := int(written * 100 / size)
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}

	return pct
}
