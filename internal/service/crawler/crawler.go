// Package crawler walks a remote directory tree depth-first, mirroring its
// layout locally and delegating files to the transfer service. A separate
// advisory counting pass supplies the overall-progress denominator.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/mbanedar/stressfree/internal/common"
	"github.com/mbanedar/stressfree/internal/config"
	"github.com/mbanedar/stressfree/internal/control"
	"github.com/mbanedar/stressfree/internal/entity"
	"github.com/mbanedar/stressfree/internal/listing"
	"github.com/mbanedar/stressfree/internal/util"
)

type ListingFetcher interface {
	FetchListing(ctx context.Context, rawURL string) (int, []byte, error)
}

type FileDownloader interface {
	Download(ctx context.Context, target entity.TransferTarget) (entity.TransferStatus, error)
}

type EventSink interface {
	Log(msg string)
}

type Crawler struct {
	fs         afero.Fs
	fetcher    ListingFetcher
	downloader FileDownloader
	sink       EventSink
	ctl        *control.State
	cfg        *config.CrawlerConfig

	retryDelay  time.Duration
	maxAttempts int

	log *slog.Logger
}

func New(fs afero.Fs, fetcher ListingFetcher, downloader FileDownloader, sink EventSink,
	ctl *control.State, cfg *config.CrawlerConfig, retryDelay time.Duration, maxAttempts int,
	log *slog.Logger) *Crawler {
	return &Crawler{
		fs:          fs,
		fetcher:     fetcher,
		downloader:  downloader,
		sink:        sink,
		ctl:         ctl,
		cfg:         cfg,
		retryDelay:  retryDelay,
		maxAttempts: maxAttempts,
		log:         log.With(slog.String("item", "Crawler")),
	}
}

// Count returns the number of files reachable under the listing URL. It is
// best effort: fetch failures and non-200 statuses count a branch as zero,
// since the result only drives the overall-progress denominator.
func (c *Crawler) Count(ctx context.Context, rawURL string) int {
	return c.countDir(ctx, rawURL, 0)
}

func (c *Crawler) countDir(ctx context.Context, rawURL string, depth int) int {
	if depth > c.cfg.MaxDepth || c.ctl.Canceled() {
		return 0
	}

	status, body, err := c.fetcher.FetchListing(ctx, rawURL)
	if err != nil || status != http.StatusOK {
		return 0
	}

	total := 0
	for _, e := range listing.Parse(body) {
		if e.IsDir {
			total += c.countDir(ctx, util.JoinURL(rawURL, e.Name), depth+1)
		} else {
			total++
		}
	}

	return total
}

// Walk mirrors the remote tree rooted at rawURL into destDir. An unreachable
// subdirectory is logged and skipped; a transport-level failure retries the
// listing fetch after the fixed delay. The only errors Walk returns are
// cancellation and failures of the local storage layer.
func (c *Crawler) Walk(ctx context.Context, rawURL, destDir string) error {
	return c.walkDir(ctx, rawURL, destDir, 0)
}

func (c *Crawler) walkDir(ctx context.Context, rawURL, destDir string, depth int) error {
	attempts := 0

	for {
		if c.ctl.Canceled() {
			return common.ErrCanceled
		}

		status, body, err := c.fetcher.FetchListing(ctx, rawURL)
		if err != nil {
			var nerr *common.NetworkError
			if !errors.As(err, &nerr) {
				return err
			}

			if c.ctl.Canceled() {
				return common.ErrCanceled
			}

			attempts++
			if c.maxAttempts > 0 && attempts >= c.maxAttempts {
				return fmt.Errorf("%w for %s: %s", common.ErrRetriesExhausted, rawURL, err)
			}

			c.sink.Log(fmt.Sprintf("Network issue encountered for directory %s: %s. Retrying in %s...",
				rawURL, err, c.retryDelay))
			c.log.Warn("Listing fetch failed, will retry",
				slog.String("url", rawURL), slog.Any("error", err))

			if !c.ctl.Sleep(c.retryDelay) {
				return common.ErrCanceled
			}

			continue
		}

		if status != http.StatusOK {
			c.sink.Log(fmt.Sprintf("Failed to access %s: %d", rawURL, status))
			c.log.Warn("Listing skipped", slog.String("url", rawURL), slog.Int("status", status))

			return nil
		}

		return c.processEntries(ctx, rawURL, destDir, depth, listing.Parse(body))
	}
}

func (c *Crawler) processEntries(ctx context.Context, rawURL, destDir string, depth int,
	entries []entity.RemoteEntry) error {
	for _, e := range entries {
		if c.ctl.Canceled() {
			return common.ErrCanceled
		}

		fullURL := util.JoinURL(rawURL, e.Name)

		if escapesDir(destDir, e.Name) {
			c.sink.Log("Skipping unsafe entry: " + e.Name)
			c.log.Warn("Entry escapes destination", slog.String("name", e.Name))

			continue
		}

		if e.IsDir {
			if depth+1 > c.cfg.MaxDepth {
				c.sink.Log(fmt.Sprintf("Skipping %s: %s", fullURL, common.ErrMaxDepthExceeded))
				c.log.Warn("Max depth exceeded", slog.String("url", fullURL))

				continue
			}

			subDir := filepath.Join(destDir, strings.TrimSuffix(e.Name, "/"))
			if err := c.fs.MkdirAll(subDir, 0o755); err != nil {
				return fmt.Errorf("cannot create directory %s: %w", subDir, err)
			}

			c.sink.Log("Entering directory: " + subDir)
			if err := c.walkDir(ctx, fullURL, subDir, depth+1); err != nil {
				return err
			}

			continue
		}

		c.sink.Log(fmt.Sprintf("Downloading file: %s from %s", e.Name, rawURL))
		target := entity.TransferTarget{
			SourceURL:       fullURL,
			DestinationPath: filepath.Join(destDir, e.Name),
		}

		if _, err := c.downloader.Download(ctx, target); err != nil {
			return err
		}
	}

	return nil
}

// escapesDir reports whether joining name onto dir climbs out of dir.
// Listing hrefs come from the remote server, a crafted "../.." entry must
// not write outside the destination root.
func escapesDir(dir, name string) bool {
	joined := filepath.Join(dir, name)
	clean := filepath.Clean(dir)

	return joined != clean && !strings.HasPrefix(joined, clean+string(filepath.Separator))
}
