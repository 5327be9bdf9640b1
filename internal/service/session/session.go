// Package session orchestrates one download run on a single background
// worker and pushes an ordered stream of typed events to its consumer.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/inhies/go-bytesize"
	"github.com/spf13/afero"

	"github.com/mbanedar/stressfree/internal/common"
	"github.com/mbanedar/stressfree/internal/config"
	"github.com/mbanedar/stressfree/internal/control"
	"github.com/mbanedar/stressfree/internal/entity"
	"github.com/mbanedar/stressfree/internal/progress"
	"github.com/mbanedar/stressfree/internal/util"
)

const eventBufferSize = 1024

type Crawler interface {
	Count(ctx context.Context, rawURL string) int
	Walk(ctx context.Context, rawURL, destDir string) error
}

type FileDownloader interface {
	Download(ctx context.Context, target entity.TransferTarget) (entity.TransferStatus, error)
	Pending() []string
}

type Session struct {
	cfg        *config.Config
	fs         afero.Fs
	ctl        *control.State
	tracker    *progress.Tracker
	crawler    Crawler
	downloader FileDownloader
	events     chan entity.Event
	started    atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc

	log *slog.Logger
}

func New(cfg *config.Config, fs afero.Fs, ctl *control.State, tracker *progress.Tracker,
	log *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		cfg:     cfg,
		fs:      fs,
		ctl:     ctl,
		tracker: tracker,
		events:  make(chan entity.Event, eventBufferSize),
		ctx:     ctx,
		cancel:  cancel,
		log:     log.With(slog.String("item", "Session"), slog.String("run_id", uuid.NewString())),
	}
}

// Bind attaches the crawler and transfer services. The session is their
// event sink, so it must exist before they can be constructed.
func (s *Session) Bind(crawler Crawler, downloader FileDownloader) {
	s.crawler = crawler
	s.downloader = downloader
}

// Events returns the ordered event stream. The channel is closed when the
// run reaches a terminal event.
func (s *Session) Events() <-chan entity.Event {
	return s.events
}

// Start launches the worker goroutine. A session runs at most once.
func (s *Session) Start() error {
	if s.cfg.URL == "" {
		return common.ErrEmptyURL
	}
	if s.cfg.Destination == "" {
		return common.ErrEmptyDestination
	}
	if s.crawler == nil || s.downloader == nil {
		return fmt.Errorf("session is not bound to its services")
	}
	if !s.started.CompareAndSwap(false, true) {
		return common.ErrSessionAlreadyRuns
	}

	go s.run()

	return nil
}

func (s *Session) Pause() {
	s.ctl.Pause()
	s.log.Info("Paused")
}

func (s *Session) Resume() {
	s.ctl.Resume()
	s.log.Info("Resumed")
}

// Cancel flips the shared cancel flag and aborts in-flight requests. The
// worker observes it at the next suspension point.
func (s *Session) Cancel() {
	s.ctl.Cancel()
	s.cancel()
	s.log.Info("Cancel requested")
}

func (s *Session) run() {
	defer close(s.events)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Run panicked", slog.Any("error", r))
			s.Log(fmt.Sprintf("An error occurred: %v", r))
			s.emit(entity.Event{Type: entity.EventFailed, Message: fmt.Sprint(r)})
		}
	}()

	if err := s.fs.MkdirAll(s.cfg.Destination, 0o755); err != nil {
		s.fail(fmt.Errorf("cannot create destination %s: %w", s.cfg.Destination, err))

		return
	}

	var err error
	if util.IsDirectoryURL(s.cfg.URL) {
		err = s.runCrawl()
	} else {
		err = s.runSingleFile()
	}

	if pending := s.downloader.Pending(); len(pending) > 0 {
		s.Log(fmt.Sprintf("Pending failures: %d", len(pending)))
		for _, u := range pending {
			s.Log("  " + u)
		}
	}

	if err != nil && !errors.Is(err, common.ErrCanceled) {
		s.fail(err)

		return
	}

	if s.ctl.Canceled() {
		s.log.Info("Run canceled",
			slog.Int("downloaded", s.tracker.DownloadedFiles()))
		s.emit(entity.Event{Type: entity.EventCanceled})

		return
	}

	s.Log(fmt.Sprintf("Download complete: %d files, %s",
		s.tracker.DownloadedFiles(), bytesize.New(float64(s.tracker.TotalBytes()))))
	s.log.Info("Run completed",
		slog.Int("downloaded", s.tracker.DownloadedFiles()),
		slog.Int64("bytes", s.tracker.TotalBytes()))
	s.emit(entity.Event{Type: entity.EventCompleted})
}

// runCrawl performs the two-pass count then walk. The counting pass must
// finish before the walk so overall progress has a denominator.
func (s *Session) runCrawl() error {
	total := s.crawler.Count(s.ctx, s.cfg.URL)
	s.tracker.SetTotalFiles(total)
	s.FileCount(total)
	s.log.Info("Counting pass finished", slog.Int("total", total))

	return s.crawler.Walk(s.ctx, s.cfg.URL, s.cfg.Destination)
}

// runSingleFile bypasses counting and crawling for a URL that does not name
// a directory listing.
func (s *Session) runSingleFile() error {
	target := entity.TransferTarget{
		SourceURL:       s.cfg.URL,
		DestinationPath: filepath.Join(s.cfg.Destination, util.BaseName(s.cfg.URL)),
	}

	_, err := s.downloader.Download(s.ctx, target)

	return err
}

func (s *Session) fail(err error) {
	s.log.Error("Run failed", slog.Any("error", err))
	s.Log(fmt.Sprintf("An error occurred: %s", err))
	s.emit(entity.Event{Type: entity.EventFailed, Message: err.Error()})
}

// EventSink implementation handed to the crawler and transfer services. The
// single worker is the only producer, so events keep completion order.

func (s *Session) Log(msg string) {
	s.emit(entity.Event{Type: entity.EventLog, Message: msg})
}

func (s *Session) FileProgress(percent int) {
	s.emit(entity.Event{Type: entity.EventFileProgress, Percent: percent})
}

func (s *Session) OverallProgress(percent int) {
	s.emit(entity.Event{Type: entity.EventOverallProgress, Percent: percent})
}

func (s *Session) TimeRemaining(msg string) {
	s.emit(entity.Event{Type: entity.EventTimeRemaining, Message: msg})
}

func (s *Session) FileCount(total int) {
	s.emit(entity.Event{Type: entity.EventFileCount, Count: total})
}

func (s *Session) emit(ev entity.Event) {
	s.events <- ev
}
