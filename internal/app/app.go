package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/k0kubun/pp"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"

	"github.com/mbanedar/stressfree/internal/config"
	"github.com/mbanedar/stressfree/internal/control"
	"github.com/mbanedar/stressfree/internal/entity"
	"github.com/mbanedar/stressfree/internal/ledger"
	"github.com/mbanedar/stressfree/internal/progress"
	"github.com/mbanedar/stressfree/internal/service/crawler"
	"github.com/mbanedar/stressfree/internal/service/session"
	"github.com/mbanedar/stressfree/internal/service/transfer"
	"github.com/mbanedar/stressfree/internal/transport"
)

const checkTimeout = 15 * time.Second

// Overrides carries command line values that win over the config file.
type Overrides struct {
	URL         string
	Destination string
	Username    string
	Password    string
	Debug       bool
}

type App struct {
	cfgPath   string
	overrides Overrides
	cfg       *config.Config
	sess      *session.Session
	log       *slog.Logger
}

func New(cfgPath string, overrides Overrides) *App {
	return &App{
		cfgPath:   cfgPath,
		overrides: overrides,
	}
}

// Run wires the pipeline, starts the session worker and drains its event
// stream onto the terminal. It returns the process exit code.
func (a *App) Run() int {
	a.cfg = config.MustLoad(a.cfgPath)
	a.applyOverrides()

	lo := &slog.HandlerOptions{}
	switch a.cfg.LogLevel {
	case config.LogLevelInfo:
		lo.Level = slog.LevelInfo
	case config.LogLevelWarn:
		lo.Level = slog.LevelWarn
	case config.LogLevelError:
		lo.Level = slog.LevelError
	case config.LogLevelDebug:
		lo.Level = slog.LevelDebug
	default:
		panic("unknown log level")
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, lo))
	a.log = log

	if a.cfg.Debug {
		pp.Println(a.cfg)
	}

	fs := afero.NewOsFs()
	creds := entity.Credentials{Username: a.cfg.Username, Password: a.cfg.Password}
	tr := transport.New(&a.cfg.Transport, creds, log)

	if !a.checkURL(tr) {
		return 1
	}

	led, err := ledger.Open(fs, a.cfg.Destination, a.cfg.Transfer.LedgerFileName, log)
	if err != nil {
		log.Error("Cannot open ledger", slog.Any("error", err))

		return 1
	}

	ctl := control.New()
	tracker := progress.NewTracker()

	a.sess = session.New(a.cfg, fs, ctl, tracker, log)
	tx := transfer.New(fs, tr, led, a.sess, ctl, tracker, &a.cfg.Transfer, log)
	cr := crawler.New(fs, tr, tx, a.sess, ctl, &a.cfg.Crawler,
		a.cfg.Transfer.RetryDelay(), a.cfg.Transfer.MaxAttempts, log)
	a.sess.Bind(cr, tx)

	if err := a.sess.Start(); err != nil {
		log.Error("Cannot start session", slog.Any("error", err))

		return 1
	}

	return a.consume()
}

func (a *App) Pause() {
	if a.sess != nil {
		a.sess.Pause()
	}
}

func (a *App) Resume() {
	if a.sess != nil {
		a.sess.Resume()
	}
}

func (a *App) Cancel() {
	if a.sess != nil {
		a.sess.Cancel()
	}
}

func (a *App) applyOverrides() {
	if a.overrides.URL != "" {
		a.cfg.URL = a.overrides.URL
	}
	if a.overrides.Destination != "" {
		a.cfg.Destination = a.overrides.Destination
	}
	if a.overrides.Username != "" {
		a.cfg.Username = a.overrides.Username
	}
	if a.overrides.Password != "" {
		a.cfg.Password = a.overrides.Password
	}
	if a.overrides.Debug {
		a.cfg.Debug = true
		a.cfg.LogLevel = config.LogLevelDebug
	}
}

// checkURL probes the target before starting, following the behavior of the
// original pre-flight check: a redirect replaces the working URL, an auth
// challenge or any other failure stops the run before any state is touched.
func (a *App) checkURL(tr *transport.Client) bool {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	status, location, err := tr.Head(ctx, a.cfg.URL)
	if err != nil {
		// transient failure is not fatal, the transfer layer retries
		a.log.Warn("Reachability check failed", slog.Any("error", err))

		return true
	}

	switch {
	case status == http.StatusOK:
		fmt.Println("URL is reachable.")

		return true
	case status == http.StatusFound && location != "":
		fmt.Printf("URL redirected to %s\n", location)
		a.cfg.URL = location

		return true
	case status == http.StatusUnauthorized:
		fmt.Println("Authentication required. Please provide username and password.")

		return false
	default:
		fmt.Printf("Error: received status code %d\n", status)

		return false
	}
}

// consume renders the event stream: a progress bar for the in-flight file,
// plain lines for everything else.
func (a *App) consume() int {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("current file"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)

	code := 1
	for ev := range a.sess.Events() {
		switch ev.Type {
		case entity.EventFileProgress:
			_ = bar.Set(ev.Percent)
		case entity.EventOverallProgress:
			// the bar tracks the current file; overall goes to the log
			a.log.Debug("Overall progress", slog.Int("percent", ev.Percent))
		case entity.EventFileCount:
			fmt.Printf("Total files to download: %d\n", ev.Count)
		case entity.EventTimeRemaining:
			fmt.Println(ev.Message)
		case entity.EventLog:
			fmt.Println(ev.Message)
		case entity.EventCompleted:
			fmt.Println("Download complete.")
			code = 0
		case entity.EventCanceled:
			fmt.Println("Download canceled.")
			code = 2
		case entity.EventFailed:
			code = 1
		}
	}

	return code
}
