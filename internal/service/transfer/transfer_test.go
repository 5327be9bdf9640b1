package transfer

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbanedar/stressfree/internal/common"
	"github.com/mbanedar/stressfree/internal/config"
	"github.com/mbanedar/stressfree/internal/control"
	"github.com/mbanedar/stressfree/internal/entity"
	"github.com/mbanedar/stressfree/internal/ledger"
	"github.com/mbanedar/stressfree/internal/progress"
	"github.com/mbanedar/stressfree/internal/transport"
)

type recordSink struct {
	logs         []string
	fileProgress []int
	overall      []int
	remaining    []string
}

func (s *recordSink) Log(msg string)           { s.logs = append(s.logs, msg) }
func (s *recordSink) FileProgress(p int)       { s.fileProgress = append(s.fileProgress, p) }
func (s *recordSink) OverallProgress(p int)    { s.overall = append(s.overall, p) }
func (s *recordSink) TimeRemaining(msg string) { s.remaining = append(s.remaining, msg) }

func (s *recordSink) hasLog(substr string) bool {
	for _, l := range s.logs {
		if strings.Contains(l, substr) {
			return true
		}
	}

	return false
}

type fixture struct {
	fs      afero.Fs
	tx      *Transfer
	led     *ledger.Ledger
	sink    *recordSink
	ctl     *control.State
	tracker *progress.Tracker
}

func newFixture(t *testing.T, cfg *config.TransferConfig) *fixture {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	fs := afero.NewMemMapFs()

	led, err := ledger.Open(fs, "/dest", "download_progress.txt", log)
	require.NoError(t, err)

	tcfg := &config.TransportConfig{UserAgent: "test", ListingRetryMax: 1, ListingTimeoutSeconds: 5}
	tr := transport.New(tcfg, entity.Credentials{}, log)

	sink := &recordSink{}
	ctl := control.New()
	tracker := progress.NewTracker()

	return &fixture{
		fs:      fs,
		tx:      New(fs, tr, led, sink, ctl, tracker, cfg, log),
		led:     led,
		sink:    sink,
		ctl:     ctl,
		tracker: tracker,
	}
}

func fastConfig() *config.TransferConfig {
	return &config.TransferConfig{
		ChunkSize:         4,
		RetryDelaySeconds: 0, // no waiting between attempts in tests
		MaxRedirects:      3,
	}
}

func TestDownloadCompleted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	f := newFixture(t, fastConfig())
	f.tracker.SetTotalFiles(1)

	status, err := f.tx.Download(context.Background(), entity.TransferTarget{
		SourceURL:       srv.URL + "/a.txt",
		DestinationPath: "/dest/a.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.TransferCompleted, status)

	data, err := afero.ReadFile(f.fs, "/dest/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	assert.True(t, f.led.Contains("/dest/a.txt"))
	assert.Equal(t, 1, f.tracker.DownloadedFiles())
	assert.Equal(t, int64(11), f.tracker.TotalBytes())

	require.NotEmpty(t, f.sink.fileProgress)
	assert.Equal(t, 100, f.sink.fileProgress[len(f.sink.fileProgress)-1])
	assert.Equal(t, []int{100}, f.sink.overall)
	// the whole declared size arrived, so the per-file estimate is zero
	assert.Equal(t, []string{"Time remaining for current file: 0:00:00"}, f.sink.remaining)
	assert.True(t, f.sink.hasLog("Downloaded: /dest/a.txt (1/1)"))
}

func TestDownloadSkipsLedgeredFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for a completed file")
	}))
	defer srv.Close()

	f := newFixture(t, fastConfig())
	require.NoError(t, f.led.Record("/dest/a.txt"))

	status, err := f.tx.Download(context.Background(), entity.TransferTarget{
		SourceURL:       srv.URL + "/a.txt",
		DestinationPath: "/dest/a.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.TransferSkipped, status)
	assert.True(t, f.sink.hasLog("Skipping already downloaded file"))
}

func TestDownloadNotFoundIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newFixture(t, fastConfig())

	status, err := f.tx.Download(context.Background(), entity.TransferTarget{
		SourceURL:       srv.URL + "/missing.txt",
		DestinationPath: "/dest/missing.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.TransferFailedPermanent, status)
	assert.Equal(t, []string{srv.URL + "/missing.txt"}, f.tx.Pending())
	assert.True(t, f.sink.hasLog("Failed to download"))
	assert.False(t, f.led.Contains("/dest/missing.txt"))
}

func TestDownloadUnauthorizedLoggedDistinctly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := newFixture(t, fastConfig())

	status, err := f.tx.Download(context.Background(), entity.TransferTarget{
		SourceURL:       srv.URL + "/secret.txt",
		DestinationPath: "/dest/secret.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.TransferFailedPermanent, status)
	assert.True(t, f.sink.hasLog("Authentication required"))
}

func TestDownloadFollowsRedirectManually(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old.txt" {
			w.Header().Set("Location", srvURL+"/new.txt")
			w.WriteHeader(http.StatusFound)

			return
		}

		_, _ = w.Write([]byte("moved"))
	}))
	defer srv.Close()
	srvURL = srv.URL

	f := newFixture(t, fastConfig())

	status, err := f.tx.Download(context.Background(), entity.TransferTarget{
		SourceURL:       srv.URL + "/old.txt",
		DestinationPath: "/dest/old.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.TransferCompleted, status)
	assert.True(t, f.sink.hasLog("Redirected to: "+srv.URL+"/new.txt"))

	data, err := afero.ReadFile(f.fs, "/dest/old.txt")
	require.NoError(t, err)
	assert.Equal(t, "moved", string(data))
}

func TestDownloadRedirectLoopCapped(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", srvURL+"/loop.txt")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()
	srvURL = srv.URL

	f := newFixture(t, fastConfig())

	status, err := f.tx.Download(context.Background(), entity.TransferTarget{
		SourceURL:       srv.URL + "/loop.txt",
		DestinationPath: "/dest/loop.txt",
	})
	// a looping file is permanent for this file only, the run keeps going
	require.NoError(t, err)
	assert.Equal(t, entity.TransferFailedPermanent, status)
	assert.Equal(t, []string{srv.URL + "/loop.txt"}, f.tx.Pending())
	assert.True(t, f.sink.hasLog("too many redirects"))
}

func TestDownloadRetriesAfterNetworkError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			conn, _, err := w.(http.Hijacker).Hijack()
			require.NoError(t, err)
			conn.Close()

			return
		}

		_, _ = w.Write([]byte("eventually"))
	}))
	defer srv.Close()

	f := newFixture(t, fastConfig())

	status, err := f.tx.Download(context.Background(), entity.TransferTarget{
		SourceURL:       srv.URL + "/flaky.txt",
		DestinationPath: "/dest/flaky.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.TransferCompleted, status)
	assert.True(t, f.sink.hasLog("Network issue encountered"))
	assert.GreaterOrEqual(t, calls.Load(), int32(2))

	data, err := afero.ReadFile(f.fs, "/dest/flaky.txt")
	require.NoError(t, err)
	assert.Equal(t, "eventually", string(data))
}

func TestDownloadLogsStateTransitions(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			conn, _, err := w.(http.Hijacker).Hijack()
			require.NoError(t, err)
			conn.Close()

			return
		}

		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	fs := afero.NewMemMapFs()

	led, err := ledger.Open(fs, "/dest", "download_progress.txt", log)
	require.NoError(t, err)

	tcfg := &config.TransportConfig{UserAgent: "test", ListingRetryMax: 1, ListingTimeoutSeconds: 5}
	tr := transport.New(tcfg, entity.Credentials{}, log)
	tx := New(fs, tr, led, &recordSink{}, control.New(), progress.NewTracker(), fastConfig(), log)

	status, err := tx.Download(context.Background(), entity.TransferTarget{
		SourceURL:       srv.URL + "/a.txt",
		DestinationPath: "/dest/a.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.TransferCompleted, status)

	out := buf.String()
	assert.Contains(t, out, "from=Pending to=FailedRetrying")
	assert.Contains(t, out, "from=FailedRetrying to=Streaming")
}

func TestDownloadBoundedAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.MaxAttempts = 2
	f := newFixture(t, cfg)

	status, err := f.tx.Download(context.Background(), entity.TransferTarget{
		SourceURL:       srv.URL + "/down.txt",
		DestinationPath: "/dest/down.txt",
	})
	require.ErrorIs(t, err, common.ErrRetriesExhausted)
	assert.Equal(t, entity.TransferFailedRetrying, status)
}

func TestDownloadCancelMidStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl := w.(http.Flusher)
		for i := 0; i < 100; i++ {
			_, _ = w.Write([]byte("xxxx"))
			fl.Flush()

			select {
			case <-r.Context().Done():
				return
			case <-time.After(20 * time.Millisecond):
			}
		}
	}))
	defer srv.Close()

	f := newFixture(t, fastConfig())

	go func() {
		time.Sleep(60 * time.Millisecond)
		f.ctl.Cancel()
	}()

	status, err := f.tx.Download(context.Background(), entity.TransferTarget{
		SourceURL:       srv.URL + "/big.bin",
		DestinationPath: "/dest/big.bin",
	})
	require.ErrorIs(t, err, common.ErrCanceled)
	assert.Equal(t, entity.TransferCanceled, status)

	// the partial file stays on disk but is never committed to the ledger
	assert.False(t, f.led.Contains("/dest/big.bin"))
}

func TestDownloadPauseSuspendsStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pause me please, thanks"))
	}))
	defer srv.Close()

	f := newFixture(t, fastConfig())
	f.ctl.Pause()

	go func() {
		time.Sleep(250 * time.Millisecond)
		f.ctl.Resume()
	}()

	start := time.Now()
	status, err := f.tx.Download(context.Background(), entity.TransferTarget{
		SourceURL:       srv.URL + "/a.txt",
		DestinationPath: "/dest/a.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.TransferCompleted, status)
	// the first chunk boundary blocked until resume
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestDownloadUnknownSizeProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl := w.(http.Flusher)
		// flushing before the body completes forces chunked encoding
		_, _ = w.Write([]byte("part one "))
		fl.Flush()
		_, _ = w.Write([]byte("part two"))
	}))
	defer srv.Close()

	f := newFixture(t, fastConfig())

	status, err := f.tx.Download(context.Background(), entity.TransferTarget{
		SourceURL:       srv.URL + "/stream.txt",
		DestinationPath: "/dest/stream.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.TransferCompleted, status)

	// no declared size: mid-stream progress stays at zero instead of
	// dividing by it, completion still reports 100
	for _, p := range f.sink.fileProgress[:len(f.sink.fileProgress)-1] {
		assert.Equal(t, 0, p)
	}
	assert.Equal(t, 100, f.sink.fileProgress[len(f.sink.fileProgress)-1])
}
