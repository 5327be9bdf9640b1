// Package transport performs the wire work: listing fetches, reachability
// checks and chunked file streams. Redirects on a stream open are never
// followed automatically; the caller gets the target and re-issues the
// request itself so every hop can be logged and re-authenticated.
package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mbanedar/stressfree/internal/common"
	"github.com/mbanedar/stressfree/internal/config"
	"github.com/mbanedar/stressfree/internal/entity"
)

// Stream is an open file fetch. For a redirect only StatusCode and Location
// are set; for a non-200 status only StatusCode. Body is non-nil iff the
// status is 200.
type Stream struct {
	StatusCode int
	Location   string
	Size       int64 // declared content-length, 0 when missing
	Body       io.ReadCloser
}

func (s *Stream) Close() {
	if s.Body != nil {
		s.Body.Close()
	}
}

type Client struct {
	stream  *http.Client
	listing *retryablehttp.Client
	ua      string
	creds   entity.Credentials

	log *slog.Logger
}

func New(cfg *config.TransportConfig, creds entity.Credentials, log *slog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.ListingRetryMax
	rc.HTTPClient.Timeout = cfg.ListingTimeout()
	rc.Logger = nil
	// a served error status must reach the crawler as a status, not as a
	// client error, once the bounded retries run out
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		stream: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		listing: rc,
		ua:      cfg.UserAgent,
		creds:   creds,
		log:     log.With(slog.String("item", "Transport")),
	}
}

// FetchListing GETs a directory index page and returns the status code with
// the full body. Transport-level failures come back as *common.NetworkError.
func (c *Client) FetchListing(ctx context.Context, rawURL string) (int, []byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("cannot build listing request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", c.ua)

	resp, err := c.listing.Do(req)
	if err != nil {
		return 0, nil, &common.NetworkError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &common.NetworkError{URL: rawURL, Err: err}
	}

	return resp.StatusCode, body, nil
}

// Head checks reachability without following redirects. It returns the
// status code and, for a redirect, the Location target.
func (c *Client) Head(ctx context.Context, rawURL string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return 0, "", fmt.Errorf("cannot build head request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", c.ua)

	resp, err := c.stream.Do(req)
	if err != nil {
		return 0, "", &common.NetworkError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	return resp.StatusCode, resp.Header.Get("Location"), nil
}

// OpenStream starts a file fetch. Credentials are attached when configured,
// or taken from URL user-info when the URL embeds them. A 302 response is
// handed back to the caller instead of being followed.
func (c *Client) OpenStream(ctx context.Context, rawURL string) (*Stream, error) {
	reqURL, creds := c.resolveCredentials(rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot build request for %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", c.ua)

	if creds.IsSet() {
		req.SetBasicAuth(creds.Username, creds.Password)
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, &common.NetworkError{URL: rawURL, Err: err}
	}

	if resp.StatusCode == http.StatusFound {
		loc := resp.Header.Get("Location")
		resp.Body.Close()

		return &Stream{StatusCode: resp.StatusCode, Location: loc}, nil
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()

		return &Stream{StatusCode: resp.StatusCode}, nil
	}

	size := resp.ContentLength
	if size < 0 {
		size = 0
	}

	return &Stream{
		StatusCode: resp.StatusCode,
		Size:       size,
		Body:       resp.Body,
	}, nil
}

// resolveCredentials honors user-info embedded in the URL, falling back to
// the configured credentials. The user-info form is stripped from the
// request URL and sent as a basic auth header instead.
func (c *Client) resolveCredentials(rawURL string) (string, entity.Credentials) {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return rawURL, c.creds
	}

	pass, _ := u.User.Password()
	creds := entity.Credentials{Username: u.User.Username(), Password: pass}
	u.User = nil

	if !creds.IsSet() {
		creds = c.creds
	}

	return u.String(), creds
}
