package util

import (
	"fmt"
	"strings"
	"time"
)

// JoinURL appends a listing href to its base URL the way a browser resolves
// a relative link on an index page: the base is treated as a directory.
func JoinURL(base, href string) string {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	return base + href
}

// BaseName returns the final path segment of a URL, ignoring any query part.
func BaseName(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		rawURL = rawURL[:i]
	}

	rawURL = strings.TrimSuffix(rawURL, "/")
	if i := strings.LastIndex(rawURL, "/"); i >= 0 {
		return rawURL[i+1:]
	}

	return rawURL
}

// IsDirectoryURL reports whether the URL names a listing rather than a file.
func IsDirectoryURL(rawURL string) bool {
	return strings.HasSuffix(rawURL, "/")
}

// FormatDuration renders a time-remaining estimate as hh:mm:ss.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	secs := int(d.Round(time.Second).Seconds())

	return fmt.Sprintf("%d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
}
