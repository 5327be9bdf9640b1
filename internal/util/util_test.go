package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "http://h/pub/a.txt", JoinURL("http://h/pub/", "a.txt"))
	assert.Equal(t, "http://h/pub/sub/", JoinURL("http://h/pub", "sub/"))
}

func TestBaseName(t *testing.T) {
	testCases := []struct {
		url      string
		expected string
	}{
		{"http://h/pub/a.txt", "a.txt"},
		{"http://h/pub/sub/", "sub"},
		{"http://h/file.bin?token=x", "file.bin"},
		{"http://h/file.bin#frag", "file.bin"},
		{"a.txt", "a.txt"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, BaseName(tc.url), tc.url)
	}
}

func TestIsDirectoryURL(t *testing.T) {
	assert.True(t, IsDirectoryURL("http://h/pub/"))
	assert.False(t, IsDirectoryURL("http://h/pub/a.txt"))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0:00:00", FormatDuration(0))
	assert.Equal(t, "0:01:05", FormatDuration(65*time.Second))
	assert.Equal(t, "2:00:30", FormatDuration(2*time.Hour+30*time.Second))
	assert.Equal(t, "0:00:00", FormatDuration(-time.Minute))
}
