package storage

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanAndJoinPath(t *testing.T) {
	cases := map[string]string{
		"":            ".",
		"/":           ".",
		"/docs//a/":   "docs/a",
		`docs\sub\f`:  "docs/sub/f",
		"./a/../b":    "b",
		"docs/report": "docs/report",
	}
	for in, want := range cases {
		assert.Equal(t, want, CleanPath(in), "CleanPath(%q)", in)
	}
	assert.Equal(t, "docs/a/b.txt", JoinPath("/docs/", "a", "b.txt"))
	assert.Equal(t, "", JoinPath("/"))
}

func TestUnavailableAndTransient(t *testing.T) {
	cause := errors.New("boom")
	assert.NoError(t, Unavailable("list", "x", nil))
	assert.NoError(t, Transient("list", "x", nil))

	err := Unavailable("list", "x", cause)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrTransient)

	err = Transient("read", "y", cause)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, err, ErrTransient)
	assert.ErrorIs(t, err, cause)
}

func TestIsTransientStatus(t *testing.T) {
	assert.True(t, IsTransientStatus(http.StatusTooManyRequests))
	assert.True(t, IsTransientStatus(http.StatusServiceUnavailable))
	assert.False(t, IsTransientStatus(http.StatusNotFound))
	assert.False(t, IsTransientStatus(http.StatusNotImplemented))
}

func TestEntryKindString(t *testing.T) {
	assert.Equal(t, "file", KindFile.String())
	assert.Equal(t, "dir", KindDirectory.String())
	assert.Equal(t, "other", KindOther.String())
}
