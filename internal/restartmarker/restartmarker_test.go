package restartmarker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeOnStartupIsAtMostOnce(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	require.NoError(t, s.Write("0123456789abcdef0123456789abcdef"))

	id, ok, err := s.ConsumeOnStartup()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", id)

	_, ok, err = s.ConsumeOnStartup()
	require.NoError(t, err)
	assert.False(t, ok, "a second consume on the same startup must see nothing pending")
}

func TestConsumeOnStartupWithNoMarkerIsNotAnError(t *testing.T) {
	s := New(t.TempDir())
	_, ok, err := s.ConsumeOnStartup()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPeekDoesNotConsumeMarker(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	require.NoError(t, s.Write("feedface"))

	id, ok, err := s.Peek()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "feedface", id)

	// A second Peek, and a real ConsumeOnStartup, must both still see it.
	id, ok, err = s.Peek()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "feedface", id)

	_, ok, err = s.ConsumeOnStartup()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPeekWithNoMarkerIsNotAnError(t *testing.T) {
	s := New(t.TempDir())
	_, ok, err := s.Peek()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearRemovesMarkerIfPresent(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	require.NoError(t, s.Write("abc"))
	require.NoError(t, s.Clear())
	_, err := os.Stat(filepath.Join(root, markerFileName))
	assert.True(t, os.IsNotExist(err))
}

func TestClearIsNoOpWhenMarkerAbsent(t *testing.T) {
	s := New(t.TempDir())
	assert.NoError(t, s.Clear())
}

func TestReadAndTruncateUpdateLog(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, updateLogFileName), []byte("install ok\n"), 0o644))

	s := New(root)
	contents, err := s.ReadAndTruncateUpdateLog()
	require.NoError(t, err)
	assert.Equal(t, "install ok\n", contents)

	contents, err = s.ReadAndTruncateUpdateLog()
	require.NoError(t, err)
	assert.Equal(t, "", contents)
}
