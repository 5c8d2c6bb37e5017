package serial

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortReadTimesOutWithoutError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("os.Pipe read deadlines are unix-specific here")
	}
	r, w, err := pipePort(t)
	require.NoError(t, err)
	defer w.Close()
	defer r.Close()

	start := time.Now()
	buf := make([]byte, 16)
	n, err := r.Read(buf)
	elapsed := time.Since(start)

	assert.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.GreaterOrEqual(t, elapsed, deviceReadTimeout-50*time.Millisecond)
}

func TestPortReadReturnsAvailableBytes(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("os.Pipe read deadlines are unix-specific here")
	}
	r, w, err := pipePort(t)
	require.NoError(t, err)
	defer w.Close()
	defer r.Close()

	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}
