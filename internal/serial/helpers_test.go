package serial

import (
	"os"
	"testing"
)

// pipePort wraps an os.Pipe() in Ports so Port.Read's deadline logic can be
// exercised without a real tty.
func pipePort(t *testing.T) (*Port, *Port, error) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	return &Port{f: r}, &Port{f: w}, nil
}
