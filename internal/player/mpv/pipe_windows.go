//go:build windows

package mpv

import (
	"time"

	"github.com/Microsoft/go-winio"
)

// pipeReady dials the named pipe to see whether mpv has created it
func pipeReady(path string) bool {
	timeout := 200 * time.Millisecond
	conn, err := winio.DialPipe(path, &timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
