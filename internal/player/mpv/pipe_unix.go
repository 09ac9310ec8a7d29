//go:build !windows

package mpv

// pipeReady is unused outside Windows: sockets are checked via the filesystem
func pipeReady(string) bool {
	return false
}
