package mpv

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Platform represents the operating system mpv runs on
type Platform int

const (
	PlatformLinux Platform = iota
	PlatformWindows
	PlatformWSL
	PlatformMac
)

func (p Platform) String() string {
	switch p {
	case PlatformWindows:
		return "windows"
	case PlatformWSL:
		return "wsl"
	case PlatformMac:
		return "darwin"
	default:
		return "linux"
	}
}

// IPCType represents the IPC transport
type IPCType int

const (
	IPCUnixSocket IPCType = iota
	IPCNamedPipe
	IPCTCP
)

const endpointPrefix = "ciphertv-mpv-"

// Endpoint is the JSON IPC address mpv listens on
type Endpoint struct {
	Type    IPCType
	Address string
}

// DetectPlatform detects the current platform
func DetectPlatform() Platform {
	switch runtime.GOOS {
	case "windows":
		return PlatformWindows
	case "darwin":
		return PlatformMac
	default:
		if isWSL() {
			return PlatformWSL
		}
		return PlatformLinux
	}
}

func isWSL() bool {
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	version := strings.ToLower(string(data))
	return strings.Contains(version, "microsoft") || strings.Contains(version, "wsl")
}

// Executable returns the mpv binary name for the platform.
// WSL uses the Linux build: gopv cannot reach Windows named pipes from WSL.
func Executable(platform Platform) string {
	if platform == PlatformWindows {
		return "mpv.exe"
	}
	return "mpv"
}

// FindExecutable resolves the mpv binary in PATH
func FindExecutable(platform Platform) (string, error) {
	name := Executable(platform)
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH, please install mpv: %w", name, err)
	}
	return path, nil
}

// NewEndpoint allocates a unique IPC address for the platform
func NewEndpoint(platform Platform) *Endpoint {
	name := endpointPrefix + uuid.NewString()
	if platform == PlatformWindows {
		return &Endpoint{Type: IPCNamedPipe, Address: `\\.\pipe\` + name}
	}
	return &Endpoint{Type: IPCUnixSocket, Address: filepath.Join(os.TempDir(), name+".sock")}
}

// Arg returns the mpv flag that opens the endpoint
func (e *Endpoint) Arg() string {
	return "--input-ipc-server=" + e.Address
}

// Dial returns the address in the form gopv.Connect expects
func (e *Endpoint) Dial() string {
	if e.Type == IPCTCP {
		return "tcp://" + e.Address
	}
	return e.Address
}

// Ready reports whether mpv has opened the endpoint
func (e *Endpoint) Ready() bool {
	switch e.Type {
	case IPCUnixSocket:
		_, err := os.Stat(e.Address)
		return err == nil
	case IPCNamedPipe:
		return pipeReady(e.Address)
	case IPCTCP:
		conn, err := net.DialTimeout("tcp", e.Address, 200*time.Millisecond)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}
	return false
}

// Remove deletes the socket file, if any
func (e *Endpoint) Remove() {
	if e.Type == IPCUnixSocket {
		_ = os.Remove(e.Address)
	}
}
