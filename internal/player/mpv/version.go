package mpv

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// versionPattern matches "mpv 0.38.0", "mpv v0.37.0-dirty" and git builds
var versionPattern = regexp.MustCompile(`^mpv\s+v?([^\s,]+)`)

// Info describes the mpv binary found on the system
type Info struct {
	Binary    string
	Version   string
	Available bool
}

// Detect looks up mpv for the platform and asks it for its version.
// A missing binary is not an error; Available reports it.
func Detect(ctx context.Context, platform Platform) *Info {
	info := &Info{}
	path, err := FindExecutable(platform)
	if err != nil {
		return info
	}
	info.Binary = path
	info.Available = true
	info.Version, _ = Version(ctx, path)
	return info
}

// Version runs `mpv --version` and extracts the release
func Version(ctx context.Context, binary string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, binary, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to get version for %s: %w", binary, err)
	}
	version := parseVersion(string(output))
	if version == "" {
		return "", fmt.Errorf("failed to parse version from output: %s", strings.TrimSpace(string(output)))
	}
	return version, nil
}

func parseVersion(output string) string {
	firstLine, _, _ := strings.Cut(strings.TrimSpace(output), "\n")
	if m := versionPattern.FindStringSubmatch(firstLine); len(m) > 1 {
		return m[1]
	}
	return ""
}
