package mpv

import (
	"fmt"
	"sort"
	"strings"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// protocolWhitelist lets ffmpeg follow spooled local playlists to remote
// segments and keys
const protocolWhitelist = "--demuxer-lavf-o=protocol_whitelist=[file,http,https,tcp,tls,crypto,data]"

// buildArgs builds the command line of an idle, paused mpv instance.
// Media is loaded later over IPC.
func buildArgs(endpoint *Endpoint, opts Options) []string {
	args := []string{
		endpoint.Arg(),
		"--idle=yes",
		"--pause=yes",
		"--keep-open=yes",
		"--no-ytdl",
		"--force-window=yes",
		protocolWhitelist,
	}

	if !opts.Player.LoadUserConfig {
		args = append(args, "--no-config")
	}
	if !opts.Debug {
		args = append(args, "--msg-level=all=warn")
	}

	s := opts.Stream
	if s.MaxBufferLength > 0 {
		args = append(args, "--cache=yes", fmt.Sprintf("--cache-secs=%g", s.MaxBufferLength))
	}
	if s.MaxMaxBufferLength > 0 {
		args = append(args, fmt.Sprintf("--demuxer-readahead-secs=%g", s.MaxMaxBufferLength))
	}
	if s.MaxBufferSize > 0 {
		args = append(args, fmt.Sprintf("--demuxer-max-bytes=%d", s.MaxBufferSize))
	}
	if s.MaxBufferHole > 0 {
		args = append(args, fmt.Sprintf("--hr-seek-demuxer-offset=%g", s.MaxBufferHole))
	}
	if s.LowLatencyMode {
		args = append(args, "--profile=low-latency")
	}

	userAgent := defaultUserAgent
	var fields []string
	for key, value := range opts.Headers {
		switch {
		case strings.EqualFold(key, "User-Agent"):
			userAgent = value
		case strings.EqualFold(key, "Referer"):
			args = append(args, "--referrer="+value)
		default:
			fields = append(fields, key+": "+value)
		}
	}
	args = append(args, "--user-agent="+userAgent)
	if len(fields) > 0 {
		sort.Strings(fields)
		args = append(args, "--http-header-fields="+strings.Join(fields, ","))
	}

	if opts.Title != "" {
		args = append(args, "--force-media-title="+opts.Title)
	}

	return append(args, opts.Player.Args...)
}
