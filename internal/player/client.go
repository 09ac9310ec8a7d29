package player

import (
	"log/slog"
	"time"
)

// StreamClient is an adaptive streaming client bound to one media output.
// All methods return immediately; outcomes arrive as ClientEvents.
type StreamClient interface {
	AttachMedia(media MediaOutput)
	LoadSource(url string)
	// StartLoad retries loading the current source
	StartLoad()
	// RecoverMediaError reloads the media pipeline in place
	RecoverMediaError()
	// Destroy releases buffers and stops event delivery
	Destroy()
	Subscribe(fn func(ClientEvent)) (unsubscribe func())
}

// ClientConfig is handed to a ClientFactory for every new session
type ClientConfig struct {
	// Intercept rewrites every outgoing sub-resource URL
	Intercept func(url string) string
	// Origin maps a proxied URL back to its target so relative playlist
	// references resolve against the real host
	Origin  func(url string) string
	Headers map[string]string

	// RetryDelay and MaxRetryDelay bound the backoff of StartLoad
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	Debug  bool
	Logger *slog.Logger
}

// ClientFactory builds a streaming client. It returns a CapabilityError when
// the client library cannot run in this environment.
type ClientFactory func(cfg ClientConfig) (StreamClient, error)

// ClientEventKind identifies a streaming client event
type ClientEventKind int

const (
	ClientMediaAttached ClientEventKind = iota
	ClientManifestParsed
	ClientError
)

func (k ClientEventKind) String() string {
	switch k {
	case ClientMediaAttached:
		return "media_attached"
	case ClientManifestParsed:
		return "manifest_parsed"
	case ClientError:
		return "error"
	default:
		return "unknown"
	}
}

// ClientEvent is emitted by a StreamClient. Err is set for ClientError.
type ClientEvent struct {
	Kind   ClientEventKind
	Levels []string
	Err    *StreamError
}
