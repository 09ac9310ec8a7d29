// Package player drives one HLS playback session against a media output:
// it attaches a streaming client, routes every request through the proxy,
// recovers from client errors and mirrors native media state for display.
package player

import (
	"context"
	"errors"
)

// ErrAutoplayBlocked is returned by MediaOutput.Play when the runtime refuses
// to start playback without a user action. It is a notice, not a failure.
var ErrAutoplayBlocked = errors.New("autoplay blocked")

// MediaOutput is the native media element the engine controls.
// Mutations are requests; the resulting state is reported back via events.
type MediaOutput interface {
	// CanPlayNative reports whether the output can load HLS manifests itself
	CanPlayNative() bool

	Load(ctx context.Context, url string) error
	AddSubtitle(ctx context.Context, url, lang string) error

	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) error
	SetVolume(ctx context.Context, volume float64) error
	SetMuted(ctx context.Context, muted bool) error
	SetFullscreen(ctx context.Context, fullscreen bool) error

	CurrentTime() float64
	Duration() float64
	Muted() bool
	Fullscreen() bool

	// Subscribe registers fn for native events until the returned func is called
	Subscribe(fn func(MediaEvent)) (unsubscribe func())
}

// MediaEventKind identifies a native media event
type MediaEventKind int

const (
	MediaTimeUpdate MediaEventKind = iota
	MediaDurationChange
	MediaPlay
	MediaPause
	MediaVolumeChange
	MediaFullscreenChange
	MediaLoadedMetadata
	MediaEnded
	MediaError
)

var mediaEventNames = map[MediaEventKind]string{
	MediaTimeUpdate:       "timeupdate",
	MediaDurationChange:   "durationchange",
	MediaPlay:             "play",
	MediaPause:            "pause",
	MediaVolumeChange:     "volumechange",
	MediaFullscreenChange: "fullscreenchange",
	MediaLoadedMetadata:   "loadedmetadata",
	MediaEnded:            "ended",
	MediaError:            "error",
}

func (k MediaEventKind) String() string {
	if name, ok := mediaEventNames[k]; ok {
		return name
	}
	return "unknown"
}

// MediaEvent carries the native value relevant to its kind
type MediaEvent struct {
	Kind       MediaEventKind
	Time       float64
	Duration   float64
	Volume     float64
	Muted      bool
	Fullscreen bool
	Err        error
}

// UIState mirrors the media output for display. It is only ever written
// from native events, never by the controls themselves.
type UIState struct {
	CurrentTime  float64 `json:"current_time"`
	Duration     float64 `json:"duration"`
	IsPlaying    bool    `json:"is_playing"`
	Volume       float64 `json:"volume"`
	IsMuted      bool    `json:"is_muted"`
	IsFullscreen bool    `json:"is_fullscreen"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// Apply reflects one native event into the matching field
func (u UIState) Apply(evt MediaEvent) UIState {
	switch evt.Kind {
	case MediaTimeUpdate:
		u.CurrentTime = evt.Time
	case MediaDurationChange:
		u.Duration = evt.Duration
	case MediaPlay:
		u.IsPlaying = true
	case MediaPause, MediaEnded:
		u.IsPlaying = false
	case MediaVolumeChange:
		u.Volume = evt.Volume
		u.IsMuted = evt.Muted
	case MediaFullscreenChange:
		u.IsFullscreen = evt.Fullscreen
	}
	return u
}

// Percentage returns playback progress in [0,100]
func (u UIState) Percentage() float64 {
	if u.Duration <= 0 {
		return 0
	}
	p := u.CurrentTime / u.Duration * 100
	if p > 100 {
		return 100
	}
	return p
}
