package player

import (
	"context"
	"errors"
)

var errNoMedia = errors.New("no media output")

// TogglePlay pauses when the mirrored state is playing, plays otherwise.
// A refused play is logged and otherwise ignored.
func (e *Engine) TogglePlay(ctx context.Context) {
	if e.media == nil {
		return
	}
	e.mu.Lock()
	playing := e.ui.IsPlaying
	e.mu.Unlock()

	if playing {
		if err := e.media.Pause(ctx); err != nil {
			e.logger.Debug("pause failed", "error", err)
		}
		return
	}
	if err := e.media.Play(ctx); err != nil {
		e.logger.Debug("play prevented", "error", err)
	}
}

// Seek sets the native position. The UI follows the resulting timeupdate.
func (e *Engine) Seek(ctx context.Context, seconds float64) error {
	if e.media == nil {
		return errNoMedia
	}
	if seconds < 0 {
		seconds = 0
	}
	if d := e.media.Duration(); d > 0 && seconds > d {
		seconds = d
	}
	return e.media.Seek(ctx, seconds)
}

// SeekBy moves the position relative to the native current time
func (e *Engine) SeekBy(ctx context.Context, delta float64) error {
	if e.media == nil {
		return errNoMedia
	}
	return e.Seek(ctx, e.media.CurrentTime()+delta)
}

// SetVolume sets the native volume in [0,1]. Zero also mutes; any other
// value unmutes a muted output.
func (e *Engine) SetVolume(ctx context.Context, volume float64) error {
	if e.media == nil {
		return errNoMedia
	}
	volume = clamp(volume, 0, 1)
	if err := e.media.SetVolume(ctx, volume); err != nil {
		return err
	}
	if volume == 0 {
		return e.media.SetMuted(ctx, true)
	}
	if e.media.Muted() {
		return e.media.SetMuted(ctx, false)
	}
	return nil
}

// ToggleMute flips the native mute flag
func (e *Engine) ToggleMute(ctx context.Context) error {
	if e.media == nil {
		return errNoMedia
	}
	return e.media.SetMuted(ctx, !e.media.Muted())
}

// ToggleFullscreen requests or exits fullscreen
func (e *Engine) ToggleFullscreen(ctx context.Context) error {
	if e.media == nil {
		return errNoMedia
	}
	return e.media.SetFullscreen(ctx, !e.media.Fullscreen())
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
