package common

import (
	"github.com/justchokingaround/ciphertv/internal/player"
	"github.com/justchokingaround/ciphertv/internal/watch"
)

// This file contains custom tea.Msg types for communication between components.

// StatusMsg carries a playback engine snapshot
type StatusMsg struct {
	Status player.Status
}

// WatchMsg asks the app to mount an episode
type WatchMsg struct {
	AnimeID   string
	EpisodeID string
}

// EpisodeLoadedMsg reports the result of a watch request
type EpisodeLoadedMsg struct {
	Episode *watch.Episode
	Err     error
}

// QualitySwitchedMsg reports a quality change
type QualitySwitchedMsg struct {
	Quality string
	Err     error
}

// NoticeMsg is a transient notice from the engine
type NoticeMsg struct {
	Text string
}

// ErrorMsg is a fatal playback error reported by the engine
type ErrorMsg struct {
	Err error
}

// EndedMsg is sent when the mounted episode plays to its end
type EndedMsg struct{}

// GoToHistoryMsg switches to the history view
type GoToHistoryMsg struct{}

// GoToPlaybackMsg switches to the playback view
type GoToPlaybackMsg struct{}
