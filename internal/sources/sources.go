// Package sources resolves playable video sources and subtitle tracks for an
// episode and ranks them for display
package sources

import (
	"context"
	"errors"
)

// ErrNoSources is returned when a resolver answered but had nothing playable
var ErrNoSources = errors.New("no video sources found")

// VideoSource is one playable rendition of an episode
type VideoSource struct {
	URL     string `json:"url"`
	Quality string `json:"quality"`
	IsM3U8  bool   `json:"isM3U8"`
}

// SubtitleTrack is a subtitle file with its language tag
type SubtitleTrack struct {
	URL  string `json:"url"`
	Lang string `json:"lang"`
}

// Result is what a Resolver returns for an episode
type Result struct {
	Sources   []VideoSource   `json:"sources"`
	Subtitles []SubtitleTrack `json:"subtitles"`
	Headers   *SourceHeaders  `json:"headers,omitempty"`
}

// SourceHeaders contains headers some CDNs require for playback
type SourceHeaders struct {
	Referer string `json:"Referer,omitempty"`
	Origin  string `json:"Origin,omitempty"`
}

// Resolver turns an episode identifier into candidate sources
type Resolver interface {
	Resolve(ctx context.Context, episodeID string) (*Result, error)
}

// ResolverFunc adapts a function to Resolver
type ResolverFunc func(ctx context.Context, episodeID string) (*Result, error)

// Resolve calls f
func (f ResolverFunc) Resolve(ctx context.Context, episodeID string) (*Result, error) {
	return f(ctx, episodeID)
}
