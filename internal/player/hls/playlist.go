package hls

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
)

var errNoVariants = errors.New("master playlist contains no playable variants")

// decode parses a playlist body. Parsing is lenient: providers often emit
// tags the strict parser rejects.
func decode(body []byte) (m3u8.Playlist, m3u8.ListType, error) {
	if !bytes.HasPrefix(bytes.TrimSpace(body), []byte("#EXTM3U")) {
		return nil, 0, errors.New("not an m3u8 playlist")
	}
	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse playlist: %w", err)
	}
	return playlist, listType, nil
}

// resolveURL resolves a possibly relative URI against the playlist URL
func resolveURL(baseURL, ref string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	rel, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("invalid relative URL: %w", err)
	}
	return base.ResolveReference(rel).String(), nil
}

// rewriteMedia points every segment, key and init map of a media playlist at
// an absolute URL passed through intercept
func rewriteMedia(p *m3u8.MediaPlaylist, base string, intercept func(string) string) (int, error) {
	rewrite := func(uri string) (string, error) {
		if uri == "" {
			return uri, nil
		}
		abs, err := resolveURL(base, uri)
		if err != nil {
			return "", err
		}
		return intercept(abs), nil
	}

	var err error
	if p.Key != nil {
		if p.Key.URI, err = rewrite(p.Key.URI); err != nil {
			return 0, err
		}
	}
	if p.Map != nil {
		if p.Map.URI, err = rewrite(p.Map.URI); err != nil {
			return 0, err
		}
	}

	count := 0
	rewritten := make(map[any]bool)
	for _, seg := range p.Segments {
		if seg == nil {
			break
		}
		if seg.URI, err = rewrite(seg.URI); err != nil {
			return 0, fmt.Errorf("failed to resolve segment URL: %w", err)
		}
		// keys and maps are shared between consecutive segments
		if seg.Key != nil && seg.Key != p.Key && !rewritten[seg.Key] {
			rewritten[seg.Key] = true
			if seg.Key.URI, err = rewrite(seg.Key.URI); err != nil {
				return 0, err
			}
		}
		if seg.Map != nil && seg.Map != p.Map && !rewritten[seg.Map] {
			rewritten[seg.Map] = true
			if seg.Map.URI, err = rewrite(seg.Map.URI); err != nil {
				return 0, err
			}
		}
		count++
	}
	p.ResetCache()
	return count, nil
}

// levelLabel turns variant attributes into a quality label such as "720p"
func levelLabel(v *m3u8.Variant) string {
	if v.Resolution != "" {
		if i := strings.IndexByte(v.Resolution, 'x'); i >= 0 {
			if h, err := strconv.Atoi(v.Resolution[i+1:]); err == nil {
				return strconv.Itoa(h) + "p"
			}
		}
	}
	if v.Name != "" {
		return v.Name
	}
	return strconv.FormatUint(uint64(v.Bandwidth/1000), 10) + "k"
}
