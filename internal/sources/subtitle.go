package sources

import (
	"strings"

	"github.com/samber/lo"
)

// DefaultSubtitleLanguage is matched against subtitle language tags
const DefaultSubtitleLanguage = "english"

// SelectSubtitle returns the first track whose language tag contains lang,
// compared case-insensitively. No match is not an error.
func SelectSubtitle(tracks []SubtitleTrack, lang string) (SubtitleTrack, bool) {
	if lang == "" {
		lang = DefaultSubtitleLanguage
	}
	want := strings.ToLower(lang)
	return lo.Find(tracks, func(t SubtitleTrack) bool {
		return t.URL != "" && strings.Contains(strings.ToLower(t.Lang), want)
	})
}
