package utils

import (
	"fmt"
	"math"

	"github.com/mattn/go-runewidth"
)

// TruncateWithWidth truncates text to fit within maxWidth, accounting for Unicode character widths.
// Adds "..." if the text is truncated.
func TruncateWithWidth(text string, maxWidth int) string {
	if runewidth.StringWidth(text) <= maxWidth {
		return text
	}
	if maxWidth <= 3 {
		return runewidth.Truncate(text, maxWidth, "")
	}

	width := 0
	for i, r := range text {
		width += runewidth.RuneWidth(r)
		if width > maxWidth-3 {
			return text[:i] + "..."
		}
	}
	return text
}

// PadRight pads text with spaces to width display columns
func PadRight(text string, width int) string {
	return runewidth.FillRight(text, width)
}

// FormatTime renders seconds as MM:SS. Minutes are not wrapped into hours.
func FormatTime(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		seconds = 0
	}
	s := int(seconds)
	return fmt.Sprintf("%02d:%02d", s/60, s%60)
}
