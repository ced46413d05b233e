package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Format selector values understood by yt-dlp
const (
	SelectorBest      = "best"
	SelectorAudio     = "bestaudio/best"
	SelectorCapFormat = "bestvideo[height<=%d]+bestaudio/best[height<=%d]"

	// AudioFormatID is the client-facing id for the audio-only option
	AudioFormatID = "audio"

	// MergeContainer is the container used for merged video+audio output
	MergeContainer = "mp4"
)

type qualityKind int

const (
	qualityDefault qualityKind = iota
	qualityCap
	qualityAudio
	qualityExplicit
)

// Quality is the format request of a task: a height cap, audio only, or an
// explicit selector. The zero value requests the best single format.
type Quality struct {
	kind   qualityKind
	height int
	format string
}

// QualityCap requests the best video no taller than height merged with the best audio
func QualityCap(height int) Quality {
	if height <= 0 {
		return Quality{}
	}
	return Quality{kind: qualityCap, height: height}
}

// AudioOnly requests the best audio stream
func AudioOnly() Quality {
	return Quality{kind: qualityAudio}
}

// Explicit passes a format id or selector through unchanged
func Explicit(format string) Quality {
	format = strings.TrimSpace(format)
	if format == "" || format == SelectorBest {
		return Quality{}
	}
	return Quality{kind: qualityExplicit, format: format}
}

// ParseQuality builds a Quality from request parameters. A positive height cap
// wins over the format id.
func ParseQuality(formatID string, heightCap int) Quality {
	if heightCap > 0 {
		return QualityCap(heightCap)
	}
	if formatID == AudioFormatID {
		return AudioOnly()
	}
	return Explicit(formatID)
}

// ParseHeightCap accepts "1080", "1080p" or "" and returns the height
func ParseHeightCap(s string) (int, error) {
	s = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(s)), "p")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid quality cap %q", s)
	}
	return n, nil
}

// Selector returns the yt-dlp format selector
func (q Quality) Selector() string {
	switch q.kind {
	case qualityCap:
		return fmt.Sprintf(SelectorCapFormat, q.height, q.height)
	case qualityAudio:
		return SelectorAudio
	case qualityExplicit:
		return q.format
	default:
		return SelectorBest
	}
}

// IsAudio reports whether the output is audio only
func (q Quality) IsAudio() bool {
	return q.kind == qualityAudio
}

// MergeFormat returns the container for merged output, empty for audio
func (q Quality) MergeFormat() string {
	if q.IsAudio() {
		return ""
	}
	return MergeContainer
}

// String implements fmt.Stringer
func (q Quality) String() string {
	switch q.kind {
	case qualityCap:
		return fmt.Sprintf("cap:%dp", q.height)
	case qualityAudio:
		return AudioFormatID
	case qualityExplicit:
		return "format:" + q.format
	default:
		return SelectorBest
	}
}
