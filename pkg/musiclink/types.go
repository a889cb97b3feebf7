// Package musiclink resolves music provider links into canonical song identifiers and renders them for display.
package musiclink

import (
	"fmt"
	"strings"
)

const (
	// DefaultPlaylistLimit is the maximum number of entries a list render returns.
	DefaultPlaylistLimit = 15
	// sidSeparator joins the parts of a song identifier.
	sidSeparator = ":"
	// sidParts is the number of parts in a song identifier.
	sidParts = 3

	msPerSecond      = 1000
	secondsPerMinute = 60
)

// Song uniquely designates one piece of provider content.
type Song struct {
	Service string `json:"service"`
	Type    string `json:"type"`
	ID      string `json:"id"`
}

// SID returns the colon-joined form of the song, used as a cache key.
func (s Song) SID() string {
	return strings.Join([]string{s.Service, s.Type, s.ID}, sidSeparator)
}

func (s Song) String() string {
	return s.SID()
}

// ParseSID parses the "service:type:id" form produced by SID.
func ParseSID(sid string) (Song, bool) {
	parts := strings.Split(strings.TrimSpace(sid), sidSeparator)
	if len(parts) != sidParts {
		return Song{}, false
	}
	for _, part := range parts {
		if part == "" {
			return Song{}, false
		}
	}
	return Song{Service: parts[0], Type: parts[1], ID: parts[2]}, true
}

// Form discriminates the two RenderInfo shapes.
type Form string

const (
	FormSingle Form = "single"
	FormList   Form = "list"
)

// Audio is a playable preview.
type Audio struct {
	PreviewURL string `json:"previewUrl"`
	Duration   int64  `json:"duration"` // Milliseconds.
}

// RenderEntry is one row of a list render.
type RenderEntry struct {
	Label    string `json:"label"`
	Sublabel string `json:"sublabel"`
	Explicit bool   `json:"explicit"`
	Link     string `json:"link"`
	Audio    *Audio `json:"audio,omitempty"`
}

// RenderSingle holds the single-form payload.
type RenderSingle struct {
	Audio *Audio `json:"audio,omitempty"`
}

// RenderInfo is the provider-agnostic display payload for a song.
// Exactly one of Single or List is meaningful, selected by Form.
type RenderInfo struct {
	Form         Form          `json:"form"`
	Label        string        `json:"label"`
	Sublabel     string        `json:"sublabel"`
	Explicit     bool          `json:"explicit"`
	Link         string        `json:"link"`
	ThumbnailURL string        `json:"thumbnailUrl,omitempty"`
	Single       *RenderSingle `json:"single,omitempty"`
	List         []RenderEntry `json:"list,omitempty"`
}

// IsListLayout reports whether the song should be displayed with a tall (list) layout.
func IsListLayout(song Song, info *RenderInfo) bool {
	if info != nil && info.Form == FormList {
		return true
	}
	return song.Type != "track" && song.Type != "song"
}

// FormatDuration formats a millisecond duration as m:ss.
func FormatDuration(ms int64) string {
	secs := ms / msPerSecond
	return fmt.Sprintf("%d:%02d", secs/secondsPerMinute, secs%secondsPerMinute)
}

// truncateEntries applies the playlist ceiling.
func truncateEntries(entries []RenderEntry, limit int) []RenderEntry {
	if limit >= 0 && len(entries) > limit {
		return entries[:limit]
	}
	return entries
}
