package musiclink

import (
	"context"
)

// Parser turns provider links into songs.
type Parser interface {
	// Name is the unique service name used in song identifiers.
	Name() string
	// Label is the human readable service name.
	Label() string
	// Hosts lists the hostnames this parser accepts.
	Hosts() []string
	// Parse returns the song designated by link, or nil. path holds the non-empty path segments.
	Parse(ctx context.Context, link, host string, path []string) *Song
}

// Service is a Parser that can also render, validate and rebuild its songs.
//
// Implementations must not panic or leak upstream failures: every method returns its
// failure value (nil, false or "") instead.
type Service interface {
	Parser

	// Types lists the song types this service supports.
	Types() []string
	// Render returns display information for the song, or nil.
	Render(ctx context.Context, typ, id string) *RenderInfo
	// Validate reports whether the song exists upstream.
	Validate(ctx context.Context, typ, id string) bool
	// Rebuild returns the canonical link for the song, or "" when it cannot be derived.
	Rebuild(ctx context.Context, typ, id string) string
}

// LinkParser parses a full link, going through dispatch and caching.
type LinkParser interface {
	Parse(ctx context.Context, link string) *Song
}

// ParserBinder is implemented by adapters that need to re-enter link parsing,
// for example to follow short links.
type ParserBinder interface {
	BindParser(p LinkParser)
}

// TokenResetter is implemented by adapters that hold a single-slot access token.
type TokenResetter interface {
	ResetToken()
}
