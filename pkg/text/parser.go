// Package text canonicalizes music links and extracts them from free text.
package text

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	// spotifyURIParts is the number of parts in a spotify:type:id URI.
	spotifyURIParts = 3
	spotifyOpenURL  = "https://open.spotify.com/"
)

var (
	urlRegex        = regexp.MustCompile(`https?://\S+`)
	spotifyURIRegex = regexp.MustCompile(`spotify:[a-z]+:\w+`)

	trackingParams = map[string]bool{
		"si":      true,
		"ref":     true,
		"feature": true,
	}
)

// Canonicalize normalizes a raw link into a stable form suitable as a cache key.
// Input that is not an http(s) link with a host is returned trimmed but otherwise unchanged.
func Canonicalize(raw string) string {
	raw = norm.NFKC.String(strings.TrimSpace(raw))
	raw = strings.TrimRight(raw, ".,!?;")

	if uri := spotifyURIRegex.FindString(raw); uri != "" && uri == raw {
		raw = spotifyURIToURL(uri)
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return raw
	}

	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil

	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = strings.TrimRight(u.RawPath, "/")
	}

	u.RawQuery = cleanQuery(u.Query())

	return u.String()
}

// cleanQuery removes tracking parameters and encodes the rest sorted by key.
func cleanQuery(q url.Values) string {
	for key := range q {
		if trackingParams[key] || strings.HasPrefix(key, "utm_") {
			q.Del(key)
		}
	}
	return q.Encode()
}

func spotifyURIToURL(uri string) string {
	parts := strings.Split(uri, ":")
	if len(parts) != spotifyURIParts {
		return uri
	}
	return spotifyOpenURL + parts[1] + "/" + parts[2]
}

// ExtractURLs returns the canonical form of every link and Spotify URI found in text.
func ExtractURLs(text string) []string {
	text = norm.NFKC.String(text)

	var links []string
	for _, match := range urlRegex.FindAllString(text, -1) {
		if link := Canonicalize(match); strings.HasPrefix(link, "http") {
			links = append(links, link)
		}
	}
	for _, match := range spotifyURIRegex.FindAllString(text, -1) {
		links = append(links, Canonicalize(match))
	}

	return links
}
