package musiclink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	// AppleMusicWebURL is the Apple Music web player origin.
	AppleMusicWebURL = "https://music.apple.com"
	// AppleMusicAPIURL is the Apple Music catalog API origin.
	AppleMusicAPIURL = "https://amp-api.music.apple.com"
	// DefaultAppleMusicStorefront is the storefront used for lookups and rebuilt links.
	DefaultAppleMusicStorefront = "us"
	// appleMusicSlug fills the name segment of rebuilt links; Apple ignores it.
	appleMusicSlug = "songspotlight"
	// appleMusicArtworkSize replaces the {w} and {h} artwork placeholders.
	appleMusicArtworkSize = "128"
	// appleMusicPathParts is the number of path segments in a content link.
	appleMusicPathParts = 4
)

var (
	errNoScriptBundle = errors.New("no script bundle referenced")
	errNoToken        = errors.New("no token in script bundle")
	errTokenSlotEmpty = errors.New("apple music token slot is empty")

	appleMusicAssetRegex   = regexp.MustCompile(`(?i)src="(/assets/index~\w+\.js)"`)
	appleMusicTokenRegex   = regexp.MustCompile(`(?i)\w+="(ey.*?)"`)
	appleMusicArtworkRegex = regexp.MustCompile(`\{[wh]\}`)
)

type appleMusicAttributes struct {
	URL              string `json:"url"`
	Name             string `json:"name"`
	ArtistName       string `json:"artistName"`
	ContentRating    string `json:"contentRating"`
	DurationInMillis int64  `json:"durationInMillis"`
	Previews         []struct {
		URL string `json:"url"`
	} `json:"previews"`
	Artwork *struct {
		URL string `json:"url"`
	} `json:"artwork"`
}

type appleMusicRelationship struct {
	Data []appleMusicResource `json:"data"`
}

type appleMusicResource struct {
	Attributes    appleMusicAttributes `json:"attributes"`
	Relationships struct {
		Songs  *appleMusicRelationship `json:"songs"`
		Tracks *appleMusicRelationship `json:"tracks"`
	} `json:"relationships"`
}

type appleMusicCatalogResponse struct {
	Data []appleMusicResource `json:"data"`
}

// AppleMusicConfig configures the Apple Music adapter.
type AppleMusicConfig struct {
	Storefront    string
	PlaylistLimit int
	WebURL        string // Overrides AppleMusicWebURL.
	APIURL        string // Overrides AppleMusicAPIURL.
}

// AppleMusic handles music.apple.com links. Its catalog API requires a bearer token that is
// scraped from the web player bundle and kept until explicitly reset.
type AppleMusic struct {
	client  *Client
	catalog *Client // Authorized from the token slot.
	logger  *zap.Logger
	config  AppleMusicConfig

	tokenMu sync.Mutex
	token   *oauth2.Token
}

// NewAppleMusic creates the Apple Music adapter.
func NewAppleMusic(client *Client, config AppleMusicConfig, logger *zap.Logger) *AppleMusic {
	if config.Storefront == "" {
		config.Storefront = DefaultAppleMusicStorefront
	}
	if config.PlaylistLimit <= 0 {
		config.PlaylistLimit = DefaultPlaylistLimit
	}
	if config.WebURL == "" {
		config.WebURL = AppleMusicWebURL
	}
	if config.APIURL == "" {
		config.APIURL = AppleMusicAPIURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &AppleMusic{client: client, logger: logger, config: config}
	a.catalog = client.withTokenSource(appleMusicTokenSlot{a})
	return a
}

// appleMusicTokenSlot exposes the token slot as an oauth2.TokenSource. It never bootstraps.
type appleMusicTokenSlot struct {
	a *AppleMusic
}

func (s appleMusicTokenSlot) Token() (*oauth2.Token, error) {
	s.a.tokenMu.Lock()
	defer s.a.tokenMu.Unlock()
	if s.a.token == nil {
		return nil, errTokenSlotEmpty
	}
	return s.a.token, nil
}

func (a *AppleMusic) Name() string  { return "applemusic" }
func (a *AppleMusic) Label() string { return "Apple Music" }

func (a *AppleMusic) Hosts() []string {
	return []string{"music.apple.com", "geo.music.apple.com"}
}

func (a *AppleMusic) Types() []string {
	return []string{"artist", "album", "playlist", "song"}
}

// Parse accepts /{country}/{type}/{name}/{id} links whose content page exists.
func (a *AppleMusic) Parse(ctx context.Context, _, _ string, path []string) *Song {
	if len(path) != appleMusicPathParts {
		return nil
	}
	typ, id := path[1], path[3]
	if !slices.Contains(a.Types(), typ) {
		return nil
	}

	res, err := a.client.Get(ctx, a.contentLink(typ, id), nil, nil)
	if err == nil {
		err = res.require()
	}
	if err != nil {
		a.logger.Debug("Apple Music content page unavailable", zap.String("id", id), zap.Error(err))
		return nil
	}

	// The content page carries the same bundle reference as the landing page.
	if _, err := a.retrieveToken(ctx, res.Text); err != nil {
		a.logger.Debug("Failed to bootstrap Apple Music token", zap.Error(err))
	}

	return &Song{Service: a.Name(), Type: typ, ID: id}
}

// Render looks the content up in the catalog API.
func (a *AppleMusic) Render(ctx context.Context, typ, id string) *RenderInfo {
	if _, err := a.retrieveToken(ctx, ""); err != nil {
		a.logger.Debug("Apple Music token unavailable", zap.Error(err))
		return nil
	}

	headers := http.Header{}
	headers.Set("Origin", AppleMusicWebURL)

	res, err := a.catalog.Get(ctx,
		fmt.Sprintf("%s/v1/catalog/%s/%ss", a.config.APIURL, a.config.Storefront, typ),
		url.Values{"include": {"songs"}, "ids": {id}},
		headers)
	if err == nil {
		err = res.require()
	}
	if err != nil {
		a.logger.Debug("Apple Music catalog lookup failed", zap.String("id", id), zap.Error(err))
		return nil
	}

	var catalog appleMusicCatalogResponse
	if !res.JSON(&catalog) || len(catalog.Data) == 0 {
		return nil
	}

	resource := catalog.Data[0]
	attrs := resource.Attributes
	sublabel := attrs.ArtistName
	if sublabel == "" {
		sublabel = "Top songs"
	}
	info := &RenderInfo{
		Label:    attrs.Name,
		Sublabel: sublabel,
		Link:     attrs.URL,
		Explicit: attrs.ContentRating == "explicit",
	}
	if attrs.Artwork != nil && attrs.Artwork.URL != "" {
		info.ThumbnailURL = appleMusicArtworkRegex.ReplaceAllString(attrs.Artwork.URL, appleMusicArtworkSize)
	}

	if typ == "song" {
		info.Form = FormSingle
		info.Single = &RenderSingle{Audio: appleMusicAudio(attrs)}
		return info
	}

	var entries []appleMusicResource
	switch {
	case resource.Relationships.Tracks != nil:
		entries = resource.Relationships.Tracks.Data
	case resource.Relationships.Songs != nil:
		entries = resource.Relationships.Songs.Data
	}
	if len(entries) > a.config.PlaylistLimit {
		entries = entries[:a.config.PlaylistLimit]
	}

	info.Form = FormList
	info.List = make([]RenderEntry, 0, len(entries))
	for _, entry := range entries {
		info.List = append(info.List, RenderEntry{
			Label:    entry.Attributes.Name,
			Sublabel: entry.Attributes.ArtistName,
			Link:     entry.Attributes.URL,
			Explicit: entry.Attributes.ContentRating == "explicit",
			Audio:    appleMusicAudio(entry.Attributes),
		})
	}
	return info
}

// Validate checks that the content page exists.
func (a *AppleMusic) Validate(ctx context.Context, typ, id string) bool {
	res, err := a.client.Get(ctx, a.contentLink(typ, id), nil, nil)
	if err != nil {
		a.logger.Debug("Apple Music validation failed", zap.String("id", id), zap.Error(err))
		return false
	}
	return res.OK()
}

// Rebuild derives the content page link; the name segment is not significant.
func (a *AppleMusic) Rebuild(_ context.Context, typ, id string) string {
	return a.contentLink(typ, id)
}

// ResetToken empties the token slot. Tokens are never refreshed on expiry, only after a reset.
func (a *AppleMusic) ResetToken() {
	a.tokenMu.Lock()
	defer a.tokenMu.Unlock()
	a.token = nil
}

func (a *AppleMusic) contentLink(typ, id string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", a.config.WebURL, a.config.Storefront, typ, appleMusicSlug, url.PathEscape(id))
}

// retrieveToken returns the cached token, bootstrapping it when the slot is empty.
// html may carry an already fetched page to locate the script bundle from.
func (a *AppleMusic) retrieveToken(ctx context.Context, html string) (*oauth2.Token, error) {
	a.tokenMu.Lock()
	if a.token != nil {
		defer a.tokenMu.Unlock()
		return a.token, nil
	}
	a.tokenMu.Unlock()

	token, err := a.scrapeToken(ctx, html)
	if err != nil {
		return nil, err
	}

	a.tokenMu.Lock()
	defer a.tokenMu.Unlock()
	if a.token == nil {
		a.token = token
	}
	return a.token, nil
}

func (a *AppleMusic) scrapeToken(ctx context.Context, html string) (*oauth2.Token, error) {
	if html == "" {
		res, err := a.client.Get(ctx, fmt.Sprintf("%s/%s/new", a.config.WebURL, a.config.Storefront), nil, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch landing page: %w", err)
		}
		html = res.Text
	}

	asset := appleMusicAssetRegex.FindStringSubmatch(html)
	if asset == nil {
		return nil, errNoScriptBundle
	}

	res, err := a.client.Get(ctx, a.config.WebURL+asset[1], nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch script bundle: %w", err)
	}

	code := appleMusicTokenRegex.FindStringSubmatch(res.Text)
	if code == nil || strings.TrimSpace(code[1]) == "" {
		return nil, fmt.Errorf("%w: %s", errNoToken, asset[1])
	}

	return &oauth2.Token{AccessToken: code[1], TokenType: "Bearer"}, nil
}

func appleMusicAudio(attrs appleMusicAttributes) *Audio {
	if len(attrs.Previews) == 0 || attrs.Previews[0].URL == "" || attrs.DurationInMillis == 0 {
		return nil
	}
	return &Audio{PreviewURL: attrs.Previews[0].URL, Duration: attrs.DurationInMillis}
}
