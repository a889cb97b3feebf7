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

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// SpotifyOpenURL is the public Spotify web origin.
	SpotifyOpenURL = "https://open.spotify.com"
	// SpotifyAPIURL is the Spotify Web API base.
	SpotifyAPIURL = "https://api.spotify.com/v1/"
	// spotifyImageHost is the stable public image host artwork is rewritten to.
	spotifyImageHost = "://i.scdn.co/image"
	// spotifyPathParts is the number of path segments in a content link.
	spotifyPathParts = 2
	// spotifyURIParts is the number of parts in a spotify:type:id URI.
	spotifyURIParts = 3
)

var spotifyCDNRegex = regexp.MustCompile(`://[^/]*?\.spotifycdn\.com/image`)

type spotifyArtist struct {
	Name string `json:"name"`
}

type spotifyPreview struct {
	URL string `json:"url"`
}

type spotifyTrack struct {
	URI          spotify.URI     `json:"uri"`
	Title        string          `json:"title"`
	Subtitle     string          `json:"subtitle"`
	IsExplicit   bool            `json:"isExplicit"`
	Artists      []spotifyArtist `json:"artists"`
	Duration     int64           `json:"duration"`
	AudioPreview *spotifyPreview `json:"audioPreview"`
}

type spotifyImage struct {
	URL      string `json:"url"`
	MaxWidth int    `json:"maxWidth"`
}

type spotifyEntity struct {
	spotifyTrack
	TrackList      []spotifyTrack `json:"trackList"`
	VisualIdentity struct {
		Image []spotifyImage `json:"image"`
	} `json:"visualIdentity"`
}

type spotifyEmbedState struct {
	Props struct {
		PageProps struct {
			// Title is only present on error pages.
			Title string `json:"title"`
			State *struct {
				Data struct {
					Entity *spotifyEntity `json:"entity"`
				} `json:"data"`
			} `json:"state"`
		} `json:"pageProps"`
	} `json:"props"`
}

func (s *spotifyEmbedState) entity() *spotifyEntity {
	if s.Props.PageProps.State == nil {
		return nil
	}
	return s.Props.PageProps.State.Data.Entity
}

// SpotifyConfig configures the Spotify adapter.
type SpotifyConfig struct {
	PlaylistLimit int
	OpenURL       string // Overrides SpotifyOpenURL for embed pages.

	// ClientID and ClientSecret enable existence checks against the Web API.
	ClientID     string
	ClientSecret string
	APIURL       string // Overrides SpotifyAPIURL.
	TokenURL     string // Overrides the accounts service token endpoint.
}

// Spotify handles open.spotify.com links using the page state of the public embed player.
// With client credentials configured, existence checks go to the Web API first.
type Spotify struct {
	client  *Client
	catalog *spotify.Client
	logger  *zap.Logger
	config  SpotifyConfig
}

// NewSpotify creates the Spotify adapter.
func NewSpotify(client *Client, config SpotifyConfig, logger *zap.Logger) *Spotify {
	if config.PlaylistLimit <= 0 {
		config.PlaylistLimit = DefaultPlaylistLimit
	}
	if config.OpenURL == "" {
		config.OpenURL = SpotifyOpenURL
	}
	if config.APIURL == "" {
		config.APIURL = SpotifyAPIURL
	}
	if config.TokenURL == "" {
		config.TokenURL = spotifyauth.TokenURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Spotify{client: client, logger: logger, config: config}
	if config.ClientID != "" && config.ClientSecret != "" {
		credentials := &clientcredentials.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			TokenURL:     config.TokenURL,
		}
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, client.http)
		s.catalog = spotify.New(client.withTokenSource(credentials.TokenSource(tokenCtx)).http,
			spotify.WithBaseURL(config.APIURL))
	}
	return s
}

func (s *Spotify) Name() string  { return "spotify" }
func (s *Spotify) Label() string { return "Spotify" }

func (s *Spotify) Hosts() []string {
	return []string{"open.spotify.com"}
}

func (s *Spotify) Types() []string {
	return []string{"track", "album", "playlist", "artist"}
}

// Parse accepts /{type}/{id} links that exist upstream.
func (s *Spotify) Parse(ctx context.Context, _, _ string, path []string) *Song {
	if len(path) != spotifyPathParts {
		return nil
	}
	typ, id := path[0], path[1]
	if !slices.Contains(s.Types(), typ) {
		return nil
	}
	if !s.Validate(ctx, typ, id) {
		return nil
	}
	return &Song{Service: s.Name(), Type: typ, ID: id}
}

// Render maps the embed page state to render info.
func (s *Spotify) Render(ctx context.Context, typ, id string) *RenderInfo {
	state, err := s.embed(ctx, typ, id)
	if err != nil {
		s.logger.Debug("Spotify embed unavailable", zap.String("id", id), zap.Error(err))
		return nil
	}
	entity := state.entity()
	if entity == nil {
		return nil
	}

	info := &RenderInfo{
		Label:        entity.Title,
		Sublabel:     spotifySublabel(&entity.spotifyTrack),
		Link:         spotifyLink(entity.URI),
		Explicit:     entity.IsExplicit,
		ThumbnailURL: spotifyThumbnail(entity.VisualIdentity.Image),
	}

	if typ == "track" {
		info.Form = FormSingle
		info.Single = &RenderSingle{Audio: spotifyAudio(&entity.spotifyTrack)}
		return info
	}

	tracks := entity.TrackList
	if len(tracks) > s.config.PlaylistLimit {
		tracks = tracks[:s.config.PlaylistLimit]
	}

	info.Form = FormList
	info.List = make([]RenderEntry, 0, len(tracks))
	for i := range tracks {
		track := &tracks[i]
		info.List = append(info.List, RenderEntry{
			Label:    track.Title,
			Sublabel: spotifySublabel(track),
			Link:     spotifyLink(track.URI),
			Explicit: track.IsExplicit,
			Audio:    spotifyAudio(track),
		})
	}
	return info
}

// Validate asks the Web API when credentials are configured. Otherwise, or when the API cannot
// answer, existence is inferred from the embed page: error pages carry a title, content pages do not.
func (s *Spotify) Validate(ctx context.Context, typ, id string) bool {
	if s.catalog != nil {
		found, err := s.lookup(ctx, typ, spotify.ID(url.PathEscape(id)))
		if err == nil {
			return found
		}
		s.logger.Debug("Spotify Web API lookup failed", zap.String("id", id), zap.Error(err))
	}

	state, err := s.embed(ctx, typ, id)
	if err != nil {
		s.logger.Debug("Spotify validation failed", zap.String("id", id), zap.Error(err))
		return false
	}
	return state.Props.PageProps.Title == ""
}

// Rebuild derives the public link.
func (s *Spotify) Rebuild(_ context.Context, typ, id string) string {
	return fmt.Sprintf("%s/%s/%s", SpotifyOpenURL, typ, id)
}

// lookup fetches the content from the Web API. Not found and malformed ids are a definite answer.
func (s *Spotify) lookup(ctx context.Context, typ string, id spotify.ID) (bool, error) {
	var err error
	switch typ {
	case "track":
		_, err = s.catalog.GetTrack(ctx, id)
	case "album":
		_, err = s.catalog.GetAlbum(ctx, id)
	case "playlist":
		_, err = s.catalog.GetPlaylist(ctx, id, spotify.Fields("id"))
	case "artist":
		_, err = s.catalog.GetArtist(ctx, id)
	default:
		return false, nil
	}

	var apiErr spotify.Error
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusBadRequest):
		return false, nil
	default:
		return false, err
	}
}

func (s *Spotify) embed(ctx context.Context, typ, id string) (*spotifyEmbedState, error) {
	res, err := s.client.Get(ctx, fmt.Sprintf("%s/embed/%s/%s", s.config.OpenURL, typ, url.PathEscape(id)), nil, nil)
	if err != nil {
		return nil, err
	}
	if err := res.require(); err != nil {
		return nil, err
	}

	var state spotifyEmbedState
	if err := ParseNextData(res.Text, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// spotifyLink turns a spotify:type:id URI into its public link, or "".
func spotifyLink(uri spotify.URI) string {
	parts := strings.Split(string(uri), ":")
	if len(parts) != spotifyURIParts || parts[0] != "spotify" || parts[1] == "" || parts[2] == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s", SpotifyOpenURL, parts[1], parts[2])
}

func spotifySublabel(track *spotifyTrack) string {
	if track.Subtitle != "" {
		return track.Subtitle
	}
	names := make([]string, 0, len(track.Artists))
	for _, artist := range track.Artists {
		names = append(names, artist.Name)
	}
	return strings.Join(names, ", ")
}

func spotifyAudio(track *spotifyTrack) *Audio {
	if track.AudioPreview == nil || track.AudioPreview.URL == "" || track.Duration == 0 {
		return nil
	}
	return &Audio{PreviewURL: track.AudioPreview.URL, Duration: track.Duration}
}

// spotifyThumbnail picks the narrowest image and moves it onto the public image host.
func spotifyThumbnail(images []spotifyImage) string {
	if len(images) == 0 {
		return ""
	}
	smallest := slices.MinFunc(images, func(a, b spotifyImage) int {
		return a.MaxWidth - b.MaxWidth
	})
	return spotifyCDNRegex.ReplaceAllString(smallest.URL, spotifyImageHost)
}
