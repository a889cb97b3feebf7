package musiclink

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// SoundCloudOEmbedURL is the SoundCloud oEmbed API endpoint.
	SoundCloudOEmbedURL = "https://soundcloud.com/oembed"
	// SoundCloudWidgetURL is the SoundCloud widget API origin.
	SoundCloudWidgetURL = "https://api-widget.soundcloud.com"
	// DefaultSoundCloudClientID is the public client id used by the embedded widget.
	DefaultSoundCloudClientID = "nIjtjiYnjkOhMyh5xrbqEW12DxeJVnic"
	// DefaultSoundCloudAppVersion is the widget app version sent along with widget requests.
	DefaultSoundCloudAppVersion = "1768986291"
	// DefaultSoundCloudLinkCacheSize bounds the number of remembered links.
	DefaultSoundCloudLinkCacheSize = 4096

	soundcloudShortHost   = "on.soundcloud.com"
	soundcloudSetsSegment = "sets"
	soundcloudWidgetLimit = "20"
	soundcloudProgressive = "progressive"
	// soundcloudKindPart and soundcloudIDPart index the split api.soundcloud.com URL.
	soundcloudKindPart = 2
	soundcloudIDPart   = 3
)

var (
	soundcloudEmbedRegex = regexp.MustCompile(`w\.soundcloud\.com.*?url=(.*?)[&"]`)
	soundcloudSlashRegex = regexp.MustCompile(`/+`)
)

type soundcloudOEmbedResponse struct {
	HTML string `json:"html"`
}

type soundcloudTranscoding struct {
	Duration int64  `json:"duration"`
	URL      string `json:"url"`
	Format   struct {
		Protocol string `json:"protocol"`
	} `json:"format"`
}

type soundcloudWidgetData struct {
	ID           int64  `json:"id"`
	ArtworkURL   string `json:"artwork_url"`
	AvatarURL    string `json:"avatar_url"`
	Title        string `json:"title"`
	PermalinkURL string `json:"permalink_url"`
	Username     string `json:"username"`
	User         *struct {
		Username string `json:"username"`
	} `json:"user"`
	PublisherMetadata *struct {
		Explicit bool `json:"explicit"`
	} `json:"publisher_metadata"`
	Media *struct {
		Transcodings []soundcloudTranscoding `json:"transcodings"`
	} `json:"media"`
	Tracks []soundcloudWidgetData `json:"tracks"`
}

func (d *soundcloudWidgetData) explicit() bool {
	return d.PublisherMetadata != nil && d.PublisherMetadata.Explicit
}

func (d *soundcloudWidgetData) transcodings() []soundcloudTranscoding {
	if d.Media == nil {
		return nil
	}
	return d.Media.Transcodings
}

type soundcloudTracksResponse struct {
	Collection []soundcloudWidgetData `json:"collection"`
}

type soundcloudStreamResponse struct {
	URL string `json:"url"`
}

// SoundCloudConfig configures the SoundCloud adapter.
type SoundCloudConfig struct {
	ClientID      string
	AppVersion    string
	PlaylistLimit int
	LinkCacheSize int
	OEmbedURL     string // Overrides SoundCloudOEmbedURL.
	WidgetURL     string // Overrides SoundCloudWidgetURL.
}

// SoundCloud handles soundcloud.com links, including on.soundcloud.com short links.
//
// SoundCloud songs are keyed by numeric id, from which the original slug link cannot be
// derived, so Rebuild only returns links seen while parsing.
type SoundCloud struct {
	client *Client
	logger *zap.Logger
	config SoundCloudConfig
	links  *lru.Cache[string, string]

	mu     sync.RWMutex
	parser LinkParser
}

// NewSoundCloud creates the SoundCloud adapter.
func NewSoundCloud(client *Client, config SoundCloudConfig, logger *zap.Logger) *SoundCloud {
	if config.ClientID == "" {
		config.ClientID = DefaultSoundCloudClientID
	}
	if config.AppVersion == "" {
		config.AppVersion = DefaultSoundCloudAppVersion
	}
	if config.PlaylistLimit <= 0 {
		config.PlaylistLimit = DefaultPlaylistLimit
	}
	if config.LinkCacheSize <= 0 {
		config.LinkCacheSize = DefaultSoundCloudLinkCacheSize
	}
	if config.OEmbedURL == "" {
		config.OEmbedURL = SoundCloudOEmbedURL
	}
	if config.WidgetURL == "" {
		config.WidgetURL = SoundCloudWidgetURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	links, _ := lru.New[string, string](config.LinkCacheSize)

	return &SoundCloud{
		client: client,
		logger: logger,
		config: config,
		links:  links,
	}
}

func (s *SoundCloud) Name() string  { return "soundcloud" }
func (s *SoundCloud) Label() string { return "Soundcloud" }

func (s *SoundCloud) Hosts() []string {
	return []string{"soundcloud.com", "www.soundcloud.com", "m.soundcloud.com", soundcloudShortHost}
}

func (s *SoundCloud) Types() []string {
	return []string{"user", "track", "playlist"}
}

// BindParser sets the parser used to follow short links.
func (s *SoundCloud) BindParser(p LinkParser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parser = p
}

// Parse resolves user, track and playlist links through oEmbed. Short links are followed
// and their landing page parsed again.
func (s *SoundCloud) Parse(ctx context.Context, link, host string, path []string) *Song {
	if host == soundcloudShortHost {
		return s.parseShortLink(ctx, link, path)
	}

	if !soundcloudPathValid(path) {
		return nil
	}

	res, err := s.client.Get(ctx, s.config.OEmbedURL, url.Values{"format": {"json"}, "url": {link}}, nil)
	if err == nil {
		err = res.require()
	}
	if err != nil {
		s.logger.Debug("SoundCloud oEmbed lookup failed", zap.String("link", link), zap.Error(err))
		return nil
	}

	var oembed soundcloudOEmbedResponse
	if !res.JSON(&oembed) || oembed.HTML == "" {
		return nil
	}

	song := s.songFromEmbed(oembed.HTML)
	if song == nil {
		return nil
	}

	s.links.Add(song.SID(), link)
	return song
}

func (s *SoundCloud) parseShortLink(ctx context.Context, link string, path []string) *Song {
	if len(path) != 1 {
		return nil
	}

	s.mu.RLock()
	parser := s.parser
	s.mu.RUnlock()
	if parser == nil {
		return nil
	}

	res, err := s.client.Get(ctx, link, nil, nil)
	if err == nil {
		err = res.require()
	}
	if err != nil {
		s.logger.Debug("SoundCloud short link unavailable", zap.String("link", link), zap.Error(err))
		return nil
	}

	// A landing page still on the short host would loop.
	if landing, err := url.Parse(res.URL); err != nil || strings.EqualFold(landing.Hostname(), soundcloudShortHost) {
		return nil
	}

	return parser.Parse(ctx, res.URL)
}

// soundcloudPathValid accepts /{user}, /{user}/{track} and /{user}/sets/{playlist}.
func soundcloudPathValid(path []string) bool {
	switch len(path) {
	case 1:
		return true
	case 2:
		return path[1] != soundcloudSetsSegment
	case 3:
		return path[1] == soundcloudSetsSegment
	default:
		return false
	}
}

// songFromEmbed extracts the api.soundcloud.com resource from the widget iframe, e.g.
// https://w.soundcloud.com/player/?url=https%3A%2F%2Fapi.soundcloud.com%2Ftracks%2F1053322828
func (s *SoundCloud) songFromEmbed(html string) *Song {
	match := soundcloudEmbedRegex.FindStringSubmatch(html)
	if match == nil {
		return nil
	}

	resource, err := url.QueryUnescape(match[1])
	if err != nil {
		return nil
	}

	parts := soundcloudSlashRegex.Split(resource, -1)
	if len(parts) <= soundcloudIDPart {
		return nil
	}
	kind, id := parts[soundcloudKindPart], parts[soundcloudIDPart]
	typ := strings.TrimSuffix(kind, "s")
	if id == "" || !slices.Contains(s.Types(), typ) {
		return nil
	}

	return &Song{Service: s.Name(), Type: typ, ID: id}
}

// Render fetches widget metadata. Lists fetch their previews concurrently; an entry whose
// preview cannot be resolved is kept without audio.
func (s *SoundCloud) Render(ctx context.Context, typ, id string) *RenderInfo {
	var data soundcloudWidgetData
	if err := s.widget(ctx, typ, id, false, &data); err != nil || data.ID == 0 {
		s.logger.Debug("SoundCloud widget lookup failed", zap.String("id", id), zap.Error(err))
		return nil
	}

	label := data.Title
	if label == "" {
		label = data.Username
	}
	sublabel := "Top tracks"
	if data.User != nil && data.User.Username != "" {
		sublabel = data.User.Username
	}
	thumbnail := data.ArtworkURL
	if thumbnail == "" {
		thumbnail = data.AvatarURL
	}

	info := &RenderInfo{
		Label:        label,
		Sublabel:     sublabel,
		Link:         data.PermalinkURL,
		Explicit:     data.explicit(),
		ThumbnailURL: thumbnail,
	}

	if typ == "track" {
		info.Form = FormSingle
		info.Single = &RenderSingle{Audio: s.previewOrNil(ctx, data.transcodings())}
		return info
	}

	tracks := data.Tracks
	if typ == "user" {
		var got soundcloudTracksResponse
		if err := s.widget(ctx, typ, id, true, &got); err != nil {
			s.logger.Debug("SoundCloud user tracks unavailable", zap.String("id", id), zap.Error(err))
		}
		tracks = got.Collection
	}

	info.Form = FormList
	info.List = s.renderEntries(ctx, tracks)
	return info
}

func (s *SoundCloud) renderEntries(ctx context.Context, tracks []soundcloudWidgetData) []RenderEntry {
	titled := make([]soundcloudWidgetData, 0, len(tracks))
	for _, track := range tracks {
		if track.Title != "" {
			titled = append(titled, track)
		}
	}
	if len(titled) > s.config.PlaylistLimit {
		titled = titled[:s.config.PlaylistLimit]
	}

	entries := make([]RenderEntry, len(titled))
	var g errgroup.Group
	for i, track := range titled {
		sublabel := "unknown"
		if track.User != nil && track.User.Username != "" {
			sublabel = track.User.Username
		}
		entries[i] = RenderEntry{
			Label:    track.Title,
			Sublabel: sublabel,
			Link:     track.PermalinkURL,
			Explicit: track.explicit(),
		}

		transcodings := track.transcodings()
		g.Go(func() error {
			entries[i].Audio = s.previewOrNil(ctx, transcodings)
			return nil
		})
	}
	_ = g.Wait()

	return entries
}

// Validate checks that the widget API knows the resource.
func (s *SoundCloud) Validate(ctx context.Context, typ, id string) bool {
	var data soundcloudWidgetData
	if err := s.widget(ctx, typ, id, false, &data); err != nil {
		s.logger.Debug("SoundCloud validation failed", zap.String("id", id), zap.Error(err))
		return false
	}
	return data.ID != 0
}

// Rebuild returns the link the song was parsed from, if any. Links are never synthesized.
func (s *SoundCloud) Rebuild(_ context.Context, typ, id string) string {
	link, _ := s.links.Get(Song{Service: s.Name(), Type: typ, ID: id}.SID())
	return link
}

func (s *SoundCloud) widget(ctx context.Context, typ, id string, tracks bool, dest any) error {
	endpoint := fmt.Sprintf("%s/%ss/%s", s.config.WidgetURL, typ, url.PathEscape(id))
	if tracks {
		endpoint += "/tracks"
	}

	res, err := s.client.Get(ctx, endpoint, url.Values{
		"format":      {"json"},
		"client_id":   {s.config.ClientID},
		"app_version": {s.config.AppVersion},
		"limit":       {soundcloudWidgetLimit},
	}, nil)
	if err != nil {
		return err
	}
	if err := res.require(); err != nil {
		return err
	}
	if !res.JSON(dest) {
		return fmt.Errorf("invalid widget response from %s", endpoint)
	}
	return nil
}

func (s *SoundCloud) previewOrNil(ctx context.Context, transcodings []soundcloudTranscoding) *Audio {
	audio, err := s.preview(ctx, transcodings)
	if err != nil {
		s.logger.Debug("SoundCloud preview unavailable", zap.Error(err))
		return nil
	}
	return audio
}

// preview resolves the stream of the preferred transcoding.
func (s *SoundCloud) preview(ctx context.Context, transcodings []soundcloudTranscoding) (*Audio, error) {
	candidate, ok := selectTranscoding(transcodings)
	if !ok {
		return nil, nil
	}

	res, err := s.client.Get(ctx, candidate.URL, url.Values{"client_id": {s.config.ClientID}}, nil)
	if err != nil {
		return nil, err
	}

	var stream soundcloudStreamResponse
	if !res.JSON(&stream) || stream.URL == "" {
		return nil, fmt.Errorf("no stream url for %s (status %d)", candidate.URL, res.Status)
	}

	return &Audio{PreviewURL: stream.URL, Duration: candidate.Duration}, nil
}

// selectTranscoding prefers progressive delivery; otherwise the upstream order is kept.
// The chosen transcoding must carry both a url and a duration.
func selectTranscoding(transcodings []soundcloudTranscoding) (soundcloudTranscoding, bool) {
	if len(transcodings) == 0 {
		return soundcloudTranscoding{}, false
	}

	sorted := slices.Clone(transcodings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Format.Protocol == soundcloudProgressive &&
			sorted[j].Format.Protocol != soundcloudProgressive
	})

	first := sorted[0]
	if first.URL == "" || first.Duration == 0 {
		return soundcloudTranscoding{}, false
	}
	return first, true
}
