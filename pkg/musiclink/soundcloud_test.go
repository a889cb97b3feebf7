package musiclink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"go.uber.org/zap"
)

const soundcloudTestClientID = "test-client-id"

func soundcloudEmbedHTML(kind, id string) string {
	resource := url.QueryEscape("https://api.soundcloud.com/" + kind + "/" + id)
	return `<iframe width="100%" height="400" scrolling="no" frameborder="no" ` +
		`src="https://w.soundcloud.com/player/?visual=true&url=` + resource + `&show_artwork=true"></iframe>`
}

func writeTestJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func soundcloudTestTrack(baseURL string, i int, stream string) map[string]any {
	return map[string]any{
		"id":            1000 + i,
		"title":         fmt.Sprintf("Track %d", i),
		"permalink_url": fmt.Sprintf("https://soundcloud.com/rick/track-%d", i),
		"user":          map[string]any{"username": "rick"},
		"media": map[string]any{"transcodings": []map[string]any{
			{"url": baseURL + "/stream/" + stream, "duration": 30000, "format": map[string]any{"protocol": "progressive"}},
		}},
	}
}

func newSoundCloudTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	var server *httptest.Server
	mux := http.NewServeMux()

	mux.HandleFunc("/oembed", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "json" {
			http.Error(w, "bad format", http.StatusBadRequest)
			return
		}
		embeds := map[string]string{
			"https://soundcloud.com/rick/never":         soundcloudEmbedHTML("tracks", "1053322828"),
			"https://soundcloud.com/rick":               soundcloudEmbedHTML("users", "42"),
			"https://soundcloud.com/rick/sets/mix":      soundcloudEmbedHTML("playlists", "7"),
			"https://soundcloud.com/rick/app":           soundcloudEmbedHTML("apps", "9"),
			"https://soundcloud.com/rick/no-resource":   `<p>nothing embedded</p>`,
			"https://m.soundcloud.com/rick/never-again": soundcloudEmbedHTML("tracks", "1053322829"),
		}
		html, ok := embeds[r.URL.Query().Get("url")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeTestJSON(w, map[string]string{"html": html})
	})

	widget := func(h func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("client_id") != soundcloudTestClientID || q.Get("format") != "json" || q.Get("app_version") == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			h(w, r)
		}
	}

	mux.HandleFunc("/tracks/1053322828", widget(func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, map[string]any{
			"id":                 1053322828,
			"title":              "Never Gonna Give You Up",
			"permalink_url":      "https://soundcloud.com/rick/never",
			"artwork_url":        "https://i1.sndcdn.com/artworks-large.jpg",
			"user":               map[string]any{"username": "Rick Astley"},
			"publisher_metadata": map[string]any{"explicit": true},
			"media": map[string]any{"transcodings": []map[string]any{
				{"url": server.URL + "/stream/hls", "duration": 30000, "format": map[string]any{"protocol": "hls"}},
				{"url": server.URL + "/stream/progressive", "duration": 29000, "format": map[string]any{"protocol": "progressive"}},
			}},
		})
	}))

	mux.HandleFunc("/users/42", widget(func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, map[string]any{
			"id":            42,
			"username":      "rick",
			"avatar_url":    "https://i1.sndcdn.com/avatars-large.jpg",
			"permalink_url": "https://soundcloud.com/rick",
		})
	}))

	mux.HandleFunc("/users/42/tracks", widget(func(w http.ResponseWriter, _ *http.Request) {
		var collection []map[string]any
		for i := range 20 {
			stream := "progressive"
			if i%2 == 1 {
				stream = "broken"
			}
			track := soundcloudTestTrack(server.URL, i, stream)
			if i == 0 {
				track["title"] = ""
			}
			collection = append(collection, track)
		}
		writeTestJSON(w, map[string]any{"collection": collection})
	}))

	mux.HandleFunc("/playlists/7", widget(func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, map[string]any{
			"id":            7,
			"title":         "Mix",
			"permalink_url": "https://soundcloud.com/rick/sets/mix",
			"user":          map[string]any{"username": "rick"},
			"tracks": []map[string]any{
				soundcloudTestTrack(server.URL, 1, "progressive"),
				soundcloudTestTrack(server.URL, 2, "progressive"),
			},
		})
	}))

	mux.HandleFunc("/stream/progressive", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("client_id") != soundcloudTestClientID {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		writeTestJSON(w, map[string]string{"url": "https://cf-media.sndcdn.com/preview.mp3"})
	})
	mux.HandleFunc("/stream/hls", func(w http.ResponseWriter, _ *http.Request) {
		writeTestJSON(w, map[string]string{"url": "https://cf-hls-media.sndcdn.com/playlist.m3u8"})
	})
	mux.HandleFunc("/stream/broken", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	mux.HandleFunc("/short", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/rick/never", http.StatusFound)
	})
	mux.HandleFunc("/rick/never", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body>track page</body></html>`))
	})

	server = httptest.NewServer(mux)
	return server
}

func newTestSoundCloud(serverURL string) *SoundCloud {
	return NewSoundCloud(NewClient(0, nil), SoundCloudConfig{
		ClientID:  soundcloudTestClientID,
		OEmbedURL: serverURL + "/oembed",
		WidgetURL: serverURL,
	}, zap.NewNop())
}

func TestSoundCloud_Parse(t *testing.T) {
	t.Helper()

	server := newSoundCloudTestServer(t)
	defer server.Close()
	s := newTestSoundCloud(server.URL)

	tests := []struct {
		name string
		link string
		host string
		path []string
		want *Song
	}{
		{
			name: "Track",
			link: "https://soundcloud.com/rick/never",
			host: "soundcloud.com",
			path: []string{"rick", "never"},
			want: &Song{Service: "soundcloud", Type: "track", ID: "1053322828"},
		},
		{
			name: "Mobile track",
			link: "https://m.soundcloud.com/rick/never-again",
			host: "m.soundcloud.com",
			path: []string{"rick", "never-again"},
			want: &Song{Service: "soundcloud", Type: "track", ID: "1053322829"},
		},
		{
			name: "User",
			link: "https://soundcloud.com/rick",
			host: "soundcloud.com",
			path: []string{"rick"},
			want: &Song{Service: "soundcloud", Type: "user", ID: "42"},
		},
		{
			name: "Playlist",
			link: "https://soundcloud.com/rick/sets/mix",
			host: "soundcloud.com",
			path: []string{"rick", "sets", "mix"},
			want: &Song{Service: "soundcloud", Type: "playlist", ID: "7"},
		},
		{
			name: "Undeclared resource kind",
			link: "https://soundcloud.com/rick/app",
			host: "soundcloud.com",
			path: []string{"rick", "app"},
		},
		{
			name: "No embedded resource",
			link: "https://soundcloud.com/rick/no-resource",
			host: "soundcloud.com",
			path: []string{"rick", "no-resource"},
		},
		{
			name: "Unknown link",
			link: "https://soundcloud.com/rick/unknown",
			host: "soundcloud.com",
			path: []string{"rick", "unknown"},
		},
		{
			name: "Sets without playlist",
			link: "https://soundcloud.com/rick/sets",
			host: "soundcloud.com",
			path: []string{"rick", "sets"},
		},
		{
			name: "Three segments without sets",
			link: "https://soundcloud.com/rick/never/comments",
			host: "soundcloud.com",
			path: []string{"rick", "never", "comments"},
		},
		{
			name: "No path",
			link: "https://soundcloud.com",
			host: "soundcloud.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Parse(context.Background(), tt.link, tt.host, tt.path)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("Parse(%q) = %v, want %v", tt.link, got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.link, *got, *tt.want)
			}
		})
	}
}

func TestSoundCloud_ShortLink(t *testing.T) {
	t.Helper()

	server := newSoundCloudTestServer(t)
	defer server.Close()
	ctx := context.Background()
	want := &Song{Service: "soundcloud", Type: "track", ID: "1053322828"}

	s := newTestSoundCloud(server.URL)
	if got := s.Parse(ctx, server.URL+"/short", soundcloudShortHost, []string{"short"}); got != nil {
		t.Errorf("Parse() without bound parser = %v, want nil", got)
	}

	stub := &stubLinkParser{song: want}
	s.BindParser(stub)

	got := s.Parse(ctx, server.URL+"/short", soundcloudShortHost, []string{"short"})
	if got == nil || *got != *want {
		t.Fatalf("Parse(short) = %v, want %v", got, want)
	}
	if seen := stub.seen(); len(seen) != 1 || seen[0] != server.URL+"/rick/never" {
		t.Errorf("landing links parsed = %v, want [%s/rick/never]", seen, server.URL)
	}

	if got := s.Parse(ctx, server.URL+"/short/extra", soundcloudShortHost, []string{"short", "extra"}); got != nil {
		t.Errorf("Parse(two segments) = %v, want nil", got)
	}
	if got := s.Parse(ctx, server.URL+"/gone", soundcloudShortHost, []string{"gone"}); got != nil {
		t.Errorf("Parse(dead short link) = %v, want nil", got)
	}
	if got := len(stub.seen()); got != 1 {
		t.Errorf("landing links parsed = %d, want 1", got)
	}
}

func TestSoundCloud_Rebuild(t *testing.T) {
	t.Helper()

	server := newSoundCloudTestServer(t)
	defer server.Close()
	s := newTestSoundCloud(server.URL)
	ctx := context.Background()

	if got := s.Rebuild(ctx, "track", "1053322828"); got != "" {
		t.Errorf("Rebuild() before parse = %q, want empty", got)
	}

	if song := s.Parse(ctx, "https://soundcloud.com/rick/never", "soundcloud.com", []string{"rick", "never"}); song == nil {
		t.Fatal("Parse() = nil")
	}
	if got, want := s.Rebuild(ctx, "track", "1053322828"), "https://soundcloud.com/rick/never"; got != want {
		t.Errorf("Rebuild() = %q, want %q", got, want)
	}
	if got := s.Rebuild(ctx, "user", "1053322828"); got != "" {
		t.Errorf("Rebuild() with another type = %q, want empty", got)
	}
}

func TestSoundCloud_Render_Track(t *testing.T) {
	t.Helper()

	server := newSoundCloudTestServer(t)
	defer server.Close()
	s := newTestSoundCloud(server.URL)

	info := s.Render(context.Background(), "track", "1053322828")
	if info == nil {
		t.Fatal("Render() = nil")
	}
	if info.Form != FormSingle || info.Single == nil {
		t.Fatalf("Render() form = %q, want single", info.Form)
	}
	if info.Label != "Never Gonna Give You Up" || info.Sublabel != "Rick Astley" {
		t.Errorf("Render() label = %q / %q", info.Label, info.Sublabel)
	}
	if !info.Explicit {
		t.Error("Render() explicit = false")
	}
	if info.ThumbnailURL != "https://i1.sndcdn.com/artworks-large.jpg" {
		t.Errorf("Render() thumbnail = %q", info.ThumbnailURL)
	}
	want := &Audio{PreviewURL: "https://cf-media.sndcdn.com/preview.mp3", Duration: 29000}
	if info.Single.Audio == nil || *info.Single.Audio != *want {
		t.Errorf("Render() audio = %+v, want %+v", info.Single.Audio, want)
	}
}

func TestSoundCloud_Render_User(t *testing.T) {
	t.Helper()

	server := newSoundCloudTestServer(t)
	defer server.Close()
	s := newTestSoundCloud(server.URL)

	info := s.Render(context.Background(), "user", "42")
	if info == nil {
		t.Fatal("Render() = nil")
	}
	if info.Form != FormList {
		t.Fatalf("Render() form = %q, want list", info.Form)
	}
	if info.Label != "rick" || info.Sublabel != "Top tracks" {
		t.Errorf("Render() label = %q / %q", info.Label, info.Sublabel)
	}
	if info.ThumbnailURL != "https://i1.sndcdn.com/avatars-large.jpg" {
		t.Errorf("Render() thumbnail = %q", info.ThumbnailURL)
	}
	if len(info.List) != DefaultPlaylistLimit {
		t.Fatalf("Render() list len = %d, want %d", len(info.List), DefaultPlaylistLimit)
	}

	// The untitled first track is skipped and odd tracks have no playable stream.
	for i, entry := range info.List {
		track := i + 1
		if entry.Label != fmt.Sprintf("Track %d", track) {
			t.Errorf("entry %d label = %q, want Track %d", i, entry.Label, track)
		}
		if hasAudio := entry.Audio != nil; hasAudio != (track%2 == 0) {
			t.Errorf("entry %d audio = %+v", i, entry.Audio)
		}
	}
}

func TestSoundCloud_Render_Playlist(t *testing.T) {
	t.Helper()

	server := newSoundCloudTestServer(t)
	defer server.Close()
	s := newTestSoundCloud(server.URL)

	info := s.Render(context.Background(), "playlist", "7")
	if info == nil {
		t.Fatal("Render() = nil")
	}
	if info.Form != FormList || len(info.List) != 2 {
		t.Fatalf("Render() = %+v, want list of 2", info)
	}
	if info.Label != "Mix" || info.Sublabel != "rick" {
		t.Errorf("Render() label = %q / %q", info.Label, info.Sublabel)
	}
	for i, entry := range info.List {
		if entry.Audio == nil {
			t.Errorf("entry %d has no audio", i)
		}
	}
}

func TestSoundCloud_Validate(t *testing.T) {
	t.Helper()

	server := newSoundCloudTestServer(t)
	defer server.Close()
	s := newTestSoundCloud(server.URL)
	ctx := context.Background()

	tests := []struct {
		typ  string
		id   string
		want bool
	}{
		{typ: "track", id: "1053322828", want: true},
		{typ: "user", id: "42", want: true},
		{typ: "playlist", id: "7", want: true},
		{typ: "track", id: "999", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.typ+"/"+tt.id, func(t *testing.T) {
			if got := s.Validate(ctx, tt.typ, tt.id); got != tt.want {
				t.Errorf("Validate(%s, %s) = %v, want %v", tt.typ, tt.id, got, tt.want)
			}
			if info := s.Render(ctx, tt.typ, tt.id); (info != nil) != tt.want {
				t.Errorf("Render(%s, %s) = %+v", tt.typ, tt.id, info)
			}
		})
	}
}

func TestSoundCloud_ThroughEngine(t *testing.T) {
	t.Helper()

	server := newSoundCloudTestServer(t)
	defer server.Close()

	s := newTestSoundCloud(server.URL)
	engine := newTestEngine(t, []Parser{s})
	ctx := context.Background()

	song := engine.Parse(ctx, "https://soundcloud.com/rick/never?utm_source=clipboard")
	if song == nil || song.SID() != "soundcloud:track:1053322828" {
		t.Fatalf("Parse() = %v", song)
	}
	if got := engine.Rebuild(ctx, *song); got != "https://soundcloud.com/rick/never" {
		t.Errorf("Rebuild() = %q", got)
	}
	if !engine.Validate(ctx, *song) {
		t.Error("Validate() = false")
	}
}

func TestSelectTranscoding(t *testing.T) {
	t.Helper()

	hls := soundcloudTranscoding{URL: "hls", Duration: 30000}
	hls.Format.Protocol = "hls"
	progressive := soundcloudTranscoding{URL: "progressive", Duration: 30000}
	progressive.Format.Protocol = soundcloudProgressive
	noDuration := soundcloudTranscoding{URL: "progressive-nd"}
	noDuration.Format.Protocol = soundcloudProgressive
	otherHLS := soundcloudTranscoding{URL: "hls-2", Duration: 30000}
	otherHLS.Format.Protocol = "hls"

	tests := []struct {
		name   string
		input  []soundcloudTranscoding
		want   string
		wantOK bool
	}{
		{name: "Empty", input: nil, wantOK: false},
		{name: "Progressive preferred", input: []soundcloudTranscoding{hls, progressive}, want: "progressive", wantOK: true},
		{name: "Upstream order kept", input: []soundcloudTranscoding{hls, otherHLS}, want: "hls", wantOK: true},
		{name: "Preferred candidate lacks duration", input: []soundcloudTranscoding{hls, noDuration}, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := selectTranscoding(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("selectTranscoding() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got.URL != tt.want {
				t.Errorf("selectTranscoding() = %q, want %q", got.URL, tt.want)
			}
		})
	}
}
