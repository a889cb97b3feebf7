package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"songspotlight/pkg/musiclink"
)

const (
	// DefaultServerPort is the default HTTP server port.
	DefaultServerPort = 8080
	// DefaultServerHost is the default HTTP server bind address.
	DefaultServerHost = "0.0.0.0"
	// MaxPlaylistLimit caps the configurable playlist limit.
	MaxPlaylistLimit = 100
)

var (
	// ErrInvalidConfig is wrapped by every validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
)

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Resolver ResolverConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// ResolverConfig configures the resolution engine and its provider adapters.
type ResolverConfig struct {
	PlaylistLimit int
	// HTTPTimeout bounds each upstream request; zero leaves requests unbounded.
	HTTPTimeout             time.Duration
	DedupInFlight           bool
	AppleMusicStorefront    string
	SoundCloudClientID      string
	SoundCloudAppVersion    string
	SoundCloudLinkCacheSize int
	// SpotifyClientID and SpotifyClientSecret are optional Web API credentials.
	SpotifyClientID     string
	SpotifyClientSecret string
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         DefaultServerHost,
			Port:         DefaultServerPort,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Resolver: ResolverConfig{
			PlaylistLimit:           musiclink.DefaultPlaylistLimit,
			AppleMusicStorefront:    musiclink.DefaultAppleMusicStorefront,
			SoundCloudClientID:      musiclink.DefaultSoundCloudClientID,
			SoundCloudAppVersion:    musiclink.DefaultSoundCloudAppVersion,
			SoundCloudLinkCacheSize: musiclink.DefaultSoundCloudLinkCacheSize,
		},
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d out of range", ErrInvalidConfig, c.Server.Port)
	}
	if c.Resolver.PlaylistLimit <= 0 || c.Resolver.PlaylistLimit > MaxPlaylistLimit {
		return fmt.Errorf("%w: playlist limit must be between 1 and %d, got %d",
			ErrInvalidConfig, MaxPlaylistLimit, c.Resolver.PlaylistLimit)
	}
	if c.Resolver.HTTPTimeout < 0 {
		return fmt.Errorf("%w: negative HTTP timeout", ErrInvalidConfig)
	}
	if len(strings.TrimSpace(c.Resolver.AppleMusicStorefront)) != 2 {
		return fmt.Errorf("%w: Apple Music storefront must be a two letter country code, got %q",
			ErrInvalidConfig, c.Resolver.AppleMusicStorefront)
	}
	if c.Resolver.SoundCloudClientID == "" {
		return fmt.Errorf("%w: SoundCloud client id is required", ErrInvalidConfig)
	}
	if (c.Resolver.SpotifyClientID == "") != (c.Resolver.SpotifyClientSecret == "") {
		return fmt.Errorf("%w: Spotify client id and secret must be set together", ErrInvalidConfig)
	}
	return nil
}
