package core

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"songspotlight/pkg/musiclink"
)

// NewEngine builds the resolution engine with the shipped adapters registered in dispatch order.
// Metrics are registered with reg when it is non-nil.
func NewEngine(cfg *ResolverConfig, logger *zap.Logger, reg prometheus.Registerer) (*musiclink.Engine, error) {
	var metrics *musiclink.Metrics
	if reg != nil {
		metrics = musiclink.NewMetrics(reg)
	}

	client := musiclink.NewClient(cfg.HTTPTimeout, metrics)

	registry, err := musiclink.NewRegistry(
		musiclink.NewSpotify(client, musiclink.SpotifyConfig{
			PlaylistLimit: cfg.PlaylistLimit,
			ClientID:      cfg.SpotifyClientID,
			ClientSecret:  cfg.SpotifyClientSecret,
		}, logger.Named("spotify")),
		musiclink.NewSoundCloud(client, musiclink.SoundCloudConfig{
			ClientID:      cfg.SoundCloudClientID,
			AppVersion:    cfg.SoundCloudAppVersion,
			PlaylistLimit: cfg.PlaylistLimit,
			LinkCacheSize: cfg.SoundCloudLinkCacheSize,
		}, logger.Named("soundcloud")),
		musiclink.NewAppleMusic(client, musiclink.AppleMusicConfig{
			Storefront:    cfg.AppleMusicStorefront,
			PlaylistLimit: cfg.PlaylistLimit,
		}, logger.Named("applemusic")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register adapters: %w", err)
	}

	opts := []musiclink.Option{
		musiclink.WithLogger(logger.Named("engine")),
		musiclink.WithMetrics(metrics),
		musiclink.WithPlaylistLimit(cfg.PlaylistLimit),
	}
	if cfg.DedupInFlight {
		opts = append(opts, musiclink.WithInFlightDedup())
	}

	return musiclink.NewEngine(registry, opts...), nil
}
