// Package main provides the songspotlight CLI application entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"songspotlight/internal/core"
	httpserver "songspotlight/internal/http"
	"songspotlight/pkg/musiclink"
	"songspotlight/pkg/text"
)

const envPrefix = "SONGSPOTLIGHT"

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var errInvalidSID = errors.New("song identifier must be service:type:id")

var rootCmd = &cobra.Command{
	Use:   "songspotlight",
	Short: "songspotlight - music link resolver",
	Long: `songspotlight resolves Spotify, SoundCloud and Apple Music links into canonical song
identifiers, checks that they exist, renders display metadata and rebuilds canonical links.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP resolution service",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var parseCmd = &cobra.Command{
	Use:   "parse <link or text>...",
	Short: "Parse links into song identifiers",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runParse,
}

var renderCmd = &cobra.Command{
	Use:   "render <service:type:id>",
	Short: "Render display metadata for a song",
	Args:  cobra.ExactArgs(1),
	RunE: songCommand(func(ctx context.Context, engine *musiclink.Engine, song musiclink.Song) any {
		return engine.Render(ctx, song)
	}),
}

var validateCmd = &cobra.Command{
	Use:   "validate <service:type:id>",
	Short: "Check that a song exists",
	Args:  cobra.ExactArgs(1),
	RunE: songCommand(func(ctx context.Context, engine *musiclink.Engine, song musiclink.Song) any {
		return engine.Validate(ctx, song)
	}),
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild <service:type:id>",
	Short: "Rebuild the canonical link of a song",
	Args:  cobra.ExactArgs(1),
	RunE: songCommand(func(ctx context.Context, engine *musiclink.Engine, song musiclink.Song) any {
		if link := engine.Rebuild(ctx, song); link != "" {
			return link
		}
		return nil
	}),
}

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List supported services",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		engine, err := core.NewEngine(&config.Resolver, logger, nil)
		if err != nil {
			return err
		}
		for _, s := range engine.Registry().Services() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-12s types=%s hosts=%s\n",
				s.Name(), s.Label(), strings.Join(s.Types(), ","), strings.Join(s.Hosts(), ","))
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log encoding (json, console)")
	rootCmd.PersistentFlags().String("server-host", core.DefaultServerHost, "HTTP server host")
	rootCmd.PersistentFlags().Int("server-port", core.DefaultServerPort, "HTTP server port")
	rootCmd.PersistentFlags().Int("playlist-limit", musiclink.DefaultPlaylistLimit, "Maximum entries in a list render")
	rootCmd.PersistentFlags().Duration("http-timeout", 0, "Upstream request timeout (0 disables)")
	rootCmd.PersistentFlags().Bool("dedup-in-flight", false, "Share one upstream resolution between concurrent identical requests")
	rootCmd.PersistentFlags().String("applemusic-storefront", musiclink.DefaultAppleMusicStorefront, "Apple Music storefront")
	rootCmd.PersistentFlags().String("soundcloud-client-id", musiclink.DefaultSoundCloudClientID, "SoundCloud widget client id")
	rootCmd.PersistentFlags().String("soundcloud-app-version", musiclink.DefaultSoundCloudAppVersion, "SoundCloud widget app version")
	rootCmd.PersistentFlags().String("spotify-client-id", "", "Spotify Web API client id (optional)")
	rootCmd.PersistentFlags().String("spotify-client-secret", "", "Spotify Web API client secret (optional)")
	rootCmd.PersistentFlags().Int("soundcloud-link-cache-size", musiclink.DefaultSoundCloudLinkCacheSize, "Number of parsed SoundCloud links remembered for rebuild")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(serveCmd, parseCmd, renderCmd, validateCmd, rebuildCmd, servicesCmd)
}

func initConfig() {
	// Load .env file explicitly using gotenv
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}

	if err := gotenv.Load(envFile); err != nil {
		// Don't exit if .env file doesn't exist, just warn
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(config.Log.Level, config.Log.Format)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	configureServer(cfg)
	configureResolver(cfg)

	return cfg
}

func configureServer(cfg *core.Config) {
	cfg.Server.Host = viper.GetString("server-host")
	if cfg.Server.Host == "" {
		cfg.Server.Host = core.DefaultServerHost
	}
	cfg.Server.Port = viper.GetInt("server-port")
	cfg.Log.Level = viper.GetString("log-level")
	cfg.Log.Format = viper.GetString("log-format")
}

func configureResolver(cfg *core.Config) {
	cfg.Resolver.PlaylistLimit = viper.GetInt("playlist-limit")
	cfg.Resolver.HTTPTimeout = viper.GetDuration("http-timeout")
	cfg.Resolver.DedupInFlight = viper.GetBool("dedup-in-flight")
	cfg.Resolver.AppleMusicStorefront = strings.ToLower(viper.GetString("applemusic-storefront"))
	cfg.Resolver.SoundCloudClientID = viper.GetString("soundcloud-client-id")
	cfg.Resolver.SoundCloudAppVersion = viper.GetString("soundcloud-app-version")
	cfg.Resolver.SoundCloudLinkCacheSize = viper.GetInt("soundcloud-link-cache-size")
	cfg.Resolver.SpotifyClientID = viper.GetString("spotify-client-id")
	cfg.Resolver.SpotifyClientSecret = viper.GetString("spotify-client-secret")
}

func buildLogger(level, format string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	if strings.EqualFold(format, "console") {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func runServe(_ *cobra.Command, _ []string) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine, err := core.NewEngine(&config.Resolver, logger, registry)
	if err != nil {
		return err
	}

	logger.Info("Starting songspotlight",
		zap.Int("playlist_limit", config.Resolver.PlaylistLimit),
		zap.Bool("dedup_in_flight", config.Resolver.DedupInFlight),
		zap.Int("services", len(engine.Registry().Services())))

	server := httpserver.NewServer(&config.Server, engine, registry, logger.Named("http"))

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("songspotlight stopped with error", zap.Error(err))
		return err
	}

	logger.Info("songspotlight stopped gracefully")
	return nil
}

func runParse(cmd *cobra.Command, args []string) error {
	engine, err := newCLIEngine()
	if err != nil {
		return err
	}

	links := text.ExtractURLs(strings.Join(args, " "))
	if len(links) == 0 {
		return fmt.Errorf("no links found in input")
	}

	results := make(map[string]*musiclink.Song, len(links))
	for _, link := range links {
		results[link] = engine.Parse(cmd.Context(), link)
	}
	return printJSON(cmd.OutOrStdout(), results)
}

// songCommand adapts an engine operation on a song identifier argument into a cobra handler.
func songCommand(op func(context.Context, *musiclink.Engine, musiclink.Song) any) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		song, ok := musiclink.ParseSID(args[0])
		if !ok {
			return fmt.Errorf("%w: %q", errInvalidSID, args[0])
		}
		engine, err := newCLIEngine()
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), op(cmd.Context(), engine, song))
	}
}

func newCLIEngine() (*musiclink.Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return core.NewEngine(&config.Resolver, logger, nil)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
