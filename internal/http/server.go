package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"songspotlight/internal/core"
	"songspotlight/pkg/musiclink"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	config *core.ServerConfig
	logger *zap.Logger
	server *http.Server
}

type serviceInfo struct {
	Name  string   `json:"name"`
	Label string   `json:"label"`
	Hosts []string `json:"hosts"`
	Types []string `json:"types"`
}

type parseResponse struct {
	Song *musiclink.Song `json:"song"`
	SID  string          `json:"sid,omitempty"`
}

type renderResponse struct {
	Render       *musiclink.RenderInfo `json:"render"`
	ListLayout   bool                  `json:"listLayout"`
	ServiceLabel string                `json:"serviceLabel,omitempty"`
	Duration     string                `json:"duration,omitempty"`
}

type validateResponse struct {
	Valid bool `json:"valid"`
}

type rebuildResponse struct {
	Link *string `json:"link"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewServer(config *core.ServerConfig, engine *musiclink.Engine, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	mux := setupRoutes(engine, gatherer, logger)
	return &Server{
		config: config,
		logger: logger,
		server: createHTTPServer(config, mux),
	}
}

func createHTTPServer(config *core.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
}

func setupRoutes(engine *musiclink.Engine, gatherer prometheus.Gatherer, logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "ok", "service": "songspotlight"})
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "ready", "service": "songspotlight"})
	})

	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("GET /v1/services", func(w http.ResponseWriter, _ *http.Request) {
		services := engine.Registry().Services()
		out := make([]serviceInfo, 0, len(services))
		for _, s := range services {
			out = append(out, serviceInfo{Name: s.Name(), Label: s.Label(), Hosts: s.Hosts(), Types: s.Types()})
		}
		writeJSON(w, logger, http.StatusOK, out)
	})

	mux.HandleFunc("GET /v1/parse", func(w http.ResponseWriter, r *http.Request) {
		link := r.URL.Query().Get("url")
		if link == "" {
			writeJSON(w, logger, http.StatusBadRequest, errorResponse{Error: "missing url parameter"})
			return
		}
		song := engine.Parse(r.Context(), link)
		resp := parseResponse{Song: song}
		if song != nil {
			resp.SID = song.SID()
		}
		writeJSON(w, logger, http.StatusOK, resp)
	})

	mux.HandleFunc("GET /v1/render", withSong(logger, func(w http.ResponseWriter, r *http.Request, song musiclink.Song) {
		info := engine.Render(r.Context(), song)
		resp := renderResponse{
			Render:     info,
			ListLayout: musiclink.IsListLayout(song, info),
		}
		if info != nil {
			resp.ServiceLabel, _ = engine.Registry().Label(song.Service)
			if info.Single != nil && info.Single.Audio != nil {
				resp.Duration = musiclink.FormatDuration(info.Single.Audio.Duration)
			}
		}
		writeJSON(w, logger, http.StatusOK, resp)
	}))

	mux.HandleFunc("GET /v1/validate", withSong(logger, func(w http.ResponseWriter, r *http.Request, song musiclink.Song) {
		writeJSON(w, logger, http.StatusOK, validateResponse{Valid: engine.Validate(r.Context(), song)})
	}))

	mux.HandleFunc("GET /v1/rebuild", withSong(logger, func(w http.ResponseWriter, r *http.Request, song musiclink.Song) {
		var resp rebuildResponse
		if link := engine.Rebuild(r.Context(), song); link != "" {
			resp.Link = &link
		}
		writeJSON(w, logger, http.StatusOK, resp)
	}))

	mux.HandleFunc("GET /v1/cache", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, logger, http.StatusOK, engine.CacheStats())
	})

	mux.HandleFunc("POST /v1/cache/clear", func(w http.ResponseWriter, r *http.Request) {
		engine.ClearCache()
		if tokens, _ := strconv.ParseBool(r.URL.Query().Get("tokens")); tokens {
			engine.ResetTokens()
		}
		writeJSON(w, logger, http.StatusOK, engine.CacheStats())
	})

	return mux
}

// withSong decodes the sid query parameter before calling next.
func withSong(logger *zap.Logger, next func(http.ResponseWriter, *http.Request, musiclink.Song)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		song, ok := musiclink.ParseSID(r.URL.Query().Get("sid"))
		if !ok {
			writeJSON(w, logger, http.StatusBadRequest, errorResponse{Error: "sid must be service:type:id"})
			return
		}
		next(w, r, song)
	}
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Debug("Failed to write response", zap.Error(err))
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}
