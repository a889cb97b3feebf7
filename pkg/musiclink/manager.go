package musiclink

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"songspotlight/pkg/text"
)

const (
	opParse    = "parse"
	opRebuild  = "rebuild"
	opRender   = "render"
	opValidate = "validate"

	// noService labels resolutions that matched no adapter.
	noService = "none"
)

// Engine resolves links and songs through the registered adapters, memoizing every outcome.
type Engine struct {
	registry     *Registry
	cache        *Cache
	logger       *zap.Logger
	metrics      *Metrics
	canonicalize func(string) string
	limit        int
	flight       *singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithCache injects the cache, mostly for test isolation.
func WithCache(cache *Cache) Option {
	return func(e *Engine) {
		if cache != nil {
			e.cache = cache
		}
	}
}

// WithMetrics attaches prometheus metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// WithCanonicalizer replaces the function used to derive parse cache keys.
func WithCanonicalizer(fn func(string) string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.canonicalize = fn
		}
	}
}

// WithPlaylistLimit sets the ceiling applied to list renders.
func WithPlaylistLimit(limit int) Option {
	return func(e *Engine) {
		if limit > 0 {
			e.limit = limit
		}
	}
}

// WithInFlightDedup collapses concurrent misses on the same key into one upstream resolution.
// Without it, concurrent misses each resolve and the last write wins.
func WithInFlightDedup() Option {
	return func(e *Engine) {
		e.flight = &singleflight.Group{}
	}
}

// NewEngine creates an engine over registry. Adapters implementing ParserBinder are bound to the engine.
func NewEngine(registry *Registry, opts ...Option) *Engine {
	e := &Engine{
		registry:     registry,
		cache:        NewCache(),
		logger:       zap.NewNop(),
		canonicalize: text.Canonicalize,
		limit:        DefaultPlaylistLimit,
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, p := range registry.Parsers() {
		e.bind(p)
	}
	return e
}

// Register adds an adapter after construction.
func (e *Engine) Register(p Parser) error {
	if err := e.registry.Register(p); err != nil {
		return err
	}
	e.bind(p)
	return nil
}

func (e *Engine) bind(p Parser) {
	if b, ok := p.(ParserBinder); ok {
		b.BindParser(e)
	}
}

// Registry returns the engine's adapter registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// CacheStats returns the current cache table sizes.
func (e *Engine) CacheStats() CacheStats {
	return e.cache.Stats()
}

// Parse resolves a link into a song, or nil when no adapter recognizes it.
// Both outcomes are cached under the canonical link; a success also marks the song as valid.
func (e *Engine) Parse(ctx context.Context, rawURL string) *Song {
	link := e.canonicalize(rawURL)
	if song, ok := e.cache.parsed(link); ok {
		e.metrics.recordLookup(opParse, true)
		return copySong(song)
	}
	e.metrics.recordLookup(opParse, false)

	song, _ := e.once(opParse, link, func() any {
		song := e.parse(ctx, link)
		e.cache.storeParsed(link, song)
		return song
	}).(*Song)
	return copySong(song)
}

func (e *Engine) parse(ctx context.Context, link string) *Song {
	u, err := url.Parse(link)
	if err != nil || u.Hostname() == "" {
		e.logger.Debug("Unparseable link", zap.String("link", link), zap.Error(err))
		e.metrics.recordResolution(opParse, noService, false)
		return nil
	}

	host := strings.ToLower(u.Hostname())
	path, ok := pathSegments(u.EscapedPath())
	if !ok {
		e.logger.Debug("Malformed link path", zap.String("link", link))
		e.metrics.recordResolution(opParse, noService, false)
		return nil
	}

	for _, p := range e.registry.ParsersFor(host) {
		if song := p.Parse(ctx, link, host, path); song != nil {
			e.logger.Debug("Parsed link",
				zap.String("link", link),
				zap.String("sid", song.SID()))
			e.metrics.recordResolution(opParse, p.Name(), true)
			return song
		}
	}

	e.metrics.recordResolution(opParse, noService, false)
	return nil
}

// Rebuild returns the canonical link of song, or "" when it cannot be rebuilt.
// A rebuilt link marks the song as valid.
func (e *Engine) Rebuild(ctx context.Context, song Song) string {
	sid := song.SID()
	if link, ok := e.cache.rebuilt(sid); ok {
		e.metrics.recordLookup(opRebuild, true)
		return link
	}
	e.metrics.recordLookup(opRebuild, false)

	link, _ := e.once(opRebuild, sid, func() any {
		var link string
		if s, ok := e.registry.guard(song); ok {
			link = s.Rebuild(ctx, song.Type, song.ID)
		}
		e.metrics.recordResolution(opRebuild, song.Service, link != "")
		e.cache.storeRebuilt(sid, link)
		return link
	}).(string)
	return link
}

// Render returns display information for song, or nil. The result is the caller's own copy.
// Unlike Parse and Rebuild, a render never marks the song as valid.
func (e *Engine) Render(ctx context.Context, song Song) *RenderInfo {
	sid := song.SID()
	if info, ok := e.cache.rendered(sid); ok {
		e.metrics.recordLookup(opRender, true)
		return copyRenderInfo(info)
	}
	e.metrics.recordLookup(opRender, false)

	info, _ := e.once(opRender, sid, func() any {
		var info *RenderInfo
		if s, ok := e.registry.guard(song); ok {
			info = s.Render(ctx, song.Type, song.ID)
		}
		if info != nil && info.Form == FormList {
			info.List = truncateEntries(info.List, e.limit)
		}
		e.metrics.recordResolution(opRender, song.Service, info != nil)
		e.cache.storeRendered(sid, info)
		return info
	}).(*RenderInfo)
	return copyRenderInfo(info)
}

// Validate reports whether song exists upstream.
func (e *Engine) Validate(ctx context.Context, song Song) bool {
	sid := song.SID()
	if valid, ok := e.cache.validated(sid); ok {
		e.metrics.recordLookup(opValidate, true)
		return valid
	}
	e.metrics.recordLookup(opValidate, false)

	valid, _ := e.once(opValidate, sid, func() any {
		valid := false
		if s, ok := e.registry.guard(song); ok {
			valid = s.Validate(ctx, song.Type, song.ID)
		}
		e.metrics.recordResolution(opValidate, song.Service, valid)
		e.cache.storeValidated(sid, valid)
		return valid
	}).(bool)
	return valid
}

// ClearCache drops every cached outcome.
func (e *Engine) ClearCache() {
	e.cache.Clear()
	e.metrics.recordClear()
	e.logger.Info("Cleared resolution cache")
}

// ResetTokens empties the token slots of adapters holding one.
func (e *Engine) ResetTokens() {
	for _, p := range e.registry.Parsers() {
		if r, ok := p.(TokenResetter); ok {
			r.ResetToken()
			e.logger.Info("Reset provider token", zap.String("service", p.Name()))
		}
	}
}

// once runs fn directly, or through the single-flight group when enabled.
func (e *Engine) once(op, key string, fn func() any) any {
	if e.flight == nil {
		return fn()
	}
	v, _, _ := e.flight.Do(op+"\x00"+key, func() (any, error) {
		return fn(), nil
	})
	return v
}

// pathSegments splits an escaped URL path into its non-empty, unescaped segments.
// It fails when a segment does not unescape or decodes to a path, query or fragment delimiter.
func pathSegments(escaped string) ([]string, bool) {
	var segments []string
	for _, raw := range strings.Split(escaped, "/") {
		if raw == "" {
			continue
		}
		s, err := url.PathUnescape(raw)
		if err != nil || strings.ContainsAny(s, "/?#") {
			return nil, false
		}
		segments = append(segments, s)
	}
	return segments, true
}

func copySong(song *Song) *Song {
	if song == nil {
		return nil
	}
	c := *song
	return &c
}

func copyRenderInfo(info *RenderInfo) *RenderInfo {
	if info == nil {
		return nil
	}
	c := *info
	if info.Single != nil {
		single := RenderSingle{Audio: copyAudio(info.Single.Audio)}
		c.Single = &single
	}
	if info.List != nil {
		c.List = make([]RenderEntry, len(info.List))
		for i, entry := range info.List {
			entry.Audio = copyAudio(entry.Audio)
			c.List[i] = entry
		}
	}
	return &c
}

func copyAudio(audio *Audio) *Audio {
	if audio == nil {
		return nil
	}
	c := *audio
	return &c
}
