package musiclink

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// fakeService is an in-memory adapter counting every call.
type fakeService struct {
	name  string
	hosts []string
	types []string

	// songs maps "type/id" paths to existence.
	songs map[string]bool
	// render overrides the rendered info per id.
	render map[string]*RenderInfo
	// rebuildable lists ids that can be rebuilt.
	rebuildable map[string]bool

	parseCalls    atomic.Int32
	renderCalls   atomic.Int32
	validateCalls atomic.Int32
	rebuildCalls  atomic.Int32

	// block, when set, holds every upstream call until closed.
	block chan struct{}

	mu     sync.Mutex
	parser LinkParser
}

func newFakeService(name string, hosts ...string) *fakeService {
	return &fakeService{
		name:        name,
		hosts:       hosts,
		types:       []string{"track", "album"},
		songs:       map[string]bool{},
		render:      map[string]*RenderInfo{},
		rebuildable: map[string]bool{},
	}
}

func (f *fakeService) wait() {
	if f.block != nil {
		<-f.block
	}
}

func (f *fakeService) Name() string    { return f.name }
func (f *fakeService) Label() string   { return "Fake " + f.name }
func (f *fakeService) Hosts() []string { return f.hosts }
func (f *fakeService) Types() []string { return f.types }

func (f *fakeService) Parse(_ context.Context, _, _ string, path []string) *Song {
	f.parseCalls.Add(1)
	f.wait()
	if len(path) != 2 || !f.songs[path[0]+"/"+path[1]] {
		return nil
	}
	return &Song{Service: f.name, Type: path[0], ID: path[1]}
}

func (f *fakeService) Render(_ context.Context, typ, id string) *RenderInfo {
	f.renderCalls.Add(1)
	f.wait()
	if info, ok := f.render[id]; ok {
		return info
	}
	if !f.songs[typ+"/"+id] {
		return nil
	}
	return &RenderInfo{Form: FormSingle, Label: id, Single: &RenderSingle{}}
}

func (f *fakeService) Validate(_ context.Context, typ, id string) bool {
	f.validateCalls.Add(1)
	f.wait()
	return f.songs[typ+"/"+id]
}

func (f *fakeService) Rebuild(_ context.Context, typ, id string) string {
	f.rebuildCalls.Add(1)
	f.wait()
	if !f.rebuildable[id] {
		return ""
	}
	return fmt.Sprintf("https://%s/%s/%s", f.hosts[0], typ, id)
}

func (f *fakeService) BindParser(p LinkParser) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parser = p
}

func (f *fakeService) boundParser() LinkParser {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.parser
}

// fakeParser is a parse-only adapter.
type fakeParser struct {
	name  string
	hosts []string
	song  *Song
	calls atomic.Int32
}

func (f *fakeParser) Name() string    { return f.name }
func (f *fakeParser) Label() string   { return f.name }
func (f *fakeParser) Hosts() []string { return f.hosts }

func (f *fakeParser) Parse(context.Context, string, string, []string) *Song {
	f.calls.Add(1)
	return f.song
}

// fakeResetter counts token resets.
type fakeResetter struct {
	*fakeService
	resets atomic.Int32
}

func (f *fakeResetter) ResetToken() {
	f.resets.Add(1)
}

// stubLinkParser records the links it is asked to parse.
type stubLinkParser struct {
	mu    sync.Mutex
	links []string
	song  *Song
}

func (s *stubLinkParser) Parse(_ context.Context, link string) *Song {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append(s.links, link)
	return s.song
}

func (s *stubLinkParser) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.links...)
}
