// Package content defines the contract between the request router and the
// dynamic content handlers, and keeps the process-wide handler registry.
//
// A handler is looked up by key, the first path segment after the route
// marker. Handlers are created lazily on first use and then shared by every
// later request for the same key, so they must be safe for concurrent use.
package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/Tyrowin/gamedesk/internal/document"
)

// Params holds decoded query arguments.
type Params map[string]string

// Get returns the value of key and whether it was present.
func (p Params) Get(key string) (string, bool) {
	v, ok := p[key]
	return v, ok
}

// Content is what a handler produces: Text, Bytes or File.
type Content interface {
	isContent()
}

// Text is a textual body. The router terminates it with a newline.
type Text string

// Bytes is a raw body written verbatim.
type Bytes []byte

// File is a path whose bytes are streamed as the body.
type File string

func (Text) isContent()  {}
func (Bytes) isContent() {}
func (File) isContent()  {}

// Handler serves one dynamic route.
type Handler interface {
	// ContentType is called before the body is produced.
	ContentType(params Params) string
	// Content produces the body. privileged is true on the GM listener.
	Content(ctx context.Context, params Params, privileged bool) (Content, error)
}

// Publisher pushes text to the WebSocket subscribers of a channel.
type Publisher interface {
	Publish(channel, text string) int
}

// Renderer runs the transform facility.
type Renderer interface {
	Render(w io.Writer, name string, data *document.Element) error
}

// Deps are the collaborators handed to every factory.
type Deps struct {
	Store     *document.Store
	Publisher Publisher
	Renderer  Renderer
	Logger    *slog.Logger
}

// Factory builds the handler for key. The key doubles as the handler's
// push channel.
type Factory func(key string, deps Deps) (Handler, error)

// Registry maps route keys to factories and caches built handlers.
type Registry struct {
	deps Deps

	mu        sync.Mutex
	factories map[string]Factory
	instances map[string]Handler
}

// NewRegistry creates an empty registry whose factories receive deps.
func NewRegistry(deps Deps) *Registry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Registry{
		deps:      deps,
		factories: make(map[string]Factory),
		instances: make(map[string]Handler),
	}
}

// Register binds key to a factory. Registering a key twice replaces the
// factory and drops any cached instance.
func (r *Registry) Register(key string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key] = f
	delete(r.instances, key)
}

// Keys returns the registered keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ErrNoHandler is returned by Lookup for unknown keys.
var ErrNoHandler = errors.New("no handler")

// Lookup returns the handler for key, building it on first use. A factory
// error is returned as is and nothing is cached, so the next request retries.
func (r *Registry) Lookup(key string) (Handler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.instances[key]; ok {
		return h, nil
	}
	f, ok := r.factories[key]
	if !ok {
		return nil, fmt.Errorf("%w for %q", ErrNoHandler, key)
	}
	h, err := f(key, r.deps)
	if err != nil {
		return nil, fmt.Errorf("create handler %s: %w", key, err)
	}
	r.instances[key] = h
	r.deps.Logger.Info("handler created", "key", key)
	return h, nil
}

// Has reports whether key is registered.
func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.factories[key]
	return ok
}

// TemplateName maps a template argument to a renderer name: the legacy .xsl
// extension is dropped and leading "./" segments are ignored.
func TemplateName(arg string) string {
	name := strings.TrimSuffix(arg, ".xsl")
	for strings.HasPrefix(name, "./") {
		name = name[2:]
	}
	return strings.TrimPrefix(name, "/")
}
