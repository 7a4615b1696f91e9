package format

import (
	"html"
	"html/template"
	"regexp"
	"sync"
	"time"

	"github.com/erilali/whisper/internal/logger"
	"github.com/erilali/whisper/internal/util"
)

var placeholderPattern = regexp.MustCompile(`<span class="emoji" data-name="([a-z0-9_+\-]+)">:[a-z0-9_+\-]+:</span>`)

// Catalog maps emoji names to image URLs. It is filled once, usually in the background.
type Catalog struct {
	mu     sync.RWMutex
	urls   map[string]string
	loaded bool
	ready  chan struct{}
}

func NewCatalog() *Catalog {
	return &Catalog{ready: make(chan struct{})}
}

// Set installs the mapping. Only the first call has any effect.
func (c *Catalog) Set(urls map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return
	}
	c.urls = urls
	c.loaded = true
	close(c.ready)
}

func (c *Catalog) Lookup(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.urls[name]
	return u, ok
}

func (c *Catalog) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Ready is closed once the catalog has been set.
func (c *Catalog) Ready() <-chan struct{} { return c.ready }

// LoadAsync fetches the catalog from url without blocking the caller. A failed fetch installs an
// empty catalog so placeholders fall back to their literal text.
func (c *Catalog) LoadAsync(url string, timeout time.Duration, log *logger.Logger) {
	go func() {
		urls := map[string]string{}
		if err := util.FetchJSON(url, timeout, &urls); err != nil {
			log.Warnf("Emoji catalog unavailable: %v", err)
			urls = map[string]string{}
		} else {
			log.Infof("Loaded %d emoji", len(urls))
		}
		c.Set(urls)
	}()
}

// Resolver swaps emoji placeholders produced by Format for images once the catalog is loaded.
type Resolver struct {
	catalog *Catalog
}

func NewResolver(catalog *Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve replaces every unresolved placeholder in markup. Known names become images, unknown
// names become their literal :name: text. Resolved elements carry data-resolved and are never
// touched again, so calling Resolve repeatedly is safe. Before the catalog loads the markup is
// returned unchanged.
func (r *Resolver) Resolve(markup template.HTML) template.HTML {
	if r == nil || r.catalog == nil || !r.catalog.Loaded() {
		return markup
	}
	out := placeholderPattern.ReplaceAllStringFunc(string(markup), func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		if u, ok := r.catalog.Lookup(name); ok {
			return `<img class="emoji" data-resolved="true" src="` + html.EscapeString(u) + `" alt=":` + name + `:">`
		}
		return `<span class="emoji" data-resolved="true">:` + name + `:</span>`
	})
	return template.HTML(out)
}
