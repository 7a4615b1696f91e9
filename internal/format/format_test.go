package format

import (
	"encoding/json"
	"html/template"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/erilali/whisper/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPipeline(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want template.HTML
	}{
		{"plain", "hello there", "hello there"},
		{"all inline styles", "*a* _b_ ~c~ `d`", "<strong>a</strong> <em>b</em> <s>c</s> <code>d</code>"},
		{"code does not shield bold", "`*x*`", "<code><strong>x</strong></code>"},
		{"markup is escaped", "<script>alert(1)</script>", "&lt;script&gt;alert(1)&lt;/script&gt;"},
		{"emoji placeholder", "hi :smile:", `hi <span class="emoji" data-name="smile">:smile:</span>`},
		{"unterminated markers stay", "2 * 3 = 6", "2 * 3 = 6"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.raw))
		})
	}
}

func TestFormatIsDeterministic(t *testing.T) {
	in := "*a* _b_ ~c~ `d` :wave: https://example.com"
	assert.Equal(t, Format(in), Format(in))
}

func TestFormatAutolinkSkipsEmoji(t *testing.T) {
	out := string(Format("look https://x.io/?a=1:b: :smile:"))

	assert.Contains(t, out, `<a href="https://x.io/?a=1:b:"`)
	assert.Contains(t, out, ":smile:")
	assert.NotContains(t, out, "emoji")
}

func TestFormatLinkBoundaries(t *testing.T) {
	quoted := string(Format(`"https://x.io/a"`))
	assert.Contains(t, quoted, `href="https://x.io/a"`)
	assert.Contains(t, quoted, `https://x.io/a</a>`)

	trailing := string(Format("see https://x.io/a. and https://x.io/b&"))
	assert.Contains(t, trailing, `<a href="https://x.io/a">https://x.io/a</a>.`)
	assert.Contains(t, trailing, `<a href="https://x.io/b">https://x.io/b</a>&amp;`)

	query := string(Format("https://x.io/?a=1&b=2"))
	assert.Contains(t, query, `href="https://x.io/?a=1&amp;b=2"`)
}

func TestFormatDropsUnsafeSchemes(t *testing.T) {
	out := string(Format("javascript:alert(1)"))
	assert.NotContains(t, out, "<a")
}

func TestResolverBeforeCatalogLoads(t *testing.T) {
	r := NewResolver(NewCatalog())
	markup := Format(":smile:")

	assert.Equal(t, markup, r.Resolve(markup))
}

func TestResolverResolvesOnce(t *testing.T) {
	catalog := NewCatalog()
	catalog.Set(map[string]string{"smile": "https://cdn.example.com/smile.png"})
	r := NewResolver(catalog)

	first := r.Resolve(Format(":smile: and :nope:"))
	assert.Equal(t,
		template.HTML(`<img class="emoji" data-resolved="true" src="https://cdn.example.com/smile.png" alt=":smile:"> and <span class="emoji" data-resolved="true">:nope:</span>`),
		first)
	assert.Equal(t, first, r.Resolve(first))
}

func TestCatalogSetOnlyOnce(t *testing.T) {
	catalog := NewCatalog()
	catalog.Set(map[string]string{"a": "1"})
	catalog.Set(map[string]string{"b": "2"})

	_, ok := catalog.Lookup("b")
	assert.False(t, ok)
	select {
	case <-catalog.Ready():
	default:
		t.Fatal("catalog should be ready")
	}
}

func TestCatalogLoadAsync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"party": "https://cdn.example.com/party.gif"})
	}))
	defer srv.Close()

	catalog := NewCatalog()
	catalog.LoadAsync(srv.URL, time.Second, logger.Nop())

	select {
	case <-catalog.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("catalog never loaded")
	}
	u, ok := catalog.Lookup("party")
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/party.gif", u)
}

func TestCatalogLoadAsyncFailureFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	catalog := NewCatalog()
	catalog.LoadAsync(srv.URL, time.Second, logger.Nop())

	select {
	case <-catalog.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("catalog never settled")
	}
	out := NewResolver(catalog).Resolve(Format(":smile:"))
	assert.Equal(t, template.HTML(`<span class="emoji" data-resolved="true">:smile:</span>`), out)
}
