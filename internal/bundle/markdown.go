package bundle

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/briangreenhill/inkpot/internal/content"
	"github.com/briangreenhill/inkpot/internal/microcache"
)

// The goldmark instance is configured once and shared; Convert keeps its
// per-call state internally.
var (
	markdownOnce     sync.Once
	markdownInstance goldmark.Markdown
)

func markdownParser() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownInstance = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdownInstance
}

// Markdown converts article bodies to HTML, memoising results in the fragment
// cache. Raw HTML in the source is not passed through.
type Markdown struct {
	fragments *microcache.Cache[string, template.HTML]
}

// NewMarkdown returns a converter. fragments may be nil to disable caching.
func NewMarkdown(fragments *microcache.Cache[string, template.HTML]) *Markdown {
	return &Markdown{fragments: fragments}
}

// Article renders a.Content. The cache key includes the update time so an
// edited article is never served stale.
func (m *Markdown) Article(a content.Article) (template.HTML, error) {
	key := "article:" + a.ID + ":" + strconv.FormatInt(a.UpdatedAt.UnixNano(), 10)
	if m.fragments != nil {
		if html, ok := m.fragments.Get(key); ok {
			return html, nil
		}
	}

	html, err := m.Render(a.Content)
	if err != nil {
		return "", fmt.Errorf("article %s: %w", a.ID, err)
	}
	if m.fragments != nil {
		m.fragments.Set(key, html)
	}
	return html, nil
}

// Render converts src without caching.
func (m *Markdown) Render(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := markdownParser().Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}
	return template.HTML(buf.String()), nil
}
