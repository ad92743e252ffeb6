package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/tidwall/jsonc"
)

// ClientManifest lists the client build's assets. Optional: without it pages
// render with no asset tags. Comments and trailing commas are accepted.
type ClientManifest struct {
	PublicPath string   `json:"publicPath"`
	Initial    []string `json:"initial"`
	Async      []string `json:"async"`
}

// ParseClientManifest decodes a JSON or JSONC manifest.
func ParseClientManifest(data []byte) (*ClientManifest, error) {
	var m ClientManifest
	if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
		return nil, fmt.Errorf("parsing client manifest: %w", err)
	}
	return &m, nil
}

// readClientManifest returns nil, nil when the file does not exist.
func readClientManifest(file string) (*ClientManifest, error) {
	data, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", file, err)
	}
	return ParseClientManifest(data)
}

// Assets resolves the manifest into public URLs grouped by how a page
// should reference them.
func (m *ClientManifest) Assets() Assets {
	var a Assets
	if m == nil {
		return a
	}
	for _, f := range m.Initial {
		u := publicURL(m.PublicPath, f)
		switch {
		case strings.HasSuffix(f, ".css"):
			a.Styles = append(a.Styles, u)
		case strings.HasSuffix(f, ".js"):
			a.Scripts = append(a.Scripts, u)
		}
	}
	for _, f := range m.Async {
		if strings.HasSuffix(f, ".js") || strings.HasSuffix(f, ".css") {
			a.Prefetch = append(a.Prefetch, publicURL(m.PublicPath, f))
		}
	}
	return a
}

func publicURL(base, file string) string {
	if base == "" {
		base = "/"
	}
	if strings.HasSuffix(base, "/") {
		return base + strings.TrimPrefix(file, "/")
	}
	return path.Join(base, file)
}

// Assets are the tags a page template injects.
type Assets struct {
	Styles   []string
	Scripts  []string
	Prefetch []string
}

// Head renders stylesheet, preload and prefetch links.
func (a Assets) Head() template.HTML {
	var b strings.Builder
	for _, s := range a.Scripts {
		fmt.Fprintf(&b, `<link rel="preload" href="%s" as="script">`, template.HTMLEscapeString(s))
	}
	for _, s := range a.Styles {
		fmt.Fprintf(&b, `<link rel="preload" href="%s" as="style">`, template.HTMLEscapeString(s))
	}
	for _, s := range a.Prefetch {
		fmt.Fprintf(&b, `<link rel="prefetch" href="%s">`, template.HTMLEscapeString(s))
	}
	for _, s := range a.Styles {
		fmt.Fprintf(&b, `<link rel="stylesheet" href="%s">`, template.HTMLEscapeString(s))
	}
	return template.HTML(b.String())
}

// Body renders the script tags for initial chunks.
func (a Assets) Body() template.HTML {
	var b strings.Builder
	for _, s := range a.Scripts {
		fmt.Fprintf(&b, `<script src="%s" defer></script>`, template.HTMLEscapeString(s))
	}
	return template.HTML(b.String())
}
