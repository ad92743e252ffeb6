package bundle

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Files and directories inside a bundle directory.
const (
	SpecFile           = "server-bundle.yaml"
	TemplateDir        = "templates"
	ClientManifestFile = "client-manifest.json"
	StaticDir          = "static"
)

// ErrBundleInvalid wraps every structural problem found while loading a bundle.
var ErrBundleInvalid = errors.New("bundle: invalid")

// Spec is the server bundle's route table.
type Spec struct {
	Routes    []RouteSpec    `yaml:"routes"`
	Redirects []RedirectSpec `yaml:"redirects"`
}

// RouteSpec binds a chi pattern to a template and a data loader.
type RouteSpec struct {
	Pattern  string `yaml:"pattern"`
	Template string `yaml:"template"`
	Data     string `yaml:"data"`
}

// RedirectSpec sends From to To. To may reference From's params as {name}.
type RedirectSpec struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// ParseSpec decodes and validates a route table. Routes without a data
// loader use "none".
func ParseSpec(data []byte) (*Spec, error) {
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrBundleInvalid, SpecFile, err)
	}
	if len(s.Routes) == 0 {
		return nil, fmt.Errorf("%w: %s declares no routes", ErrBundleInvalid, SpecFile)
	}

	seen := make(map[string]bool, len(s.Routes))
	for i := range s.Routes {
		rt := &s.Routes[i]
		if !strings.HasPrefix(rt.Pattern, "/") {
			return nil, fmt.Errorf("%w: route %d: pattern %q must start with /", ErrBundleInvalid, i, rt.Pattern)
		}
		if seen[rt.Pattern] {
			return nil, fmt.Errorf("%w: duplicate route %q", ErrBundleInvalid, rt.Pattern)
		}
		seen[rt.Pattern] = true
		if rt.Template == "" {
			return nil, fmt.Errorf("%w: route %q has no template", ErrBundleInvalid, rt.Pattern)
		}
		if rt.Data == "" {
			rt.Data = "none"
		}
	}
	for i, rd := range s.Redirects {
		if !strings.HasPrefix(rd.From, "/") || rd.To == "" {
			return nil, fmt.Errorf("%w: redirect %d: need from starting with / and a target", ErrBundleInvalid, i)
		}
	}
	return &s, nil
}
