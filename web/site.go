// Package web serves the MakeMeLearn landing site: a handful of pages rendered
// from one layout, the static assets they load and the robots/sitemap files.
package web

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed site.yaml
var defaultSiteYAML []byte

type Link struct {
	Href     string `yaml:"href"`
	Text     string `yaml:"text"`
	External bool   `yaml:"external"`
}

type FooterSection struct {
	Title string `yaml:"title"`
	Links []Link `yaml:"links"`
}

// Page is one landing page. Template names the content block under templates/.
type Page struct {
	Path        string  `yaml:"path"`
	Template    string  `yaml:"template"`
	Title       string  `yaml:"title"`
	Description string  `yaml:"description"`
	Priority    float64 `yaml:"priority"`
	// Hidden pages are served but left out of the sitemap and marked noindex.
	Hidden bool `yaml:"hidden"`
}

// SiteConfig drives the shared layout: navigation, footer and the page list.
type SiteConfig struct {
	Name         string          `yaml:"name"`
	Tagline      string          `yaml:"tagline"`
	BaseURL      string          `yaml:"baseURL"`
	BasePath     string          `yaml:"basePath"`
	APIBase      string          `yaml:"apiBase"`
	SupportEmail string          `yaml:"supportEmail"`
	Nav          []Link          `yaml:"nav"`
	Footer       []FooterSection `yaml:"footer"`
	Pages        []Page          `yaml:"pages"`
}

// DefaultSiteConfig returns the embedded site.yaml.
func DefaultSiteConfig() (SiteConfig, error) {
	return ParseSiteConfig(defaultSiteYAML)
}

// ParseSiteConfig decodes a YAML site description. Unknown keys are rejected.
func ParseSiteConfig(data []byte) (SiteConfig, error) {
	var cfg SiteConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return SiteConfig{}, fmt.Errorf("decode site config: %w", err)
	}
	if cfg.BasePath == "" {
		cfg.BasePath = "/"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if err := cfg.validate(); err != nil {
		return SiteConfig{}, err
	}
	return cfg, nil
}

func (c SiteConfig) validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("site name is required"))
	}
	if !strings.HasPrefix(c.BasePath, "/") {
		errs = append(errs, fmt.Errorf("basePath %q must start with /", c.BasePath))
	}
	if len(c.Pages) == 0 {
		errs = append(errs, errors.New("at least one page is required"))
	}
	seen := make(map[string]bool, len(c.Pages))
	for _, p := range c.Pages {
		switch {
		case !strings.HasPrefix(p.Path, "/"):
			errs = append(errs, fmt.Errorf("page path %q must start with /", p.Path))
		case seen[p.Path]:
			errs = append(errs, fmt.Errorf("duplicate page path %q", p.Path))
		}
		seen[p.Path] = true
		if p.Template == "" {
			errs = append(errs, fmt.Errorf("page %q has no template", p.Path))
		}
	}
	return errors.Join(errs...)
}

// URL prefixes a site-relative href with the base path. External and absolute URLs
// pass through.
func (c SiteConfig) URL(href string) string {
	if !strings.HasPrefix(href, "/") {
		return href
	}
	base := strings.TrimRight(c.BasePath, "/")
	if href == "/" && base != "" {
		return base + "/"
	}
	return base + href
}

// AbsoluteURL is URL anchored at BaseURL, for canonical links and the sitemap.
func (c SiteConfig) AbsoluteURL(href string) string {
	return c.BaseURL + c.URL(href)
}
