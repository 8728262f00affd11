package web

import (
	"embed"
	"encoding/xml"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
)

//go:embed assets/*
var assetsFS embed.FS

// AssetsHandler serves the embedded stylesheet and script under /assets/.
func AssetsHandler() http.Handler {
	sub, err := fs.Sub(assetsFS, "assets")
	if err != nil {
		// The path is fixed at compile time.
		panic("web: assets sub-filesystem: " + err.Error())
	}
	files := http.StripPrefix("/assets/", http.FileServer(http.FS(sub)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=86400")
		files.ServeHTTP(w, r)
	})
}

// RobotsTxtHandler serves robots.txt pointing crawlers at the sitemap.
func RobotsTxtHandler(cfg SiteConfig) http.Handler {
	var b strings.Builder
	b.WriteString("User-agent: *\nAllow: /\n")
	for _, p := range cfg.Pages {
		if p.Hidden {
			fmt.Fprintf(&b, "Disallow: %s\n", cfg.URL(p.Path))
		}
	}
	fmt.Fprintf(&b, "\nSitemap: %s\n", cfg.AbsoluteURL("/sitemap.xml"))
	body := []byte(b.String())

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=86400") // Cache for 1 day
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	})
}

type sitemapURL struct {
	Loc      string `xml:"loc"`
	Priority string `xml:"priority,omitempty"`
}

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

// BuildSitemap lists every page that is not hidden.
func BuildSitemap(cfg SiteConfig) ([]byte, error) {
	set := urlSet{XMLNS: "http://www.sitemaps.org/schemas/sitemap/0.9"}
	for _, p := range cfg.Pages {
		if p.Hidden {
			continue
		}
		u := sitemapURL{Loc: cfg.AbsoluteURL(p.Path)}
		if p.Priority > 0 {
			u.Priority = fmt.Sprintf("%.1f", p.Priority)
		}
		set.URLs = append(set.URLs, u)
	}
	out, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal sitemap: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// SitemapHandler serves sitemap.xml built from the page list.
func SitemapHandler(cfg SiteConfig) http.Handler {
	body, err := BuildSitemap(cfg)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=86400") // Cache for 1 day
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	})
}
