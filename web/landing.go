package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"
)

//go:embed templates/*.html
var templatesFS embed.FS

type pageData struct {
	Site SiteConfig
	Page Page
	Year int
}

// Site renders the configured pages. Templates are parsed once at construction.
type Site struct {
	cfg   SiteConfig
	pages map[string]*template.Template
	now   func() time.Time
}

func NewSite(cfg SiteConfig) (*Site, error) {
	funcs := template.FuncMap{
		"url":    cfg.URL,
		"absURL": cfg.AbsoluteURL,
		"link": func(l Link) string {
			if l.External {
				return l.Href
			}
			return cfg.URL(l.Href)
		},
	}
	layout, err := template.New("layout").Funcs(funcs).ParseFS(templatesFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	s := &Site{cfg: cfg, pages: make(map[string]*template.Template, len(cfg.Pages)), now: time.Now}
	for _, p := range cfg.Pages {
		t, err := layout.Clone()
		if err != nil {
			return nil, fmt.Errorf("clone layout: %w", err)
		}
		if _, err := t.ParseFS(templatesFS, "templates/"+p.Template+".html"); err != nil {
			return nil, fmt.Errorf("parse page %s: %w", p.Path, err)
		}
		s.pages[p.Path] = t
	}
	return s, nil
}

func (s *Site) Config() SiteConfig { return s.cfg }

// Register mounts every page plus assets, robots.txt and sitemap.xml. GET patterns
// also answer HEAD.
func (s *Site) Register(mux *http.ServeMux) {
	for _, p := range s.cfg.Pages {
		pattern := "GET " + p.Path
		if p.Path == "/" {
			pattern = "GET /{$}"
		}
		mux.Handle(pattern, s.PageHandler(p))
	}
	mux.Handle("GET /assets/", AssetsHandler())
	mux.Handle("GET /robots.txt", RobotsTxtHandler(s.cfg))
	mux.Handle("GET /sitemap.xml", SitemapHandler(s.cfg))
}

// PageHandler renders one page. The page is buffered so a template failure still
// yields a clean 500.
func (s *Site) PageHandler(p Page) http.Handler {
	tmpl := s.pages[p.Path]
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var buf bytes.Buffer
		data := pageData{Site: s.cfg, Page: p, Year: s.now().Year()}
		if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		// Cache for 1 hour, but revalidate
		w.Header().Set("Cache-Control", "public, max-age=3600, must-revalidate")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	})
}
