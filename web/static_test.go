package web

import (
	"encoding/xml"
	"net/http"
	"strings"
	"testing"
)

func TestRobotsTxt(t *testing.T) {
	rec := serveSite(newTestSite(t), http.MethodGet, "/robots.txt")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, s := range []string{"User-agent: *", "Disallow: /unsubscribe", "Sitemap: https://makemelearn.fr/sitemap.xml"} {
		if !strings.Contains(body, s) {
			t.Errorf("robots.txt missing %q", s)
		}
	}
}

func TestSitemap(t *testing.T) {
	rec := serveSite(newTestSite(t), http.MethodGet, "/sitemap.xml")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "application/xml") {
		t.Errorf("Content-Type = %q", ct)
	}

	var set urlSet
	if err := xml.Unmarshal(rec.Body.Bytes(), &set); err != nil {
		t.Fatalf("invalid sitemap: %v", err)
	}
	if len(set.URLs) != 5 {
		t.Fatalf("len(urls) = %d, want 5 (hidden pages excluded)", len(set.URLs))
	}
	if set.URLs[0].Loc != "https://makemelearn.fr/" || set.URLs[0].Priority != "1.0" {
		t.Errorf("first url = %+v", set.URLs[0])
	}
	for _, u := range set.URLs {
		if strings.Contains(u.Loc, "unsubscribe") {
			t.Errorf("hidden page %s listed", u.Loc)
		}
	}
}

func TestAssets(t *testing.T) {
	site := newTestSite(t)

	tests := []struct {
		path     string
		wantType string
	}{
		{"/assets/app.js", "javascript"},
		{"/assets/site.css", "text/css"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serveSite(site, http.MethodGet, tt.path)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, tt.wantType) {
				t.Errorf("Content-Type = %q, want %q", ct, tt.wantType)
			}
			if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=86400" {
				t.Errorf("Cache-Control = %q", cc)
			}
		})
	}

	if rec := serveSite(site, http.MethodGet, "/assets/"); rec.Code != http.StatusNotFound {
		t.Errorf("directory listing status = %d, want 404", rec.Code)
	}
	if rec := serveSite(site, http.MethodGet, "/assets/missing.js"); rec.Code != http.StatusNotFound {
		t.Errorf("missing asset status = %d, want 404", rec.Code)
	}
}
