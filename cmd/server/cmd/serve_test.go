package cmd

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/makemelearn/api/internal/api/middleware"
	"github.com/makemelearn/api/internal/config"
)

func TestServeCommandHelp(t *testing.T) {
	cmd := newServeCommand(&globalOptions{})
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("serve command --help failed: %v", err)
	}

	output := buf.String()
	for _, expected := range []string{
		"Start the MakeMeLearn HTTP server",
		"--host",
		"--port",
		"--migrate",
		"--no-site",
	} {
		if !strings.Contains(output, expected) {
			t.Errorf("expected help text to contain %q, got:\n%s", expected, output)
		}
	}
}

func TestServeCommandFlagParsing(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		expectError bool
	}{
		{name: "valid host flag", args: []string{"--host", "127.0.0.1"}},
		{name: "valid port flag", args: []string{"--port", "9090"}},
		{name: "migrate flag", args: []string{"--migrate"}},
		{name: "invalid port value", args: []string{"--port", "invalid"}, expectError: true},
		{name: "unknown flag", args: []string{"--unknown"}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newServeCommand(&globalOptions{})
			err := cmd.ParseFlags(tt.args)
			if tt.expectError && err == nil {
				t.Errorf("expected error for args %v", tt.args)
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error for args %v: %v", tt.args, err)
			}
		})
	}
}

func TestApplyServeOverrides(t *testing.T) {
	cfg := config.Config{Server: config.ServerConfig{Host: "0.0.0.0", Port: 3000}}

	applyServeOverrides(&cfg, serveOptions{})
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 3000 {
		t.Errorf("empty flags changed config: %+v", cfg.Server)
	}

	applyServeOverrides(&cfg, serveOptions{host: "127.0.0.1", port: 9090})
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9090 {
		t.Errorf("flags not applied: %+v", cfg.Server)
	}
}

func TestNewHTTPServer(t *testing.T) {
	srv := newHTTPServer(config.ServerConfig{Host: "127.0.0.1", Port: 4000}, http.NotFoundHandler())

	if srv.Addr != "127.0.0.1:4000" {
		t.Errorf("expected addr 127.0.0.1:4000, got %s", srv.Addr)
	}
	if srv.ReadHeaderTimeout != 5*time.Second {
		t.Errorf("expected 5s read header timeout, got %s", srv.ReadHeaderTimeout)
	}
	if srv.MaxHeaderBytes != 1<<20 {
		t.Errorf("expected 1MB header limit, got %d", srv.MaxHeaderBytes)
	}
}

func TestNewRateStoreMemory(t *testing.T) {
	store, closeFn, err := newRateStore(context.Background(), config.RateLimitConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("newRateStore: %v", err)
	}
	defer closeFn()

	if _, ok := store.(*middleware.MemoryStore); !ok {
		t.Errorf("expected memory store without redis url, got %T", store)
	}
}

func TestNewRateStoreBadRedisURL(t *testing.T) {
	_, _, err := newRateStore(context.Background(), config.RateLimitConfig{RedisURL: "not-a-url"}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}

func TestNewSite(t *testing.T) {
	site, err := newSite()
	if err != nil {
		t.Fatalf("newSite: %v", err)
	}
	if site.Config().Name == "" {
		t.Error("expected embedded site config to carry a name")
	}
}
