package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadServerDefaults(t *testing.T) {
	for _, k := range []string{"ADDR", "KAFKA_BROKERS", "TOKEN_TTL", "NODE_ID", "JWT_SECRET"} {
		t.Setenv(k, "")
	}
	cfg, err := LoadServer(":8081")
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.TokenTTL != 24*time.Hour || cfg.NodeID != 1 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "localhost:19092" {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
	if err := cfg.RequireJWT(); err != ErrNoJWTSecret {
		t.Fatalf("RequireJWT = %v", err)
	}
}

func TestLoadServerOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("TOKEN_TTL", "1h")
	t.Setenv("NODE_ID", "7")
	t.Setenv("JWT_SECRET", "s")

	cfg, err := LoadServer(":8080")
	if err != nil {
		t.Fatalf("LoadServer: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
	if cfg.TokenTTL != time.Hour || cfg.NodeID != 7 || cfg.RequireJWT() != nil {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadServerRejectsBadValues(t *testing.T) {
	t.Setenv("TOKEN_TTL", "soon")
	if _, err := LoadServer(":8080"); err == nil {
		t.Fatal("expected error for TOKEN_TTL")
	}
}

func TestClientLiveURL(t *testing.T) {
	tests := []struct {
		api, ws, want string
	}{
		{"http://localhost:8081", "", "ws://localhost:8081/api/ws"},
		{"https://chat.example.com/", "", "wss://chat.example.com/api/ws"},
		{"http://localhost:8081", "ws://gw:8080/api/ws", "ws://gw:8080/api/ws"},
	}
	for _, tt := range tests {
		c := Client{APIURL: tt.api, WSURL: tt.ws}
		if got := c.LiveURL(); got != tt.want {
			t.Errorf("LiveURL(%q, %q) = %q, want %q", tt.api, tt.ws, got, tt.want)
		}
	}
}

func TestLoadDotenvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("WHISPER_API_URL=http://fromfile\nWHISPER_PAGE_SIZE=25\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WHISPER_API_URL", "http://fromenv")
	t.Setenv("WHISPER_PAGE_SIZE", "")
	os.Unsetenv("WHISPER_PAGE_SIZE")

	LoadDotenv(path)
	t.Cleanup(func() { os.Unsetenv("WHISPER_PAGE_SIZE") })

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("LoadClient: %v", err)
	}
	if cfg.APIURL != "http://fromenv" {
		t.Fatalf("APIURL = %q", cfg.APIURL)
	}
	if cfg.PageSize != 25 {
		t.Fatalf("PageSize = %d", cfg.PageSize)
	}
}
