// Package config reads service and client settings from the environment,
// after loading an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var ErrNoJWTSecret = errors.New("JWT_SECRET is required")

// Server holds the settings shared by the api, gateway and messaging
// services.
type Server struct {
	Addr           string
	RedisAddr      string
	KafkaBrokers   []string
	KafkaTopic     string
	ScyllaHosts    []string
	Keyspace       string
	JWTSecret      string
	TokenTTL       time.Duration
	NodeID         int64
	AllowedOrigins []string
	LogLevel       string
	LogFormat      string
}

// Client holds the settings of the command line client.
type Client struct {
	APIURL           string
	WSURL            string
	SessionBackend   string
	SessionDir       string
	RedisAddr        string
	SessionKey       string
	PageSize         int
	HTTPTimeout      time.Duration
	HandshakeTimeout time.Duration
	LogLevel         string
	LogFormat        string
}

// LoadDotenv loads the given files, or .env when none are given. Missing
// files are not an error; real environment variables always win.
func LoadDotenv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// LoadServer reads the server settings. defaultAddr is the listen address
// used when ADDR is unset.
func LoadServer(defaultAddr string) (Server, error) {
	cfg := Server{
		Addr:           env("ADDR", defaultAddr),
		RedisAddr:      env("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:   list("KAFKA_BROKERS", "localhost:19092"),
		KafkaTopic:     env("KAFKA_TOPIC", "chat-messages"),
		ScyllaHosts:    list("SCYLLA_HOSTS", "localhost:9042"),
		Keyspace:       env("SCYLLA_KEYSPACE", "chat"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		AllowedOrigins: list("ALLOWED_ORIGINS", "*"),
		LogLevel:       env("LOG_LEVEL", "info"),
		LogFormat:      env("LOG_FORMAT", "json"),
	}

	var err error
	if cfg.TokenTTL, err = duration("TOKEN_TTL", 24*time.Hour); err != nil {
		return Server{}, err
	}
	node, err := integer("NODE_ID", 1)
	if err != nil {
		return Server{}, err
	}
	cfg.NodeID = int64(node)
	return cfg, nil
}

// RequireJWT fails when no signing secret is configured.
func (s Server) RequireJWT() error {
	if s.JWTSecret == "" {
		return ErrNoJWTSecret
	}
	return nil
}

// LoadClient reads the client settings. WHISPER_WS_URL defaults to the
// websocket form of the API URL.
func LoadClient() (Client, error) {
	cfg := Client{
		APIURL:         env("WHISPER_API_URL", "http://localhost:8081"),
		SessionBackend: env("WHISPER_SESSION_BACKEND", "pebble"),
		SessionDir:     env("WHISPER_SESSION_DIR", defaultSessionDir()),
		RedisAddr:      env("REDIS_ADDR", "localhost:6379"),
		SessionKey:     env("WHISPER_SESSION_KEY", "whisper:session"),
		LogLevel:       env("LOG_LEVEL", "warn"),
		LogFormat:      env("LOG_FORMAT", "console"),
	}
	cfg.WSURL = env("WHISPER_WS_URL", "")

	var err error
	if cfg.PageSize, err = integer("WHISPER_PAGE_SIZE", 0); err != nil {
		return Client{}, err
	}
	if cfg.HTTPTimeout, err = duration("WHISPER_HTTP_TIMEOUT", 10*time.Second); err != nil {
		return Client{}, err
	}
	if cfg.HandshakeTimeout, err = duration("WHISPER_HANDSHAKE_TIMEOUT", 10*time.Second); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

// LiveURL returns the websocket URL, derived from APIURL when WSURL is unset.
func (c Client) LiveURL() string {
	if c.WSURL != "" {
		return c.WSURL
	}
	u := strings.TrimRight(c.APIURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/api/ws"
}

func defaultSessionDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".whisper"
	}
	return dir + string(os.PathSeparator) + "whisper"
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func list(key, def string) []string {
	var out []string
	for _, p := range strings.Split(env(key, def), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func integer(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
