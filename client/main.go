package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mahaj/whisper/pkg/chat"
	"github.com/mahaj/whisper/pkg/config"
	"github.com/mahaj/whisper/pkg/live"
	"github.com/mahaj/whisper/pkg/logging"
	"github.com/mahaj/whisper/pkg/session"
)

var rootCmd = &cobra.Command{
	Use:           "whisper",
	Short:         "Command line client for the whisper chat room",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.LoadDotenv()
		c, err := config.LoadClient()
		if err != nil {
			return err
		}
		cfg = c
		if flagAPIURL != "" {
			cfg.APIURL = flagAPIURL
		}
		if flagBackend != "" {
			cfg.SessionBackend = flagBackend
		}
		logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)
		return nil
	},
}

var (
	cfg config.Client

	flagAPIURL     string
	flagBackend    string
	flagCredential string
	flagUsername   string
	flagPassword   string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagAPIURL, "api", "", "API base URL (env WHISPER_API_URL)")
	flags.StringVar(&flagBackend, "session", "", "session backend: pebble, redis or memory (env WHISPER_SESSION_BACKEND)")
	flags.StringVar(&flagCredential, "credential", "subprotocol", "how the token reaches the gateway: subprotocol, header or frame")

	for _, c := range []*cobra.Command{loginCmd, registerCmd} {
		c.Flags().StringVarP(&flagUsername, "username", "u", "", "username")
		c.Flags().StringVarP(&flagPassword, "password", "p", "", "password (prompted when empty)")
	}
	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, whoamiCmd, chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newBackend opens the configured session backend.
func newBackend(ctx context.Context, c config.Client) (session.Backend, error) {
	switch strings.ToLower(c.SessionBackend) {
	case "pebble", "":
		b, err := session.OpenPebble(c.SessionDir)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "redis":
		b, err := session.NewRedisBackend(ctx, c.RedisAddr, c.SessionKey)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "memory":
		return session.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", c.SessionBackend)
	}
}

func credentialFor(name string) (live.Credential, error) {
	switch strings.ToLower(name) {
	case "subprotocol", "":
		return live.SubprotocolCredential{}, nil
	case "header":
		return live.HeaderCredential{}, nil
	case "frame":
		return live.FirstFrameCredential{}, nil
	default:
		return nil, fmt.Errorf("unknown credential mode %q", name)
	}
}

func openClient(ctx context.Context) (*chat.Client, error) {
	backend, err := newBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open session backend: %w", err)
	}
	cred, err := credentialFor(flagCredential)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	c, err := chat.New(ctx, chat.Config{
		APIURL:           cfg.APIURL,
		WSURL:            cfg.LiveURL(),
		Backend:          backend,
		Credential:       cred,
		PageSize:         cfg.PageSize,
		HTTPTimeout:      cfg.HTTPTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return c, nil
}

// withClient runs fn with a client that is closed afterwards. ctx ends on
// interrupt.
func withClient(fn func(ctx context.Context, c *chat.Client) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("close client")
		}
	}()
	return fn(ctx, c)
}

func promptPassword() (string, error) {
	if flagPassword != "" {
		return flagPassword, nil
	}
	fmt.Fprint(os.Stderr, "password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
