// ABOUTME: Entry point for the chord-probe diagnostic tool
// ABOUTME: Connects a bot end to end and reports gateway traffic

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/chord/internal/client"
	"github.com/2389/chord/internal/config"
	"github.com/2389/chord/internal/event"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _                   _
   ___| |__   ___  _ __ __| |
  / __| '_ \ / _ \| '__/ _' |
 | (__| | | | (_) | | | (_| |
  \___|_| |_|\___/|_|  \__,_|
`

// getConfigPath returns the path to the chord config file.
// Priority: CHORD_CONFIG env var > XDG_CONFIG_HOME/chord/config.yaml > ~/.config/chord/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CHORD_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "chord", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: chord-probe <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  run          Connect and log gateway traffic until interrupted")
		fmt.Println("  check-token  Validate the configured token against the REST API")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runProbe(ctx)
	case "check-token":
		err = runCheckToken(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runProbe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Intents:  %d\n", cfg.Bot.Intents)
	if cfg.Gateway.ShardCount > 0 {
		green.Print("    ▶ ")
		fmt.Printf("Shards:   %d\n", cfg.Gateway.ShardCount)
	}
	fmt.Println()

	c, err := client.New(client.Config{
		Token:      cfg.Bot.Token,
		Intents:    cfg.Bot.Intents,
		APIBase:    cfg.API.BaseURL,
		GatewayURL: cfg.Gateway.URL,
		ShardCount: cfg.Gateway.ShardCount,
		ShardIDs:   cfg.Gateway.ShardIDs,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	defer c.Close()

	registerProbes(c, logger)

	logger.Info("starting chord-probe", "config", configPath)
	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// registerProbes logs the core event stream so a misbehaving bot setup
// can be diagnosed from the terminal.
func registerProbes(c *client.Client, logger *slog.Logger) {
	c.On(event.Ready, func(d json.RawMessage) {
		logger.Info("READY received")
	})
	c.On(event.Resumed, func(d json.RawMessage) {
		logger.Info("session resumed")
	})
	c.On(event.GuildCreate, func(d json.RawMessage) {
		var g struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if json.Unmarshal(d, &g) == nil {
			logger.Info("guild available", "guild", g.ID, "name", g.Name)
		}
	})
	messageID := func(d json.RawMessage) string {
		var m struct {
			ID string `json:"id"`
		}
		json.Unmarshal(d, &m)
		return m.ID
	}
	c.OnUnique(event.MessageCreate, messageID, func(d json.RawMessage) {
		var m struct {
			ChannelID string `json:"channel_id"`
			Author    struct {
				Username string `json:"username"`
			} `json:"author"`
		}
		if json.Unmarshal(d, &m) == nil {
			logger.Info("message", "channel", m.ChannelID, "author", m.Author.Username)
		}
	})
	c.On(event.VoiceStateUpdate, func(d json.RawMessage) {
		logger.Info("voice state update")
	})
}

func runCheckToken(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	c, err := client.New(client.Config{
		Token:   cfg.Bot.Token,
		APIBase: cfg.API.BaseURL,
		Logger:  slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
	if err != nil {
		return err
	}

	me, err := c.REST().Me(ctx)
	if err != nil {
		return fmt.Errorf("token rejected: %w", err)
	}

	var user struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(me, &user); err != nil {
		return fmt.Errorf("parsing current user: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("token valid for %s (%s)\n", user.Username, user.ID)
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
