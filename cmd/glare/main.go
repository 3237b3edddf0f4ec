// Command glare is the CLI entry point.
//
// Two peers negotiate a WebRTC session over a signal channel (WebSocket or
// MQTT) using perfect negotiation: both may send offers at any time, and
// offer collisions are resolved by a fixed polite/impolite role.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags; --config loads a YAML file that the flags override.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/glare/internal/app"
	"github.com/1ureka/glare/internal/config"
	"github.com/1ureka/glare/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg := config.Default()
	if path := configPath(args); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	flagSet := pflag.NewFlagSet("glare", pflag.ContinueOnError)
	flagSet.String("config", "", "YAML config file (flags override its values)")
	cfg.AddFlags(flagSet)

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if extra := flagSet.Args(); len(extra) > 0 {
		return fmt.Errorf("unexpected argument: %s", extra[0])
	}

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("glare — v%s", version))
	pterm.Println()

	// No flags at all → interactive mode.
	if len(args) == 0 {
		runInteractive(cfg)
	}

	if cfg.Role == config.RoleClient && cfg.Signal == config.SignalWS {
		wsURL, err := normalizeWSURL(cfg.WS.URL)
		if err != nil {
			return err
		}
		cfg.WS.URL = wsURL
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := app.Run(ctx, cfg); err != nil {
		return err
	}

	util.LogInfo("session closed")
	return nil
}

// ---------------------------------------------------------------------------
// Interactive mode
// ---------------------------------------------------------------------------

// runInteractive fills the role (and the client's URL) from prompts.
func runInteractive(cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{
			"Host     — Wait for a peer on a WebSocket server",
			"Client   — Connect to a host",
			"Simulate — Run two local peers and watch them collide",
		}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	switch {
	case strings.HasPrefix(role, "Host"):
		cfg.Role = config.RoleHost
	case strings.HasPrefix(role, "Client"):
		cfg.Role = config.RoleClient
		cfg.WS.URL = askURL()
	default:
		cfg.Role = config.RoleSimulate
	}
}

// askURL prompts the user for a valid WebSocket URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("WebSocket URL (e.g. wss://***.asse.devtunnels.ms/ws?pin=1234)").
			Show()

		wsURL, err := normalizeWSURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// configPath finds --config before the full flag set exists, so the file can
// supply the flag defaults.
func configPath(args []string) string {
	for i, arg := range args {
		switch {
		case arg == "--":
			return ""
		case arg == "--config" && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(arg, "--config="):
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	return ""
}

// normalizeWSURL validates a raw WebSocket URL, defaulting the scheme to wss
// and the path to /ws. The query (which carries the PIN) is kept.
func normalizeWSURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw != "" && !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	default:
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	if u.Query().Get("pin") == "" {
		return "", fmt.Errorf("WebSocket URL has no pin: %s", raw)
	}
	return u.String(), nil
}
