// callctl — CLI call client.
//
// It logs in to a signaling relay, lists online users and places or answers
// one-to-one calls with camera, microphone and screen share over WebRTC.
//
// It can be driven interactively (no -call flag) or non-interactively via
// -call <email>, which places a call and stays in it until hang-up or Ctrl+C.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"

	"github.com/sajacaros/conference-chat/internal/app"
	"github.com/sajacaros/conference-chat/internal/config"
	"github.com/sajacaros/conference-chat/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	configPath := flag.String("config", "", "Path to a TOML config file")
	server := flag.String("server", "", "Relay base URL (e.g. http://localhost:8080)")
	email := flag.String("email", "", "Email to log in as")
	username := flag.String("username", "", "Display name")
	token := flag.String("token", "", "Existing bearer token (skips login)")
	stream := flag.String("stream", "", "Event stream transport: sse or ws")
	source := flag.String("media", "", "Media source: synthetic, file or device")
	record := flag.String("record", "", "Directory to record remote media into")
	target := flag.String("call", "", "Call this user and exit when the call ends")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	override(&cfg.Server, *server)
	override(&cfg.Email, *email)
	override(&cfg.Username, *username)
	override(&cfg.Token, *token)
	override(&cfg.Stream, *stream)
	override(&cfg.Media.Source, *source)
	override(&cfg.Record.Dir, *record)
	if *debugMode {
		cfg.Debug = true
	}
	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("callctl — v%s", version))
	pterm.Println()

	if cfg.Email == "" && *target == "" {
		cfg.Email = askText("Your email")
	}
	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if *target != "" {
		runCall(ctx, cfg, *target)
	} else {
		runInteractive(ctx, cfg)
	}

	util.LogInfo("signed out")
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runCall places one call and blocks until it ends.
func runCall(ctx context.Context, cfg *config.Config, target string) {
	ended := make(chan struct{}, 1)
	a, err := app.New(ctx, cfg, app.Events{
		OnHangup: func(peer string) {
			util.LogInfo("call with %s ended", peer)
			select {
			case ended <- struct{}{}:
			default:
			}
		},
		OnChat: printChat,
	})
	if err != nil {
		util.LogError("failed to start: %v", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Call(ctx, target); err != nil {
		util.LogError("%v", err)
		return
	}
	util.LogSuccess("calling %s — press Ctrl+C to hang up", target)

	select {
	case <-ended:
	case <-ctx.Done():
	}
}

// runInteractive shows the menu until the user quits.
func runInteractive(ctx context.Context, cfg *config.Config) {
	c := newConsole()
	a, err := app.New(ctx, cfg, c.events())
	if err != nil {
		util.LogError("failed to start: %v", err)
		os.Exit(1)
	}
	defer a.Close()

	c.run(ctx, a)
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// askText prompts until a non-empty answer is given.
func askText(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()
		if raw != "" {
			pterm.Println()
			return raw
		}
		util.LogWarning("a value is required")
		pterm.Println()
	}
}
