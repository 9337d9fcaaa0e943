package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ompomz/flowgazer/internal/channels"
	"github.com/ompomz/flowgazer/internal/config"
	"github.com/ompomz/flowgazer/internal/denylist"
	"github.com/ompomz/flowgazer/internal/identity"
	"github.com/ompomz/flowgazer/internal/ops"
	"github.com/ompomz/flowgazer/internal/profiles"
	"github.com/ompomz/flowgazer/internal/relay"
	"github.com/ompomz/flowgazer/internal/session"
	"github.com/ompomz/flowgazer/internal/store"
	"github.com/ompomz/flowgazer/internal/timeline"
	"github.com/ompomz/flowgazer/internal/views"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
	builtBy = "manual"
)

func main() {
	// Define subcommands
	if len(os.Args) > 1 && os.Args[1] == "init" {
		handleInit()
		return
	}

	var (
		showVersion = flag.Bool("version", false, "Show version information")
		configPath  = flag.String("config", "", "Path to configuration file")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("flowgazer %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		fmt.Printf("  by:     %s\n", builtBy)
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Println("flowgazer - Nostr timeline watcher")
		fmt.Println()
		fmt.Println("No configuration file specified. Use --config <path> to specify config.")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  flowgazer init              Generate example configuration")
		fmt.Println("  flowgazer --version         Show version information")
		fmt.Println("  flowgazer --config <path>   Start with configuration file")
		os.Exit(1)
	}

	// Load and validate configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Starting flowgazer %s\n", version)
	fmt.Printf("  Relay: %s\n", cfg.Relay.URL)
	if cfg.Identity.Login != "" {
		fmt.Printf("  Login: %s\n", cfg.Identity.Login)
	}
	fmt.Println()

	// Run the application
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := ops.NewLogger(&cfg.Logging)

	// Resolve the local identity. The nsec from the environment wins over
	// the configured login so the same config works read-only and signing.
	var id *identity.Identity
	switch {
	case cfg.Identity.Nsec != "":
		resolved, err := identity.FromNsec(cfg.Identity.Nsec)
		if err != nil {
			return fmt.Errorf("failed to resolve nsec: %w", err)
		}
		id = resolved
	case cfg.Identity.Login != "":
		resolved, err := identity.Resolve(ctx, cfg.Identity.Login)
		if err != nil {
			return fmt.Errorf("failed to resolve login: %w", err)
		}
		id = resolved
	}
	if id != nil {
		logger.Info("identity resolved", "pubkey", id.PublicKey(), "can_sign", id.CanSign())
	} else {
		logger.Info("running anonymously")
	}

	// Open the session store and let a persisted relay override the config.
	sess, err := session.Open(cfg.Session.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer sess.Close()

	relayCfg := cfg.Relay
	relayCfg.URL = sess.Get(session.KeyRelayURL, cfg.Relay.URL)
	cfg.Timeline.ShowChannelMessages = sess.GetBool(session.KeyShowChannelMessages, cfg.Timeline.ShowChannelMessages)

	// Connect to the relay.
	client, err := relay.Connect(ctx, &relayCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}
	defer client.Close()

	// Assemble the core.
	localPubkey := ""
	if id != nil {
		localPubkey = id.PublicKey()
	}
	eventStore := store.New(localPubkey, logger)
	viewState := views.New(eventStore, &cfg.Timeline, logger)
	viewState.SetAutoUpdate(sess.GetBool(session.KeyAutoUpdate, true))
	batcher := profiles.New(ctx, eventStore, client, &cfg.Profiles, logger)
	batcher.SetUpdateHandler(viewState.ScheduleRender)

	orch := timeline.New(ctx, eventStore, viewState, batcher, client, id, &cfg.Timeline, logger)
	defer orch.Stop()

	renderer := newTimelineRenderer(os.Stdout, eventStore, viewState, orch)
	viewState.SetRenderer(renderer)

	// Forbidden-term list; timelines run unfiltered when unavailable.
	if terms, err := denylist.Fetch(ctx, &cfg.Denylist, logger); err != nil {
		logger.Warn("denylist unavailable, running unfiltered", "error", err)
	} else {
		viewState.SetDenylist(terms)
	}

	// Logged-in context, then the timeline bootstrap.
	if err := orch.FetchInitialData(ctx); err != nil {
		logger.Warn("initial data fetch failed", "error", err)
	}

	// Channel directory: the user's channel list plus the name of the
	// channel selected in a previous session.
	directory := channels.New(client, logger)
	if localPubkey != "" && cfg.Timeline.ShowChannelMessages {
		if ids, err := directory.FetchChannelList(ctx, localPubkey); err != nil {
			logger.Warn("channel list fetch failed", "error", err)
		} else {
			for _, id := range ids {
				logger.Info("channel available", "id", id, "name", directory.ResolveName(ctx, id))
			}
		}
		if current := sess.Get(session.KeyCurrentChannel, ""); current != "" {
			fmt.Printf("  Channel: %s\n", directory.ResolveName(ctx, current))
		}
	}

	result, err := orch.Initialize(ctx)
	if err != nil {
		if errors.Is(err, timeline.ErrNoMoreEvents) {
			fmt.Println("Relay has no events; re-run to retry.")
		} else {
			return fmt.Errorf("timeline bootstrap failed: %w", err)
		}
	} else {
		logger.Info("timeline anchored", "oldest", int64(result.OldestTimestamp))
	}

	fmt.Println("Watching the timeline. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println()
	fmt.Println("Shutting down...")
	return nil
}

func handleInit() {
	exampleConfig, err := config.GetExampleConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading example config: %v\n", err)
		os.Exit(1)
	}

	// Write to stdout
	fmt.Print(string(exampleConfig))
}
