// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command phone-relay relays call requests from browser extensions to
// Android phones, and call status updates back, over WebSockets.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mau.fi/util/exzerolog"
	"golang.org/x/sync/errgroup"
	flag "maunium.net/go/mauflag"

	"github.com/aiku/phone-relay/pkg/relay"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const Version = "1.0.0"

var (
	configPath         = flag.MakeFull("c", "config", "The path to your config file.", "config.yaml").String()
	writeExampleConfig = flag.MakeFull("e", "generate-example-config", "Save the example config to the config path and quit.", "false").Bool()
	saveConfig         = flag.MakeFull("s", "save-config", "Write the upgraded config back to the config path.", "true").Bool()
	showVersion        = flag.MakeFull("v", "version", "View the relay version and quit.", "false").Bool()
	wantHelp, _        = flag.MakeHelpFlag()
)

func main() {
	flag.SetHelpTitles(
		"phone-relay - WebSocket relay between browser extensions and Android phones.",
		"phone-relay [-hev] [-c <path>]",
	)
	if err := flag.Parse(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		flag.PrintHelp()
		os.Exit(0)
	} else if *showVersion {
		fmt.Printf("phone-relay %s (tag %s, commit %s, built %s)\n", Version, Tag, Commit, BuildTime)
		os.Exit(0)
	}

	if *writeExampleConfig {
		if err := writeExample(*configPath); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err)
			os.Exit(11)
		}
		fmt.Println("Wrote example config to", *configPath)
		os.Exit(0)
	}

	cfg, err := relay.LoadConfig(*configPath, *saveConfig, os.Getenv)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(10)
	}

	log, err := cfg.Logging.Compile()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to initialize logger:", err)
		os.Exit(12)
	}
	exzerolog.SetupDefaults(log)

	log.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_time", BuildTime).
		Str("listen_addr", cfg.ListenAddr).
		Msg("Starting phone-relay")

	srv := relay.NewServer(cfg, Version, *log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout)*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Relay stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Server closed")
}

func writeExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", path)
	}
	if err := os.WriteFile(path, []byte(relay.ExampleConfig), 0o600); err != nil {
		return fmt.Errorf("failed to write example config: %w", err)
	}
	return nil
}
