// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command rocketchat-relay forwards messages from Telegram, Matrix and
// Mattermost chats to a Rocket.Chat room.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	flag "maunium.net/go/mauflag"

	"github.com/aiku/rocketchat-relay/pkg/bridge"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := flag.New(args)
	flags.SetHelpTitles(
		"rocketchat-relay - Relay chat messages to a Rocket.Chat room.",
		"rocketchat-relay [-hnv] [-c <path>] [-e]",
	)
	configPath := flags.MakeFull("c", "config", "The path to your config file.", "config.yaml").String()
	generate := flags.MakeFull("e", "generate-example-config", "Save the example config to the config path and quit.", "false").Bool()
	dontSaveConfig := flags.MakeFull("n", "no-update", "Don't save updated config to disk.", "false").Bool()
	version := flags.MakeFull("v", "version", "View relay version and quit.", "false").Bool()
	wantHelp, _ := flags.MakeHelpFlag()
	if err := flags.Parse(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flags.PrintHelp()
		return 1
	}
	if *wantHelp {
		flags.PrintHelp()
		return 0
	}

	if *version {
		fmt.Printf("rocketchat-relay %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		return 0
	}
	if *generate {
		if err := writeExampleConfig(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Printf("Wrote example config to %s\n", *configPath)
		return 0
	}

	cfg, err := bridge.LoadConfig(*configPath, !*dontSaveConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log, closer, err := bridge.SetupLogger(cfg.Logging, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		return 1
	}
	defer closer.Close()

	log.Info().Str("version", Tag).Str("commit", Commit).Msg("Starting rocketchat-relay")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := bridge.New(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize relay")
		return 1
	}
	if err := b.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Relay stopped with error")
		return 1
	}
	log.Info().Msg("Relay stopped")
	return 0
}

// writeExampleConfig creates path with the example config. An existing file
// is never overwritten.
func writeExampleConfig(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s already exists", path)
	} else if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	if _, err := f.WriteString(bridge.ExampleConfig); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	return f.Close()
}
