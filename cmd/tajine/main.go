package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wisbric/tajine/internal/app"
	"github.com/wisbric/tajine/internal/config"
	"github.com/wisbric/tajine/internal/version"
)

func main() {
	var (
		modeFlag    = flag.String("mode", "", `override TAJINE_MODE ("api" or "worker")`)
		versionFlag = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *versionFlag {
		fmt.Printf("tajine %s (%s)\n", version.Version, version.Commit)
		return
	}

	if err := run(*modeFlag); err != nil {
		fmt.Fprintf(os.Stderr, "tajine: %v\n", err)
		os.Exit(1)
	}
}

func run(modeOverride string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if modeOverride != "" {
		cfg.Mode = modeOverride
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx, cfg)
}
