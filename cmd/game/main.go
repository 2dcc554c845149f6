package main

import (
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"

	// Hide the console window on Windows builds.
	_ "github.com/ebitengine/hideconsole"
	"github.com/hajimehoshi/ebiten/v2"

	"github.com/Garsondee/clouds-of-aurora/internal/config"
	"github.com/Garsondee/clouds-of-aurora/internal/game"
)

func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal(err)
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	g, err := game.New(cfg, logger)
	if err != nil {
		log.Fatal(err)
	}
	w, h := g.Size()
	ebiten.SetWindowTitle("Clouds of Aurora")
	ebiten.SetWindowSize(w, h)
	runErr := ebiten.RunGame(g)
	if err := g.Close(); err != nil {
		logger.Warn("final snapshot failed", "err", err)
	}
	if runErr != nil {
		log.Fatal(runErr)
	}
}
