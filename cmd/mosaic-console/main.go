package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/renjiyun06/mosaic-sub001/internal/app"
	"github.com/renjiyun06/mosaic-sub001/internal/bus"
	"github.com/renjiyun06/mosaic-sub001/internal/client"
	"github.com/renjiyun06/mosaic-sub001/internal/config"
	"github.com/renjiyun06/mosaic-sub001/internal/correlate"
	"github.com/renjiyun06/mosaic-sub001/internal/logging"
	"github.com/renjiyun06/mosaic-sub001/internal/notify"
	"github.com/renjiyun06/mosaic-sub001/internal/scrollback"
	"github.com/renjiyun06/mosaic-sub001/internal/terminal"
)

func main() {
	home, _ := os.UserHomeDir()
	cfgPath := flag.String("config", filepath.Join(home, ".mosaic-console", "config.yaml"), "Config file path")
	apiURL := flag.String("api", "", "Backend API base URL (overrides config)")
	wsURL := flag.String("ws", "", "Backend WebSocket URL (overrides config)")
	token := flag.String("token", "", "Auth token (overrides config)")
	mosaicID := flag.String("mosaic", "demo", "Mosaic to open")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *apiURL != "" {
		cfg.Backend.APIURL = *apiURL
	}
	if *wsURL != "" {
		cfg.Backend.WSURL = *wsURL
	}
	if *token != "" {
		cfg.Backend.Token = *token
	}

	log := logging.New(cfg.Log.File, cfg.Log.Level)

	// Scrollback persists across console restarts; fall back to process
	// memory when the database cannot be opened.
	var store terminal.BufferStore
	if db, err := scrollback.Open(context.Background(), cfg.Terminal.ScrollbackDB); err != nil {
		log.Warn().Err(err).Msg("scrollback db unavailable, using memory")
		store = terminal.NewMemoryStore()
	} else {
		defer db.Close()
		store = db
	}

	notifier := notify.New()
	notifier.Init()

	b := bus.New(cfg.Backend.WSURL, cfg.Backend.Token, log)
	httpClient := client.NewHTTPClient(cfg.Backend.APIURL, cfg.Backend.Token)
	cor := correlate.New(b, log)

	m := app.New(app.Options{
		Bus:      b,
		HTTP:     httpClient,
		Cor:      cor,
		Notifier: notifier,
		Store:    store,
		MosaicID: *mosaicID,
		Log:      log,

		ConfirmTimeout: cfg.Backend.ConfirmTimeout,
	})

	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
