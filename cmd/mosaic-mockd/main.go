package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/renjiyun06/mosaic-sub001/internal/mockd"
)

func main() {
	host := flag.String("host", "127.0.0.1", "Listen host")
	port := flag.Int("port", 8080, "Listen port")
	token := flag.String("token", "", "Require this auth token when set")
	workspace := flag.String("workspace", ".", "Directory served as the workspace tree")
	statusInterval := flag.Duration("status-interval", 5*time.Second, "Runtime status publish interval")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	root, err := os.Getwd()
	if *workspace != "." {
		root = *workspace
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	store := mockd.NewStore()
	hub := mockd.NewHub(log)
	shell := mockd.NewShell(hub)
	server := mockd.NewServer(store, hub, shell, root, *token, log)

	ticker := mockd.NewStatusTicker(hub, store, *statusInterval, log)
	go ticker.Run(context.Background())

	mux := http.NewServeMux()
	server.SetupRoutes(mux)
	if err := mockd.ListenAndServe(*host, *port, mux, log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
