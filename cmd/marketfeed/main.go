package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/ingestlabs/marketfeed/internal/config"
	"github.com/ingestlabs/marketfeed/internal/supervisor"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to the config YAML file")
		presetLabel = flag.String("preset", "", "preset label to run (required)")
		healthAddr  = flag.String("health-addr", "", "address to serve the health HTTP endpoint on, e.g. :9090 (empty disables it)")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)
	log := logrus.NewEntry(logger)

	if *presetLabel == "" {
		log.Fatal("missing required -preset flag")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	preset, ok := cfg.Find(*presetLabel)
	if !ok {
		log.Fatalf("unknown preset %q", *presetLabel)
	}

	sup, err := supervisor.New(cfg, preset, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build supervisor")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *healthAddr != "" {
		go serveHealth(*healthAddr, sup, log)
	}

	log.WithField("preset", preset.Label).Info("marketfeed starting")
	if err := sup.Run(ctx); err != nil {
		log.WithError(err).Error("supervisor exited with error")
		os.Exit(1)
	}
	log.Info("marketfeed stopped")
}

func serveHealth(addr string, sup *supervisor.Supervisor, log *logrus.Entry) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", sup.HTTPHandler())
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.WithError(err).WithField("addr", addr).Error("health server stopped")
	}
}
