package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/wrenb/earnwatch/service"
)

// handleTermination processes context cancellation signals or interrupt signals from the OS.
func handleTermination(ctx context.Context, cancel context.CancelFunc) {
	// Listen for interrupt signals.
	signals := []os.Signal{os.Interrupt}
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, signals...)

	// Wait for the context to be cancelled or an interrupt signal.
	for {
		select {
		case <-ctx.Done():
			return

		case <-interrupt:
			cancel()
		}
	}
}

func main() {
	var cfg Config
	err := loadConfig(&cfg, "")
	if err != nil {
		log.Printf("loading config: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchCfg := service.WatchConfig{
		Universe:         cfg.Universe,
		RiskConfig:       cfg.RiskConfig(),
		FinnhubAPIKey:    cfg.FinnhubAPIKey,
		XAIAPIKey:        cfg.XAIAPIKey,
		TradierAPIKey:    cfg.TradierAPIKey,
		TradierAccountID: cfg.TradierAccountID,
		PaperTrading:     cfg.PaperTrading,
		DatabaseEndpoint: cfg.DatabaseEndpoint,
		DatabaseUser:     cfg.DatabaseUser,
		DatabasePass:     cfg.DatabasePass,
		Cancel:           cancel,
	}
	watch, err := service.NewWatch(ctx, &watchCfg)
	if err != nil {
		log.Printf("creating watch service: %v", err)
		return
	}

	go handleTermination(ctx, cancel)
	watch.Run(ctx)
}
