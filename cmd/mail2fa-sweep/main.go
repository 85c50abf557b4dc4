// Command mail2fa-sweep runs one retention pass and exits. Schedule it daily
// from cron or a systemd timer.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/MrEthical07/mail2fa/internal/service"
)

func main() {
	configPath := flag.String("config", os.Getenv("MAIL2FA_CONFIG"), "path to the YAML config file")
	timeout := flag.Duration("timeout", 10*time.Minute, "abort the sweep after this long")
	flag.Parse()

	cfg, err := service.Load(*configPath)
	if err != nil {
		log.Fatalf("mail2fa: load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, err := service.Open(ctx, cfg, nil)
	if err != nil {
		log.Fatalf("mail2fa: start: %v", err)
	}

	_, err = rt.Engine.Sweep(ctx)
	rt.Close()
	if err != nil {
		log.Printf("mail2fa: sweep: %v", err)
		os.Exit(1)
	}
}
