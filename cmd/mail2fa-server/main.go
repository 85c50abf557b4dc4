package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/mail2fa/internal/service"
)

func main() {
	configPath := flag.String("config", os.Getenv("MAIL2FA_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := service.Load(*configPath)
	if err != nil {
		log.Fatalf("mail2fa: load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := service.Open(ctx, cfg, nil)
	if err != nil {
		log.Fatalf("mail2fa: start: %v", err)
	}
	defer rt.Close()

	go rt.Engine.RunSweeper(ctx, cfg.Retention.SweepInterval)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           service.NewRouter(rt.Engine, rt.Directory, cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("mail2fa: listening on %s (store=%s)", cfg.Server.Addr, cfg.Store.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("mail2fa: server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Print("mail2fa: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("mail2fa: shutdown: %v", err)
	}
}
