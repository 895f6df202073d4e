package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BoddyShen/raft-order-service/pkg/catalog"
	"github.com/BoddyShen/raft-order-service/pkg/config"
)

func main() {
	cfg := config.Load()

	st, err := catalog.OpenStore(filepath.Join(cfg.DataDir, "catalog"))
	if err != nil {
		log.Fatalf("catalog: %v", err)
	}

	svc := catalog.NewService(st, cfg.FrontendURL())

	stopCh := make(chan struct{})
	go svc.RunRestocker(stopCh, cfg.RestockInterval)

	srv := &http.Server{
		Addr:    ":" + cfg.CatalogPort,
		Handler: svc.Router(),
	}

	go func() {
		log.Printf("catalog: listening on :%s", cfg.CatalogPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("catalog: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	close(stopCh)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("catalog: shutdown: %v", err)
	}
	if err := st.Close(); err != nil {
		log.Printf("catalog: closing store: %v", err)
	}
	log.Printf("catalog: stopped")
}
