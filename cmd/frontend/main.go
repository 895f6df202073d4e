package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BoddyShen/raft-order-service/pkg/config"
	"github.com/BoddyShen/raft-order-service/pkg/frontend"
)

func main() {
	cfg := config.Load()

	replicas := make(map[int]string, len(config.ReplicaPorts))
	for id := range config.ReplicaPorts {
		replicas[id] = cfg.ReplicaURL(id)
	}

	var cache *frontend.Cache
	if cfg.UseCache {
		cache = frontend.NewCache(frontend.DefaultCacheSize)
	}

	svc := frontend.NewService(cfg.CatalogURL(), replicas, cfg.UseRaft, cache)
	srv := &http.Server{
		Addr:    ":" + cfg.FrontendPort,
		Handler: svc.Router(),
	}

	go func() {
		log.Printf("frontend: listening on :%s (cache=%v, raft=%v)", cfg.FrontendPort, cfg.UseCache, cfg.UseRaft)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("frontend: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("frontend: shutdown: %v", err)
	}
	log.Printf("frontend: stopped")
}
