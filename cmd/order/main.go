package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BoddyShen/raft-order-service/pkg/config"
	"github.com/BoddyShen/raft-order-service/pkg/order"
	"github.com/BoddyShen/raft-order-service/pkg/raft"
	"github.com/BoddyShen/raft-order-service/pkg/store"
	"github.com/BoddyShen/raft-order-service/pkg/transport"
)

func main() {
	cfg := config.Load()
	if cfg.OrderServerID == 0 {
		log.Fatal("order: ORDER_SERVER_ID must be set to 1, 2, or 3")
	}
	id := cfg.OrderServerID

	st, err := store.Open(filepath.Join(cfg.DataDir, fmt.Sprintf("order-%d", id)))
	if err != nil {
		log.Fatalf("order: %v", err)
	}

	replicas := make(map[int]string, len(config.ReplicaPorts))
	peerIDs := make([]int, 0, len(config.ReplicaPorts))
	for rid := range config.ReplicaPorts {
		replicas[rid] = cfg.ReplicaURL(rid)
		peerIDs = append(peerIDs, rid)
	}

	var node *raft.Node
	if cfg.UseRaft {
		hs, err := st.LoadHardState()
		if err != nil {
			log.Fatalf("order: loading hard state: %v", err)
		}
		entries, err := st.LoadLog()
		if err != nil {
			log.Fatalf("order: loading log: %v", err)
		}
		rcfg := raft.DefaultConfig(id, peerIDs)
		if cfg.UseDelay {
			rcfg.SubmitDelay = 5 * time.Second
		}
		node = raft.NewNode(rcfg, transport.NewHTTPTransport(replicas), st, hs, entries)
		node.Start()
		log.Printf("Replica %d: raft enabled, restored term %d with %d log entries", id, hs.CurrentTerm, len(entries))
	}

	svc := order.NewService(id, st, node, cfg.UseRaft, replicas, cfg.CatalogURL(), cfg.FrontendURL())

	srv := &http.Server{
		Addr:    ":" + config.ReplicaPorts[id],
		Handler: svc.Router(),
	}

	go func() {
		log.Printf("Replica %d: listening on :%s (raft=%v)", id, config.ReplicaPorts[id], cfg.UseRaft)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("order: %v", err)
		}
	}()

	// Catch up with the rest of the cluster once the listener is up.
	go func() {
		time.Sleep(time.Second)
		svc.Bootstrap()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Replica %d: shutdown: %v", id, err)
	}
	if node != nil {
		node.Stop()
	}
	if err := st.Close(); err != nil {
		log.Printf("Replica %d: closing store: %v", id, err)
	}
	log.Printf("Replica %d: stopped", id)
}
