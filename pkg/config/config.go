// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"
)

// ReplicaPorts maps order replica ids to their listen ports. The id order is
// deliberate: the classical router probes replicas by descending id.
var ReplicaPorts = map[int]string{
	3: "8002",
	2: "8003",
	1: "8004",
}

// Config carries everything the three binaries read from the environment.
type Config struct {
	FrontendHost string
	FrontendPort string
	CatalogHost  string
	CatalogPort  string
	OrderHost    string

	// Order replica identity; 0 when not an order process.
	OrderServerID int

	UseRaft  bool
	UseCache bool
	UseDelay bool

	// DataDir is the badger root; each replica appends its id.
	DataDir string

	RestockInterval time.Duration
}

func Load() *Config {
	cfg := &Config{
		FrontendHost:    getenv("FRONTEND_HOST", "localhost"),
		FrontendPort:    getenv("FRONTEND_PORT", "8000"),
		CatalogHost:     getenv("CATALOG_HOST", "localhost"),
		CatalogPort:     getenv("CATALOG_PORT", "8001"),
		OrderHost:       getenv("ORDER_HOST", "localhost"),
		UseRaft:         os.Getenv("USE_RAFT") == "True" || os.Getenv("USE_RAFT") == "true",
		UseCache:        os.Getenv("USE_CACHE") != "False" && os.Getenv("USE_CACHE") != "false",
		UseDelay:        os.Getenv("USE_DELAY") == "True" || os.Getenv("USE_DELAY") == "true",
		DataDir:         getenv("DATA_DIR", "./data"),
		RestockInterval: 10 * time.Second,
	}

	if id := os.Getenv("ORDER_SERVER_ID"); id != "" {
		if n, err := strconv.Atoi(id); err == nil {
			if _, ok := ReplicaPorts[n]; ok {
				cfg.OrderServerID = n
			}
		}
	}

	if iv := os.Getenv("RESTOCK_INTERVAL_SECONDS"); iv != "" {
		if n, err := strconv.Atoi(iv); err == nil && n > 0 {
			cfg.RestockInterval = time.Duration(n) * time.Second
		}
	}

	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// FrontendURL returns the base URL of the frontend router.
func (c *Config) FrontendURL() string {
	return fmt.Sprintf("http://%s:%s", c.FrontendHost, c.FrontendPort)
}

// CatalogURL returns the base URL of the catalog service.
func (c *Config) CatalogURL() string {
	return fmt.Sprintf("http://%s:%s", c.CatalogHost, c.CatalogPort)
}

// ReplicaURL returns the base URL of the order replica with the given id.
func (c *Config) ReplicaURL(id int) string {
	return fmt.Sprintf("http://%s:%s", c.OrderHost, ReplicaPorts[id])
}

// ReplicaIDsDescending lists replica ids from highest to lowest, the probe
// order used during classical leader discovery.
func ReplicaIDsDescending() []int {
	ids := make([]int, 0, len(ReplicaPorts))
	for id := range ReplicaPorts {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))
	return ids
}
