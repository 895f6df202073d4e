package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8000", cfg.FrontendPort)
	assert.Equal(t, "8001", cfg.CatalogPort)
	assert.Equal(t, 0, cfg.OrderServerID)
	assert.False(t, cfg.UseRaft)
	assert.True(t, cfg.UseCache)
	assert.False(t, cfg.UseDelay)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ORDER_SERVER_ID", "2")
	t.Setenv("USE_RAFT", "True")
	t.Setenv("USE_CACHE", "False")
	t.Setenv("USE_DELAY", "true")

	cfg := Load()
	assert.Equal(t, 2, cfg.OrderServerID)
	assert.True(t, cfg.UseRaft)
	assert.False(t, cfg.UseCache)
	assert.True(t, cfg.UseDelay)
}

func TestInvalidServerIDIgnored(t *testing.T) {
	t.Setenv("ORDER_SERVER_ID", "9")
	cfg := Load()
	assert.Equal(t, 0, cfg.OrderServerID)
}

func TestReplicaAddressing(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "http://localhost:8002", cfg.ReplicaURL(3))
	assert.Equal(t, "http://localhost:8003", cfg.ReplicaURL(2))
	assert.Equal(t, "http://localhost:8004", cfg.ReplicaURL(1))
	assert.Equal(t, []int{3, 2, 1}, ReplicaIDsDescending())
}
