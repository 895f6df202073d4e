// Package raftest provides an in-process cluster harness for consensus
// tests: real nodes over the in-memory transport with a recording state
// machine, on timings scaled down for the test suite.
package raftest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BoddyShen/raft-order-service/pkg/raft"
	"github.com/BoddyShen/raft-order-service/pkg/transport"
)

// MemApplier records applied entries and hard states in memory.
type MemApplier struct {
	mu      sync.Mutex
	entries []raft.LogEntry
	hs      raft.HardState
}

func (m *MemApplier) Apply(entry raft.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MemApplier) SaveHardState(hs raft.HardState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hs = hs
	return nil
}

// Applied returns a copy of the applied entries in apply order.
func (m *MemApplier) Applied() []raft.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]raft.LogEntry(nil), m.entries...)
}

// HardState returns the last persisted term and vote.
func (m *MemApplier) HardState() raft.HardState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hs
}

// Cluster is a set of live nodes sharing one in-memory network.
type Cluster struct {
	Net      *transport.Local
	Nodes    map[int]*raft.Node
	Appliers map[int]*MemApplier
}

// TestConfig returns cluster timings scaled for tests.
func TestConfig(id int, peers []int) raft.Config {
	return raft.Config{
		ID:                  id,
		Peers:               peers,
		HeartbeatInterval:   50 * time.Millisecond,
		ElectionTimeoutBase: 150 * time.Millisecond,
		ElectionJitter:      150 * time.Millisecond,
		TickInterval:        25 * time.Millisecond,
		RPCTimeout:          50 * time.Millisecond,
	}
}

// NewCluster starts n nodes with ids 1..n and registers cleanup.
func NewCluster(t *testing.T, n int) *Cluster {
	t.Helper()

	peers := make([]int, n)
	for i := range peers {
		peers[i] = i + 1
	}

	c := &Cluster{
		Net:      transport.NewLocal(),
		Nodes:    make(map[int]*raft.Node, n),
		Appliers: make(map[int]*MemApplier, n),
	}
	for _, id := range peers {
		applier := &MemApplier{}
		node := raft.NewNode(TestConfig(id, peers), c.Net.ForNode(id), applier, raft.HardState{}, nil)
		c.Net.Register(id, node)
		c.Nodes[id] = node
		c.Appliers[id] = applier
	}
	for _, node := range c.Nodes {
		node.Start()
	}
	t.Cleanup(c.Stop)
	return c
}

func (c *Cluster) Stop() {
	for _, node := range c.Nodes {
		node.Stop()
	}
}

// Leaders returns the ids of every node currently claiming leadership.
func (c *Cluster) Leaders() []int {
	var out []int
	for id, node := range c.Nodes {
		if _, isLeader := node.GetState(); isLeader {
			out = append(out, id)
		}
	}
	return out
}

// WaitForLeader polls until some node claims leadership.
func (c *Cluster) WaitForLeader(t *testing.T, timeout time.Duration) int {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if leaders := c.Leaders(); len(leaders) == 1 {
			return leaders[0]
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("no leader elected within %v", timeout)
	return 0
}

// WaitForLeaderExcept polls for a leader other than the given id.
func (c *Cluster) WaitForLeaderExcept(t *testing.T, exclude int, timeout time.Duration) int {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, id := range c.Leaders() {
			if id != exclude {
				return id
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("no leader other than %d elected within %v", exclude, timeout)
	return 0
}

// Submit sends one order through the given node.
func (c *Cluster) Submit(id int, order raft.OrderPayload) (uint64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Nodes[id].Submit(ctx, order)
}

// WaitForCommit polls until the node's commit index reaches index.
func (c *Cluster) WaitForCommit(t *testing.T, id int, index uint64, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Nodes[id].CommitIndex() >= index {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("node %d did not reach commit index %d within %v", id, index, timeout)
}
