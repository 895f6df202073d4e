package raft_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BoddyShen/raft-order-service/pkg/raft"
	"github.com/BoddyShen/raft-order-service/pkg/raftest"
)

const (
	entriesOK = iota
	entriesDown
	entriesHold
)

// scriptedTransport grants every vote and answers heartbeats with success,
// while entry-carrying appends follow the current mode: succeed, fail as if
// the peer were down, or park until released and then succeed.
type scriptedTransport struct {
	mu     sync.Mutex
	mode   int
	parked []chan struct{}
}

func (s *scriptedTransport) RequestVote(ctx context.Context, target int, args *raft.RequestVoteArgs) (*raft.RequestVoteReply, error) {
	return &raft.RequestVoteReply{Term: args.Term, VoteGranted: true}, nil
}

func (s *scriptedTransport) AppendEntries(ctx context.Context, target int, args *raft.AppendEntriesArgs) (*raft.AppendEntriesReply, error) {
	if len(args.Entries) == 0 {
		return &raft.AppendEntriesReply{Term: args.Term, Success: true}, nil
	}
	s.mu.Lock()
	mode := s.mode
	var gate chan struct{}
	if mode == entriesHold {
		gate = make(chan struct{})
		s.parked = append(s.parked, gate)
	}
	s.mu.Unlock()

	switch mode {
	case entriesDown:
		return nil, raft.ErrPeerDown
	case entriesHold:
		<-gate
	}
	return &raft.AppendEntriesReply{Term: args.Term, Success: true}, nil
}

func (s *scriptedTransport) setMode(mode int) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
}

func (s *scriptedTransport) release() {
	s.mu.Lock()
	for _, gate := range s.parked {
		close(gate)
	}
	s.parked = nil
	s.mu.Unlock()
}

func waitForLeadership(t *testing.T, node *raft.Node, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, isLeader := node.GetState(); isLeader {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("node never became leader")
}

// TestRolledBackEntryDoesNotBreakReplication covers the race between a
// heartbeat round that carried a tentative entry and the rollback of that
// entry after its submit failed to reach a majority: the late success
// replies push matchIndex and nextIndex past the shortened log, and the
// leader must keep replicating (not crash) afterwards.
func TestRolledBackEntryDoesNotBreakReplication(t *testing.T) {
	tr := &scriptedTransport{}
	cfg := raftest.TestConfig(1, []int{1, 2, 3})
	cfg.SubmitDelay = 150 * time.Millisecond

	applier := &raftest.MemApplier{}
	node := raft.NewNode(cfg, tr, applier, raft.HardState{}, nil)
	node.Start()
	defer node.Stop()
	waitForLeadership(t, node, 5*time.Second)

	// Heartbeat rounds that pick up the tentative entry park their replies.
	tr.setMode(entriesHold)

	errCh := make(chan error, 1)
	go func() {
		_, err := node.Submit(context.Background(), raft.OrderPayload{ProductName: "Tux", Quantity: 1})
		errCh <- err
	}()

	// Let a heartbeat round carry the entry, then fail the submit fan-out.
	time.Sleep(100 * time.Millisecond)
	tr.setMode(entriesDown)

	err := <-errCh
	if !errors.Is(err, raft.ErrNotCommitted) {
		t.Fatalf("majority-starved submit returned %v, want ErrNotCommitted", err)
	}
	if got := node.LastLogIndex(); got != 0 {
		t.Fatalf("tentative entry not rolled back, last index %d", got)
	}

	// Deliver the stale success replies after the rollback, then let a few
	// heartbeat rounds run over the shortened log.
	tr.setMode(entriesOK)
	tr.release()
	time.Sleep(300 * time.Millisecond)

	if _, isLeader := node.GetState(); !isLeader {
		t.Fatal("leader lost leadership without any higher term")
	}

	// The leader must still replicate and commit new orders.
	number, err := node.Submit(context.Background(), raft.OrderPayload{ProductName: "Lego", Quantity: 2})
	if err != nil {
		t.Fatalf("submit after rollback: %v", err)
	}
	if number != 1 {
		t.Fatalf("order number %d after rollback, want 1", number)
	}

	applied := applier.Applied()
	if len(applied) != 1 || applied[0].Order.ProductName != "Lego" {
		t.Fatalf("applied entries %+v, want the post-rollback order only", applied)
	}
}
