package raft_test

import (
	"testing"

	"github.com/BoddyShen/raft-order-service/pkg/raft"
	"github.com/BoddyShen/raft-order-service/pkg/raftest"
)

// newIdleNode builds a node that is never started, so the RPC handlers can
// be exercised deterministically.
func newIdleNode(hs raft.HardState, log []raft.LogEntry) (*raft.Node, *raftest.MemApplier) {
	applier := &raftest.MemApplier{}
	node := raft.NewNode(raftest.TestConfig(1, []int{1, 2, 3}), nil, applier, hs, log)
	return node, applier
}

func TestVoteDeniedForStaleTerm(t *testing.T) {
	node, _ := newIdleNode(raft.HardState{CurrentTerm: 5}, nil)

	reply := node.HandleRequestVote(&raft.RequestVoteArgs{Term: 4, CandidateID: 2})
	if reply.VoteGranted {
		t.Fatal("granted vote to stale candidate")
	}
	if reply.Term != 5 {
		t.Fatalf("reply term %d, want 5", reply.Term)
	}
}

func TestVoteGrantedOncePerTerm(t *testing.T) {
	node, applier := newIdleNode(raft.HardState{CurrentTerm: 5}, nil)

	reply := node.HandleRequestVote(&raft.RequestVoteArgs{Term: 5, CandidateID: 2})
	if !reply.VoteGranted {
		t.Fatal("vote denied to first candidate")
	}
	if hs := applier.HardState(); hs.VotedFor != 2 || hs.CurrentTerm != 5 {
		t.Fatalf("hard state not persisted on grant: %+v", hs)
	}

	reply = node.HandleRequestVote(&raft.RequestVoteArgs{Term: 5, CandidateID: 3})
	if reply.VoteGranted {
		t.Fatal("second candidate got a vote in the same term")
	}

	// The same candidate asking again keeps its vote.
	reply = node.HandleRequestVote(&raft.RequestVoteArgs{Term: 5, CandidateID: 2})
	if !reply.VoteGranted {
		t.Fatal("repeat request from voted-for candidate denied")
	}
}

func TestVoteRequiresUpToDateLog(t *testing.T) {
	existing := []raft.LogEntry{
		{Index: 1, Term: 2, Command: raft.CommandCreateOrder, Order: raft.OrderPayload{ProductName: "Tux", Quantity: 1}},
		{Index: 2, Term: 3, Command: raft.CommandCreateOrder, Order: raft.OrderPayload{ProductName: "Uno", Quantity: 1}},
	}
	node, _ := newIdleNode(raft.HardState{CurrentTerm: 3}, existing)

	// Lower last log term.
	reply := node.HandleRequestVote(&raft.RequestVoteArgs{Term: 4, CandidateID: 2, LastLogIndex: 5, LastLogTerm: 2})
	if reply.VoteGranted {
		t.Fatal("granted vote to candidate with stale log term")
	}

	// Equal term but shorter log.
	reply = node.HandleRequestVote(&raft.RequestVoteArgs{Term: 5, CandidateID: 2, LastLogIndex: 1, LastLogTerm: 3})
	if reply.VoteGranted {
		t.Fatal("granted vote to candidate with shorter log")
	}

	// Equal term, equal length.
	reply = node.HandleRequestVote(&raft.RequestVoteArgs{Term: 6, CandidateID: 2, LastLogIndex: 2, LastLogTerm: 3})
	if !reply.VoteGranted {
		t.Fatal("denied vote to up-to-date candidate")
	}
}

func TestAppendRejectsStaleLeader(t *testing.T) {
	node, _ := newIdleNode(raft.HardState{CurrentTerm: 5}, nil)

	reply := node.HandleAppendEntries(&raft.AppendEntriesArgs{Term: 4, LeaderID: 2})
	if reply.Success {
		t.Fatal("accepted append from stale leader")
	}
	if reply.Term != 5 {
		t.Fatalf("reply term %d, want 5", reply.Term)
	}
}

func TestAppendRejectsLogGap(t *testing.T) {
	node, _ := newIdleNode(raft.HardState{}, nil)

	reply := node.HandleAppendEntries(&raft.AppendEntriesArgs{
		Term: 1, LeaderID: 2, PrevLogIndex: 5, PrevLogTerm: 1,
	})
	if reply.Success {
		t.Fatal("accepted append past a gap")
	}
}

func TestAppendStoresAndAppliesOnCommit(t *testing.T) {
	node, applier := newIdleNode(raft.HardState{}, nil)

	entries := []raft.LogEntry{
		{Index: 1, Term: 1, Command: raft.CommandCreateOrder, Order: raft.OrderPayload{ProductName: "Clue", Quantity: 2}},
		{Index: 2, Term: 1, Command: raft.CommandCreateOrder, Order: raft.OrderPayload{ProductName: "Lego", Quantity: 1}},
	}
	reply := node.HandleAppendEntries(&raft.AppendEntriesArgs{
		Term: 1, LeaderID: 2, Entries: entries, LeaderCommit: 1,
	})
	if !reply.Success {
		t.Fatal("append rejected")
	}
	if got := node.CommitIndex(); got != 1 {
		t.Fatalf("commit index %d, want 1", got)
	}
	applied := applier.Applied()
	if len(applied) != 1 || applied[0].Order.ProductName != "Clue" {
		t.Fatalf("applied entries %+v", applied)
	}

	// Heartbeat advancing the commit applies the rest.
	reply = node.HandleAppendEntries(&raft.AppendEntriesArgs{
		Term: 1, LeaderID: 2, PrevLogIndex: 2, PrevLogTerm: 1, LeaderCommit: 2,
	})
	if !reply.Success {
		t.Fatal("heartbeat rejected")
	}
	if applied := applier.Applied(); len(applied) != 2 {
		t.Fatalf("applied %d entries, want 2", len(applied))
	}
}

func TestAppendTruncatesConflictingSuffix(t *testing.T) {
	node, _ := newIdleNode(raft.HardState{}, nil)

	// Uncommitted tail from an old leader.
	reply := node.HandleAppendEntries(&raft.AppendEntriesArgs{
		Term: 1, LeaderID: 2,
		Entries: []raft.LogEntry{
			{Index: 1, Term: 1, Command: raft.CommandCreateOrder, Order: raft.OrderPayload{ProductName: "Chess", Quantity: 1}},
			{Index: 2, Term: 1, Command: raft.CommandCreateOrder, Order: raft.OrderPayload{ProductName: "Barbie", Quantity: 1}},
		},
	})
	if !reply.Success {
		t.Fatal("initial append rejected")
	}

	// A newer leader overwrites index 2.
	reply = node.HandleAppendEntries(&raft.AppendEntriesArgs{
		Term: 2, LeaderID: 3, PrevLogIndex: 1, PrevLogTerm: 1,
		Entries: []raft.LogEntry{
			{Index: 2, Term: 2, Command: raft.CommandCreateOrder, Order: raft.OrderPayload{ProductName: "Bubbles", Quantity: 3}},
		},
	})
	if !reply.Success {
		t.Fatal("overwrite append rejected")
	}
	if got := node.LastLogIndex(); got != 2 {
		t.Fatalf("last log index %d, want 2", got)
	}

	// Consistency probe at (2, term 2) must now pass.
	reply = node.HandleAppendEntries(&raft.AppendEntriesArgs{
		Term: 2, LeaderID: 3, PrevLogIndex: 2, PrevLogTerm: 2,
	})
	if !reply.Success {
		t.Fatal("log does not match the new leader after truncation")
	}
}

func TestAppendAdoptsHigherTerm(t *testing.T) {
	node, applier := newIdleNode(raft.HardState{CurrentTerm: 1}, nil)

	reply := node.HandleAppendEntries(&raft.AppendEntriesArgs{Term: 7, LeaderID: 3})
	if !reply.Success {
		t.Fatal("append from newer leader rejected")
	}
	if reply.Term != 7 {
		t.Fatalf("reply term %d, want 7", reply.Term)
	}
	if hs := applier.HardState(); hs.CurrentTerm != 7 || hs.VotedFor != 0 {
		t.Fatalf("hard state not persisted on term adoption: %+v", hs)
	}
	if node.LeaderID() != 3 {
		t.Fatalf("leader id %d, want 3", node.LeaderID())
	}
}
