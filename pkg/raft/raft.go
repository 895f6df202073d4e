package raft

import (
	"context"
	"log"
	"sync"
	"time"
)

// HandleRequestVote processes an incoming vote request.
func (n *Node) HandleRequestVote(args *RequestVoteArgs) *RequestVoteReply {
	n.mu.Lock()
	defer n.mu.Unlock()

	reply := &RequestVoteReply{Term: n.currentTerm}
	if n.stopped || args.Term < n.currentTerm {
		return reply
	}
	if args.Term > n.currentTerm {
		n.stepDown(args.Term)
		reply.Term = n.currentTerm
	}

	upToDate := args.LastLogTerm > n.lastLogTerm() ||
		(args.LastLogTerm == n.lastLogTerm() && args.LastLogIndex >= n.lastLogIndex())

	if (n.votedFor == 0 || n.votedFor == args.CandidateID) && upToDate {
		n.votedFor = args.CandidateID
		if !n.persistHardState() {
			return reply
		}
		n.lastContact = time.Now()
		reply.VoteGranted = true
		log.Printf("Replica %d: granted vote to %d for term %d", n.cfg.ID, args.CandidateID, args.Term)
	}
	return reply
}

// HandleAppendEntries processes an incoming append or heartbeat.
func (n *Node) HandleAppendEntries(args *AppendEntriesArgs) *AppendEntriesReply {
	n.mu.Lock()
	defer n.mu.Unlock()

	reply := &AppendEntriesReply{Term: n.currentTerm}
	if n.stopped || args.Term < n.currentTerm {
		return reply
	}
	if args.Term > n.currentTerm {
		n.currentTerm = args.Term
		n.votedFor = 0
		if !n.persistHardState() {
			return reply
		}
	}
	// A valid append in the current term also demotes a candidate or a
	// stale leader.
	n.state = Follower
	n.leaderID = args.LeaderID
	n.lastContact = time.Now()
	reply.Term = n.currentTerm

	if args.PrevLogIndex > 0 && n.termAt(args.PrevLogIndex) != args.PrevLogTerm {
		return reply
	}

	// Truncate the first conflicting suffix, then append what is new.
	for i, e := range args.Entries {
		idx := args.PrevLogIndex + uint64(i) + 1
		if idx <= n.lastLogIndex() {
			if n.termAt(idx) == e.Term {
				continue
			}
			n.log = n.log[:idx-1]
		}
		n.log = append(n.log, args.Entries[i:]...)
		break
	}

	if args.LeaderCommit > n.commitIndex {
		n.commitIndex = min64(args.LeaderCommit, n.lastLogIndex())
		n.applyCommitted()
	}

	reply.Success = true
	return reply
}

// Submit appends an order command, replicates it synchronously to all peers,
// and returns the assigned order number once a majority has acknowledged.
// The caller blocks for the whole round trip.
func (n *Node) Submit(ctx context.Context, order OrderPayload) (uint64, error) {
	n.submitMu.Lock()
	defer n.submitMu.Unlock()

	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return 0, ErrNodeStopped
	}
	if n.state != Leader {
		n.mu.Unlock()
		return 0, ErrNotLeader
	}
	term := n.currentTerm
	entry := LogEntry{
		Index:   n.lastLogIndex() + 1,
		Term:    term,
		Command: CommandCreateOrder,
		Order:   order,
	}
	n.log = append(n.log, entry)
	n.mu.Unlock()

	if n.cfg.SubmitDelay > 0 {
		select {
		case <-time.After(n.cfg.SubmitDelay):
		case <-ctx.Done():
		case <-n.stopCh:
		}
	}

	var wg sync.WaitGroup
	for _, peer := range n.otherPeers() {
		wg.Add(1)
		go func(peer int) {
			defer wg.Done()
			n.replicateTo(peer)
		}(peer)
	}
	wg.Wait()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != Leader || n.currentTerm != term {
		n.removeTentative(entry.Index)
		return 0, ErrNotLeader
	}

	count := 1 // self
	for _, p := range n.otherPeers() {
		if n.matchIndex[p] >= entry.Index {
			count++
		}
	}
	if count <= n.clusterSize()/2 {
		n.removeTentative(entry.Index)
		log.Printf("Replica %d: entry %d reached only %d/%d replicas, rejecting", n.cfg.ID, entry.Index, count, n.clusterSize())
		return 0, ErrNotCommitted
	}

	if entry.Index > n.commitIndex {
		n.commitIndex = entry.Index
	}
	if err := n.applyCommitted(); err != nil {
		return 0, err
	}
	return entry.Index, nil
}

// removeTentative drops an uncommitted tail entry that failed to reach a
// majority and pulls peer bookkeeping back inside the shortened log. Called
// with the mutex held.
func (n *Node) removeTentative(index uint64) {
	if index > n.commitIndex && n.lastLogIndex() == index {
		n.log = n.log[:index-1]
		for _, p := range n.otherPeers() {
			if n.matchIndex[p] >= index {
				n.matchIndex[p] = index - 1
			}
			if n.nextIndex[p] > index {
				n.nextIndex[p] = index
			}
		}
	}
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
