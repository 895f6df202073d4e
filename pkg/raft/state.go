package raft

import (
	"context"
	"log"
	"sync"
	"time"
)

// run drives the replica between its three roles until stopped.
func (n *Node) run() {
	defer n.wg.Done()
	for {
		select {
		case <-n.stopCh:
			return
		default:
		}

		n.mu.Lock()
		state := n.state
		n.mu.Unlock()

		switch state {
		case Follower, Candidate:
			n.runFollower()
		case Leader:
			n.runLeader()
		}
	}
}

// runFollower checks the election timer on a coarse tick. The timeout is
// redrawn each round so replicas rarely time out together.
func (n *Node) runFollower() {
	ticker := time.NewTicker(n.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.mu.Lock()
			if n.state == Leader {
				n.mu.Unlock()
				return
			}
			elapsed := time.Since(n.lastContact)
			timeout := n.electionTimeout()
			n.mu.Unlock()
			if elapsed >= timeout {
				n.startElection()
				n.mu.Lock()
				elected := n.state == Leader
				n.mu.Unlock()
				if elected {
					return
				}
			}
		}
	}
}

// startElection runs one round: become candidate, solicit votes in parallel,
// and take leadership on a majority.
func (n *Node) startElection() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.state = Candidate
	n.currentTerm++
	n.votedFor = n.cfg.ID
	if !n.persistHardState() {
		n.mu.Unlock()
		return
	}
	n.lastContact = time.Now()
	term := n.currentTerm
	args := &RequestVoteArgs{
		Term:         term,
		CandidateID:  n.cfg.ID,
		LastLogIndex: n.lastLogIndex(),
		LastLogTerm:  n.lastLogTerm(),
	}
	peers := n.otherPeers()
	n.mu.Unlock()

	log.Printf("Replica %d: starting election for term %d", n.cfg.ID, term)

	var (
		wg      sync.WaitGroup
		tallyMu sync.Mutex
		granted = 1 // own vote
		maxTerm = term
	)
	for _, peer := range peers {
		wg.Add(1)
		go func(peer int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), n.cfg.RPCTimeout)
			defer cancel()
			reply, err := n.transport.RequestVote(ctx, peer, args)
			if err != nil {
				return
			}
			tallyMu.Lock()
			defer tallyMu.Unlock()
			if reply.Term > maxTerm {
				maxTerm = reply.Term
			}
			if reply.VoteGranted {
				granted++
			}
		}(peer)
	}
	wg.Wait()

	n.mu.Lock()
	defer n.mu.Unlock()
	if maxTerm > n.currentTerm {
		n.stepDown(maxTerm)
		return
	}
	if n.state != Candidate || n.currentTerm != term {
		return
	}
	if granted > n.clusterSize()/2 {
		n.becomeLeader()
	}
}

// becomeLeader initializes leader bookkeeping. Called with the mutex held.
func (n *Node) becomeLeader() {
	n.state = Leader
	n.leaderID = n.cfg.ID
	next := n.lastLogIndex() + 1
	for _, p := range n.otherPeers() {
		n.nextIndex[p] = next
		n.matchIndex[p] = 0
	}
	log.Printf("Replica %d: became leader in term %d", n.cfg.ID, n.currentTerm)
}

// runLeader broadcasts heartbeats on a fixed interval. Heartbeats carry the
// entries a lagging peer is missing, so a recovered follower catches up
// within one round even with no new writes.
func (n *Node) runLeader() {
	n.broadcastAppend()

	ticker := time.NewTicker(n.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.mu.Lock()
			if n.state != Leader {
				n.mu.Unlock()
				return
			}
			n.mu.Unlock()
			n.broadcastAppend()
		}
	}
}

// broadcastAppend replicates to every peer in parallel and waits for the
// round to finish.
func (n *Node) broadcastAppend() {
	var wg sync.WaitGroup
	for _, peer := range n.otherPeers() {
		wg.Add(1)
		go func(peer int) {
			defer wg.Done()
			n.replicateTo(peer)
		}(peer)
	}
	wg.Wait()
}

// replicateTo sends one AppendEntries to a peer with everything from its
// nextIndex onward and processes the reply.
func (n *Node) replicateTo(peer int) {
	n.mu.Lock()
	if n.state != Leader || n.stopped {
		n.mu.Unlock()
		return
	}
	term := n.currentTerm
	next := n.nextIndex[peer]
	if next == 0 {
		next = 1
	}
	// A late success reply for a since-rolled-back tentative entry can
	// leave nextIndex past the end of the log; clamp so the slice below
	// stays in range.
	if last := n.lastLogIndex(); next > last+1 {
		next = last + 1
		n.nextIndex[peer] = next
	}
	prevIndex := next - 1
	args := &AppendEntriesArgs{
		Term:         term,
		LeaderID:     n.cfg.ID,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  n.termAt(prevIndex),
		Entries:      append([]LogEntry(nil), n.log[prevIndex:]...),
		LeaderCommit: n.commitIndex,
	}
	n.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.RPCTimeout)
	defer cancel()
	reply, err := n.transport.AppendEntries(ctx, peer, args)
	if err != nil {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != Leader || n.currentTerm != term {
		return
	}
	if reply.Term > n.currentTerm {
		n.stepDown(reply.Term)
		return
	}
	if reply.Success {
		match := prevIndex + uint64(len(args.Entries))
		if match > n.matchIndex[peer] {
			n.matchIndex[peer] = match
		}
		n.nextIndex[peer] = n.matchIndex[peer] + 1
		n.advanceCommit()
	} else if n.nextIndex[peer] > 1 {
		// The wire reply carries no conflict hints, so back up one at a
		// time.
		n.nextIndex[peer]--
	}
}

// advanceCommit moves commitIndex forward to the highest index replicated on
// a majority whose entry is from the current term. Earlier-term entries
// commit transitively. Called with the mutex held.
func (n *Node) advanceCommit() {
	for idx := n.lastLogIndex(); idx > n.commitIndex; idx-- {
		if n.termAt(idx) != n.currentTerm {
			break
		}
		count := 1 // self
		for _, p := range n.otherPeers() {
			if n.matchIndex[p] >= idx {
				count++
			}
		}
		if count > n.clusterSize()/2 {
			n.commitIndex = idx
			n.applyCommitted()
			return
		}
	}
}
