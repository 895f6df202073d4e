package raft

import (
	"log"
	"math/rand"
	"sync"
	"time"
)

// Node is one Raft replica. A single mutex serializes all state mutation; it
// is released while outbound RPCs are in flight and re-acquired to process
// replies, with the (state, term) pair re-checked before mutating.
type Node struct {
	mu sync.Mutex

	cfg   Config
	state State

	currentTerm uint64
	votedFor    int // 0 means no vote this term
	log         []LogEntry

	commitIndex uint64
	lastApplied uint64

	nextIndex  map[int]uint64
	matchIndex map[int]uint64

	leaderID int // 0 until a leader is known

	// lastContact is reset on valid leader contact and on granting a vote.
	lastContact time.Time

	transport Transport
	applier   Applier

	// submitMu serializes Submit calls so tentative entries are removed
	// safely and order numbers stay dense.
	submitMu sync.Mutex

	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup

	rng *rand.Rand
}

// NewNode restores a replica from its durable state. restoredLog is the
// committed prefix loaded from disk; commitIndex and lastApplied start at its
// last index.
func NewNode(cfg Config, transport Transport, applier Applier, hs HardState, restoredLog []LogEntry) *Node {
	n := &Node{
		cfg:         cfg,
		state:       Follower,
		currentTerm: hs.CurrentTerm,
		votedFor:    hs.VotedFor,
		log:         append([]LogEntry(nil), restoredLog...),
		nextIndex:   make(map[int]uint64),
		matchIndex:  make(map[int]uint64),
		transport:   transport,
		applier:     applier,
		stopCh:      make(chan struct{}),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano() + int64(cfg.ID))),
	}
	if len(n.log) > 0 {
		last := n.log[len(n.log)-1].Index
		n.commitIndex = last
		n.lastApplied = last
	}
	return n
}

// Start launches the election ticker. The node begins as a follower.
func (n *Node) Start() {
	n.mu.Lock()
	n.lastContact = time.Now()
	n.mu.Unlock()
	n.wg.Add(1)
	go n.run()
}

// Stop halts all background loops. Safe to call more than once.
func (n *Node) Stop() {
	n.mu.Lock()
	n.stopLocked()
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *Node) stopLocked() {
	if !n.stopped {
		n.stopped = true
		close(n.stopCh)
	}
}

// GetState returns the current term and whether this replica is the leader.
func (n *Node) GetState() (uint64, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentTerm, n.state == Leader
}

// LeaderID returns the id of the last known leader, 0 if none.
func (n *Node) LeaderID() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leaderID
}

// CommitIndex returns the highest committed log index.
func (n *Node) CommitIndex() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.commitIndex
}

// LastLogIndex returns the index of the last entry in the in-memory log.
func (n *Node) LastLogIndex() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastLogIndex()
}

func (n *Node) lastLogIndex() uint64 {
	if len(n.log) == 0 {
		return 0
	}
	return n.log[len(n.log)-1].Index
}

func (n *Node) lastLogTerm() uint64 {
	if len(n.log) == 0 {
		return 0
	}
	return n.log[len(n.log)-1].Term
}

// termAt returns the term of the entry at index, 0 for index 0 or an index
// past the end of the log.
func (n *Node) termAt(index uint64) uint64 {
	if index == 0 || index > n.lastLogIndex() {
		return 0
	}
	return n.log[index-1].Term
}

// persistHardState writes term and vote to disk. A replica that cannot
// persist is unsafe to keep running, so failure halts the node.
func (n *Node) persistHardState() bool {
	err := n.applier.SaveHardState(HardState{CurrentTerm: n.currentTerm, VotedFor: n.votedFor})
	if err != nil {
		log.Printf("Replica %d: persist hard state failed: %v; halting", n.cfg.ID, err)
		n.stopLocked()
		return false
	}
	return true
}

// stepDown moves to follower in the given term, clearing the vote.
func (n *Node) stepDown(term uint64) {
	if term > n.currentTerm {
		n.currentTerm = term
		n.votedFor = 0
		n.persistHardState()
	}
	if n.state != Follower {
		log.Printf("Replica %d: stepping down to follower in term %d", n.cfg.ID, n.currentTerm)
	}
	n.state = Follower
}

// applyCommitted applies entries in (lastApplied, commitIndex] through the
// durable state machine. Called with the mutex held.
func (n *Node) applyCommitted() error {
	for n.lastApplied < n.commitIndex {
		entry := n.log[n.lastApplied] // entry at index lastApplied+1
		if err := n.applier.Apply(entry); err != nil {
			log.Printf("Replica %d: apply entry %d failed: %v; halting", n.cfg.ID, entry.Index, err)
			n.stopLocked()
			return err
		}
		n.lastApplied = entry.Index
	}
	return nil
}

// electionTimeout draws a fresh randomized timeout.
func (n *Node) electionTimeout() time.Duration {
	jitter := time.Duration(0)
	if n.cfg.ElectionJitter > 0 {
		jitter = time.Duration(n.rng.Int63n(int64(n.cfg.ElectionJitter)))
	}
	return n.cfg.ElectionTimeoutBase + jitter
}

func (n *Node) clusterSize() int {
	return len(n.cfg.Peers)
}

// otherPeers lists every peer id except the local one.
func (n *Node) otherPeers() []int {
	out := make([]int, 0, len(n.cfg.Peers)-1)
	for _, p := range n.cfg.Peers {
		if p != n.cfg.ID {
			out = append(out, p)
		}
	}
	return out
}
