package raft

import (
	"context"
	"time"
)

// State represents the role of a replica.
type State int

const (
	Follower State = iota
	Candidate
	Leader
)

func (s State) String() string {
	switch s {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// OrderPayload is the state-machine command carried by every log entry: the
// order to create when the entry commits.
type OrderPayload struct {
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
}

// LogEntry is a single replicated log entry. Index is 1-based. The log holds
// only order-creation commands, so an applied entry's order number equals its
// index and order numbers are dense 1..k on every replica.
type LogEntry struct {
	Index   uint64       `json:"index"`
	Term    uint64       `json:"term"`
	Command string       `json:"command"`
	Order   OrderPayload `json:"order"`
}

// CommandCreateOrder is the only command type the log carries.
const CommandCreateOrder = "create_order"

// RequestVoteArgs and RequestVoteReply follow the wire shape of POST /vote/.
type RequestVoteArgs struct {
	Term         uint64 `json:"Term"`
	CandidateID  int    `json:"CandidateId"`
	LastLogIndex uint64 `json:"LastLogIndex"`
	LastLogTerm  uint64 `json:"LastLogTerm"`
}

type RequestVoteReply struct {
	Term        uint64 `json:"Term"`
	VoteGranted bool   `json:"VoteGranted"`
}

// AppendEntriesArgs and AppendEntriesReply follow the wire shape of
// POST /append_entries/. Entries is empty for a pure heartbeat.
type AppendEntriesArgs struct {
	Term         uint64     `json:"Term"`
	LeaderID     int        `json:"LeaderId"`
	PrevLogIndex uint64     `json:"PrevLogIndex"`
	PrevLogTerm  uint64     `json:"PrevLogTerm"`
	Entries      []LogEntry `json:"Entries"`
	LeaderCommit uint64     `json:"LeaderCommit"`
}

type AppendEntriesReply struct {
	Term    uint64 `json:"term"`
	Success bool   `json:"success"`
}

// HardState is the term/vote pair that must survive restarts.
type HardState struct {
	CurrentTerm uint64 `json:"current_term"`
	VotedFor    int    `json:"voted_for"`
}

// Transport sends Raft RPCs to the peer replica with the given id.
type Transport interface {
	RequestVote(ctx context.Context, target int, args *RequestVoteArgs) (*RequestVoteReply, error)
	AppendEntries(ctx context.Context, target int, args *AppendEntriesArgs) (*AppendEntriesReply, error)
}

// Applier is the durable state machine behind a replica. Apply must write the
// order row and the log row in one atomic transaction. SaveHardState must be
// durable before the node replies to the RPC that advanced term or vote.
type Applier interface {
	Apply(entry LogEntry) error
	SaveHardState(hs HardState) error
}

// Config holds a replica's Raft parameters. Peers lists every replica id in
// the cluster including the local one; majority is counted over this set.
type Config struct {
	ID    int
	Peers []int

	HeartbeatInterval   time.Duration
	ElectionTimeoutBase time.Duration
	ElectionJitter      time.Duration
	TickInterval        time.Duration
	RPCTimeout          time.Duration

	// SubmitDelay pauses between the local append and the replication
	// fan-out. The partition tests use it to widen the race window; zero in
	// production unless USE_DELAY is set.
	SubmitDelay time.Duration
}

// DefaultConfig returns the production timing parameters.
func DefaultConfig(id int, peers []int) Config {
	return Config{
		ID:                  id,
		Peers:               peers,
		HeartbeatInterval:   1500 * time.Millisecond,
		ElectionTimeoutBase: 5 * time.Second,
		ElectionJitter:      250 * time.Millisecond,
		TickInterval:        3 * time.Second,
		RPCTimeout:          1 * time.Second,
	}
}
