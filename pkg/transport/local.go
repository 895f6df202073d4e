package transport

import (
	"context"
	"sync"
	"time"

	"github.com/BoddyShen/raft-order-service/pkg/raft"
)

// RPCHandler is the receiver side of the Raft RPCs; *raft.Node satisfies it.
type RPCHandler interface {
	HandleRequestVote(args *raft.RequestVoteArgs) *raft.RequestVoteReply
	HandleAppendEntries(args *raft.AppendEntriesArgs) *raft.AppendEntriesReply
}

// Local is an in-memory transport for cluster tests. It delivers RPCs
// directly to registered handlers and can disconnect nodes or partition the
// cluster into groups that cannot reach each other.
type Local struct {
	mu           sync.Mutex
	nodes        map[int]RPCHandler
	disconnected map[int]bool
	partition    map[int]int // node id -> group; zero value means group 0
	latency      time.Duration
}

func NewLocal() *Local {
	return &Local{
		nodes:        make(map[int]RPCHandler),
		disconnected: make(map[int]bool),
		partition:    make(map[int]int),
	}
}

// Register attaches a node's RPC handler under its id.
func (l *Local) Register(id int, h RPCHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nodes[id] = h
}

// Disconnect drops all traffic to and from the node.
func (l *Local) Disconnect(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnected[id] = true
}

// Reconnect restores a disconnected node.
func (l *Local) Reconnect(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.disconnected, id)
}

// Partition splits the cluster: ids in minority form one side, everyone else
// the other. Traffic only flows within a side.
func (l *Local) Partition(minority ...int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.partition = make(map[int]int)
	for _, id := range minority {
		l.partition[id] = 1
	}
}

// Heal removes any partition.
func (l *Local) Heal() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.partition = make(map[int]int)
}

// SetLatency adds a fixed delay to every delivered RPC.
func (l *Local) SetLatency(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.latency = d
}

// ForNode returns the Transport view a single node uses, so reachability is
// judged from that node's side of the partition.
func (l *Local) ForNode(id int) raft.Transport {
	return &localView{net: l, from: id}
}

func (l *Local) deliver(from, to int) (RPCHandler, time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disconnected[from] || l.disconnected[to] {
		return nil, 0, false
	}
	if l.partition[from] != l.partition[to] {
		return nil, 0, false
	}
	h, ok := l.nodes[to]
	return h, l.latency, ok
}

type localView struct {
	net  *Local
	from int
}

func (v *localView) RequestVote(ctx context.Context, target int, args *raft.RequestVoteArgs) (*raft.RequestVoteReply, error) {
	h, latency, ok := v.net.deliver(v.from, target)
	if !ok {
		return nil, raft.ErrPeerDown
	}
	if err := wait(ctx, latency); err != nil {
		return nil, err
	}
	return h.HandleRequestVote(args), nil
}

func (v *localView) AppendEntries(ctx context.Context, target int, args *raft.AppendEntriesArgs) (*raft.AppendEntriesReply, error) {
	h, latency, ok := v.net.deliver(v.from, target)
	if !ok {
		return nil, raft.ErrPeerDown
	}
	if err := wait(ctx, latency); err != nil {
		return nil, err
	}
	return h.HandleAppendEntries(args), nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
