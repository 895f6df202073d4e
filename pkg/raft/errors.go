package raft

import "errors"

var (
	ErrNotLeader    = errors.New("not the leader")
	ErrNotCommitted = errors.New("entry not replicated to a majority")
	ErrNodeStopped  = errors.New("node stopped")
	ErrPeerDown     = errors.New("peer unreachable")
)
