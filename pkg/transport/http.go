// Package transport carries Raft RPCs between order replicas. Production uses
// the HTTP JSON transport; tests use the in-memory one with partition
// support.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/BoddyShen/raft-order-service/pkg/raft"
)

// HTTPTransport posts Raft RPCs to peer replicas as JSON over HTTP. Peer ids
// map to base URLs; bodies and replies use the /vote/ and /append_entries/
// wire shapes directly, without the data envelope.
type HTTPTransport struct {
	peers  map[int]string
	client *http.Client
}

// NewHTTPTransport builds a transport over the given id-to-base-URL map. The
// caller bounds each RPC with a context deadline.
func NewHTTPTransport(peers map[int]string) *HTTPTransport {
	return &HTTPTransport{
		peers: peers,
		client: &http.Client{
			Transport: &http.Transport{MaxIdleConnsPerHost: 4},
		},
	}
}

func (t *HTTPTransport) RequestVote(ctx context.Context, target int, args *raft.RequestVoteArgs) (*raft.RequestVoteReply, error) {
	var reply raft.RequestVoteReply
	if err := t.post(ctx, target, "/vote/", args, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (t *HTTPTransport) AppendEntries(ctx context.Context, target int, args *raft.AppendEntriesArgs) (*raft.AppendEntriesReply, error) {
	var reply raft.AppendEntriesReply
	if err := t.post(ctx, target, "/append_entries/", args, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (t *HTTPTransport) post(ctx context.Context, target int, path string, args, reply interface{}) error {
	base, ok := t.peers[target]
	if !ok {
		return fmt.Errorf("unknown peer %d", target)
	}
	body, err := json.Marshal(args)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer %d: %s %s: status %d", target, http.MethodPost, path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(reply)
}
