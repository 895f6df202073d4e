package order

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/BoddyShen/raft-order-service/pkg/api"
	"github.com/BoddyShen/raft-order-service/pkg/store"
)

// Bootstrap brings a classical-mode replica up to date when it (re)joins:
// ask the router who leads, pull the orders written while this replica was
// down, and take over leadership when this replica outranks the incumbent.
// Raft mode needs none of this; log replication catches a rejoiner up on the
// next heartbeat round.
func (s *Service) Bootstrap() {
	if s.useRaft {
		return
	}

	resp, err := s.client.Get(s.frontendURL + "/leader/")
	if err != nil {
		log.Printf("Replica %d: router unreachable during bootstrap: %v", s.id, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// No leader yet; volunteer.
		s.announceSelf()
		return
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("Replica %d: unexpected router answer %d during bootstrap", s.id, resp.StatusCode)
		return
	}

	var env api.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		log.Printf("Replica %d: bad router answer during bootstrap: %v", s.id, err)
		return
	}
	var leader struct {
		LeaderID int `json:"leader_ID"`
	}
	if err := json.Unmarshal(env.Data, &leader); err != nil || leader.LeaderID == 0 {
		return
	}

	s.mu.Lock()
	s.leaderID = leader.LeaderID
	s.mu.Unlock()

	if leader.LeaderID != s.id {
		s.syncFrom(leader.LeaderID)
	}
	// Highest id wins leadership, matching the router's probe order.
	if s.id > leader.LeaderID {
		s.announceSelf()
	}
}

func (s *Service) announceSelf() {
	s.mu.Lock()
	s.leaderID = s.id
	s.mu.Unlock()

	buf, _ := json.Marshal(map[string]int{"leader_id": s.id})
	resp, err := s.client.Post(s.frontendURL+"/leader/", "application/json", bytes.NewReader(buf))
	if err != nil {
		log.Printf("Replica %d: leadership announcement failed: %v", s.id, err)
		return
	}
	resp.Body.Close()
	log.Printf("Replica %d: announced self as leader", s.id)
}

// syncFrom pulls every order this replica is missing from the leader.
func (s *Service) syncFrom(leader int) {
	s.mu.Lock()
	next := s.nextOrder
	s.mu.Unlock()

	resp, err := s.client.Get(fmt.Sprintf("%s/sync/orders/%d/", s.replicas[leader], next))
	if err != nil {
		log.Printf("Replica %d: order sync from %d failed: %v", s.id, leader, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("Replica %d: order sync from %d answered %d", s.id, leader, resp.StatusCode)
		return
	}

	var env api.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return
	}
	var payload struct {
		Orders []store.Order `json:"orders"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return
	}

	for _, o := range payload.Orders {
		if err := s.store.PutOrder(o); err != nil {
			log.Printf("Replica %d: storing synced order %d failed: %v", s.id, o.Number, err)
			return
		}
		s.mu.Lock()
		if o.Number >= s.nextOrder {
			s.nextOrder = o.Number + 1
		}
		s.mu.Unlock()
	}
	if len(payload.Orders) > 0 {
		log.Printf("Replica %d: synced %d orders from replica %d", s.id, len(payload.Orders), leader)
	}
}
