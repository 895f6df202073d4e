// Package order implements the replicated order service: the HTTP surface of
// one replica, the leader-only write middleware, and the classical
// replication path used when Raft is disabled.
package order

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BoddyShen/raft-order-service/pkg/api"
	"github.com/BoddyShen/raft-order-service/pkg/raft"
	"github.com/BoddyShen/raft-order-service/pkg/store"
)

// Service is one order replica's HTTP service.
type Service struct {
	id       int
	store    *store.Store
	node     *raft.Node // nil when Raft is disabled
	useRaft  bool
	replicas map[int]string // id -> base URL, including self

	catalogURL  string
	frontendURL string
	client      *http.Client

	// Classical-mode state: the router-announced leader and the next order
	// number the leader will assign.
	mu        sync.Mutex
	leaderID  int
	nextOrder uint64
}

func NewService(id int, st *store.Store, node *raft.Node, useRaft bool, replicas map[int]string, catalogURL, frontendURL string) *Service {
	s := &Service{
		id:          id,
		store:       st,
		node:        node,
		useRaft:     useRaft,
		replicas:    replicas,
		catalogURL:  catalogURL,
		frontendURL: frontendURL,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
	if latest, err := st.LatestOrderNumber(); err == nil {
		s.nextOrder = latest + 1
	} else {
		log.Printf("Replica %d: reading latest order number: %v", id, err)
		s.nextOrder = 1
	}
	return s
}

// Router builds the replica's HTTP surface.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/orders/{number}/", s.handleGetOrder)
	r.Post("/orders/", s.requireLeader(s.handleCreateOrder))
	r.Post("/replicas/orders/", s.handleReplicaOrder)
	r.Post("/replicas/leaders/", s.handleReplicaLeader)
	r.Get("/sync/orders/{next}/", s.handleSyncOrders)
	r.Get("/health/", s.handleHealth)
	if s.useRaft {
		r.Post("/vote/", s.handleVote)
		r.Post("/append_entries/", s.handleAppendEntries)
	}
	return r
}

// requireLeader gates write handlers. A follower forwards the request to the
// known leader transparently; when no leader is known (or forwarding fails)
// it answers 503 with a Leader-Endpoint hint when available. Reads and Raft
// RPCs never pass through here.
func (s *Service) requireLeader(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.isLeader() {
			next(w, r)
			return
		}
		leader := s.currentLeader()
		if leader != 0 && leader != s.id {
			if s.forwardToLeader(w, r, s.replicas[leader]) {
				return
			}
			w.Header().Set("Leader-Endpoint", s.replicas[leader])
		}
		api.WriteError(w, http.StatusServiceUnavailable, "leader not found")
	}
}

func (s *Service) isLeader() bool {
	if s.useRaft {
		_, isLeader := s.node.GetState()
		return isLeader
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderID == s.id
}

func (s *Service) currentLeader() int {
	if s.useRaft {
		return s.node.LeaderID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderID
}

func (s *Service) forwardToLeader(w http.ResponseWriter, r *http.Request, leaderBase string) bool {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, leaderBase+r.URL.Path, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("Replica %d: forward to leader %s failed: %v", s.id, leaderBase, err)
		return false
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)
	return true
}

func (s *Service) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.ParseUint(chi.URLParam(r, "number"), 10, 64)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid order number")
		return
	}
	o, err := s.store.GetOrder(number)
	if errors.Is(err, store.ErrNotFound) {
		api.WriteError(w, http.StatusNotFound, fmt.Sprintf("order %d not found", number))
		return
	}
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	api.WriteData(w, http.StatusOK, o)
}

type orderRequest struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// handleCreateOrder is the leader's write path: verify stock with the
// catalog, replicate the order, then confirm the stock decrement.
func (s *Service) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Quantity <= 0 {
		api.WriteError(w, http.StatusBadRequest, "quantity must be positive")
		return
	}

	product, errStatus, errMsg := s.fetchProduct(req.Name)
	if errStatus != 0 {
		api.WriteError(w, errStatus, errMsg)
		return
	}
	if product.Quantity < req.Quantity {
		api.WriteError(w, http.StatusBadRequest, "No sufficient stock")
		return
	}

	var number uint64
	if s.useRaft {
		n, err := s.node.Submit(r.Context(), raft.OrderPayload{ProductName: req.Name, Quantity: req.Quantity})
		switch {
		case errors.Is(err, raft.ErrNotLeader):
			if leader := s.node.LeaderID(); leader != 0 && leader != s.id {
				w.Header().Set("Leader-Endpoint", s.replicas[leader])
			}
			api.WriteError(w, http.StatusServiceUnavailable, "leader not found")
			return
		case errors.Is(err, raft.ErrNotCommitted):
			api.WriteError(w, http.StatusInternalServerError, "order not replicated to a majority")
			return
		case err != nil:
			api.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		number = n
	} else {
		var err error
		number, err = s.createClassical(req)
		if err != nil {
			api.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	if status, msg := s.decrementStock(req); status != 0 {
		// The order is durable but the catalog refused the decrement;
		// surface the catalog's answer.
		api.WriteError(w, status, msg)
		return
	}
	api.WriteData(w, http.StatusOK, map[string]uint64{"order_number": number})
}

// createClassical assigns the next order number locally and pushes the row
// to the other replicas with the number attached, so follower numbering can
// never diverge from the leader's.
func (s *Service) createClassical(req orderRequest) (uint64, error) {
	s.mu.Lock()
	number := s.nextOrder
	s.nextOrder++
	s.mu.Unlock()

	o := store.Order{Number: number, Name: req.Name, Quantity: req.Quantity}
	if err := s.store.PutOrder(o); err != nil {
		return 0, err
	}

	buf, _ := json.Marshal(o)
	for id, base := range s.replicas {
		if id == s.id {
			continue
		}
		resp, err := s.client.Post(base+"/replicas/orders/", "application/json", bytes.NewReader(buf))
		if err != nil {
			log.Printf("Replica %d: replicate order %d to %d failed: %v", s.id, number, id, err)
			continue
		}
		resp.Body.Close()
	}
	return number, nil
}

// handleReplicaOrder stores an order pushed by the classical leader.
func (s *Service) handleReplicaOrder(w http.ResponseWriter, r *http.Request) {
	var o store.Order
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.store.PutOrder(o); err != nil {
		api.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.mu.Lock()
	if o.Number >= s.nextOrder {
		s.nextOrder = o.Number + 1
	}
	s.mu.Unlock()
	api.WriteData(w, http.StatusOK, map[string]uint64{"number": o.Number})
}

// handleReplicaLeader records the router-announced leader.
func (s *Service) handleReplicaLeader(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LeaderID int `json:"leader_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.mu.Lock()
	s.leaderID = req.LeaderID
	s.mu.Unlock()
	log.Printf("Replica %d: leader announced as %d", s.id, req.LeaderID)
	api.WriteData(w, http.StatusOK, map[string]int{"leader_ID": req.LeaderID})
}

func (s *Service) handleSyncOrders(w http.ResponseWriter, r *http.Request) {
	next, err := strconv.ParseUint(chi.URLParam(r, "next"), 10, 64)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid order number")
		return
	}
	orders, err := s.store.OrdersFrom(next)
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if orders == nil {
		orders = []store.Order{}
	}
	api.WriteData(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.WriteData(w, http.StatusOK, map[string]interface{}{"status": "ok", "id": s.id})
}

// handleVote and handleAppendEntries expose the Raft RPCs. Replies are the
// bare wire structs, not wrapped in the data envelope.
func (s *Service) handleVote(w http.ResponseWriter, r *http.Request) {
	var args raft.RequestVoteArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	reply := s.node.HandleRequestVote(&args)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reply)
}

func (s *Service) handleAppendEntries(w http.ResponseWriter, r *http.Request) {
	var args raft.AppendEntriesArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	reply := s.node.HandleAppendEntries(&args)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(reply)
}

type productData struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// fetchProduct asks the catalog for current stock. A non-zero status means
// the caller should answer with that error.
func (s *Service) fetchProduct(name string) (productData, int, string) {
	resp, err := s.client.Get(fmt.Sprintf("%s/products/%s/", s.catalogURL, name))
	if err != nil {
		return productData{}, http.StatusInternalServerError, "catalog unreachable"
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return productData{}, http.StatusInternalServerError, err.Error()
	}
	if resp.StatusCode != http.StatusOK {
		var env api.Envelope
		if json.Unmarshal(body, &env) == nil && env.Error != nil {
			return productData{}, resp.StatusCode, env.Error.Message
		}
		return productData{}, resp.StatusCode, "catalog error"
	}
	var env api.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return productData{}, http.StatusInternalServerError, "bad catalog response"
	}
	var p productData
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return productData{}, http.StatusInternalServerError, "bad catalog response"
	}
	return p, 0, ""
}

// decrementStock confirms the committed order with the catalog. A non-zero
// status is the catalog's refusal.
func (s *Service) decrementStock(req orderRequest) (int, string) {
	buf, _ := json.Marshal(req)
	resp, err := s.client.Post(s.catalogURL+"/orders/", "application/json", bytes.NewReader(buf))
	if err != nil {
		return http.StatusInternalServerError, "catalog unreachable"
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusOK {
		return 0, ""
	}
	var env api.Envelope
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		return resp.StatusCode, env.Error.Message
	}
	return resp.StatusCode, "catalog error"
}
