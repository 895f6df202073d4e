package frontend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BoddyShen/raft-order-service/pkg/api"
	"github.com/BoddyShen/raft-order-service/pkg/config"
)

// Service is the frontend router. It serves product reads through the cache,
// proxies order traffic to the order replicas, and tracks which replica is
// the current leader.
type Service struct {
	catalogURL string
	replicas   map[int]string // id -> base URL
	useRaft    bool
	cache      *Cache // nil when caching is disabled

	client *http.Client

	mu       sync.Mutex
	leaderID int

	retryAttempts int
	retryBackoff  time.Duration
}

func NewService(catalogURL string, replicas map[int]string, useRaft bool, cache *Cache) *Service {
	return &Service{
		catalogURL:    catalogURL,
		replicas:      replicas,
		useRaft:       useRaft,
		cache:         cache,
		client:        &http.Client{Timeout: 10 * time.Second},
		retryAttempts: 3,
		retryBackoff:  3 * time.Second,
	}
}

// Router builds the frontend HTTP surface.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/products/{name}/", s.handleGetProduct)
	r.Get("/orders/{number}/", s.handleGetOrder)
	r.Post("/orders/", s.handlePostOrder)
	r.Delete("/cache/{name}/", s.handleDeleteCache)
	r.Get("/leader/", s.handleGetLeader)
	r.Post("/leader/", s.handlePostLeader)
	return r
}

func (s *Service) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if s.cache != nil {
		if payload, ok := s.cache.Get(name); ok {
			api.WriteData(w, http.StatusOK, payload)
			return
		}
	}

	resp, err := s.client.Get(fmt.Sprintf("%s/products/%s/", s.catalogURL, name))
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, "catalog unreachable")
		return
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if resp.StatusCode == http.StatusOK && s.cache != nil {
		var env api.Envelope
		if json.Unmarshal(body, &env) == nil && env.Data != nil {
			s.cache.Put(name, env.Data)
		}
	}
	relay(w, resp.StatusCode, body)
}

// handleGetOrder proxies the read to the leader when known, otherwise to the
// first reachable replica.
func (s *Service) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")

	for _, base := range s.orderTargets() {
		resp, err := s.client.Get(fmt.Sprintf("%s/orders/%s/", base, number))
		if err != nil {
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			continue
		}
		relay(w, resp.StatusCode, body)
		return
	}
	api.WriteError(w, http.StatusServiceUnavailable, "no order replica reachable")
}

func (s *Service) handlePostOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if s.useRaft {
		s.postOrderRaft(w, body)
	} else {
		s.postOrderClassical(w, body)
	}
}

// postOrderRaft sends the write to a replica and follows Leader-Endpoint
// redirects. A 503 or transport error re-picks and retries after a backoff;
// any other status is the cluster's answer and is relayed as-is.
func (s *Service) postOrderRaft(w http.ResponseWriter, body []byte) {
	target := s.leaderURL()
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(s.retryBackoff)
		}
		if target == "" {
			target = s.randomReplicaURL()
		}

		resp, err := s.client.Post(target+"/orders/", "application/json", bytes.NewReader(body))
		if err != nil {
			log.Printf("frontend: order post to %s failed: %v", target, err)
			target = ""
			continue
		}
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			target = ""
			continue
		}

		if resp.StatusCode == http.StatusServiceUnavailable {
			target = resp.Header.Get("Leader-Endpoint")
			continue
		}

		s.recordLeaderByURL(target)
		relay(w, resp.StatusCode, respBody)
		return
	}
	api.WriteError(w, http.StatusServiceUnavailable, "order service unavailable")
}

// postOrderClassical sends the write to the tracked leader, re-running
// discovery when the leader is unknown or unreachable.
func (s *Service) postOrderClassical(w http.ResponseWriter, body []byte) {
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(s.retryBackoff)
		}
		target := s.leaderURL()
		if target == "" {
			target = s.discoverLeader()
		}
		if target == "" {
			continue
		}

		resp, err := s.client.Post(target+"/orders/", "application/json", bytes.NewReader(body))
		if err != nil {
			log.Printf("frontend: order post to leader %s failed: %v", target, err)
			s.clearLeader()
			continue
		}
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			s.clearLeader()
			continue
		}
		relay(w, resp.StatusCode, respBody)
		return
	}
	api.WriteError(w, http.StatusServiceUnavailable, "order service unavailable")
}

// discoverLeader probes replicas by descending id, elects the first live one,
// and announces it to every reachable replica.
func (s *Service) discoverLeader() string {
	ids := make([]int, 0, len(s.replicas))
	for id := range s.replicas {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))

	leader := 0
	for _, id := range ids {
		resp, err := s.client.Get(s.replicas[id] + "/health/")
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			leader = id
			break
		}
	}
	if leader == 0 {
		return ""
	}

	log.Printf("frontend: elected replica %d as leader", leader)
	s.setLeader(leader)
	announcement, _ := json.Marshal(map[string]int{"leader_id": leader})
	for _, id := range ids {
		resp, err := s.client.Post(s.replicas[id]+"/replicas/leaders/", "application/json", bytes.NewReader(announcement))
		if err != nil {
			continue
		}
		resp.Body.Close()
	}
	return s.replicas[leader]
}

func (s *Service) handleDeleteCache(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.cache != nil {
		s.cache.Invalidate(name)
	}
	api.WriteData(w, http.StatusOK, map[string]string{"invalidated": name})
}

func (s *Service) handleGetLeader(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	leader := s.leaderID
	s.mu.Unlock()
	if leader == 0 {
		api.WriteError(w, http.StatusNotFound, "leader not found")
		return
	}
	api.WriteData(w, http.StatusOK, map[string]interface{}{
		"leader_ID":   leader,
		"leader_port": config.ReplicaPorts[leader],
	})
}

// handlePostLeader lets a replica register itself as leader, used during
// replica startup and takeover.
func (s *Service) handlePostLeader(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LeaderID int `json:"leader_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, ok := s.replicas[req.LeaderID]; !ok {
		api.WriteError(w, http.StatusBadRequest, fmt.Sprintf("unknown replica id %d", req.LeaderID))
		return
	}
	s.setLeader(req.LeaderID)
	api.WriteData(w, http.StatusOK, map[string]int{"leader_ID": req.LeaderID})
}

func (s *Service) setLeader(id int) {
	s.mu.Lock()
	s.leaderID = id
	s.mu.Unlock()
}

func (s *Service) clearLeader() {
	s.setLeader(0)
}

func (s *Service) leaderURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leaderID == 0 {
		return ""
	}
	return s.replicas[s.leaderID]
}

func (s *Service) recordLeaderByURL(url string) {
	for id, base := range s.replicas {
		if base == url {
			s.setLeader(id)
			return
		}
	}
}

func (s *Service) randomReplicaURL() string {
	ids := make([]int, 0, len(s.replicas))
	for id := range s.replicas {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return s.replicas[ids[rand.Intn(len(ids))]]
}

// orderTargets lists replica base URLs for reads, leader first.
func (s *Service) orderTargets() []string {
	s.mu.Lock()
	leader := s.leaderID
	s.mu.Unlock()

	ids := make([]int, 0, len(s.replicas))
	for id := range s.replicas {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ids)))

	out := make([]string, 0, len(ids))
	if leader != 0 {
		out = append(out, s.replicas[leader])
	}
	for _, id := range ids {
		if id != leader {
			out = append(out, s.replicas[id])
		}
	}
	return out
}

func relay(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
