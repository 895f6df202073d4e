package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BoddyShen/raft-order-service/pkg/api"
	"github.com/BoddyShen/raft-order-service/pkg/rwlock"
)

const restockLevel = 100

// Service is the catalog HTTP service. All product reads take the read side
// of the lock and all stock mutations the write side, so a decrement never
// interleaves with a restock.
type Service struct {
	store       *ProductStore
	lock        *rwlock.Lock
	frontendURL string
	client      *http.Client
}

func NewService(store *ProductStore, frontendURL string) *Service {
	return &Service{
		store:       store,
		lock:        rwlock.New(),
		frontendURL: frontendURL,
		client:      &http.Client{Timeout: 3 * time.Second},
	}
}

// Router builds the catalog HTTP surface.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/products/{name}/", s.handleGetProduct)
	r.Post("/orders/", s.handleOrder)
	r.Post("/cache/restock/", s.handleRestock)
	return r
}

func (s *Service) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	s.lock.RLock()
	p, err := s.store.Get(name)
	s.lock.RUnlock()

	if errors.Is(err, ErrNotFound) {
		api.WriteError(w, http.StatusNotFound, fmt.Sprintf("product %s not found", name))
		return
	}
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	api.WriteData(w, http.StatusOK, p)
}

type orderRequest struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// handleOrder decrements stock for a confirmed order and invalidates the
// frontend cache entry for the product.
func (s *Service) handleOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Quantity <= 0 {
		api.WriteError(w, http.StatusBadRequest, "quantity must be positive")
		return
	}

	s.lock.Lock()
	p, err := s.store.Get(req.Name)
	if err == nil {
		if p.Quantity < req.Quantity {
			err = errInsufficientStock
		} else {
			p.Quantity -= req.Quantity
			err = s.store.Put(p)
		}
	}
	s.lock.Unlock()

	switch {
	case errors.Is(err, ErrNotFound):
		api.WriteError(w, http.StatusNotFound, fmt.Sprintf("product %s not found", req.Name))
		return
	case errors.Is(err, errInsufficientStock):
		api.WriteError(w, http.StatusBadRequest, "No sufficient stock")
		return
	case err != nil:
		api.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	go s.invalidateCache(req.Name)
	api.WriteData(w, http.StatusOK, map[string]interface{}{
		"name":     req.Name,
		"quantity": req.Quantity,
	})
}

var errInsufficientStock = errors.New("no sufficient stock")

type restockRequest struct {
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
}

// handleRestock sets a product's stock to the requested quantity.
func (s *Service) handleRestock(w http.ResponseWriter, r *http.Request) {
	var req restockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.lock.Lock()
	p, err := s.store.Get(req.ProductName)
	if err == nil {
		p.Quantity = req.Quantity
		err = s.store.Put(p)
	}
	s.lock.Unlock()

	if errors.Is(err, ErrNotFound) {
		api.WriteError(w, http.StatusNotFound, fmt.Sprintf("product %s not found", req.ProductName))
		return
	}
	if err != nil {
		api.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	go s.invalidateCache(req.ProductName)
	api.WriteData(w, http.StatusOK, map[string]interface{}{
		"product_name": req.ProductName,
		"quantity":     req.Quantity,
	})
}

// RunRestocker tops depleted products back up on a fixed interval until
// stopCh closes.
func (s *Service) RunRestocker(stopCh <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.restockDepleted()
		}
	}
}

func (s *Service) restockDepleted() {
	s.lock.Lock()
	products, err := s.store.List()
	if err != nil {
		s.lock.Unlock()
		log.Printf("catalog: restock scan failed: %v", err)
		return
	}
	var restocked []string
	for _, p := range products {
		if p.Quantity > 0 {
			continue
		}
		p.Quantity = restockLevel
		if err := s.store.Put(p); err != nil {
			log.Printf("catalog: restock %s failed: %v", p.Name, err)
			continue
		}
		restocked = append(restocked, p.Name)
	}
	s.lock.Unlock()

	for _, name := range restocked {
		log.Printf("catalog: restocked %s to %d", name, restockLevel)
		s.invalidateCache(name)
	}
}

// invalidateCache asks the frontend to drop its cached copy of the product.
// Best effort: the cache entry expires naturally on the next write anyway.
func (s *Service) invalidateCache(name string) {
	if s.frontendURL == "" {
		return
	}
	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/cache/%s/", s.frontendURL, name), nil)
	if err != nil {
		return
	}
	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("catalog: cache invalidation for %s failed: %v", name, err)
		return
	}
	resp.Body.Close()
}
