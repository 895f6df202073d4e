// Command loadgen drives the store the way a shopper would: it queries
// random products, buys some of them, and afterwards verifies every recorded
// order against the frontend.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/BoddyShen/raft-order-service/pkg/api"
	"github.com/BoddyShen/raft-order-service/pkg/catalog"
)

type placedOrder struct {
	Number   uint64
	Name     string
	Quantity int
}

type client struct {
	base    string
	session string
	http    *http.Client
}

func (c *client) do(method, path string, body []byte) (*http.Response, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequest(method, c.base+path, bytes.NewReader(body))
	} else {
		req, err = http.NewRequest(method, c.base+path, nil)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-ID", c.session)
	return c.http.Do(req)
}

func main() {
	frontendAddr := flag.String("frontend", "http://localhost:8000", "frontend base URL")
	iterations := flag.Int("n", 50, "number of shopping iterations")
	probability := flag.Float64("p", 0.5, "probability of buying a queried product")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	c := &client{
		base:    *frontendAddr,
		session: uuid.NewString(),
		http:    &http.Client{Timeout: 30 * time.Second},
	}

	names := make([]string, len(catalog.DefaultProducts))
	for i, p := range catalog.DefaultProducts {
		names[i] = p.Name
	}

	var placed []placedOrder
	for i := 0; i < *iterations; i++ {
		name := names[rng.Intn(len(names))]
		resp, err := c.do(http.MethodGet, fmt.Sprintf("/products/%s/", name), nil)
		if err != nil {
			log.Printf("query %s: %v", name, err)
			continue
		}
		var env api.Envelope
		err = json.NewDecoder(resp.Body).Decode(&env)
		status := resp.StatusCode
		resp.Body.Close()
		if err != nil || status != http.StatusOK {
			log.Printf("query %s: status %d", name, status)
			continue
		}
		var product struct {
			Name     string  `json:"name"`
			Price    float64 `json:"price"`
			Quantity int     `json:"quantity"`
		}
		if err := json.Unmarshal(env.Data, &product); err != nil {
			log.Printf("query %s: bad payload: %v", name, err)
			continue
		}

		if product.Quantity <= 0 || rng.Float64() >= *probability {
			continue
		}

		body, _ := json.Marshal(map[string]interface{}{"name": name, "quantity": 1})
		resp, err = c.do(http.MethodPost, "/orders/", body)
		if err != nil {
			log.Printf("buy %s: %v", name, err)
			continue
		}
		env = api.Envelope{}
		err = json.NewDecoder(resp.Body).Decode(&env)
		status = resp.StatusCode
		resp.Body.Close()
		if err != nil || status != http.StatusOK {
			log.Printf("buy %s: status %d", name, status)
			continue
		}
		var confirmation struct {
			OrderNumber uint64 `json:"order_number"`
		}
		if err := json.Unmarshal(env.Data, &confirmation); err != nil {
			log.Printf("buy %s: bad payload: %v", name, err)
			continue
		}
		placed = append(placed, placedOrder{Number: confirmation.OrderNumber, Name: name, Quantity: 1})
		log.Printf("bought %s, order %d", name, confirmation.OrderNumber)
	}

	// Verification pass: every recorded order must read back identically.
	mismatches := 0
	for _, o := range placed {
		resp, err := c.do(http.MethodGet, fmt.Sprintf("/orders/%d/", o.Number), nil)
		if err != nil {
			log.Printf("verify order %d: %v", o.Number, err)
			mismatches++
			continue
		}
		var env api.Envelope
		err = json.NewDecoder(resp.Body).Decode(&env)
		status := resp.StatusCode
		resp.Body.Close()
		if err != nil || status != http.StatusOK {
			log.Printf("verify order %d: status %d", o.Number, status)
			mismatches++
			continue
		}
		var got struct {
			Number   uint64 `json:"number"`
			Name     string `json:"name"`
			Quantity int    `json:"quantity"`
		}
		if err := json.Unmarshal(env.Data, &got); err != nil ||
			got.Number != o.Number || got.Name != o.Name || got.Quantity != o.Quantity {
			log.Printf("verify order %d: mismatch (got %+v, want %+v)", o.Number, got, o)
			mismatches++
		}
	}

	log.Printf("done: %d orders placed, %d verification failures", len(placed), mismatches)
}
