package order

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BoddyShen/raft-order-service/pkg/api"
	"github.com/BoddyShen/raft-order-service/pkg/catalog"
	"github.com/BoddyShen/raft-order-service/pkg/frontend"
)

// TestBuyThroughAllTiers wires real catalog, order, and frontend services
// together over httptest and runs the full purchase path.
func TestBuyThroughAllTiers(t *testing.T) {
	catStore, err := catalog.OpenStore(t.TempDir())
	require.NoError(t, err)
	defer catStore.Close()
	catSrv := httptest.NewServer(catalog.NewService(catStore, "").Router())
	defer catSrv.Close()

	replicas := map[int]string{1: ""}
	ordSvc := NewService(1, newTestStore(t), nil, false, replicas, catSrv.URL, "")
	ordSrv := httptest.NewServer(ordSvc.Router())
	defer ordSrv.Close()
	replicas[1] = ordSrv.URL

	frontSvc := frontend.NewService(catSrv.URL, replicas, false, frontend.NewCache(5))
	frontSrv := httptest.NewServer(frontSvc.Router())
	defer frontSrv.Close()

	client := frontSrv.Client()

	// Buy two Tux. The router has no leader yet, so this also exercises
	// classical discovery and the leader announcement.
	resp, err := client.Post(frontSrv.URL+"/orders/", "application/json",
		strings.NewReader(`{"name":"Tux","quantity":2}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var env api.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	var confirmation struct {
		OrderNumber uint64 `json:"order_number"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &confirmation))
	assert.Equal(t, uint64(1), confirmation.OrderNumber)

	// The replica must have recorded the router's announcement.
	ordSvc.mu.Lock()
	leader := ordSvc.leaderID
	ordSvc.mu.Unlock()
	assert.Equal(t, 1, leader)

	// Stock went down.
	resp, err = client.Get(frontSrv.URL + "/products/Tux/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env = api.Envelope{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	var product struct {
		Name     string  `json:"name"`
		Price    float64 `json:"price"`
		Quantity int     `json:"quantity"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &product))
	assert.Equal(t, 98, product.Quantity)

	// The order reads back identically through the router.
	resp, err = client.Get(frontSrv.URL + "/orders/1/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env = api.Envelope{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.JSONEq(t, `{"number":1,"name":"Tux","quantity":2}`, string(env.Data))
}
