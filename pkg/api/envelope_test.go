package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteDataEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteData(rec, http.StatusOK, map[string]int{"order_number": 3})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"order_number":3}}`, rec.Body.String())
}

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusNotFound, "order 9 not found")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":{"code":404,"message":"order 9 not found"}}`, rec.Body.String())
}

func TestEnvelopeDecode(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{"data":{"name":"Tux"}}`), &env))
	assert.Nil(t, env.Error)
	assert.JSONEq(t, `{"name":"Tux"}`, string(env.Data))

	env = Envelope{}
	require.NoError(t, json.Unmarshal([]byte(`{"error":{"code":503,"message":"leader not found"}}`), &env))
	require.NotNil(t, env.Error)
	assert.Equal(t, 503, env.Error.Code)
}
