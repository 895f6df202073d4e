// Package api holds the JSON wire envelope shared by all three services.
//
// Successful responses are wrapped as {"data": ...} and failures as
// {"error": {"code": <status>, "message": <text>}}.
package api

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type dataEnvelope struct {
	Data interface{} `json:"data"`
}

// WriteData writes a {"data": ...} envelope with the given status.
func WriteData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dataEnvelope{Data: data})
}

// WriteError writes an {"error": {...}} envelope. The code inside the body
// mirrors the HTTP status.
func WriteError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorEnvelope{Error: errorBody{Code: status, Message: message}})
}

// Envelope is the generic decode target for envelope responses, used by the
// services when relaying a peer's reply to the client.
type Envelope struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
