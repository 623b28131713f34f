package api

import (
	"encoding/json"
	"net/http"

	"github.com/axiom-network/axiom/internal/axerr"
	"github.com/axiom-network/axiom/internal/storage"
)

// errorEnvelope is the JSON error shape every handler returns on
// failure: a stable status/kind/message triple a caller can branch on.
type errorEnvelope struct {
	Status  string `json:"status"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	kind := axerr.Consensus
	status := http.StatusInternalServerError

	if axe, ok := err.(*axerr.Error); ok {
		kind = axe.Kind()
	} else if storage.Is(err, storage.KeyNotFound) {
		kind = axerr.NotFound
	}

	switch kind {
	case axerr.NotFound:
		status = http.StatusNotFound
	case axerr.Configuration, axerr.Protocol:
		status = http.StatusBadRequest
	case axerr.Timeout:
		status = http.StatusGatewayTimeout
	case axerr.Storage, axerr.Crypto, axerr.Consensus:
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, errorEnvelope{
		Status:  "error",
		Kind:    kind.String(),
		Message: err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
