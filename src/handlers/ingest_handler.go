package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/username/clearledger/backend/src/ingestion"
	"github.com/username/clearledger/backend/src/utils"
)

type IngestHandler struct {
	service      *ingestion.Service
	maxBodyBytes int64
}

func NewIngestHandler(service *ingestion.Service, maxBodyBytes int64) *IngestHandler {
	return &IngestHandler{service: service, maxBodyBytes: maxBodyBytes}
}

// HandleIngest accepts one JSON batch of source-native rows for the source
// named in the path and runs the reconciliation pipeline over it. Failed
// records are reported per index; the rest of the batch commits.
func (h *IngestHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	if source == "" {
		utils.SendJSONError(w, "missing source in path", http.StatusBadRequest)
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	defer body.Close()

	result, err := h.service.IngestBatch(source, body)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ingestion.ErrUnknownSource) {
			status = http.StatusNotFound
		}
		utils.SendJSONError(w, fmt.Sprintf("ingest failed: %v", err), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if result.Failed > 0 {
		w.WriteHeader(http.StatusMultiStatus)
	}
	json.NewEncoder(w).Encode(result)
}
