package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/username/clearledger/backend/src/ingestion"
	"github.com/username/clearledger/backend/src/utils"
)

type ReconcileHandler struct {
	reconciler *ingestion.Reconciler
}

func NewReconcileHandler(reconciler *ingestion.Reconciler) *ReconcileHandler {
	return &ReconcileHandler{reconciler: reconciler}
}

// HandleSweep runs the reconciliation sweep on demand. The same sweep runs
// on an interval from main; this endpoint exists for operators.
func (h *ReconcileHandler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.reconciler.Run()
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("sweep failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
