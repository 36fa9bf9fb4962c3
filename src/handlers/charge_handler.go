package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/username/clearledger/backend/src/utils"
	"github.com/username/clearledger/backend/src/views"
)

type ChargeHandler struct {
	chargeViewer      *views.ChargeViewer
	transactionViewer *views.TransactionViewer
}

func NewChargeHandler(chargeViewer *views.ChargeViewer, transactionViewer *views.TransactionViewer) *ChargeHandler {
	return &ChargeHandler{chargeViewer: chargeViewer, transactionViewer: transactionViewer}
}

func (h *ChargeHandler) HandleGetExtendedCharges(w http.ResponseWriter, r *http.Request) {
	charges, err := h.chargeViewer.List()
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("error computing extended charges: %v", err), http.StatusInternalServerError)
		return
	}
	if charges == nil {
		charges = []views.ExtendedCharge{}
	}

	if etag, err := utils.GenerateETag(charges); err == nil {
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(charges)
}

func (h *ChargeHandler) HandleGetExtendedCharge(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		utils.SendJSONError(w, "invalid charge id", http.StatusBadRequest)
		return
	}

	charge, err := h.chargeViewer.Get(id)
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("error computing extended charge %d: %v", id, err), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(charge)
}

func (h *ChargeHandler) HandleGetExtendedTransactions(w http.ResponseWriter, r *http.Request) {
	transactions, err := h.transactionViewer.List()
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("error computing extended transactions: %v", err), http.StatusInternalServerError)
		return
	}
	if transactions == nil {
		transactions = []views.ExtendedTransaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transactions)
}
