package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/username/clearledger/backend/src/database"
	"github.com/username/clearledger/backend/src/models"
	"github.com/username/clearledger/backend/src/utils"
)

type AccountHandler struct{}

func NewAccountHandler() *AccountHandler {
	return &AccountHandler{}
}

// HandleGetAccounts lists the financial account reference data the resolver
// matches against. Maintained out-of-band; read-only here.
func (h *AccountHandler) HandleGetAccounts(w http.ResponseWriter, r *http.Request) {
	rows, err := database.DB.Query(
		`SELECT id, owner_id, account_number, type FROM financial_accounts ORDER BY id ASC`)
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("error querying accounts: %v", err), http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	var accounts []models.FinancialAccount
	for rows.Next() {
		var a models.FinancialAccount
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.AccountNumber, &a.Type); err != nil {
			utils.SendJSONError(w, fmt.Sprintf("error scanning account: %v", err), http.StatusInternalServerError)
			return
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		utils.SendJSONError(w, fmt.Sprintf("error iterating accounts: %v", err), http.StatusInternalServerError)
		return
	}
	if accounts == nil {
		accounts = []models.FinancialAccount{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(accounts)
}
