package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"

	"github.com/corebank/ledger/internal/models"
)

// LedgerService is the read-only side of the ledger: per-account history
// and account snapshots. It never mutates state and is safe to call
// concurrently with any number of transfers.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// History returns all entries where the account is sender or receiver,
// newest first. Each entry is tagged DEBIT when the viewing account is
// the sender and CREDIT otherwise.
func (s *LedgerService) History(ctx context.Context, accountNumber string) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, transaction_date, sender_account_number, receiver_account_number,
		       sender_name, receiver_name, mode, amount, note, status
		FROM ledger_entries
		WHERE sender_account_number = $1 OR receiver_account_number = $1
		ORDER BY transaction_date DESC`, accountNumber)
	if err != nil {
		return nil, classifyInfra("query history", err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.TransactionID, &e.TransactionDate, &e.SenderAccountNumber,
			&e.ReceiverAccountNumber, &e.SenderName, &e.ReceiverName,
			&e.Mode, &e.Amount, &e.Note, &e.Status); err != nil {
			return nil, classifyInfra("scan history", err)
		}
		if e.SenderAccountNumber == accountNumber {
			e.Direction = models.DirectionDebit
		} else {
			e.Direction = models.DirectionCredit
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyInfra("read history", err)
	}
	return entries, nil
}

// GetAccountDetails returns the owner-facing account snapshot.
func (s *LedgerService) GetAccountDetails(ctx context.Context, accountNumber string) (*models.AccountDetails, error) {
	var d models.AccountDetails
	var upiID sql.NullString
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT u.user_id, u.email,
		       a.account_number, a.account_holder_name, a.bank_branch, a.ifsc_code, a.upi_id, a.account_balance
		FROM users u
		JOIN accounts a ON u.account_number = a.account_number
		WHERE u.account_number = $1`, accountNumber).
		Scan(&d.UserID, &d.Email, &d.AccountNumber, &d.HolderName, &d.BankBranch,
			&d.IFSCCode, &upiID, &balance)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyInfra("fetch account details", err)
	}
	d.UPIID = upiID.String
	d.Balance = float64(balance) / 100
	return &d, nil
}

// ListTransactions returns the transaction history for the authenticated account
// @Summary Transaction history
// @Description List all transfers involving the account, newest first, tagged DEBIT or CREDIT
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.LedgerEntry
// @Failure 401 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /transactions [get]
func (s *LedgerService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountNumber, ok := r.Context().Value(ContextAccountNumber).(string)
	if !ok || accountNumber == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	entries, err := s.History(r.Context(), accountNumber)
	if err != nil {
		log.Printf("[LEDGER] History query failed for account %s: %v", accountNumber, err)
		SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	type historyItem struct {
		ID     string  `json:"id"`
		Date   string  `json:"date"`
		From   string  `json:"from"`
		To     string  `json:"to"`
		Mode   string  `json:"mode"`
		Type   string  `json:"type"`
		Amount float64 `json:"amount"`
		Note   string  `json:"note"`
	}
	items := make([]historyItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, historyItem{
			ID:     e.TransactionID,
			Date:   e.TransactionDate.Format("02-Jan-2006 03:04:05 PM"),
			From:   e.SenderName,
			To:     e.ReceiverName,
			Mode:   e.Mode,
			Type:   e.Direction,
			Amount: float64(e.Amount) / 100,
			Note:   e.Note,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(items)
}

// GetAccount returns the authenticated account's details
// @Summary Account details
// @Description Get the authenticated user's account snapshot
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.AccountDetails
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/me [get]
func (s *LedgerService) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountNumber, ok := r.Context().Value(ContextAccountNumber).(string)
	if !ok || accountNumber == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	details, err := s.GetAccountDetails(r.Context(), accountNumber)
	if err != nil {
		log.Printf("[LEDGER] Account details failed for %s: %v", accountNumber, err)
		SendErrorResponse(w, "Unable to fetch account details", statusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(details)
}
