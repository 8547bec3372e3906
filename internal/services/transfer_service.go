package services

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/corebank/ledger/internal/config"
	"github.com/corebank/ledger/internal/models"
)

// TransferService is the atomic transfer engine. It is the only component
// allowed to mutate account balances, and it does so exclusively under
// row locks inside a single database transaction.
type TransferService struct {
	db            *sql.DB
	redis         *redis.Client
	cfg           *config.TransferConfig
	beneficiaries *BeneficiaryService
	validator     *ValidationHelper
}

func NewTransferService(db *sql.DB, redisClient *redis.Client, cfg *config.TransferConfig) *TransferService {
	if cfg == nil {
		cfg = config.LoadTransferConfig()
	}
	return &TransferService{
		db:            db,
		redis:         redisClient,
		cfg:           cfg,
		beneficiaries: NewBeneficiaryService(db),
		validator:     NewValidationHelper(),
	}
}

// Transfer moves amount (in paise) from sender to receiver and appends the
// ledger entry, all in one database transaction. On any failure outcome
// both balances and the ledger are untouched.
//
// Lock ordering: both account rows are locked FOR UPDATE in ascending
// account-number order regardless of which side is the sender, so two
// transfers moving money in opposite directions cannot deadlock.
func (s *TransferService) Transfer(ctx context.Context, senderAcc, receiverAcc string, amount int64, mode, note string) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}
	// The resolver rejects self-transfers upstream; defend here anyway.
	if senderAcc == receiverAcc {
		return "", ErrSelfTransfer
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", classifyInfra("begin transfer", err)
	}
	defer tx.Rollback()

	firstLock, secondLock := senderAcc, receiverAcc
	if firstLock > secondLock {
		firstLock, secondLock = secondLock, firstLock
	}

	first, err := s.lockAccount(ctx, tx, firstLock)
	if err != nil {
		return "", err
	}
	second, err := s.lockAccount(ctx, tx, secondLock)
	if err != nil {
		return "", err
	}

	sender, receiver := first, second
	if firstLock != senderAcc {
		sender, receiver = second, first
	}

	if sender.Balance < amount {
		return "", ErrInsufficientFunds
	}

	if err := s.updateBalance(ctx, tx, sender.AccountNumber, sender.Balance-amount, sender.Version); err != nil {
		return "", err
	}
	if err := s.updateBalance(ctx, tx, receiver.AccountNumber, receiver.Balance+amount, receiver.Version); err != nil {
		return "", err
	}

	txID, err := s.appendLedgerEntry(ctx, tx, sender, receiver, amount, mode, note)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", classifyInfra("commit transfer", err)
	}

	log.Printf("[TRANSFER] Committed %s: %s -> %s amount=%d mode=%s", txID, senderAcc, receiverAcc, amount, mode)
	return txID, nil
}

// lockAccount reads one account row with FOR UPDATE, holding the lock
// until the enclosing transaction ends.
func (s *TransferService) lockAccount(ctx context.Context, tx *sql.Tx, accountNumber string) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRowContext(ctx, `
		SELECT account_number, account_holder_name, account_balance, version
		FROM accounts
		WHERE account_number = $1
		FOR UPDATE`, accountNumber).
		Scan(&account.AccountNumber, &account.HolderName, &account.Balance, &account.Version)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, classifyInfra("lock account", err)
	}
	return &account, nil
}

func (s *TransferService) updateBalance(ctx context.Context, tx *sql.Tx, accountNumber string, newBalance int64, version int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET account_balance = $1, version = version + 1, updated_at = $2
		WHERE account_number = $3 AND version = $4`,
		newBalance, time.Now(), accountNumber, version)
	if err != nil {
		return classifyInfra("update balance", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return classifyInfra("update balance", err)
	}
	// The row is locked, so a version miss means something outside the
	// engine touched the balance. Treat as a retryable conflict.
	if rowsAffected == 0 {
		return fmt.Errorf("%w: balance conflict on account %s", ErrUnavailable, accountNumber)
	}
	return nil
}

// appendLedgerEntry inserts the immutable transfer record, snapshotting
// both holder names. Transaction ids are random; on the (negligible but
// handled) chance of a collision the insert retries with a fresh id.
func (s *TransferService) appendLedgerEntry(ctx context.Context, tx *sql.Tx, sender, receiver *models.Account, amount int64, mode, note string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxIDAttempts; attempt++ {
		txID, err := newTransactionID()
		if err != nil {
			return "", classifyInfra("generate transaction id", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_entries
			(transaction_id, transaction_date, sender_account_number, receiver_account_number,
			 sender_name, receiver_name, mode, amount, note, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			txID, time.Now(), sender.AccountNumber, receiver.AccountNumber,
			sender.HolderName, receiver.HolderName, mode, amount, note, models.StatusSuccess)
		if err == nil {
			return txID, nil
		}
		if !isUniqueViolation(err) {
			return "", classifyInfra("append ledger entry", err)
		}
		log.Printf("[TRANSFER] Transaction id collision on %s, retrying", txID)
		lastErr = err
	}
	return "", classifyInfra("append ledger entry", lastErr)
}

// newTransactionID returns 8 random bytes as 16 uppercase hex characters.
func newTransactionID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

// TransferRequest is the transfer request payload
// @Description Funds transfer request
type TransferRequest struct {
	Mode       string  `json:"mode" validate:"required,oneof=IMPS UPI" example:"IMPS"` // Transfer channel
	Identifier string  `json:"identifier" validate:"required" example:"1234567890"`    // Account number (IMPS) or UPI ID (UPI)
	Amount     float64 `json:"amount" validate:"required,gt=0" example:"300.00"`       // Amount in rupees, two decimal places
	Note       string  `json:"note" validate:"max=200" example:"Rent"`                 // Optional free-text note
}

// CreateTransfer executes a funds transfer for the authenticated account
// @Summary Transfer funds
// @Description Resolve the beneficiary and atomically move funds to them
// @Tags transfers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param Idempotency-Key header string false "UUID deduplicating retried requests"
// @Param request body TransferRequest true "Transfer request"
// @Success 201 {object} map[string]interface{} "Transfer committed"
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse "Insufficient funds"
// @Failure 503 {object} ErrorResponse "Retryable infrastructure failure"
// @Router /transfers [post]
func (s *TransferService) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	senderAcc, ok := r.Context().Value(ContextAccountNumber).(string)
	if !ok || senderAcc == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req TransferRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	amount, err := toPaise(req.Amount)
	if err != nil {
		SendErrorResponse(w, "Amount must be positive with at most two decimal places", http.StatusBadRequest, nil)
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" {
		if _, err := uuid.Parse(idemKey); err != nil {
			SendErrorResponse(w, "Idempotency-Key must be a UUID", http.StatusBadRequest, nil)
			return
		}
		if txID, ok := s.replayedTransfer(r.Context(), senderAcc, idemKey); ok {
			log.Printf("[TRANSFER] Replayed idempotent request %s for account %s", idemKey, senderAcc)
			writeTransferResponse(w, http.StatusOK, txID, true)
			return
		}
	}

	beneficiary, err := s.beneficiaries.Resolve(r.Context(), senderAcc, req.Mode, req.Identifier)
	if err != nil {
		SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	txID, err := s.Transfer(r.Context(), senderAcc, beneficiary.AccountNumber, amount, req.Mode, req.Note)
	if err != nil {
		log.Printf("[TRANSFER] Transfer failed for account %s: %v", senderAcc, err)
		SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	if idemKey != "" {
		s.rememberTransfer(r.Context(), senderAcc, idemKey, txID)
	}

	writeTransferResponse(w, http.StatusCreated, txID, false)
}

// replayedTransfer reports whether this idempotency key already committed,
// returning the original transaction id. A cache miss (or disabled/absent
// Redis) executes the transfer normally.
func (s *TransferService) replayedTransfer(ctx context.Context, account, key string) (string, bool) {
	if !s.cfg.IdempotencyEnabled || s.redis == nil {
		return "", false
	}
	txID, err := s.redis.Get(ctx, idempotencyCacheKey(account, key)).Result()
	if err != nil {
		return "", false
	}
	return txID, true
}

func (s *TransferService) rememberTransfer(ctx context.Context, account, key, txID string) {
	if !s.cfg.IdempotencyEnabled || s.redis == nil {
		return
	}
	if err := s.redis.Set(ctx, idempotencyCacheKey(account, key), txID, s.cfg.IdempotencyTTL).Err(); err != nil {
		log.Printf("[TRANSFER] Failed to cache idempotency key %s: %v", key, err)
	}
}

func idempotencyCacheKey(account, key string) string {
	return fmt.Sprintf("idem:%s:%s", account, key)
}

func writeTransferResponse(w http.ResponseWriter, status int, txID string, replayed bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success":       true,
		"transactionId": txID,
		"replayed":      replayed,
	})
}

// toPaise converts a rupee amount to paise, rejecting non-positive values
// and sub-paisa precision.
func toPaise(amount float64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	scaled := amount * 100
	rounded := math.Round(scaled)
	if math.Abs(scaled-rounded) > 1e-6 {
		return 0, ErrInvalidAmount
	}
	return int64(rounded), nil
}
