package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"

	"github.com/corebank/ledger/internal/models"
)

// BeneficiaryService resolves a transfer target (direct account number or
// UPI alias) to a canonical account. Read-only.
type BeneficiaryService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewBeneficiaryService(db *sql.DB) *BeneficiaryService {
	return &BeneficiaryService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// Resolve maps identifier to an account under the given mode. A target
// that maps back to the requester is rejected as a self-transfer, which
// is a distinct user-facing outcome, not a lookup failure.
func (s *BeneficiaryService) Resolve(ctx context.Context, requesterAcc, mode, identifier string) (*models.Beneficiary, error) {
	switch mode {
	case models.ModeIMPS:
		if identifier == requesterAcc {
			return nil, ErrSelfTransfer
		}
		return s.lookup(ctx, `
			SELECT account_number, account_holder_name, bank_branch
			FROM accounts
			WHERE account_number = $1`, identifier, requesterAcc)
	case models.ModeUPI:
		return s.lookup(ctx, `
			SELECT account_number, account_holder_name, bank_branch
			FROM accounts
			WHERE upi_id = $1`, identifier, requesterAcc)
	default:
		return nil, ErrBeneficiaryNotFound
	}
}

func (s *BeneficiaryService) lookup(ctx context.Context, query, identifier, requesterAcc string) (*models.Beneficiary, error) {
	var b models.Beneficiary
	err := s.db.QueryRowContext(ctx, query, identifier).
		Scan(&b.AccountNumber, &b.HolderName, &b.BankBranch)
	if err == sql.ErrNoRows {
		return nil, ErrBeneficiaryNotFound
	}
	if err != nil {
		return nil, classifyInfra("lookup beneficiary", err)
	}
	// An alias can resolve back to the requester's own account.
	if b.AccountNumber == requesterAcc {
		return nil, ErrSelfTransfer
	}
	return &b, nil
}

// ResolveRequest is the beneficiary lookup payload
// @Description Beneficiary resolution request
type ResolveRequest struct {
	Mode       string `json:"mode" validate:"required,oneof=IMPS UPI" example:"UPI"`   // Lookup mode
	Identifier string `json:"identifier" validate:"required" example:"alice@corebank"` // Account number or UPI ID
}

// ResolveBeneficiary resolves a transfer target for the authenticated account
// @Summary Resolve beneficiary
// @Description Look up a beneficiary by account number or UPI ID
// @Tags beneficiaries
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body ResolveRequest true "Resolution request"
// @Success 200 {object} models.Beneficiary
// @Failure 400 {object} ErrorResponse "Self-transfer"
// @Failure 404 {object} ErrorResponse
// @Router /beneficiaries/resolve [post]
func (s *BeneficiaryService) ResolveBeneficiary(w http.ResponseWriter, r *http.Request) {
	requesterAcc, ok := r.Context().Value(ContextAccountNumber).(string)
	if !ok || requesterAcc == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req ResolveRequest
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

	beneficiary, err := s.Resolve(r.Context(), requesterAcc, req.Mode, req.Identifier)
	if err != nil {
		SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"valid":         true,
		"accountNumber": beneficiary.AccountNumber,
		"name":          beneficiary.HolderName,
		"branch":        beneficiary.BankBranch,
	})
}
