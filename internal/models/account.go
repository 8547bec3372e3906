package models

import (
	"time"
)

// Account is the balance-holding row as read under a row lock by the
// transfer engine. Balance is held in minor units (paise).
type Account struct {
	AccountNumber string    `json:"account_number" db:"account_number"`
	HolderName    string    `json:"account_holder_name" db:"account_holder_name"`
	Balance       int64     `json:"account_balance" db:"account_balance"`
	Version       int       `json:"version" db:"version"` // for optimistic locking
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// AccountDetails is the full account snapshot returned to the owner
// (users joined with accounts).
type AccountDetails struct {
	UserID        string  `json:"userId" db:"user_id"`
	Email         string  `json:"email" db:"email"`
	AccountNumber string  `json:"accountNumber" db:"account_number"`
	HolderName    string  `json:"accountHolderName" db:"account_holder_name"`
	BankBranch    string  `json:"bankBranch" db:"bank_branch"`
	IFSCCode      string  `json:"ifscCode" db:"ifsc_code"`
	UPIID         string  `json:"upiId,omitempty" db:"upi_id"`
	Balance       float64 `json:"accountBalance" db:"account_balance"`
}

// Beneficiary is the display info returned by a successful beneficiary
// resolution. Branch is only populated for direct account lookups.
type Beneficiary struct {
	AccountNumber string `json:"accountNumber"`
	HolderName    string `json:"name"`
	BankBranch    string `json:"branch,omitempty"`
}
