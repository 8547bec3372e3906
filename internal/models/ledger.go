package models

import (
	"time"
)

// Transfer modes. IMPS routes by account number, UPI by payment-address alias.
const (
	ModeIMPS = "IMPS"
	ModeUPI  = "UPI"
)

// Entry directions, relative to the account viewing its history. An entry
// itself has no polarity; the classification happens at read time.
const (
	DirectionDebit  = "DEBIT"
	DirectionCredit = "CREDIT"
)

const StatusSuccess = "SUCCESS"

// LedgerEntry is one committed transfer. Entries are written exactly once
// by the transfer engine and never mutated afterward; they are the sole
// source of truth for transaction history. Sender and receiver names are
// snapshots taken at transfer time.
type LedgerEntry struct {
	TransactionID         string    `json:"transaction_id" db:"transaction_id"`
	TransactionDate       time.Time `json:"transaction_date" db:"transaction_date"`
	SenderAccountNumber   string    `json:"sender_account_number" db:"sender_account_number"`
	ReceiverAccountNumber string    `json:"receiver_account_number" db:"receiver_account_number"`
	SenderName            string    `json:"sender_name" db:"sender_name"`
	ReceiverName          string    `json:"receiver_name" db:"receiver_name"`
	Mode                  string    `json:"mode" db:"mode"`
	Amount                int64     `json:"amount" db:"amount"` // in paise
	Note                  string    `json:"note,omitempty" db:"note"`
	Status                string    `json:"status" db:"status"`
	Direction             string    `json:"type,omitempty"` // DEBIT or CREDIT, viewer-relative
}
