package models

import "time"

// User is the credential row backing one account. PasswordHash is
// hex(H(plaintext || Salt)); the salt is regenerated on every password
// change and never reused.
type User struct {
	UserID        string    `json:"userId" db:"user_id"`
	Email         string    `json:"email" db:"email"`
	AccountNumber string    `json:"accountNumber" db:"account_number"`
	PasswordHash  string    `json:"-" db:"password_hash"`
	Salt          string    `json:"-" db:"salt"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`
}
