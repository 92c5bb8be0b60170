package models

import (
	"time"
)

// AccountTypeExpense and AccountTypeIncome are the two account kinds.
const (
	AccountTypeExpense = "expense"
	AccountTypeIncome  = "income"
)

// Account holds a running balance. Amount is server-managed: it is only ever
// mutated through ledger deltas, never set directly by clients.
type Account struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Note         string    `json:"note" db:"note"`
	Type         string    `json:"type" db:"type"`
	Amount       int64     `json:"amount" db:"amount"`
	DisplayOrder int       `json:"displayOrder" db:"display_order"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}
