package models

import (
	"time"
)

// Transaction types. The type decides the sign convention of the balance
// deltas the ledger applies: expense subtracts from the account, income adds
// to it, transfer moves the amount from the account to the destination.
const (
	TransactionTypeExpense  = "expense"
	TransactionTypeIncome   = "income"
	TransactionTypeTransfer = "transfer"
)

// Transaction is a single monetary movement. Amounts are whole units.
type Transaction struct {
	ID                   int64     `json:"id" db:"id"`
	AccountID            int64     `json:"accountId" db:"account_id"`
	DestinationAccountID *int64    `json:"destinationAccountId,omitempty" db:"destination_account_id"`
	CategoryID           int64     `json:"categoryId" db:"category_id"`
	TemplateID           *int64    `json:"templateId,omitempty" db:"template_id"`
	Amount               int64     `json:"amount" db:"amount"`
	Date                 time.Time `json:"date" db:"date"`
	Type                 string    `json:"type" db:"type"`
	Note                 string    `json:"note" db:"note"`
	CreatedAt            time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt            time.Time `json:"updatedAt" db:"updated_at"`
}

// LedgerEntry records one applied balance delta along with the balance it
// produced. Entries are append-only and survive transaction deletion.
type LedgerEntry struct {
	ID            int64     `json:"id" db:"id"`
	TransactionID int64     `json:"transactionId" db:"transaction_id"`
	AccountID     int64     `json:"accountId" db:"account_id"`
	Delta         int64     `json:"delta" db:"delta"`
	Balance       int64     `json:"balance" db:"balance"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}
