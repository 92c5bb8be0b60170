package models

import (
	"time"
)

// Budget periods.
const (
	BudgetPeriodWeekly  = "weekly"
	BudgetPeriodMonthly = "monthly"
	BudgetPeriodYearly  = "yearly"
)

// Budget caps spending against either an account or a category, never both.
type Budget struct {
	ID         int64     `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Amount     int64     `json:"amount" db:"amount"`
	AccountID  *int64    `json:"accountId,omitempty" db:"account_id"`
	CategoryID *int64    `json:"categoryId,omitempty" db:"category_id"`
	TemplateID *int64    `json:"templateId,omitempty" db:"template_id"`
	Period     string    `json:"period" db:"period"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updated_at"`
}

// BudgetTemplate is a reusable blueprint for budgets.
type BudgetTemplate struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Amount    int64     `json:"amount" db:"amount"`
	Period    string    `json:"period" db:"period"`
	Note      string    `json:"note" db:"note"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// TransactionTemplate is a reusable blueprint for transactions.
type TransactionTemplate struct {
	ID         int64     `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Type       string    `json:"type" db:"type"`
	Amount     int64     `json:"amount" db:"amount"`
	AccountID  *int64    `json:"accountId,omitempty" db:"account_id"`
	CategoryID *int64    `json:"categoryId,omitempty" db:"category_id"`
	Note       string    `json:"note" db:"note"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updated_at"`
}
