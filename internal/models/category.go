package models

import (
	"time"
)

// CategoryTypeTransfer joins the two account kinds as a valid category type.
const CategoryTypeTransfer = "transfer"

// Category classifies transactions. A transaction is only accepted when its
// type equals its category's type at mutation time; later category edits are
// not applied retroactively.
type Category struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Note         string    `json:"note" db:"note"`
	Type         string    `json:"type" db:"type"`
	DisplayOrder int       `json:"displayOrder" db:"display_order"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}
