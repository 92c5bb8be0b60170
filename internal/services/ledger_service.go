package services

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spenicle/backend/internal/models"
)

// Ledger failure modes, mapped to HTTP statuses by the transaction handlers.
var (
	ErrAccountNotFound       = errors.New("account not found")
	ErrCategoryNotFound      = errors.New("category not found")
	ErrTemplateNotFound      = errors.New("template not found")
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrCategoryTypeMismatch  = errors.New("category type does not match transaction type")
	ErrMissingDestination    = errors.New("transfer requires a destination account")
	ErrUnexpectedDestination = errors.New("destination account is only valid for transfers")
	ErrSameAccountTransfer   = errors.New("transfer destination must differ from the source account")
)

// LedgerService owns balance mutation. Every create, update and delete runs
// as one database transaction: account rows are locked in ascending id order
// (deadlock avoidance), previously applied deltas are reversed before new
// ones apply, and each applied delta is journaled to ledger_entries. A
// failure at any step rolls the whole unit back, so no caller ever observes a
// partially applied mutation.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// balanceDelta is one signed contribution to one account's balance.
type balanceDelta struct {
	accountID int64
	amount    int64
}

// transactionShape is a transaction's balance-relevant fields, either as
// stored or as proposed by a create/update.
type transactionShape struct {
	AccountID            int64
	DestinationAccountID *int64
	CategoryID           int64
	TemplateID           *int64
	Amount               int64
	Date                 time.Time
	Type                 string
	Note                 string
}

// TransactionPatch carries the fields of a PATCH request that were present
// in the body. Nil means "keep the stored value".
type TransactionPatch struct {
	AccountID            *int64
	DestinationAccountID *int64
	CategoryID           *int64
	TemplateID           *int64
	Amount               *int64
	Date                 *time.Time
	Type                 *string
	Note                 *string
}

// touchesClassification reports whether the patch changes type, category or
// account linkage. Category compatibility is only re-checked for those
// patches; amount/date/note edits keep working even if the category's type
// drifted after the transaction was created.
func (p TransactionPatch) touchesClassification() bool {
	return p.Type != nil || p.CategoryID != nil || p.AccountID != nil || p.DestinationAccountID != nil
}

func (s transactionShape) validate() error {
	if s.Amount < 1 {
		return fmt.Errorf("amount must be a positive whole number")
	}
	switch s.Type {
	case models.TransactionTypeTransfer:
		if s.DestinationAccountID == nil {
			return ErrMissingDestination
		}
		if *s.DestinationAccountID == s.AccountID {
			return ErrSameAccountTransfer
		}
	default:
		if s.DestinationAccountID != nil {
			return ErrUnexpectedDestination
		}
	}
	return nil
}

// deltas returns the signed contributions this shape applies:
// expense subtracts, income adds, transfer moves source -> destination.
func (s transactionShape) deltas() []balanceDelta {
	switch s.Type {
	case models.TransactionTypeExpense:
		return []balanceDelta{{s.AccountID, -s.Amount}}
	case models.TransactionTypeIncome:
		return []balanceDelta{{s.AccountID, s.Amount}}
	case models.TransactionTypeTransfer:
		return []balanceDelta{{s.AccountID, -s.Amount}, {*s.DestinationAccountID, s.Amount}}
	}
	return nil
}

func (s transactionShape) accountIDs() []int64 {
	ids := []int64{s.AccountID}
	if s.DestinationAccountID != nil {
		ids = append(ids, *s.DestinationAccountID)
	}
	return ids
}

func reversed(deltas []balanceDelta) []balanceDelta {
	out := make([]balanceDelta, len(deltas))
	for i, d := range deltas {
		out[i] = balanceDelta{d.accountID, -d.amount}
	}
	return out
}

// lockAccounts takes FOR UPDATE locks on the given accounts, deduplicated
// and in ascending id order so concurrent mutations cannot deadlock
func (ls *LedgerService) lockAccounts(tx *sql.Tx, ids ...int64) error {
	seen := make(map[int64]bool, len(ids))
	unique := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })

	for _, id := range unique {
		var locked int64
		err := tx.QueryRow("SELECT id FROM accounts WHERE id = $1 FOR UPDATE", id).Scan(&locked)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %d", ErrAccountNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("lock account %d: %w", id, err)
		}
	}
	return nil
}

// checkCategory verifies the category exists and its type equals the
// transaction's effective type
func (ls *LedgerService) checkCategory(tx *sql.Tx, categoryID int64, txType string) error {
	var categoryType string
	err := tx.QueryRow("SELECT type FROM categories WHERE id = $1", categoryID).Scan(&categoryType)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %d", ErrCategoryNotFound, categoryID)
	}
	if err != nil {
		return fmt.Errorf("load category %d: %w", categoryID, err)
	}
	if categoryType != txType {
		return fmt.Errorf("%w: category is %s, transaction is %s", ErrCategoryTypeMismatch, categoryType, txType)
	}
	return nil
}

func (ls *LedgerService) checkTemplate(tx *sql.Tx, templateID int64) error {
	var id int64
	err := tx.QueryRow("SELECT id FROM transaction_templates WHERE id = $1", templateID).Scan(&id)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %d", ErrTemplateNotFound, templateID)
	}
	if err != nil {
		return fmt.Errorf("load template %d: %w", templateID, err)
	}
	return nil
}

// applyDeltas increments each account balance and journals the applied delta
// with the balance it produced. Accounts must already be locked.
func (ls *LedgerService) applyDeltas(tx *sql.Tx, transactionID int64, deltas []balanceDelta) error {
	for _, d := range deltas {
		var balance int64
		err := tx.QueryRow(
			"UPDATE accounts SET amount = amount + $1, updated_at = now() WHERE id = $2 RETURNING amount",
			d.amount, d.accountID,
		).Scan(&balance)
		if err != nil {
			return fmt.Errorf("adjust balance of account %d: %w", d.accountID, err)
		}

		_, err = tx.Exec(
			"INSERT INTO ledger_entries (transaction_id, account_id, delta, balance, created_at) VALUES ($1, $2, $3, $4, $5)",
			transactionID, d.accountID, d.amount, balance, time.Now(),
		)
		if err != nil {
			return fmt.Errorf("journal delta for account %d: %w", d.accountID, err)
		}
	}
	return nil
}

// loadForUpdate locks and returns the transaction row
func (ls *LedgerService) loadForUpdate(tx *sql.Tx, id int64) (*models.Transaction, error) {
	var record models.Transaction
	err := tx.QueryRow(`
		SELECT id, account_id, destination_account_id, category_id, template_id,
		       amount, date, type, note, created_at, updated_at
		FROM transactions
		WHERE id = $1
		FOR UPDATE`, id).Scan(
		&record.ID, &record.AccountID, &record.DestinationAccountID, &record.CategoryID,
		&record.TemplateID, &record.Amount, &record.Date, &record.Type, &record.Note,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrTransactionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load transaction %d: %w", id, err)
	}
	return &record, nil
}

func shapeOf(record *models.Transaction) transactionShape {
	return transactionShape{
		AccountID:            record.AccountID,
		DestinationAccountID: record.DestinationAccountID,
		CategoryID:           record.CategoryID,
		TemplateID:           record.TemplateID,
		Amount:               record.Amount,
		Date:                 record.Date,
		Type:                 record.Type,
		Note:                 record.Note,
	}
}

// Create validates the shape against its references, inserts the record and
// applies its deltas, all in one unit of work
func (ls *LedgerService) Create(shape transactionShape) (*models.Transaction, error) {
	if err := shape.validate(); err != nil {
		return nil, err
	}

	tx, err := ls.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ls.lockAccounts(tx, shape.accountIDs()...); err != nil {
		return nil, err
	}
	if err := ls.checkCategory(tx, shape.CategoryID, shape.Type); err != nil {
		return nil, err
	}
	if shape.TemplateID != nil {
		if err := ls.checkTemplate(tx, *shape.TemplateID); err != nil {
			return nil, err
		}
	}

	record := models.Transaction{
		AccountID:            shape.AccountID,
		DestinationAccountID: shape.DestinationAccountID,
		CategoryID:           shape.CategoryID,
		TemplateID:           shape.TemplateID,
		Amount:               shape.Amount,
		Date:                 shape.Date,
		Type:                 shape.Type,
		Note:                 shape.Note,
	}
	err = tx.QueryRow(`
		INSERT INTO transactions (account_id, destination_account_id, category_id, template_id, amount, date, type, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`,
		shape.AccountID, shape.DestinationAccountID, shape.CategoryID, shape.TemplateID,
		shape.Amount, shape.Date, shape.Type, shape.Note,
	).Scan(&record.ID, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	if err := ls.applyDeltas(tx, record.ID, shape.deltas()); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &record, nil
}

// merge builds the effective post-patch shape. A destination inherited from
// the stored row is dropped when the effective type is no longer a transfer;
// an explicit destination in the patch is kept and rejected by validate.
func merge(old transactionShape, patch TransactionPatch) transactionShape {
	merged := old
	if patch.AccountID != nil {
		merged.AccountID = *patch.AccountID
	}
	if patch.CategoryID != nil {
		merged.CategoryID = *patch.CategoryID
	}
	if patch.TemplateID != nil {
		merged.TemplateID = patch.TemplateID
	}
	if patch.Amount != nil {
		merged.Amount = *patch.Amount
	}
	if patch.Date != nil {
		merged.Date = *patch.Date
	}
	if patch.Type != nil {
		merged.Type = *patch.Type
	}
	if patch.Note != nil {
		merged.Note = *patch.Note
	}
	if patch.DestinationAccountID != nil {
		merged.DestinationAccountID = patch.DestinationAccountID
	} else if merged.Type != models.TransactionTypeTransfer {
		merged.DestinationAccountID = nil
	}
	return merged
}

// Update reverses the currently applied deltas, validates the merged shape
// as if it were a fresh create, and applies the new deltas. Balances end up
// exactly as if the transaction had always had its final shape.
func (ls *LedgerService) Update(id int64, patch TransactionPatch) (*models.Transaction, error) {
	tx, err := ls.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	record, err := ls.loadForUpdate(tx, id)
	if err != nil {
		return nil, err
	}

	old := shapeOf(record)
	merged := merge(old, patch)
	if err := merged.validate(); err != nil {
		return nil, err
	}

	if err := ls.lockAccounts(tx, append(old.accountIDs(), merged.accountIDs()...)...); err != nil {
		return nil, err
	}
	if patch.touchesClassification() {
		if err := ls.checkCategory(tx, merged.CategoryID, merged.Type); err != nil {
			return nil, err
		}
	}
	if patch.TemplateID != nil {
		if err := ls.checkTemplate(tx, *patch.TemplateID); err != nil {
			return nil, err
		}
	}

	if err := ls.applyDeltas(tx, id, reversed(old.deltas())); err != nil {
		return nil, err
	}
	if err := ls.applyDeltas(tx, id, merged.deltas()); err != nil {
		return nil, err
	}

	err = tx.QueryRow(`
		UPDATE transactions
		SET account_id = $1, destination_account_id = $2, category_id = $3, template_id = $4,
		    amount = $5, date = $6, type = $7, note = $8, updated_at = now()
		WHERE id = $9
		RETURNING updated_at`,
		merged.AccountID, merged.DestinationAccountID, merged.CategoryID, merged.TemplateID,
		merged.Amount, merged.Date, merged.Type, merged.Note, id,
	).Scan(&record.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update transaction %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	record.AccountID = merged.AccountID
	record.DestinationAccountID = merged.DestinationAccountID
	record.CategoryID = merged.CategoryID
	record.TemplateID = merged.TemplateID
	record.Amount = merged.Amount
	record.Date = merged.Date
	record.Type = merged.Type
	record.Note = merged.Note
	return record, nil
}

// Delete reverses the transaction's applied deltas and removes the record,
// restoring the balances that held before it existed
func (ls *LedgerService) Delete(id int64) error {
	tx, err := ls.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	record, err := ls.loadForUpdate(tx, id)
	if err != nil {
		return err
	}

	shape := shapeOf(record)
	if err := ls.lockAccounts(tx, shape.accountIDs()...); err != nil {
		return err
	}
	if err := ls.applyDeltas(tx, id, reversed(shape.deltas())); err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM transactions WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete transaction %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
