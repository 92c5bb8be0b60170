package services

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"
	"github.com/spenicle/backend/internal/models"
)

// AccountService exposes the account endpoints. Balances are never writable
// here; only the ledger touches them.
type AccountService struct {
	db        *sql.DB
	validator *ValidationHelper
	limits    Limits
}

func NewAccountService(db *sql.DB) *AccountService {
	return &AccountService{
		db:        db,
		validator: NewValidationHelper(),
		limits:    LoadLimits(),
	}
}

type CreateAccountRequest struct {
	Name string  `json:"name" validate:"required"`
	Note *string `json:"note"`
	Type string  `json:"type" validate:"required,oneof=expense income"`
}

type UpdateAccountRequest struct {
	Name *string `json:"name"`
	Note *string `json:"note"`
	Type *string `json:"type" validate:"omitempty,oneof=expense income"`
}

// ReorderRequest carries the complete desired ordering of a collection
type ReorderRequest struct {
	Data []int64 `json:"data"`
}

var accountSortColumns = map[string]string{
	"id":           "id",
	"name":         "name",
	"type":         "type",
	"amount":       "amount",
	"displayOrder": "display_order",
	"createdAt":    "created_at",
	"updatedAt":    "updated_at",
}

func (as *AccountService) checkName(name string) error {
	if n := nameLength(name); n < 1 || n > as.limits.AccountNameMax {
		return fmt.Errorf("name must be between 1 and %d characters", as.limits.AccountNameMax)
	}
	return nil
}

// CreateAccount handles POST /accounts
func (as *AccountService) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, err)
		return
	}
	if err := as.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if err := as.checkName(req.Name); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	note := ""
	if req.Note != nil {
		note = *req.Note
	}
	if len(note) > as.limits.NoteMax {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest,
			fmt.Errorf("note exceeds %d characters", as.limits.NoteMax))
		return
	}

	tx, err := as.db.Begin()
	if err != nil {
		log.Printf("[ACCOUNT] Begin failed: %v", err)
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	displayOrder, err := accountOrdering.nextDisplayOrder(tx)
	if err != nil {
		log.Printf("[ACCOUNT] Ordering failed: %v", err)
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}

	account := models.Account{Name: req.Name, Note: note, Type: req.Type, DisplayOrder: displayOrder}
	err = tx.QueryRow(`
		INSERT INTO accounts (name, note, type, amount, display_order)
		VALUES ($1, $2, $3, 0, $4)
		RETURNING id, amount, created_at, updated_at`,
		req.Name, note, req.Type, displayOrder,
	).Scan(&account.ID, &account.Amount, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		log.Printf("[ACCOUNT] Insert failed: %v", err)
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[ACCOUNT] Commit failed: %v", err)
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusCreated, account)
}

// ListAccounts handles GET /accounts
func (as *AccountService) ListAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := ParsePageParams(r, as.limits)
	if err != nil {
		SendErrorResponse(w, "Invalid pagination", http.StatusBadRequest, err)
		return
	}
	orderBy, err := ParseSortParams(r, accountSortColumns, "display_order ASC")
	if err != nil {
		SendErrorResponse(w, "Invalid sort", http.StatusBadRequest, err)
		return
	}

	var conditions []string
	var args []interface{}
	argIndex := 1

	if name := q.Get("name"); name != "" {
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", argIndex))
		args = append(args, "%"+escapeLike(name)+"%")
		argIndex++
	}
	if types := q["type"]; len(types) > 0 {
		for _, t := range types {
			if t != models.AccountTypeExpense && t != models.AccountTypeIncome {
				SendErrorResponse(w, "Invalid type filter", http.StatusBadRequest,
					fmt.Errorf("unknown account type %q", t))
				return
			}
		}
		conditions = append(conditions, fmt.Sprintf("type = ANY($%d)", argIndex))
		args = append(args, pq.Array(types))
		argIndex++
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var totalCount int
	if err := as.db.QueryRow("SELECT COUNT(*) FROM accounts"+where, args...).Scan(&totalCount); err != nil {
		log.Printf("[ACCOUNT] Count failed: %v", err)
		SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
		return
	}

	query := fmt.Sprintf(`
		SELECT id, name, note, type, amount, display_order, created_at, updated_at
		FROM accounts%s
		ORDER BY %s
		LIMIT $%d OFFSET $%d`, where, orderBy, argIndex, argIndex+1)
	args = append(args, page.Size, page.Offset())

	rows, err := as.db.Query(query, args...)
	if err != nil {
		log.Printf("[ACCOUNT] List failed: %v", err)
		SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var account models.Account
		err := rows.Scan(&account.ID, &account.Name, &account.Note, &account.Type,
			&account.Amount, &account.DisplayOrder, &account.CreatedAt, &account.UpdatedAt)
		if err != nil {
			log.Printf("[ACCOUNT] Scan failed: %v", err)
			SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
			return
		}
		accounts = append(accounts, account)
	}

	SendJSONResponse(w, http.StatusOK, models.NewPage(accounts, page.Number, page.Size, totalCount))
}

// GetAccount handles GET /accounts/{id}
func (as *AccountService) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, err)
		return
	}

	var account models.Account
	err = as.db.QueryRow(`
		SELECT id, name, note, type, amount, display_order, created_at, updated_at
		FROM accounts WHERE id = $1`, id).Scan(
		&account.ID, &account.Name, &account.Note, &account.Type,
		&account.Amount, &account.DisplayOrder, &account.CreatedAt, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[ACCOUNT] Fetch %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to fetch account", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, account)
}

// UpdateAccount handles PATCH /accounts/{id}. Only name, note and type are
// editable; the balance belongs to the ledger.
func (as *AccountService) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, err)
		return
	}

	var req UpdateAccountRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, err)
		return
	}
	if err := as.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Name != nil {
		if err := as.checkName(*req.Name); err != nil {
			SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
			return
		}
	}
	if req.Note != nil && len(*req.Note) > as.limits.NoteMax {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest,
			fmt.Errorf("note exceeds %d characters", as.limits.NoteMax))
		return
	}

	var account models.Account
	err = as.db.QueryRow(`
		UPDATE accounts
		SET name = COALESCE($1, name),
		    note = COALESCE($2, note),
		    type = COALESCE($3, type),
		    updated_at = now()
		WHERE id = $4
		RETURNING id, name, note, type, amount, display_order, created_at, updated_at`,
		req.Name, req.Note, req.Type, id,
	).Scan(&account.ID, &account.Name, &account.Note, &account.Type,
		&account.Amount, &account.DisplayOrder, &account.CreatedAt, &account.UpdatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[ACCOUNT] Update %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to update account", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, account)
}

// DeleteAccount handles DELETE /accounts/{id}. The remaining accounts'
// display order is compacted in the same unit of work.
func (as *AccountService) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, err)
		return
	}

	tx, err := as.db.Begin()
	if err != nil {
		log.Printf("[ACCOUNT] Begin failed: %v", err)
		SendErrorResponse(w, "Failed to delete account", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	// Advisory lock first so create/reorder/delete serialize in the same order
	if err := accountOrdering.lock(tx); err != nil {
		log.Printf("[ACCOUNT] Lock failed: %v", err)
		SendErrorResponse(w, "Failed to delete account", http.StatusInternalServerError, nil)
		return
	}

	var displayOrder int
	err = tx.QueryRow("SELECT display_order FROM accounts WHERE id = $1 FOR UPDATE", id).Scan(&displayOrder)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[ACCOUNT] Lock %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to delete account", http.StatusInternalServerError, nil)
		return
	}

	if _, err := tx.Exec("DELETE FROM accounts WHERE id = $1", id); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			SendErrorResponse(w, "Account still has transactions", http.StatusConflict, nil)
			return
		}
		log.Printf("[ACCOUNT] Delete %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to delete account", http.StatusInternalServerError, nil)
		return
	}

	if err := accountOrdering.compactAfterDelete(tx, displayOrder); err != nil {
		log.Printf("[ACCOUNT] Compact failed: %v", err)
		SendErrorResponse(w, "Failed to delete account", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[ACCOUNT] Commit failed: %v", err)
		SendErrorResponse(w, "Failed to delete account", http.StatusInternalServerError, nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ReorderAccounts handles POST /accounts/reorder
func (as *AccountService) ReorderAccounts(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, err)
		return
	}

	tx, err := as.db.Begin()
	if err != nil {
		log.Printf("[ACCOUNT] Begin failed: %v", err)
		SendErrorResponse(w, "Failed to reorder accounts", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	if err := accountOrdering.reorder(tx, req.Data); err != nil {
		if isReorderValidationError(err) {
			SendErrorResponse(w, "Reorder rejected", http.StatusBadRequest, err)
			return
		}
		log.Printf("[ACCOUNT] Reorder failed: %v", err)
		SendErrorResponse(w, "Failed to reorder accounts", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[ACCOUNT] Commit failed: %v", err)
		SendErrorResponse(w, "Failed to reorder accounts", http.StatusInternalServerError, nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func isReorderValidationError(err error) bool {
	return errors.Is(err, ErrEmptyReorder) ||
		errors.Is(err, ErrDuplicateReorder) ||
		errors.Is(err, ErrUnknownReorderID) ||
		errors.Is(err, ErrIncompleteReorder)
}
