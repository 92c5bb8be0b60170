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

// ErrBudgetTargetConflict is returned when a budget names both an account
// and a category; it may target at most one of them.
var ErrBudgetTargetConflict = errors.New("budget cannot be associated with both an account and a category")

// BudgetService exposes the budget endpoints.
type BudgetService struct {
	db        *sql.DB
	validator *ValidationHelper
	limits    Limits
}

func NewBudgetService(db *sql.DB) *BudgetService {
	return &BudgetService{
		db:        db,
		validator: NewValidationHelper(),
		limits:    LoadLimits(),
	}
}

type CreateBudgetRequest struct {
	Name       string `json:"name" validate:"required"`
	Amount     *int64 `json:"amount" validate:"required,gte=0"`
	AccountID  *int64 `json:"accountId" validate:"omitempty,gt=0"`
	CategoryID *int64 `json:"categoryId" validate:"omitempty,gt=0"`
	TemplateID *int64 `json:"templateId" validate:"omitempty,gt=0"`
	Period     string `json:"period" validate:"omitempty,oneof=weekly monthly yearly"`
}

type UpdateBudgetRequest struct {
	Name       *string `json:"name"`
	Amount     *int64  `json:"amount" validate:"omitempty,gte=0"`
	AccountID  *int64  `json:"accountId" validate:"omitempty,gt=0"`
	CategoryID *int64  `json:"categoryId" validate:"omitempty,gt=0"`
	TemplateID *int64  `json:"templateId" validate:"omitempty,gt=0"`
	Period     *string `json:"period" validate:"omitempty,oneof=weekly monthly yearly"`
}

var budgetSortColumns = map[string]string{
	"id":        "id",
	"name":      "name",
	"amount":    "amount",
	"period":    "period",
	"createdAt": "created_at",
	"updatedAt": "updated_at",
}

func (bs *BudgetService) checkName(name string) error {
	if n := nameLength(name); n < 1 || n > bs.limits.NameMax {
		return fmt.Errorf("name must be between 1 and %d characters", bs.limits.NameMax)
	}
	return nil
}

// rowQuerier is satisfied by *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRow(query string, args ...interface{}) *sql.Row
}

// isCheckViolation reports a postgres CHECK constraint failure
func isCheckViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23514"
}

// checkReferences verifies the referenced account, category and template
// rows exist
func (bs *BudgetService) checkReferences(q rowQuerier, accountID, categoryID, templateID *int64) error {
	if accountID != nil {
		var id int64
		err := q.QueryRow("SELECT id FROM accounts WHERE id = $1", *accountID).Scan(&id)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %d", ErrAccountNotFound, *accountID)
		}
		if err != nil {
			return fmt.Errorf("load account %d: %w", *accountID, err)
		}
	}
	if categoryID != nil {
		var id int64
		err := q.QueryRow("SELECT id FROM categories WHERE id = $1", *categoryID).Scan(&id)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %d", ErrCategoryNotFound, *categoryID)
		}
		if err != nil {
			return fmt.Errorf("load category %d: %w", *categoryID, err)
		}
	}
	if templateID != nil {
		var id int64
		err := q.QueryRow("SELECT id FROM budget_templates WHERE id = $1", *templateID).Scan(&id)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %d", ErrTemplateNotFound, *templateID)
		}
		if err != nil {
			return fmt.Errorf("load budget template %d: %w", *templateID, err)
		}
	}
	return nil
}

// CreateBudget handles POST /budgets
func (bs *BudgetService) CreateBudget(w http.ResponseWriter, r *http.Request) {
	var req CreateBudgetRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, err)
		return
	}
	if err := bs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if err := bs.checkName(req.Name); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.AccountID != nil && req.CategoryID != nil {
		SendErrorResponse(w, "Budget rejected", http.StatusUnprocessableEntity, ErrBudgetTargetConflict)
		return
	}
	if err := bs.checkReferences(bs.db, req.AccountID, req.CategoryID, req.TemplateID); err != nil {
		status := statusForLedgerError(err)
		if status == http.StatusInternalServerError {
			log.Printf("[BUDGET] Reference check failed: %v", err)
			SendErrorResponse(w, "Failed to create budget", status, nil)
			return
		}
		SendErrorResponse(w, "Budget rejected", status, err)
		return
	}

	period := req.Period
	if period == "" {
		period = models.BudgetPeriodMonthly
	}

	budget := models.Budget{
		Name:       req.Name,
		Amount:     *req.Amount,
		AccountID:  req.AccountID,
		CategoryID: req.CategoryID,
		TemplateID: req.TemplateID,
		Period:     period,
	}
	err := bs.db.QueryRow(`
		INSERT INTO budgets (name, amount, account_id, category_id, template_id, period)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		req.Name, *req.Amount, req.AccountID, req.CategoryID, req.TemplateID, period,
	).Scan(&budget.ID, &budget.CreatedAt, &budget.UpdatedAt)
	if err != nil {
		log.Printf("[BUDGET] Insert failed: %v", err)
		SendErrorResponse(w, "Failed to create budget", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusCreated, budget)
}

// ListBudgets handles GET /budgets
func (bs *BudgetService) ListBudgets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := ParsePageParams(r, bs.limits)
	if err != nil {
		SendErrorResponse(w, "Invalid pagination", http.StatusBadRequest, err)
		return
	}
	orderBy, err := ParseSortParams(r, budgetSortColumns, "id ASC")
	if err != nil {
		SendErrorResponse(w, "Invalid sort", http.StatusBadRequest, err)
		return
	}

	var conditions []string
	var args []interface{}
	argIndex := 1

	appendIDFilter := func(param, column string) error {
		ids, err := ParseIDList(q[param])
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			conditions = append(conditions, fmt.Sprintf("%s = ANY($%d)", column, argIndex))
			args = append(args, pq.Array(ids))
			argIndex++
		}
		return nil
	}

	if err := appendIDFilter("accountId", "account_id"); err != nil {
		SendErrorResponse(w, "Invalid accountId filter", http.StatusBadRequest, err)
		return
	}
	if err := appendIDFilter("categoryId", "category_id"); err != nil {
		SendErrorResponse(w, "Invalid categoryId filter", http.StatusBadRequest, err)
		return
	}
	if err := appendIDFilter("templateId", "template_id"); err != nil {
		SendErrorResponse(w, "Invalid templateId filter", http.StatusBadRequest, err)
		return
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var totalCount int
	if err := bs.db.QueryRow("SELECT COUNT(*) FROM budgets"+where, args...).Scan(&totalCount); err != nil {
		log.Printf("[BUDGET] Count failed: %v", err)
		SendErrorResponse(w, "Failed to fetch budgets", http.StatusInternalServerError, nil)
		return
	}

	query := fmt.Sprintf(`
		SELECT id, name, amount, account_id, category_id, template_id, period, created_at, updated_at
		FROM budgets%s
		ORDER BY %s
		LIMIT $%d OFFSET $%d`, where, orderBy, argIndex, argIndex+1)
	args = append(args, page.Size, page.Offset())

	rows, err := bs.db.Query(query, args...)
	if err != nil {
		log.Printf("[BUDGET] List failed: %v", err)
		SendErrorResponse(w, "Failed to fetch budgets", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	budgets := []models.Budget{}
	for rows.Next() {
		var budget models.Budget
		err := rows.Scan(&budget.ID, &budget.Name, &budget.Amount, &budget.AccountID,
			&budget.CategoryID, &budget.TemplateID, &budget.Period, &budget.CreatedAt, &budget.UpdatedAt)
		if err != nil {
			log.Printf("[BUDGET] Scan failed: %v", err)
			SendErrorResponse(w, "Failed to fetch budgets", http.StatusInternalServerError, nil)
			return
		}
		budgets = append(budgets, budget)
	}

	SendJSONResponse(w, http.StatusOK, models.NewPage(budgets, page.Number, page.Size, totalCount))
}

// GetBudget handles GET /budgets/{id}
func (bs *BudgetService) GetBudget(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid budget id", http.StatusBadRequest, err)
		return
	}

	var budget models.Budget
	err = bs.db.QueryRow(`
		SELECT id, name, amount, account_id, category_id, template_id, period, created_at, updated_at
		FROM budgets WHERE id = $1`, id).Scan(
		&budget.ID, &budget.Name, &budget.Amount, &budget.AccountID,
		&budget.CategoryID, &budget.TemplateID, &budget.Period, &budget.CreatedAt, &budget.UpdatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Budget not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[BUDGET] Fetch %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to fetch budget", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, budget)
}

// UpdateBudget handles PATCH /budgets/{id}
func (bs *BudgetService) UpdateBudget(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid budget id", http.StatusBadRequest, err)
		return
	}

	var req UpdateBudgetRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, err)
		return
	}
	if err := bs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Name != nil {
		if err := bs.checkName(*req.Name); err != nil {
			SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
			return
		}
	}
	// Load, merge and update under one row lock so the exclusivity
	// rule holds against concurrent patches of the same budget.
	tx, err := bs.db.Begin()
	if err != nil {
		log.Printf("[BUDGET] Begin failed: %v", err)
		SendErrorResponse(w, "Failed to update budget", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	var current models.Budget
	err = tx.QueryRow("SELECT account_id, category_id FROM budgets WHERE id = $1 FOR UPDATE", id).
		Scan(&current.AccountID, &current.CategoryID)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Budget not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[BUDGET] Fetch %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to update budget", http.StatusInternalServerError, nil)
		return
	}

	mergedAccount := current.AccountID
	if req.AccountID != nil {
		mergedAccount = req.AccountID
	}
	mergedCategory := current.CategoryID
	if req.CategoryID != nil {
		mergedCategory = req.CategoryID
	}
	if mergedAccount != nil && mergedCategory != nil {
		SendErrorResponse(w, "Budget rejected", http.StatusUnprocessableEntity, ErrBudgetTargetConflict)
		return
	}

	if err := bs.checkReferences(tx, req.AccountID, req.CategoryID, req.TemplateID); err != nil {
		status := statusForLedgerError(err)
		if status == http.StatusInternalServerError {
			log.Printf("[BUDGET] Reference check failed: %v", err)
			SendErrorResponse(w, "Failed to update budget", status, nil)
			return
		}
		SendErrorResponse(w, "Budget rejected", status, err)
		return
	}

	var budget models.Budget
	err = tx.QueryRow(`
		UPDATE budgets
		SET name = COALESCE($1, name),
		    amount = COALESCE($2, amount),
		    account_id = COALESCE($3, account_id),
		    category_id = COALESCE($4, category_id),
		    template_id = COALESCE($5, template_id),
		    period = COALESCE($6, period),
		    updated_at = now()
		WHERE id = $7
		RETURNING id, name, amount, account_id, category_id, template_id, period, created_at, updated_at`,
		req.Name, req.Amount, req.AccountID, req.CategoryID, req.TemplateID, req.Period, id,
	).Scan(&budget.ID, &budget.Name, &budget.Amount, &budget.AccountID,
		&budget.CategoryID, &budget.TemplateID, &budget.Period, &budget.CreatedAt, &budget.UpdatedAt)
	if isCheckViolation(err) {
		// Table-level CHECK backstop for races the row lock cannot see
		SendErrorResponse(w, "Budget rejected", http.StatusUnprocessableEntity, ErrBudgetTargetConflict)
		return
	}
	if err != nil {
		log.Printf("[BUDGET] Update %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to update budget", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[BUDGET] Commit failed: %v", err)
		SendErrorResponse(w, "Failed to update budget", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, budget)
}

// DeleteBudget handles DELETE /budgets/{id}
func (bs *BudgetService) DeleteBudget(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid budget id", http.StatusBadRequest, err)
		return
	}

	result, err := bs.db.Exec("DELETE FROM budgets WHERE id = $1", id)
	if err != nil {
		log.Printf("[BUDGET] Delete %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to delete budget", http.StatusInternalServerError, nil)
		return
	}
	affected, err := result.RowsAffected()
	if err != nil {
		log.Printf("[BUDGET] Delete %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to delete budget", http.StatusInternalServerError, nil)
		return
	}
	if affected == 0 {
		SendErrorResponse(w, "Budget not found", http.StatusNotFound, nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
