package services

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/spenicle/backend/internal/models"
)

// TemplateService exposes the transaction-template and budget-template
// endpoints. Templates are blueprints: creating one never touches balances.
type TemplateService struct {
	db        *sql.DB
	validator *ValidationHelper
	limits    Limits
}

func NewTemplateService(db *sql.DB) *TemplateService {
	return &TemplateService{
		db:        db,
		validator: NewValidationHelper(),
		limits:    LoadLimits(),
	}
}

type CreateTransactionTemplateRequest struct {
	Name       string  `json:"name" validate:"required"`
	Type       string  `json:"type" validate:"required,oneof=expense income transfer"`
	Amount     *int64  `json:"amount" validate:"required,gt=0"`
	AccountID  *int64  `json:"accountId" validate:"omitempty,gt=0"`
	CategoryID *int64  `json:"categoryId" validate:"omitempty,gt=0"`
	Note       *string `json:"note"`
}

type UpdateTransactionTemplateRequest struct {
	Name       *string `json:"name"`
	Type       *string `json:"type" validate:"omitempty,oneof=expense income transfer"`
	Amount     *int64  `json:"amount" validate:"omitempty,gt=0"`
	AccountID  *int64  `json:"accountId" validate:"omitempty,gt=0"`
	CategoryID *int64  `json:"categoryId" validate:"omitempty,gt=0"`
	Note       *string `json:"note"`
}

type CreateBudgetTemplateRequest struct {
	Name   string  `json:"name" validate:"required"`
	Amount *int64  `json:"amount" validate:"required,gte=0"`
	Period string  `json:"period" validate:"omitempty,oneof=weekly monthly yearly"`
	Note   *string `json:"note"`
}

type UpdateBudgetTemplateRequest struct {
	Name   *string `json:"name"`
	Amount *int64  `json:"amount" validate:"omitempty,gte=0"`
	Period *string `json:"period" validate:"omitempty,oneof=weekly monthly yearly"`
	Note   *string `json:"note"`
}

var templateSortColumns = map[string]string{
	"id":        "id",
	"name":      "name",
	"amount":    "amount",
	"createdAt": "created_at",
	"updatedAt": "updated_at",
}

func (ps *TemplateService) checkName(name string) error {
	if n := nameLength(name); n < 1 || n > ps.limits.NameMax {
		return fmt.Errorf("name must be between 1 and %d characters", ps.limits.NameMax)
	}
	return nil
}

// CreateTransactionTemplate handles POST /transaction-templates
func (ps *TemplateService) CreateTransactionTemplate(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionTemplateRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, err)
		return
	}
	if err := ps.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if err := ps.checkName(req.Name); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	note := ""
	if req.Note != nil {
		note = *req.Note
	}

	template := models.TransactionTemplate{
		Name: req.Name, Type: req.Type, Amount: *req.Amount,
		AccountID: req.AccountID, CategoryID: req.CategoryID, Note: note,
	}
	err := ps.db.QueryRow(`
		INSERT INTO transaction_templates (name, type, amount, account_id, category_id, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		req.Name, req.Type, *req.Amount, req.AccountID, req.CategoryID, note,
	).Scan(&template.ID, &template.CreatedAt, &template.UpdatedAt)
	if err != nil {
		log.Printf("[TEMPLATE] Insert failed: %v", err)
		SendErrorResponse(w, "Failed to create template", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusCreated, template)
}

// ListTransactionTemplates handles GET /transaction-templates
func (ps *TemplateService) ListTransactionTemplates(w http.ResponseWriter, r *http.Request) {
	page, err := ParsePageParams(r, ps.limits)
	if err != nil {
		SendErrorResponse(w, "Invalid pagination", http.StatusBadRequest, err)
		return
	}
	orderBy, err := ParseSortParams(r, templateSortColumns, "id ASC")
	if err != nil {
		SendErrorResponse(w, "Invalid sort", http.StatusBadRequest, err)
		return
	}

	var totalCount int
	if err := ps.db.QueryRow("SELECT COUNT(*) FROM transaction_templates").Scan(&totalCount); err != nil {
		log.Printf("[TEMPLATE] Count failed: %v", err)
		SendErrorResponse(w, "Failed to fetch templates", http.StatusInternalServerError, nil)
		return
	}

	query := fmt.Sprintf(`
		SELECT id, name, type, amount, account_id, category_id, note, created_at, updated_at
		FROM transaction_templates
		ORDER BY %s
		LIMIT $1 OFFSET $2`, orderBy)

	rows, err := ps.db.Query(query, page.Size, page.Offset())
	if err != nil {
		log.Printf("[TEMPLATE] List failed: %v", err)
		SendErrorResponse(w, "Failed to fetch templates", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	templates := []models.TransactionTemplate{}
	for rows.Next() {
		var template models.TransactionTemplate
		err := rows.Scan(&template.ID, &template.Name, &template.Type, &template.Amount,
			&template.AccountID, &template.CategoryID, &template.Note, &template.CreatedAt, &template.UpdatedAt)
		if err != nil {
			log.Printf("[TEMPLATE] Scan failed: %v", err)
			SendErrorResponse(w, "Failed to fetch templates", http.StatusInternalServerError, nil)
			return
		}
		templates = append(templates, template)
	}

	SendJSONResponse(w, http.StatusOK, models.NewPage(templates, page.Number, page.Size, totalCount))
}

// GetTransactionTemplate handles GET /transaction-templates/{id}
func (ps *TemplateService) GetTransactionTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid template id", http.StatusBadRequest, err)
		return
	}

	var template models.TransactionTemplate
	err = ps.db.QueryRow(`
		SELECT id, name, type, amount, account_id, category_id, note, created_at, updated_at
		FROM transaction_templates WHERE id = $1`, id).Scan(
		&template.ID, &template.Name, &template.Type, &template.Amount,
		&template.AccountID, &template.CategoryID, &template.Note, &template.CreatedAt, &template.UpdatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Template not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[TEMPLATE] Fetch %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to fetch template", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, template)
}

// UpdateTransactionTemplate handles PATCH /transaction-templates/{id}
func (ps *TemplateService) UpdateTransactionTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid template id", http.StatusBadRequest, err)
		return
	}

	var req UpdateTransactionTemplateRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, err)
		return
	}
	if err := ps.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Name != nil {
		if err := ps.checkName(*req.Name); err != nil {
			SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
			return
		}
	}

	var template models.TransactionTemplate
	err = ps.db.QueryRow(`
		UPDATE transaction_templates
		SET name = COALESCE($1, name),
		    type = COALESCE($2, type),
		    amount = COALESCE($3, amount),
		    account_id = COALESCE($4, account_id),
		    category_id = COALESCE($5, category_id),
		    note = COALESCE($6, note),
		    updated_at = now()
		WHERE id = $7
		RETURNING id, name, type, amount, account_id, category_id, note, created_at, updated_at`,
		req.Name, req.Type, req.Amount, req.AccountID, req.CategoryID, req.Note, id,
	).Scan(&template.ID, &template.Name, &template.Type, &template.Amount,
		&template.AccountID, &template.CategoryID, &template.Note, &template.CreatedAt, &template.UpdatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Template not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[TEMPLATE] Update %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to update template", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, template)
}

// DeleteTransactionTemplate handles DELETE /transaction-templates/{id}
func (ps *TemplateService) DeleteTransactionTemplate(w http.ResponseWriter, r *http.Request) {
	ps.deleteByID(w, r, "transaction_templates")
}

// CreateBudgetTemplate handles POST /budget-templates
func (ps *TemplateService) CreateBudgetTemplate(w http.ResponseWriter, r *http.Request) {
	var req CreateBudgetTemplateRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, err)
		return
	}
	if err := ps.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if err := ps.checkName(req.Name); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	period := req.Period
	if period == "" {
		period = models.BudgetPeriodMonthly
	}
	note := ""
	if req.Note != nil {
		note = *req.Note
	}

	template := models.BudgetTemplate{Name: req.Name, Amount: *req.Amount, Period: period, Note: note}
	err := ps.db.QueryRow(`
		INSERT INTO budget_templates (name, amount, period, note)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		req.Name, *req.Amount, period, note,
	).Scan(&template.ID, &template.CreatedAt, &template.UpdatedAt)
	if err != nil {
		log.Printf("[TEMPLATE] Insert failed: %v", err)
		SendErrorResponse(w, "Failed to create template", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusCreated, template)
}

// ListBudgetTemplates handles GET /budget-templates
func (ps *TemplateService) ListBudgetTemplates(w http.ResponseWriter, r *http.Request) {
	page, err := ParsePageParams(r, ps.limits)
	if err != nil {
		SendErrorResponse(w, "Invalid pagination", http.StatusBadRequest, err)
		return
	}
	orderBy, err := ParseSortParams(r, templateSortColumns, "id ASC")
	if err != nil {
		SendErrorResponse(w, "Invalid sort", http.StatusBadRequest, err)
		return
	}

	var totalCount int
	if err := ps.db.QueryRow("SELECT COUNT(*) FROM budget_templates").Scan(&totalCount); err != nil {
		log.Printf("[TEMPLATE] Count failed: %v", err)
		SendErrorResponse(w, "Failed to fetch templates", http.StatusInternalServerError, nil)
		return
	}

	query := fmt.Sprintf(`
		SELECT id, name, amount, period, note, created_at, updated_at
		FROM budget_templates
		ORDER BY %s
		LIMIT $1 OFFSET $2`, orderBy)

	rows, err := ps.db.Query(query, page.Size, page.Offset())
	if err != nil {
		log.Printf("[TEMPLATE] List failed: %v", err)
		SendErrorResponse(w, "Failed to fetch templates", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	templates := []models.BudgetTemplate{}
	for rows.Next() {
		var template models.BudgetTemplate
		err := rows.Scan(&template.ID, &template.Name, &template.Amount, &template.Period,
			&template.Note, &template.CreatedAt, &template.UpdatedAt)
		if err != nil {
			log.Printf("[TEMPLATE] Scan failed: %v", err)
			SendErrorResponse(w, "Failed to fetch templates", http.StatusInternalServerError, nil)
			return
		}
		templates = append(templates, template)
	}

	SendJSONResponse(w, http.StatusOK, models.NewPage(templates, page.Number, page.Size, totalCount))
}

// GetBudgetTemplate handles GET /budget-templates/{id}
func (ps *TemplateService) GetBudgetTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid template id", http.StatusBadRequest, err)
		return
	}

	var template models.BudgetTemplate
	err = ps.db.QueryRow(`
		SELECT id, name, amount, period, note, created_at, updated_at
		FROM budget_templates WHERE id = $1`, id).Scan(
		&template.ID, &template.Name, &template.Amount, &template.Period,
		&template.Note, &template.CreatedAt, &template.UpdatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Template not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[TEMPLATE] Fetch %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to fetch template", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, template)
}

// UpdateBudgetTemplate handles PATCH /budget-templates/{id}
func (ps *TemplateService) UpdateBudgetTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid template id", http.StatusBadRequest, err)
		return
	}

	var req UpdateBudgetTemplateRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, err)
		return
	}
	if err := ps.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Name != nil {
		if err := ps.checkName(*req.Name); err != nil {
			SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
			return
		}
	}

	var template models.BudgetTemplate
	err = ps.db.QueryRow(`
		UPDATE budget_templates
		SET name = COALESCE($1, name),
		    amount = COALESCE($2, amount),
		    period = COALESCE($3, period),
		    note = COALESCE($4, note),
		    updated_at = now()
		WHERE id = $5
		RETURNING id, name, amount, period, note, created_at, updated_at`,
		req.Name, req.Amount, req.Period, req.Note, id,
	).Scan(&template.ID, &template.Name, &template.Amount, &template.Period,
		&template.Note, &template.CreatedAt, &template.UpdatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Template not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[TEMPLATE] Update %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to update template", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, template)
}

// DeleteBudgetTemplate handles DELETE /budget-templates/{id}
func (ps *TemplateService) DeleteBudgetTemplate(w http.ResponseWriter, r *http.Request) {
	ps.deleteByID(w, r, "budget_templates")
}

func (ps *TemplateService) deleteByID(w http.ResponseWriter, r *http.Request, table string) {
	id, err := ParseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid template id", http.StatusBadRequest, err)
		return
	}

	result, err := ps.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = $1", table), id)
	if err != nil {
		log.Printf("[TEMPLATE] Delete %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to delete template", http.StatusInternalServerError, nil)
		return
	}
	affected, err := result.RowsAffected()
	if err != nil {
		log.Printf("[TEMPLATE] Delete %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to delete template", http.StatusInternalServerError, nil)
		return
	}
	if affected == 0 {
		SendErrorResponse(w, "Template not found", http.StatusNotFound, nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
