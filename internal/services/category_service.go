package services

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"
	"github.com/spenicle/backend/internal/models"
)

// CategoryService exposes the category endpoints. Type edits here are not
// retroactive: existing transactions keep their classification, only new
// ledger mutations are validated against the updated type.
type CategoryService struct {
	db        *sql.DB
	validator *ValidationHelper
	limits    Limits
}

func NewCategoryService(db *sql.DB) *CategoryService {
	return &CategoryService{
		db:        db,
		validator: NewValidationHelper(),
		limits:    LoadLimits(),
	}
}

type CreateCategoryRequest struct {
	Name string  `json:"name" validate:"required"`
	Note *string `json:"note"`
	Type string  `json:"type" validate:"required,oneof=expense income transfer"`
}

type UpdateCategoryRequest struct {
	Name *string `json:"name"`
	Note *string `json:"note"`
	Type *string `json:"type" validate:"omitempty,oneof=expense income transfer"`
}

// CategoryReorderRequest mirrors ReorderRequest with the items key the
// category endpoint uses
type CategoryReorderRequest struct {
	Items []int64 `json:"items"`
}

var categorySortColumns = map[string]string{
	"id":           "id",
	"name":         "name",
	"type":         "type",
	"displayOrder": "display_order",
	"createdAt":    "created_at",
	"updatedAt":    "updated_at",
}

func (cs *CategoryService) checkName(name string) error {
	if n := nameLength(name); n < 1 || n > cs.limits.CategoryNameMax {
		return fmt.Errorf("name must be between 1 and %d characters", cs.limits.CategoryNameMax)
	}
	return nil
}

// CreateCategory handles POST /categories
func (cs *CategoryService) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, err)
		return
	}
	if err := cs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if err := cs.checkName(req.Name); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	note := ""
	if req.Note != nil {
		note = *req.Note
	}
	if len(note) > cs.limits.NoteMax {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest,
			fmt.Errorf("note exceeds %d characters", cs.limits.NoteMax))
		return
	}

	tx, err := cs.db.Begin()
	if err != nil {
		log.Printf("[CATEGORY] Begin failed: %v", err)
		SendErrorResponse(w, "Failed to create category", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	displayOrder, err := categoryOrdering.nextDisplayOrder(tx)
	if err != nil {
		log.Printf("[CATEGORY] Ordering failed: %v", err)
		SendErrorResponse(w, "Failed to create category", http.StatusInternalServerError, nil)
		return
	}

	category := models.Category{Name: req.Name, Note: note, Type: req.Type, DisplayOrder: displayOrder}
	err = tx.QueryRow(`
		INSERT INTO categories (name, note, type, display_order)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		req.Name, note, req.Type, displayOrder,
	).Scan(&category.ID, &category.CreatedAt, &category.UpdatedAt)
	if err != nil {
		log.Printf("[CATEGORY] Insert failed: %v", err)
		SendErrorResponse(w, "Failed to create category", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[CATEGORY] Commit failed: %v", err)
		SendErrorResponse(w, "Failed to create category", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusCreated, category)
}

// ListCategories handles GET /categories
func (cs *CategoryService) ListCategories(w http.ResponseWriter, r *http.Request) {
	page, err := ParsePageParams(r, cs.limits)
	if err != nil {
		SendErrorResponse(w, "Invalid pagination", http.StatusBadRequest, err)
		return
	}
	orderBy, err := ParseSortParams(r, categorySortColumns, "display_order ASC")
	if err != nil {
		SendErrorResponse(w, "Invalid sort", http.StatusBadRequest, err)
		return
	}

	var totalCount int
	if err := cs.db.QueryRow("SELECT COUNT(*) FROM categories").Scan(&totalCount); err != nil {
		log.Printf("[CATEGORY] Count failed: %v", err)
		SendErrorResponse(w, "Failed to fetch categories", http.StatusInternalServerError, nil)
		return
	}

	query := fmt.Sprintf(`
		SELECT id, name, note, type, display_order, created_at, updated_at
		FROM categories
		ORDER BY %s
		LIMIT $1 OFFSET $2`, orderBy)

	rows, err := cs.db.Query(query, page.Size, page.Offset())
	if err != nil {
		log.Printf("[CATEGORY] List failed: %v", err)
		SendErrorResponse(w, "Failed to fetch categories", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	categories := []models.Category{}
	for rows.Next() {
		var category models.Category
		err := rows.Scan(&category.ID, &category.Name, &category.Note, &category.Type,
			&category.DisplayOrder, &category.CreatedAt, &category.UpdatedAt)
		if err != nil {
			log.Printf("[CATEGORY] Scan failed: %v", err)
			SendErrorResponse(w, "Failed to fetch categories", http.StatusInternalServerError, nil)
			return
		}
		categories = append(categories, category)
	}

	SendJSONResponse(w, http.StatusOK, models.NewPage(categories, page.Number, page.Size, totalCount))
}

// GetCategory handles GET /categories/{id}
func (cs *CategoryService) GetCategory(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid category id", http.StatusBadRequest, err)
		return
	}

	var category models.Category
	err = cs.db.QueryRow(`
		SELECT id, name, note, type, display_order, created_at, updated_at
		FROM categories WHERE id = $1`, id).Scan(
		&category.ID, &category.Name, &category.Note, &category.Type,
		&category.DisplayOrder, &category.CreatedAt, &category.UpdatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Category not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[CATEGORY] Fetch %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to fetch category", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, category)
}

// UpdateCategory handles PATCH /categories/{id}
func (cs *CategoryService) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid category id", http.StatusBadRequest, err)
		return
	}

	var req UpdateCategoryRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, err)
		return
	}
	if err := cs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Name != nil {
		if err := cs.checkName(*req.Name); err != nil {
			SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
			return
		}
	}
	if req.Note != nil && len(*req.Note) > cs.limits.NoteMax {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest,
			fmt.Errorf("note exceeds %d characters", cs.limits.NoteMax))
		return
	}

	var category models.Category
	err = cs.db.QueryRow(`
		UPDATE categories
		SET name = COALESCE($1, name),
		    note = COALESCE($2, note),
		    type = COALESCE($3, type),
		    updated_at = now()
		WHERE id = $4
		RETURNING id, name, note, type, display_order, created_at, updated_at`,
		req.Name, req.Note, req.Type, id,
	).Scan(&category.ID, &category.Name, &category.Note, &category.Type,
		&category.DisplayOrder, &category.CreatedAt, &category.UpdatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Category not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[CATEGORY] Update %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to update category", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, category)
}

// DeleteCategory handles DELETE /categories/{id}
func (cs *CategoryService) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid category id", http.StatusBadRequest, err)
		return
	}

	tx, err := cs.db.Begin()
	if err != nil {
		log.Printf("[CATEGORY] Begin failed: %v", err)
		SendErrorResponse(w, "Failed to delete category", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	if err := categoryOrdering.lock(tx); err != nil {
		log.Printf("[CATEGORY] Lock failed: %v", err)
		SendErrorResponse(w, "Failed to delete category", http.StatusInternalServerError, nil)
		return
	}

	var displayOrder int
	err = tx.QueryRow("SELECT display_order FROM categories WHERE id = $1 FOR UPDATE", id).Scan(&displayOrder)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Category not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[CATEGORY] Lock %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to delete category", http.StatusInternalServerError, nil)
		return
	}

	if _, err := tx.Exec("DELETE FROM categories WHERE id = $1", id); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			SendErrorResponse(w, "Category still has transactions", http.StatusConflict, nil)
			return
		}
		log.Printf("[CATEGORY] Delete %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to delete category", http.StatusInternalServerError, nil)
		return
	}

	if err := categoryOrdering.compactAfterDelete(tx, displayOrder); err != nil {
		log.Printf("[CATEGORY] Compact failed: %v", err)
		SendErrorResponse(w, "Failed to delete category", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[CATEGORY] Commit failed: %v", err)
		SendErrorResponse(w, "Failed to delete category", http.StatusInternalServerError, nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ReorderCategories handles POST /categories/reorder
func (cs *CategoryService) ReorderCategories(w http.ResponseWriter, r *http.Request) {
	var req CategoryReorderRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, err)
		return
	}

	tx, err := cs.db.Begin()
	if err != nil {
		log.Printf("[CATEGORY] Begin failed: %v", err)
		SendErrorResponse(w, "Failed to reorder categories", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	if err := categoryOrdering.reorder(tx, req.Items); err != nil {
		if isReorderValidationError(err) {
			SendErrorResponse(w, "Reorder rejected", http.StatusBadRequest, err)
			return
		}
		log.Printf("[CATEGORY] Reorder failed: %v", err)
		SendErrorResponse(w, "Failed to reorder categories", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[CATEGORY] Commit failed: %v", err)
		SendErrorResponse(w, "Failed to reorder categories", http.StatusInternalServerError, nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
