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

// TagService exposes the tag endpoints. Tag names are unique, case-sensitive
// ("foo" and "FOO" are distinct tags, a second "foo" conflicts).
type TagService struct {
	db        *sql.DB
	validator *ValidationHelper
	limits    Limits
}

func NewTagService(db *sql.DB) *TagService {
	return &TagService{
		db:        db,
		validator: NewValidationHelper(),
		limits:    LoadLimits(),
	}
}

type CreateTagRequest struct {
	Name string `json:"name" validate:"required"`
}

type UpdateTagRequest struct {
	Name *string `json:"name"`
}

var tagSortColumns = map[string]string{
	"id":        "id",
	"name":      "name",
	"createdAt": "created_at",
	"updatedAt": "updated_at",
}

func (tgs *TagService) checkName(name string) error {
	if n := nameLength(name); n < 1 || n > tgs.limits.TagNameMax {
		return fmt.Errorf("name must be between 1 and %d characters", tgs.limits.TagNameMax)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// CreateTag handles POST /tags
func (tgs *TagService) CreateTag(w http.ResponseWriter, r *http.Request) {
	var req CreateTagRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, err)
		return
	}
	if err := tgs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if err := tgs.checkName(req.Name); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	tag := models.Tag{Name: req.Name}
	err := tgs.db.QueryRow(`
		INSERT INTO tags (name) VALUES ($1)
		RETURNING id, created_at, updated_at`,
		req.Name,
	).Scan(&tag.ID, &tag.CreatedAt, &tag.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			SendErrorResponse(w, "Tag name already exists", http.StatusConflict, nil)
			return
		}
		log.Printf("[TAG] Insert failed: %v", err)
		SendErrorResponse(w, "Failed to create tag", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusCreated, tag)
}

// ListTags handles GET /tags
func (tgs *TagService) ListTags(w http.ResponseWriter, r *http.Request) {
	page, err := ParsePageParams(r, tgs.limits)
	if err != nil {
		SendErrorResponse(w, "Invalid pagination", http.StatusBadRequest, err)
		return
	}
	orderBy, err := ParseSortParams(r, tagSortColumns, "name ASC")
	if err != nil {
		SendErrorResponse(w, "Invalid sort", http.StatusBadRequest, err)
		return
	}

	var totalCount int
	if err := tgs.db.QueryRow("SELECT COUNT(*) FROM tags").Scan(&totalCount); err != nil {
		log.Printf("[TAG] Count failed: %v", err)
		SendErrorResponse(w, "Failed to fetch tags", http.StatusInternalServerError, nil)
		return
	}

	query := fmt.Sprintf(`
		SELECT id, name, created_at, updated_at
		FROM tags
		ORDER BY %s
		LIMIT $1 OFFSET $2`, orderBy)

	rows, err := tgs.db.Query(query, page.Size, page.Offset())
	if err != nil {
		log.Printf("[TAG] List failed: %v", err)
		SendErrorResponse(w, "Failed to fetch tags", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	tags := []models.Tag{}
	for rows.Next() {
		var tag models.Tag
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.CreatedAt, &tag.UpdatedAt); err != nil {
			log.Printf("[TAG] Scan failed: %v", err)
			SendErrorResponse(w, "Failed to fetch tags", http.StatusInternalServerError, nil)
			return
		}
		tags = append(tags, tag)
	}

	SendJSONResponse(w, http.StatusOK, models.NewPage(tags, page.Number, page.Size, totalCount))
}

// UpdateTag handles PATCH /tags/{id}
func (tgs *TagService) UpdateTag(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid tag id", http.StatusBadRequest, err)
		return
	}

	var req UpdateTagRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, err)
		return
	}
	if req.Name != nil {
		if err := tgs.checkName(*req.Name); err != nil {
			SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
			return
		}
	}

	var tag models.Tag
	err = tgs.db.QueryRow(`
		UPDATE tags
		SET name = COALESCE($1, name), updated_at = now()
		WHERE id = $2
		RETURNING id, name, created_at, updated_at`,
		req.Name, id,
	).Scan(&tag.ID, &tag.Name, &tag.CreatedAt, &tag.UpdatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Tag not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		if isUniqueViolation(err) {
			SendErrorResponse(w, "Tag name already exists", http.StatusConflict, nil)
			return
		}
		log.Printf("[TAG] Update %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to update tag", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, tag)
}

// DeleteTag handles DELETE /tags/{id}
func (tgs *TagService) DeleteTag(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid tag id", http.StatusBadRequest, err)
		return
	}

	result, err := tgs.db.Exec("DELETE FROM tags WHERE id = $1", id)
	if err != nil {
		log.Printf("[TAG] Delete %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to delete tag", http.StatusInternalServerError, nil)
		return
	}
	affected, err := result.RowsAffected()
	if err != nil {
		log.Printf("[TAG] Delete %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to delete tag", http.StatusInternalServerError, nil)
		return
	}
	if affected == 0 {
		SendErrorResponse(w, "Tag not found", http.StatusNotFound, nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
