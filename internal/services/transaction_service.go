package services

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"
	"github.com/spenicle/backend/internal/models"
)

// TransactionService exposes the transaction endpoints. Balance mutation is
// delegated to the ledger; this layer owns decoding, validation and the
// list/query surface.
type TransactionService struct {
	db        *sql.DB
	ledger    *LedgerService
	validator *ValidationHelper
	limits    Limits
}

func NewTransactionService(db *sql.DB) *TransactionService {
	return &TransactionService{
		db:        db,
		ledger:    NewLedgerService(db),
		validator: NewValidationHelper(),
		limits:    LoadLimits(),
	}
}

type CreateTransactionRequest struct {
	AccountID            *int64  `json:"accountId" validate:"required,gt=0"`
	DestinationAccountID *int64  `json:"destinationAccountId" validate:"omitempty,gt=0"`
	CategoryID           *int64  `json:"categoryId" validate:"required,gt=0"`
	TemplateID           *int64  `json:"templateId" validate:"omitempty,gt=0"`
	Amount               *int64  `json:"amount" validate:"required,gt=0"`
	Date                 string  `json:"date" validate:"required"`
	Type                 string  `json:"type" validate:"required,oneof=expense income transfer"`
	Note                 *string `json:"note"`
}

type UpdateTransactionRequest struct {
	AccountID            *int64  `json:"accountId" validate:"omitempty,gt=0"`
	DestinationAccountID *int64  `json:"destinationAccountId" validate:"omitempty,gt=0"`
	CategoryID           *int64  `json:"categoryId" validate:"omitempty,gt=0"`
	TemplateID           *int64  `json:"templateId" validate:"omitempty,gt=0"`
	Amount               *int64  `json:"amount" validate:"omitempty,gt=0"`
	Date                 *string `json:"date"`
	Type                 *string `json:"type" validate:"omitempty,oneof=expense income transfer"`
	Note                 *string `json:"note"`
}

var transactionSortColumns = map[string]string{
	"id":         "id",
	"accountId":  "account_id",
	"categoryId": "category_id",
	"amount":     "amount",
	"date":       "date",
	"type":       "type",
	"createdAt":  "created_at",
	"updatedAt":  "updated_at",
}

// statusForLedgerError maps ledger failures onto HTTP statuses
func statusForLedgerError(err error) int {
	switch {
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrCategoryNotFound),
		errors.Is(err, ErrTemplateNotFound),
		errors.Is(err, ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrCategoryTypeMismatch),
		errors.Is(err, ErrMissingDestination),
		errors.Is(err, ErrUnexpectedDestination),
		errors.Is(err, ErrSameAccountTransfer):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// CreateTransaction handles POST /transactions
func (ts *TransactionService) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, err)
		return
	}
	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	date, err := ParseStrictTime(req.Date)
	if err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	note := ""
	if req.Note != nil {
		note = *req.Note
	}
	if len(note) > ts.limits.NoteMax {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest,
			fmt.Errorf("note exceeds %d characters", ts.limits.NoteMax))
		return
	}

	shape := transactionShape{
		AccountID:            *req.AccountID,
		DestinationAccountID: req.DestinationAccountID,
		CategoryID:           *req.CategoryID,
		TemplateID:           req.TemplateID,
		Amount:               *req.Amount,
		Date:                 date,
		Type:                 req.Type,
		Note:                 note,
	}

	record, err := ts.ledger.Create(shape)
	if err != nil {
		status := statusForLedgerError(err)
		if status == http.StatusInternalServerError {
			log.Printf("[TRANSACTION] Create failed: %v", err)
			SendErrorResponse(w, "Failed to create transaction", status, nil)
			return
		}
		SendErrorResponse(w, "Transaction rejected", status, err)
		return
	}

	SendJSONResponse(w, http.StatusCreated, record)
}

// GetTransaction handles GET /transactions/{id}
func (ts *TransactionService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, err)
		return
	}

	record, err := ts.fetchTransaction(id)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[TRANSACTION] Fetch %d failed: %v", id, err)
			SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		}
		return
	}

	SendJSONResponse(w, http.StatusOK, record)
}

// UpdateTransaction handles PATCH /transactions/{id}
func (ts *TransactionService) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, err)
		return
	}

	var req UpdateTransactionRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, err)
		return
	}
	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Note != nil && len(*req.Note) > ts.limits.NoteMax {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest,
			fmt.Errorf("note exceeds %d characters", ts.limits.NoteMax))
		return
	}

	patch := TransactionPatch{
		AccountID:            req.AccountID,
		DestinationAccountID: req.DestinationAccountID,
		CategoryID:           req.CategoryID,
		TemplateID:           req.TemplateID,
		Amount:               req.Amount,
		Type:                 req.Type,
		Note:                 req.Note,
	}
	if req.Date != nil {
		date, err := ParseStrictTime(*req.Date)
		if err != nil {
			SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
			return
		}
		patch.Date = &date
	}

	record, err := ts.ledger.Update(id, patch)
	if err != nil {
		status := statusForLedgerError(err)
		if status == http.StatusInternalServerError {
			log.Printf("[TRANSACTION] Update %d failed: %v", id, err)
			SendErrorResponse(w, "Failed to update transaction", status, nil)
			return
		}
		SendErrorResponse(w, "Transaction rejected", status, err)
		return
	}

	SendJSONResponse(w, http.StatusOK, record)
}

// DeleteTransaction handles DELETE /transactions/{id}
func (ts *TransactionService) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, err)
		return
	}

	if err := ts.ledger.Delete(id); err != nil {
		status := statusForLedgerError(err)
		if status == http.StatusInternalServerError {
			log.Printf("[TRANSACTION] Delete %d failed: %v", id, err)
			SendErrorResponse(w, "Failed to delete transaction", status, nil)
			return
		}
		SendErrorResponse(w, "Transaction rejected", status, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListTransactions handles GET /transactions with filters and pagination
func (ts *TransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := ParsePageParams(r, ts.limits)
	if err != nil {
		SendErrorResponse(w, "Invalid pagination", http.StatusBadRequest, err)
		return
	}
	orderBy, err := ParseSortParams(r, transactionSortColumns, "date DESC")
	if err != nil {
		SendErrorResponse(w, "Invalid sort", http.StatusBadRequest, err)
		return
	}

	var conditions []string
	var args []interface{}
	argIndex := 1

	if accountIDs, err := ParseIDList(q["accountId"]); err != nil {
		SendErrorResponse(w, "Invalid accountId filter", http.StatusBadRequest, err)
		return
	} else if len(accountIDs) > 0 {
		conditions = append(conditions, fmt.Sprintf(
			"(account_id = ANY($%d) OR destination_account_id = ANY($%d))", argIndex, argIndex))
		args = append(args, pq.Array(accountIDs))
		argIndex++
	}

	if categoryIDs, err := ParseIDList(q["categoryId"]); err != nil {
		SendErrorResponse(w, "Invalid categoryId filter", http.StatusBadRequest, err)
		return
	} else if len(categoryIDs) > 0 {
		conditions = append(conditions, fmt.Sprintf("category_id = ANY($%d)", argIndex))
		args = append(args, pq.Array(categoryIDs))
		argIndex++
	}

	if raw := q.Get("templateId"); raw != "" {
		templateID, err := ParseIDParam(raw)
		if err != nil {
			SendErrorResponse(w, "Invalid templateId filter", http.StatusBadRequest, err)
			return
		}
		conditions = append(conditions, fmt.Sprintf("template_id = $%d", argIndex))
		args = append(args, templateID)
		argIndex++
	}

	if raw := q.Get("startDate"); raw != "" {
		start, err := ParseStrictTime(raw)
		if err != nil {
			SendErrorResponse(w, "Invalid startDate", http.StatusBadRequest, err)
			return
		}
		conditions = append(conditions, fmt.Sprintf("date >= $%d", argIndex))
		args = append(args, start)
		argIndex++
	}

	if raw := q.Get("endDate"); raw != "" {
		end, err := ParseStrictTime(raw)
		if err != nil {
			SendErrorResponse(w, "Invalid endDate", http.StatusBadRequest, err)
			return
		}
		conditions = append(conditions, fmt.Sprintf("date <= $%d", argIndex))
		args = append(args, end)
		argIndex++
	}

	if raw := q.Get("minAmount"); raw != "" {
		min, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			SendErrorResponse(w, "Invalid minAmount", http.StatusBadRequest, err)
			return
		}
		conditions = append(conditions, fmt.Sprintf("amount >= $%d", argIndex))
		args = append(args, min)
		argIndex++
	}

	if raw := q.Get("maxAmount"); raw != "" {
		max, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			SendErrorResponse(w, "Invalid maxAmount", http.StatusBadRequest, err)
			return
		}
		conditions = append(conditions, fmt.Sprintf("amount <= $%d", argIndex))
		args = append(args, max)
		argIndex++
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var totalCount int
	if err := ts.db.QueryRow("SELECT COUNT(*) FROM transactions"+where, args...).Scan(&totalCount); err != nil {
		log.Printf("[TRANSACTION] Count failed: %v", err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	query := fmt.Sprintf(`
		SELECT id, account_id, destination_account_id, category_id, template_id,
		       amount, date, type, note, created_at, updated_at
		FROM transactions%s
		ORDER BY %s
		LIMIT $%d OFFSET $%d`, where, orderBy, argIndex, argIndex+1)
	args = append(args, page.Size, page.Offset())

	rows, err := ts.db.Query(query, args...)
	if err != nil {
		log.Printf("[TRANSACTION] List failed: %v", err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var record models.Transaction
		err := rows.Scan(
			&record.ID, &record.AccountID, &record.DestinationAccountID, &record.CategoryID,
			&record.TemplateID, &record.Amount, &record.Date, &record.Type, &record.Note,
			&record.CreatedAt, &record.UpdatedAt,
		)
		if err != nil {
			log.Printf("[TRANSACTION] Scan failed: %v", err)
			SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
			return
		}
		transactions = append(transactions, record)
	}

	SendJSONResponse(w, http.StatusOK, models.NewPage(transactions, page.Number, page.Size, totalCount))
}

func (ts *TransactionService) fetchTransaction(id int64) (*models.Transaction, error) {
	var record models.Transaction
	err := ts.db.QueryRow(`
		SELECT id, account_id, destination_account_id, category_id, template_id,
		       amount, date, type, note, created_at, updated_at
		FROM transactions
		WHERE id = $1`, id).Scan(
		&record.ID, &record.AccountID, &record.DestinationAccountID, &record.CategoryID,
		&record.TemplateID, &record.Amount, &record.Date, &record.Type, &record.Note,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &record, nil
}
