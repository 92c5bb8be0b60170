package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/spenicle/backend/internal/models"
)

func newBudgetTestServer(t *testing.T) (*chi.Mux, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	service := NewBudgetService(db)
	router := chi.NewRouter()
	router.Post("/budgets", service.CreateBudget)
	router.Get("/budgets", service.ListBudgets)
	router.Get("/budgets/{id}", service.GetBudget)
	router.Patch("/budgets/{id}", service.UpdateBudget)
	router.Delete("/budgets/{id}", service.DeleteBudget)
	return router, mock
}

func TestCreateBudget(t *testing.T) {
	t.Run("budget with neither account nor category is valid", func(t *testing.T) {
		router, mock := newBudgetTestServer(t)

		now := time.Now()
		mock.ExpectQuery("INSERT INTO budgets").
			WithArgs("Overall", int64(50000), nil, nil, nil, "monthly").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(1, now, now))

		body := `{"name": "Overall", "amount": 50000}`
		req := httptest.NewRequest("POST", "/budgets", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		var budget models.Budget
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &budget))
		assert.Equal(t, "monthly", budget.Period)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("naming both an account and a category returns 422", func(t *testing.T) {
		router, mock := newBudgetTestServer(t)

		body := `{"name": "Both", "amount": 100, "accountId": 1, "categoryId": 2}`
		req := httptest.NewRequest("POST", "/budgets", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account reference returns 404", func(t *testing.T) {
		router, mock := newBudgetTestServer(t)

		mock.ExpectQuery("SELECT id FROM accounts WHERE id = \\$1").
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		body := `{"name": "Checking budget", "amount": 100, "accountId": 99}`
		req := httptest.NewRequest("POST", "/budgets", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero amount is allowed", func(t *testing.T) {
		router, mock := newBudgetTestServer(t)

		now := time.Now()
		mock.ExpectQuery("INSERT INTO budgets").
			WithArgs("Frozen", int64(0), nil, nil, nil, "monthly").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(2, now, now))

		body := `{"name": "Frozen", "amount": 0}`
		req := httptest.NewRequest("POST", "/budgets", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("negative amount returns 400", func(t *testing.T) {
		router, mock := newBudgetTestServer(t)

		body := `{"name": "Bad", "amount": -1}`
		req := httptest.NewRequest("POST", "/budgets", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUpdateBudget(t *testing.T) {
	t.Run("adding a category to an account budget returns 422 without updating", func(t *testing.T) {
		router, mock := newBudgetTestServer(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT account_id, category_id FROM budgets WHERE id = \\$1 FOR UPDATE").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "category_id"}).AddRow(5, nil))
		mock.ExpectRollback()

		req := httptest.NewRequest("PATCH", "/budgets/1", strings.NewReader(`{"categoryId": 2}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("amount change on an account budget passes the exclusivity check", func(t *testing.T) {
		router, mock := newBudgetTestServer(t)

		now := time.Now()
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT account_id, category_id FROM budgets WHERE id = \\$1 FOR UPDATE").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "category_id"}).AddRow(5, nil))
		mock.ExpectQuery("UPDATE budgets SET name = COALESCE\\(\\$1, name\\)").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "name", "amount", "account_id", "category_id", "template_id", "period", "created_at", "updated_at",
			}).AddRow(1, "Checking budget", 75000, 5, nil, nil, "monthly", now, now))
		mock.ExpectCommit()

		req := httptest.NewRequest("PATCH", "/budgets/1", strings.NewReader(`{"amount": 75000}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var budget models.Budget
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &budget))
		assert.Equal(t, int64(75000), budget.Amount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reference check of a patched category runs inside the transaction", func(t *testing.T) {
		router, mock := newBudgetTestServer(t)

		now := time.Now()
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT account_id, category_id FROM budgets WHERE id = \\$1 FOR UPDATE").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "category_id"}).AddRow(nil, 2))
		mock.ExpectQuery("SELECT id FROM categories WHERE id = \\$1").
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
		mock.ExpectQuery("UPDATE budgets SET name = COALESCE\\(\\$1, name\\)").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "name", "amount", "account_id", "category_id", "template_id", "period", "created_at", "updated_at",
			}).AddRow(1, "Groceries", 20000, nil, 3, nil, "monthly", now, now))
		mock.ExpectCommit()

		req := httptest.NewRequest("PATCH", "/budgets/1", strings.NewReader(`{"categoryId": 3}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("constraint violation from a concurrent writer maps to 422", func(t *testing.T) {
		router, mock := newBudgetTestServer(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT account_id, category_id FROM budgets WHERE id = \\$1 FOR UPDATE").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "category_id"}).AddRow(nil, nil))
		mock.ExpectQuery("SELECT id FROM categories WHERE id = \\$1").
			WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
		mock.ExpectQuery("UPDATE budgets SET name = COALESCE\\(\\$1, name\\)").
			WillReturnError(&pq.Error{Code: "23514"})
		mock.ExpectRollback()

		req := httptest.NewRequest("PATCH", "/budgets/1", strings.NewReader(`{"categoryId": 2}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown id returns 404", func(t *testing.T) {
		router, mock := newBudgetTestServer(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT account_id, category_id FROM budgets WHERE id = \\$1 FOR UPDATE").
			WithArgs(int64(404)).
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "category_id"}))
		mock.ExpectRollback()

		req := httptest.NewRequest("PATCH", "/budgets/404", strings.NewReader(`{"amount": 100}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestListBudgets(t *testing.T) {
	t.Run("filters combine on the merged where clause", func(t *testing.T) {
		router, mock := newBudgetTestServer(t)

		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM budgets WHERE category_id = ANY\\(\\$1\\)").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery("SELECT id, name, amount, account_id, category_id, template_id, period, created_at, updated_at").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "name", "amount", "account_id", "category_id", "template_id", "period", "created_at", "updated_at",
			}))

		req := httptest.NewRequest("GET", "/budgets?categoryId=2,3", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
