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

func newAccountTestServer(t *testing.T) (*chi.Mux, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	service := NewAccountService(db)
	router := chi.NewRouter()
	router.Post("/accounts", service.CreateAccount)
	router.Get("/accounts", service.ListAccounts)
	router.Post("/accounts/reorder", service.ReorderAccounts)
	router.Get("/accounts/{id}", service.GetAccount)
	router.Patch("/accounts/{id}", service.UpdateAccount)
	router.Delete("/accounts/{id}", service.DeleteAccount)
	return router, mock
}

func TestCreateAccount(t *testing.T) {
	t.Run("new account starts with zero balance and the next position", func(t *testing.T) {
		router, mock := newAccountTestServer(t)

		now := time.Now()
		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT COALESCE\\(MAX\\(display_order\\), -1\\) \\+ 1 FROM accounts").
			WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(3))
		mock.ExpectQuery("INSERT INTO accounts").
			WithArgs("Checking", "", "expense", 3).
			WillReturnRows(sqlmock.NewRows([]string{"id", "amount", "created_at", "updated_at"}).
				AddRow(5, 0, now, now))
		mock.ExpectCommit()

		body := `{"name": "Checking", "type": "expense"}`
		req := httptest.NewRequest("POST", "/accounts", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		var account models.Account
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &account))
		assert.Equal(t, int64(5), account.ID)
		assert.Equal(t, int64(0), account.Amount)
		assert.Equal(t, 3, account.DisplayOrder)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing name returns 400", func(t *testing.T) {
		router, mock := newAccountTestServer(t)

		req := httptest.NewRequest("POST", "/accounts", strings.NewReader(`{"type": "expense"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("name over the configured maximum returns 400", func(t *testing.T) {
		router, mock := newAccountTestServer(t)

		body := `{"name": "` + strings.Repeat("a", 1025) + `", "type": "income"}`
		req := httptest.NewRequest("POST", "/accounts", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account type returns 400", func(t *testing.T) {
		router, mock := newAccountTestServer(t)

		req := httptest.NewRequest("POST", "/accounts", strings.NewReader(`{"name": "X", "type": "savings"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestListAccounts(t *testing.T) {
	t.Run("default listing follows display order", func(t *testing.T) {
		router, mock := newAccountTestServer(t)

		now := time.Now()
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM accounts").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectQuery("SELECT id, name, note, type, amount, display_order, created_at, updated_at FROM accounts ORDER BY display_order ASC, id ASC").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "name", "note", "type", "amount", "display_order", "created_at", "updated_at",
			}).
				AddRow(2, "Cash", "", "expense", 1500, 0, now, now).
				AddRow(1, "Checking", "", "expense", -300, 1, now, now))

		req := httptest.NewRequest("GET", "/accounts", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var page models.Page[models.Account]
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		assert.Equal(t, 2, page.TotalCount)
		assert.Equal(t, "Cash", page.Items[0].Name)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("type filter validates each value against the enum", func(t *testing.T) {
		router, mock := newAccountTestServer(t)

		req := httptest.NewRequest("GET", "/accounts?type=savings", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("name filter uses a case-insensitive substring match", func(t *testing.T) {
		router, mock := newAccountTestServer(t)

		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM accounts WHERE name ILIKE \\$1").
			WithArgs("%check%").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery("SELECT id, name, note, type, amount, display_order, created_at, updated_at FROM accounts WHERE name ILIKE \\$1").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "name", "note", "type", "amount", "display_order", "created_at", "updated_at",
			}))

		req := httptest.NewRequest("GET", "/accounts?name=check", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("LIKE metacharacters in the name filter match literally", func(t *testing.T) {
		router, mock := newAccountTestServer(t)

		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM accounts WHERE name ILIKE \\$1").
			WithArgs(`%50\%\_off%`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery("SELECT id, name, note, type, amount, display_order, created_at, updated_at FROM accounts WHERE name ILIKE \\$1").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "name", "note", "type", "amount", "display_order", "created_at", "updated_at",
			}))

		req := httptest.NewRequest("GET", "/accounts?name=50%25_off", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUpdateAccount(t *testing.T) {
	t.Run("partial update keeps untouched fields", func(t *testing.T) {
		router, mock := newAccountTestServer(t)

		now := time.Now()
		mock.ExpectQuery("UPDATE accounts SET name = COALESCE\\(\\$1, name\\)").
			WithArgs("Renamed", nil, nil, int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "name", "note", "type", "amount", "display_order", "created_at", "updated_at",
			}).AddRow(1, "Renamed", "old note", "expense", 500, 0, now, now))

		req := httptest.NewRequest("PATCH", "/accounts/1", strings.NewReader(`{"name": "Renamed"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var account models.Account
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &account))
		assert.Equal(t, "Renamed", account.Name)
		assert.Equal(t, "old note", account.Note)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown id returns 404", func(t *testing.T) {
		router, mock := newAccountTestServer(t)

		mock.ExpectQuery("UPDATE accounts SET name = COALESCE\\(\\$1, name\\)").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		req := httptest.NewRequest("PATCH", "/accounts/404", strings.NewReader(`{"name": "X"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDeleteAccount(t *testing.T) {
	t.Run("delete compacts the positions above the removed account", func(t *testing.T) {
		router, mock := newAccountTestServer(t)

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT display_order FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"display_order"}).AddRow(1))
		mock.ExpectExec("DELETE FROM accounts WHERE id = \\$1").
			WithArgs(int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("UPDATE accounts SET display_order = display_order - 1 WHERE display_order > \\$1").
			WithArgs(1).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		req := httptest.NewRequest("DELETE", "/accounts/2", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("referenced account returns 409", func(t *testing.T) {
		router, mock := newAccountTestServer(t)

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT display_order FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs(int64(2)).
			WillReturnRows(sqlmock.NewRows([]string{"display_order"}).AddRow(1))
		mock.ExpectExec("DELETE FROM accounts WHERE id = \\$1").
			WithArgs(int64(2)).
			WillReturnError(&pq.Error{Code: "23503"})
		mock.ExpectRollback()

		req := httptest.NewRequest("DELETE", "/accounts/2", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown id returns 404", func(t *testing.T) {
		router, mock := newAccountTestServer(t)

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT display_order FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs(int64(404)).
			WillReturnRows(sqlmock.NewRows([]string{"display_order"}))
		mock.ExpectRollback()

		req := httptest.NewRequest("DELETE", "/accounts/404", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestReorderAccounts(t *testing.T) {
	t.Run("complete permutation returns 204", func(t *testing.T) {
		router, mock := newAccountTestServer(t)

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT id FROM accounts").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
		mock.ExpectExec("UPDATE accounts SET display_order = \\$1").
			WithArgs(0, int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE accounts SET display_order = \\$1").
			WithArgs(1, int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		req := httptest.NewRequest("POST", "/accounts/reorder", strings.NewReader(`{"data": [2, 1]}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty list returns 400", func(t *testing.T) {
		router, mock := newAccountTestServer(t)

		mock.ExpectBegin()
		mock.ExpectRollback()

		req := httptest.NewRequest("POST", "/accounts/reorder", strings.NewReader(`{"data": []}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("incomplete permutation returns 400 and moves nothing", func(t *testing.T) {
		router, mock := newAccountTestServer(t)

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT id FROM accounts").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).AddRow(3))
		mock.ExpectRollback()

		req := httptest.NewRequest("POST", "/accounts/reorder", strings.NewReader(`{"data": [1, 2]}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
