package services

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var testLimits = Limits{
	AccountNameMax:  1024,
	CategoryNameMax: 255,
	TagNameMax:      49,
	NameMax:         255,
	NoteMax:         1024,
	DefaultPageSize: 25,
	MaxPageSize:     100,
}

func TestParsePageParams(t *testing.T) {
	t.Run("defaults when nothing is supplied", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/accounts", nil)
		params, err := ParsePageParams(r, testLimits)
		assert.NoError(t, err)
		assert.Equal(t, 1, params.Number)
		assert.Equal(t, 25, params.Size)
		assert.Equal(t, 0, params.Offset())
	})

	t.Run("explicit values", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/accounts?pageNumber=3&pageSize=10", nil)
		params, err := ParsePageParams(r, testLimits)
		assert.NoError(t, err)
		assert.Equal(t, 3, params.Number)
		assert.Equal(t, 10, params.Size)
		assert.Equal(t, 20, params.Offset())
	})

	t.Run("page size at the cap is allowed", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/accounts?pageSize=100", nil)
		params, err := ParsePageParams(r, testLimits)
		assert.NoError(t, err)
		assert.Equal(t, 100, params.Size)
	})

	t.Run("page size over the cap is rejected", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/accounts?pageSize=101", nil)
		_, err := ParsePageParams(r, testLimits)
		assert.Error(t, err)
	})

	t.Run("zero and negative values are rejected", func(t *testing.T) {
		for _, query := range []string{"pageNumber=0", "pageNumber=-1", "pageSize=0", "pageSize=-5"} {
			r := httptest.NewRequest("GET", "/api/v1/accounts?"+query, nil)
			_, err := ParsePageParams(r, testLimits)
			assert.Errorf(t, err, "query %q", query)
		}
	})

	t.Run("non-numeric values are rejected", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/accounts?pageNumber=abc", nil)
		_, err := ParsePageParams(r, testLimits)
		assert.Error(t, err)
	})
}

func TestParseSortParams(t *testing.T) {
	allowed := map[string]string{"name": "name", "date": "date", "amount": "amount"}

	t.Run("default clause gets an id tiebreaker", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/transactions", nil)
		clause, err := ParseSortParams(r, allowed, "date DESC")
		assert.NoError(t, err)
		assert.Equal(t, "date DESC, id ASC", clause)
	})

	t.Run("explicit sort column and order", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/transactions?sortBy=amount&sortOrder=desc", nil)
		clause, err := ParseSortParams(r, allowed, "date DESC")
		assert.NoError(t, err)
		assert.Equal(t, "amount DESC, id ASC", clause)
	})

	t.Run("order defaults to ascending", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/transactions?sortBy=name", nil)
		clause, err := ParseSortParams(r, allowed, "date DESC")
		assert.NoError(t, err)
		assert.Equal(t, "name ASC, id ASC", clause)
	})

	t.Run("column outside the whitelist is rejected", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/transactions?sortBy=password", nil)
		_, err := ParseSortParams(r, allowed, "date DESC")
		assert.Error(t, err)
	})

	t.Run("unknown sort order is rejected", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/api/v1/transactions?sortBy=name&sortOrder=sideways", nil)
		_, err := ParseSortParams(r, allowed, "date DESC")
		assert.Error(t, err)
	})
}

func TestParseStrictTime(t *testing.T) {
	t.Run("full RFC 3339 timestamp", func(t *testing.T) {
		parsed, err := ParseStrictTime("2026-01-15T10:30:00Z")
		assert.NoError(t, err)
		assert.Equal(t, time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC), parsed)
	})

	t.Run("timestamp with offset", func(t *testing.T) {
		parsed, err := ParseStrictTime("2026-01-15T10:30:00+02:00")
		assert.NoError(t, err)
		assert.Equal(t, int64(1768465800), parsed.Unix())
	})

	t.Run("date-only string is rejected", func(t *testing.T) {
		_, err := ParseStrictTime("2026-01-15")
		assert.Error(t, err)
	})

	t.Run("garbage is rejected", func(t *testing.T) {
		_, err := ParseStrictTime("next tuesday")
		assert.Error(t, err)
	})
}

func TestParseIDParam(t *testing.T) {
	id, err := ParseIDParam("42")
	assert.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, raw := range []string{"0", "-1", "abc", "", "1.5"} {
		_, err := ParseIDParam(raw)
		assert.Errorf(t, err, "raw %q", raw)
	}
}

func TestParseIDList(t *testing.T) {
	t.Run("repeated parameters", func(t *testing.T) {
		ids, err := ParseIDList([]string{"1", "2", "3"})
		assert.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3}, ids)
	})

	t.Run("comma separated values", func(t *testing.T) {
		ids, err := ParseIDList([]string{"1,2", "3"})
		assert.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3}, ids)
	})

	t.Run("empty input yields no ids", func(t *testing.T) {
		ids, err := ParseIDList(nil)
		assert.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("invalid id aborts the whole list", func(t *testing.T) {
		_, err := ParseIDList([]string{"1", "x"})
		assert.Error(t, err)
	})
}

func TestValidationHelper(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("missing required fields are reported", func(t *testing.T) {
		err := vh.ValidateStruct(CreateTransactionRequest{})
		assert.Error(t, err)
	})

	t.Run("complete request passes", func(t *testing.T) {
		req := CreateTransactionRequest{
			AccountID:  ptr(int64(1)),
			CategoryID: ptr(int64(2)),
			Amount:     ptr(int64(100)),
			Date:       "2026-01-15T10:00:00Z",
			Type:       "expense",
		}
		assert.NoError(t, vh.ValidateStruct(req))
	})

	t.Run("unknown transaction type fails the oneof tag", func(t *testing.T) {
		req := CreateTransactionRequest{
			AccountID:  ptr(int64(1)),
			CategoryID: ptr(int64(2)),
			Amount:     ptr(int64(100)),
			Date:       "2026-01-15T10:00:00Z",
			Type:       "loan",
		}
		assert.Error(t, vh.ValidateStruct(req))
	})
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `plain`, escapeLike(`plain`))
	assert.Equal(t, `50\%\_off`, escapeLike(`50%_off`))
	assert.Equal(t, `a\\b`, escapeLike(`a\b`))
}

func TestNameLength(t *testing.T) {
	assert.Equal(t, 5, nameLength("héllo"))
	assert.Equal(t, 3, nameLength("日本語"))
}
