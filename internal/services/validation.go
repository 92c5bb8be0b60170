package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Detail  string            `json:"detail,omitempty"`  // Human-readable detail
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	var vErrs validator.ValidationErrors
	if errors.As(validationErr, &vErrs) {
		errorResp.Details = make(map[string]string)
		for _, err := range vErrs {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	} else if validationErr != nil {
		errorResp.Detail = validationErr.Error()
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendJSONResponse writes v as JSON with the given status code
func SendJSONResponse(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// DecodeJSONBody decodes a single JSON object into dst, rejecting unknown
// fields and trailing content
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("request body must only contain a single JSON object")
	}
	return nil
}

// Limits carries the configurable validation bounds. The exact name-length
// boundaries are deployment configuration, not protocol constants.
type Limits struct {
	AccountNameMax  int
	CategoryNameMax int
	TagNameMax      int
	NameMax         int
	NoteMax         int
	DefaultPageSize int
	MaxPageSize     int
}

// LoadLimits reads validation bounds from config
func LoadLimits() Limits {
	viper.SetDefault("limits.account_name_max", 1024)
	viper.SetDefault("limits.category_name_max", 255)
	viper.SetDefault("limits.tag_name_max", 49)
	viper.SetDefault("limits.name_max", 255)
	viper.SetDefault("limits.note_max", 1024)
	viper.SetDefault("pagination.default_page_size", 25)
	viper.SetDefault("pagination.max_page_size", 100)

	return Limits{
		AccountNameMax:  viper.GetInt("limits.account_name_max"),
		CategoryNameMax: viper.GetInt("limits.category_name_max"),
		TagNameMax:      viper.GetInt("limits.tag_name_max"),
		NameMax:         viper.GetInt("limits.name_max"),
		NoteMax:         viper.GetInt("limits.note_max"),
		DefaultPageSize: viper.GetInt("pagination.default_page_size"),
		MaxPageSize:     viper.GetInt("pagination.max_page_size"),
	}
}

// PageParams holds normalized pagination values
type PageParams struct {
	Number int
	Size   int
}

// Offset returns the SQL offset for the page
func (p PageParams) Offset() int {
	return (p.Number - 1) * p.Size
}

// ParsePageParams reads pageNumber/pageSize query parameters, applying
// defaults and enforcing the page size cap
func ParsePageParams(r *http.Request, limits Limits) (PageParams, error) {
	params := PageParams{Number: 1, Size: limits.DefaultPageSize}

	if raw := r.URL.Query().Get("pageNumber"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return params, fmt.Errorf("invalid pageNumber %q", raw)
		}
		params.Number = n
	}
	if raw := r.URL.Query().Get("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return params, fmt.Errorf("invalid pageSize %q", raw)
		}
		if n > limits.MaxPageSize {
			return params, fmt.Errorf("pageSize %d exceeds maximum of %d", n, limits.MaxPageSize)
		}
		params.Size = n
	}
	return params, nil
}

// ParseSortParams resolves sortBy/sortOrder against a whitelist of exposed
// fields. The returned clause always ends with an id tiebreaker so pages of
// the same query never overlap.
func ParseSortParams(r *http.Request, allowed map[string]string, defaultClause string) (string, error) {
	sortBy := r.URL.Query().Get("sortBy")
	sortOrder := strings.ToLower(r.URL.Query().Get("sortOrder"))

	if sortBy == "" {
		if sortOrder != "" && sortOrder != "asc" && sortOrder != "desc" {
			return "", fmt.Errorf("invalid sortOrder %q", sortOrder)
		}
		return defaultClause + ", id ASC", nil
	}

	column, ok := allowed[sortBy]
	if !ok {
		return "", fmt.Errorf("cannot sort by %q", sortBy)
	}

	direction := "ASC"
	switch sortOrder {
	case "", "asc":
	case "desc":
		direction = "DESC"
	default:
		return "", fmt.Errorf("invalid sortOrder %q", sortOrder)
	}

	return fmt.Sprintf("%s %s, id ASC", column, direction), nil
}

// ParseStrictTime parses an RFC 3339 timestamp. Date-only strings are
// rejected.
func ParseStrictTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: must be RFC 3339", raw)
	}
	return t, nil
}

// ParseIDParam extracts a positive integer id from the query or path value
func ParseIDParam(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// ParseIDList parses repeated (or comma-separated) id query parameters
func ParseIDList(values []string) ([]int64, error) {
	var ids []int64
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := ParseIDParam(part)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// nameLength counts characters rather than bytes so multibyte names are
// measured the way clients see them
func nameLength(s string) int {
	return utf8.RuneCountInString(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike neutralizes LIKE metacharacters in user-supplied filter text
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
