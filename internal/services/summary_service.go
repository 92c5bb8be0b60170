package services

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spenicle/backend/internal/models"
)

// SummaryService computes read-only aggregates over the ledger. Nothing here
// caches or persists: every response is derived from the transactions table
// at request time.
type SummaryService struct {
	db *sql.DB
}

func NewSummaryService(db *sql.DB) *SummaryService {
	return &SummaryService{db: db}
}

// Frequencies accepted by the per-period transaction summary.
const (
	FrequencyDaily     = "daily"
	FrequencyWeekly    = "weekly"
	FrequencyMonthly   = "monthly"
	FrequencyQuarterly = "quarterly"
	FrequencyYearly    = "yearly"
)

type AccountSummary struct {
	AccountID int64  `json:"accountId"`
	Name      string `json:"name"`
	Income    int64  `json:"income"`
	Expense   int64  `json:"expense"`
}

type CategorySummary struct {
	CategoryID int64  `json:"categoryId"`
	Name       string `json:"name"`
	Income     int64  `json:"income"`
	Expense    int64  `json:"expense"`
}

// PeriodSummary counts transactions by type within one bucket. Buckets with
// no transactions are still emitted, zeroed.
type PeriodSummary struct {
	Period   time.Time `json:"period"`
	Income   int       `json:"income"`
	Expense  int       `json:"expense"`
	Transfer int       `json:"transfer"`
	Total    int       `json:"total"`
}

type AccountShare struct {
	AccountID  int64   `json:"accountId"`
	Name       string  `json:"name"`
	Total      int64   `json:"total"`
	Percentage float64 `json:"percentage"`
}

type CategoryStatistics struct {
	CategoryID          int64          `json:"categoryId"`
	Count               int            `json:"count"`
	Average             float64        `json:"average"`
	Min                 int64          `json:"min"`
	Max                 int64          `json:"max"`
	Median              float64        `json:"median"`
	AccountDistribution []AccountShare `json:"accountDistribution"`
}

// parseRange reads the required startDate/endDate parameters
func parseRange(r *http.Request) (time.Time, time.Time, error) {
	rawStart := r.URL.Query().Get("startDate")
	rawEnd := r.URL.Query().Get("endDate")
	if rawStart == "" || rawEnd == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("startDate and endDate are required")
	}
	start, err := ParseStrictTime(rawStart)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := ParseStrictTime(rawEnd)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("startDate must not be after endDate")
	}
	return start, end, nil
}

// AccountSummaries handles GET /summary/accounts
func (ss *SummaryService) AccountSummaries(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseRange(r)
	if err != nil {
		SendErrorResponse(w, "Invalid date range", http.StatusBadRequest, err)
		return
	}

	rows, err := ss.db.Query(`
		SELECT a.id, a.name,
		       COALESCE(SUM(CASE WHEN t.type = 'income' THEN t.amount ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN t.type = 'expense' THEN t.amount ELSE 0 END), 0)
		FROM accounts a
		LEFT JOIN transactions t ON t.account_id = a.id AND t.date >= $1 AND t.date <= $2
		GROUP BY a.id, a.name, a.display_order
		ORDER BY a.display_order, a.id`, start, end)
	if err != nil {
		log.Printf("[SUMMARY] Account summary failed: %v", err)
		SendErrorResponse(w, "Failed to compute summary", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	summaries := []AccountSummary{}
	for rows.Next() {
		var s AccountSummary
		if err := rows.Scan(&s.AccountID, &s.Name, &s.Income, &s.Expense); err != nil {
			log.Printf("[SUMMARY] Scan failed: %v", err)
			SendErrorResponse(w, "Failed to compute summary", http.StatusInternalServerError, nil)
			return
		}
		summaries = append(summaries, s)
	}

	SendJSONResponse(w, http.StatusOK, map[string]interface{}{"items": summaries})
}

// CategorySummaries handles GET /summary/categories
func (ss *SummaryService) CategorySummaries(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseRange(r)
	if err != nil {
		SendErrorResponse(w, "Invalid date range", http.StatusBadRequest, err)
		return
	}

	rows, err := ss.db.Query(`
		SELECT c.id, c.name,
		       COALESCE(SUM(CASE WHEN t.type = 'income' THEN t.amount ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN t.type = 'expense' THEN t.amount ELSE 0 END), 0)
		FROM categories c
		LEFT JOIN transactions t ON t.category_id = c.id AND t.date >= $1 AND t.date <= $2
		GROUP BY c.id, c.name, c.display_order
		ORDER BY c.display_order, c.id`, start, end)
	if err != nil {
		log.Printf("[SUMMARY] Category summary failed: %v", err)
		SendErrorResponse(w, "Failed to compute summary", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	summaries := []CategorySummary{}
	for rows.Next() {
		var s CategorySummary
		if err := rows.Scan(&s.CategoryID, &s.Name, &s.Income, &s.Expense); err != nil {
			log.Printf("[SUMMARY] Scan failed: %v", err)
			SendErrorResponse(w, "Failed to compute summary", http.StatusInternalServerError, nil)
			return
		}
		summaries = append(summaries, s)
	}

	SendJSONResponse(w, http.StatusOK, map[string]interface{}{"items": summaries})
}

// TransactionSummaries handles GET /summary/transactions
func (ss *SummaryService) TransactionSummaries(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseRange(r)
	if err != nil {
		SendErrorResponse(w, "Invalid date range", http.StatusBadRequest, err)
		return
	}

	frequency := r.URL.Query().Get("frequency")
	if frequency == "" {
		frequency = FrequencyMonthly
	}
	switch frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
	default:
		SendErrorResponse(w, "Invalid frequency", http.StatusBadRequest,
			fmt.Errorf("unknown frequency %q", frequency))
		return
	}

	rows, err := ss.db.Query(
		"SELECT date, type FROM transactions WHERE date >= $1 AND date <= $2", start, end)
	if err != nil {
		log.Printf("[SUMMARY] Transaction summary failed: %v", err)
		SendErrorResponse(w, "Failed to compute summary", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	type datedType struct {
		date   time.Time
		txType string
	}
	var records []datedType
	for rows.Next() {
		var rec datedType
		if err := rows.Scan(&rec.date, &rec.txType); err != nil {
			log.Printf("[SUMMARY] Scan failed: %v", err)
			SendErrorResponse(w, "Failed to compute summary", http.StatusInternalServerError, nil)
			return
		}
		records = append(records, rec)
	}

	buckets := bucketRange(start, end, frequency)
	index := make(map[time.Time]*PeriodSummary, len(buckets))
	summaries := make([]*PeriodSummary, 0, len(buckets))
	for _, b := range buckets {
		s := &PeriodSummary{Period: b}
		index[b] = s
		summaries = append(summaries, s)
	}

	for _, rec := range records {
		s, ok := index[truncateToBucket(rec.date, frequency)]
		if !ok {
			continue
		}
		switch rec.txType {
		case models.TransactionTypeIncome:
			s.Income++
		case models.TransactionTypeExpense:
			s.Expense++
		case models.TransactionTypeTransfer:
			s.Transfer++
		}
		s.Total++
	}

	SendJSONResponse(w, http.StatusOK, map[string]interface{}{
		"frequency": frequency,
		"items":     summaries,
	})
}

// CategoryStatisticsHandler handles GET /summary/categories/{id}/statistics
func (ss *SummaryService) CategoryStatisticsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIDParam(chi.URLParam(r, "id"))
	if err != nil {
		SendErrorResponse(w, "Invalid category id", http.StatusBadRequest, err)
		return
	}
	start, end, err := parseRange(r)
	if err != nil {
		SendErrorResponse(w, "Invalid date range", http.StatusBadRequest, err)
		return
	}

	var exists int64
	err = ss.db.QueryRow("SELECT id FROM categories WHERE id = $1", id).Scan(&exists)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Category not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[SUMMARY] Category %d lookup failed: %v", id, err)
		SendErrorResponse(w, "Failed to compute statistics", http.StatusInternalServerError, nil)
		return
	}

	stats := CategoryStatistics{CategoryID: id, AccountDistribution: []AccountShare{}}
	err = ss.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(AVG(amount), 0),
		       COALESCE(MIN(amount), 0),
		       COALESCE(MAX(amount), 0),
		       COALESCE(percentile_cont(0.5) WITHIN GROUP (ORDER BY amount), 0)
		FROM transactions
		WHERE category_id = $1 AND date >= $2 AND date <= $3`, id, start, end).Scan(
		&stats.Count, &stats.Average, &stats.Min, &stats.Max, &stats.Median)
	if err != nil {
		log.Printf("[SUMMARY] Statistics for category %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to compute statistics", http.StatusInternalServerError, nil)
		return
	}

	rows, err := ss.db.Query(`
		SELECT t.account_id, a.name, SUM(t.amount)
		FROM transactions t
		JOIN accounts a ON a.id = t.account_id
		WHERE t.category_id = $1 AND t.date >= $2 AND t.date <= $3
		GROUP BY t.account_id, a.name
		ORDER BY SUM(t.amount) DESC, t.account_id`, id, start, end)
	if err != nil {
		log.Printf("[SUMMARY] Distribution for category %d failed: %v", id, err)
		SendErrorResponse(w, "Failed to compute statistics", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	var grandTotal int64
	for rows.Next() {
		var share AccountShare
		if err := rows.Scan(&share.AccountID, &share.Name, &share.Total); err != nil {
			log.Printf("[SUMMARY] Scan failed: %v", err)
			SendErrorResponse(w, "Failed to compute statistics", http.StatusInternalServerError, nil)
			return
		}
		grandTotal += share.Total
		stats.AccountDistribution = append(stats.AccountDistribution, share)
	}
	if grandTotal > 0 {
		for i := range stats.AccountDistribution {
			stats.AccountDistribution[i].Percentage =
				float64(stats.AccountDistribution[i].Total) * 100 / float64(grandTotal)
		}
	}

	SendJSONResponse(w, http.StatusOK, stats)
}

// truncateToBucket floors a timestamp to the start of its bucket, in UTC.
// Weeks start on Monday.
func truncateToBucket(t time.Time, frequency string) time.Time {
	t = t.UTC()
	switch frequency {
	case FrequencyDaily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case FrequencyWeekly:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case FrequencyMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case FrequencyQuarterly:
		quarterStart := time.Month(((int(t.Month())-1)/3)*3 + 1)
		return time.Date(t.Year(), quarterStart, 1, 0, 0, 0, 0, time.UTC)
	case FrequencyYearly:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// nextBucket advances a bucket start to the next one
func nextBucket(t time.Time, frequency string) time.Time {
	switch frequency {
	case FrequencyDaily:
		return t.AddDate(0, 0, 1)
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	case FrequencyMonthly:
		return t.AddDate(0, 1, 0)
	case FrequencyQuarterly:
		return t.AddDate(0, 3, 0)
	case FrequencyYearly:
		return t.AddDate(1, 0, 0)
	}
	return t
}

// bucketRange lists every bucket start covering [start, end], inclusive
func bucketRange(start, end time.Time, frequency string) []time.Time {
	var buckets []time.Time
	for b := truncateToBucket(start, frequency); !b.After(end.UTC()); b = nextBucket(b, frequency) {
		buckets = append(buckets, b)
	}
	return buckets
}
