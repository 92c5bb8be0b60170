package services

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

// geoCacheKey is where the most recent client coordinates are cached.
const geoCacheKey = "preferences:geo"

// PreferencesService handles preference side effects. The geo cache refresh
// is explicitly fire-and-forget: the handler acknowledges immediately and the
// cache write happens detached, with failures logged but never surfaced.
type PreferencesService struct {
	redis *redis.Client
}

func NewPreferencesService(redisClient *redis.Client) *PreferencesService {
	return &PreferencesService{redis: redisClient}
}

type RefreshGeoCacheRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// RefreshGeoCache handles POST /preferences/refresh-geo-cache. Always 204:
// a malformed or absent body just skips the refresh.
func (ps *PreferencesService) RefreshGeoCache(w http.ResponseWriter, r *http.Request) {
	var req RefreshGeoCacheRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	go ps.refresh(req)

	w.WriteHeader(http.StatusNoContent)
}

func (ps *PreferencesService) refresh(req RefreshGeoCacheRequest) {
	if ps.redis == nil {
		return
	}

	payload, err := json.Marshal(map[string]interface{}{
		"latitude":    req.Latitude,
		"longitude":   req.Longitude,
		"refreshedAt": time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[PREFERENCES] Geo cache marshal failed: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ps.redis.Set(ctx, geoCacheKey, string(payload), 24*time.Hour).Err(); err != nil {
		log.Printf("[PREFERENCES] Geo cache refresh failed: %v", err)
	}
}
