package middleware

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/tvsignal/engine/internal/store"
	"github.com/tvsignal/engine/pkg/observability"
)

// CacheMiddleware is a short-TTL response cache for the read-only query
// surface (GET /latest, GET /price), stored in Redis under
// tv:httpcache:, so a busy dashboard polling every few seconds is served
// from one cached entry instead of re-running the handler each time.
type CacheMiddleware struct {
	store  *store.Store
	logger *observability.Logger
	config *CacheConfig
	stats  *CacheStats
}

type CacheConfig struct {
	TTL              time.Duration
	CacheableStatus  []int
	CacheableMethods []string
	ExcludePaths     []string
	VaryHeaders      []string
}

type CacheStats struct {
	Hits   int64
	Misses int64
	Sets   int64
	Errors int64
	mu     sync.RWMutex
}

type CachedResponse struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
	CreatedAt  time.Time           `json:"created_at"`
}

type cacheResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
	headers    http.Header
}

// NewCacheMiddleware creates a cache middleware using ttl for every
// cached entry; callers restrict it to endpoints whose staleness is
// acceptable for that window.
func NewCacheMiddleware(s *store.Store, logger *observability.Logger, ttl time.Duration) *CacheMiddleware {
	return &CacheMiddleware{
		store:  s,
		logger: logger,
		config: &CacheConfig{
			TTL:              ttl,
			CacheableStatus:  []int{http.StatusOK, http.StatusNotFound},
			CacheableMethods: []string{http.MethodGet, http.MethodHead},
			VaryHeaders:      []string{"Accept"},
		},
		stats: &CacheStats{},
	}
}

// Middleware returns the caching middleware function.
func (cm *CacheMiddleware) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cm.isCacheableMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			cacheKey := cm.generateCacheKey(r)

			if cached, found := cm.getFromCache(r.Context(), cacheKey); found {
				cm.serveCachedResponse(w, cached)
				cm.updateStats("hit")
				return
			}

			rw := &cacheResponseWriter{
				ResponseWriter: w,
				body:           &bytes.Buffer{},
				headers:        make(http.Header),
			}
			next.ServeHTTP(rw, r)

			if cm.isCacheableResponse(rw.statusCode) {
				cached := &CachedResponse{
					StatusCode: rw.statusCode,
					Headers:    rw.headers,
					Body:       rw.body.Bytes(),
					CreatedAt:  time.Now(),
				}
				if err := cm.setCache(r.Context(), cacheKey, cached); err != nil {
					cm.logger.Error(r.Context(), "failed to cache response", err, map[string]interface{}{"cache_key": cacheKey, "path": r.URL.Path})
					cm.updateStats("error")
				} else {
					cm.updateStats("set")
				}
			}
			cm.updateStats("miss")
		})
	}
}

func (cm *CacheMiddleware) generateCacheKey(r *http.Request) string {
	h := md5.New()
	h.Write([]byte(r.Method))
	h.Write([]byte(r.URL.Path))
	h.Write([]byte(r.URL.RawQuery))
	for _, header := range cm.config.VaryHeaders {
		if value := r.Header.Get(header); value != "" {
			h.Write([]byte(header + ":" + value))
		}
	}
	return "tv:httpcache:" + hex.EncodeToString(h.Sum(nil))
}

func (cm *CacheMiddleware) getFromCache(ctx context.Context, key string) (*CachedResponse, bool) {
	raw, err := cm.store.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	var cached CachedResponse
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return nil, false
	}
	return &cached, true
}

func (cm *CacheMiddleware) setCache(ctx context.Context, key string, cached *CachedResponse) error {
	data, err := json.Marshal(cached)
	if err != nil {
		return err
	}
	return cm.store.Set(ctx, key, string(data), cm.config.TTL)
}

func (cm *CacheMiddleware) serveCachedResponse(w http.ResponseWriter, cached *CachedResponse) {
	for key, values := range cached.Headers {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set("X-Cache", "HIT")
	w.Header().Set("Age", strconv.Itoa(int(time.Since(cached.CreatedAt).Seconds())))
	w.WriteHeader(cached.StatusCode)
	w.Write(cached.Body)
}

func (cm *CacheMiddleware) isCacheableMethod(method string) bool {
	for _, m := range cm.config.CacheableMethods {
		if m == method {
			return true
		}
	}
	return false
}

func (cm *CacheMiddleware) isCacheableResponse(statusCode int) bool {
	for _, code := range cm.config.CacheableStatus {
		if code == statusCode {
			return true
		}
	}
	return false
}

func (cm *CacheMiddleware) updateStats(operation string) {
	cm.stats.mu.Lock()
	defer cm.stats.mu.Unlock()
	switch operation {
	case "hit":
		cm.stats.Hits++
	case "miss":
		cm.stats.Misses++
	case "set":
		cm.stats.Sets++
	case "error":
		cm.stats.Errors++
	}
}

// GetStats returns current cache statistics.
func (cm *CacheMiddleware) GetStats() map[string]interface{} {
	cm.stats.mu.RLock()
	defer cm.stats.mu.RUnlock()
	total := cm.stats.Hits + cm.stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(cm.stats.Hits) / float64(total) * 100
	}
	return map[string]interface{}{
		"hits":     cm.stats.Hits,
		"misses":   cm.stats.Misses,
		"sets":     cm.stats.Sets,
		"errors":   cm.stats.Errors,
		"hit_rate": hitRate,
	}
}

func (rw *cacheResponseWriter) Write(data []byte) (int, error) {
	rw.body.Write(data)
	return rw.ResponseWriter.Write(data)
}

func (rw *cacheResponseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	for key, values := range rw.ResponseWriter.Header() {
		rw.headers[key] = values
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Header() http.Header {
	return rw.ResponseWriter.Header()
}
