package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/docmarket-payments/internal/cache"
	"github.com/imrishuroy/docmarket-payments/internal/handlers"
)

func TestHealthReportsCacheStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := cache.New(nil, "test", nil)
	for i := 0; i < 2; i++ {
		cache.GetOrRefresh(context.Background(), c, "k", time.Minute, func(ctx context.Context) (string, error) {
			return "v", nil
		})
	}
	r := setupRouter(handlers.HandlerConfig{}, c, zap.NewNop())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Status string `json:"status"`
		Cache  struct {
			Hits   int64 `json:"hits"`
			Misses int64 `json:"misses"`
		} `json:"cache"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Cache.Hits != 1 || body.Cache.Misses != 1 {
		t.Fatalf("unexpected health body %s", w.Body.String())
	}
}
