package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger は依存先の疎通確認を行う。*sql.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// CachePinger はリダイレクトキャッシュの疎通確認を行う。*cache.LinkCacheが満たす。
type CachePinger interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status string `json:"status"`
	Cache  string `json:"cache,omitempty"`
}

// NewHealthHandler はDBへの疎通で稼働状態を返すハンドラーを生成する。
// cacheが指定された場合はその状態も返す。キャッシュ障害時もリダイレクトはDBで継続できるため、
// ステータスは200のままcacheを"degraded"とする。
// GET /health
func NewHealthHandler(db Pinger, cache CachePinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
			return
		}

		resp := healthResponse{Status: "ok"}
		if cache != nil {
			resp.Cache = "ok"
			if err := cache.Ping(ctx); err != nil {
				slog.Warn("cache health check failed", slog.String("error", err.Error()))
				resp.Cache = "degraded"
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
