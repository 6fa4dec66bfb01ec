package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Lemmeyg/redditresearch/internal/logger"
	"github.com/Lemmeyg/redditresearch/internal/middleware"
	"github.com/Lemmeyg/redditresearch/internal/model"
)

// StatsServiceInterface は統計ハンドラーが必要とするサービスインターフェース。
type StatsServiceInterface interface {
	PostStats(ctx context.Context, subreddit string) (*model.PostStats, error)
	RenderDashboard(ctx context.Context, w io.Writer) error
}

// StatsHandler は統計APIとアナリティクスページのHTTPハンドラー。
type StatsHandler struct {
	service StatsServiceInterface
	logger  *slog.Logger
}

// NewStatsHandler はStatsHandlerを生成する。
func NewStatsHandler(service StatsServiceInterface, log *slog.Logger) *StatsHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &StatsHandler{service: service, logger: log}
}

// Stats は保存済み投稿の統計を返す。
// GET /api/reddit/stats?subreddit=golang
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.PostStats(r.Context(), strings.TrimSpace(r.URL.Query().Get("subreddit")))
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Dashboard はアナリティクスページを描画する。
// 描画途中で失敗した場合に部分的なHTMLを返さないよう、バッファに書き出してから送信する。
// GET /dashboard/analytics
func (h *StatsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.service.RenderDashboard(r.Context(), &buf); err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
