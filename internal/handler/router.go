package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Lemmeyg/redditresearch/internal/logger"
	"github.com/Lemmeyg/redditresearch/internal/metrics"
	"github.com/Lemmeyg/redditresearch/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger  *slog.Logger
	Metrics metrics.MetricsCollector
	// MetricsHandler が nil の場合 /metrics は公開しない
	MetricsHandler http.Handler
	HealthChecker  HealthChecker

	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	IngressLimiter    *middleware.IngressLimiter
	FetchLimiter      *middleware.FetchLimiter

	// Reddit
	PostLister    PostLister
	IngestService IngestServiceInterface
	SearchHistory SearchHistoryStore

	// 統計
	StatsService StatsServiceInterface
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders → StatusRecorder → Ingress(/api配下) → CORS
//	/api/reddit: (認証ルート) Session → (取得ルート) FetchLimiter
//
// /health と /metrics は受信レート制限と認証の対象外とする。
func NewRouter(deps *RouterDeps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = logger.Discard()
	}
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.Nop{}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(log))
	r.Use(middleware.NewRecoveryMiddleware(log))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(metrics.StatusRecorder(mc))
	r.Use(deps.IngressLimiter.ForPathPrefix("/api"))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	redditHandler := NewRedditHandler(deps.PostLister, deps.IngestService, deps.SearchHistory, log)
	statsHandler := NewStatsHandler(deps.StatsService, log)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker, log))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/reddit", func(r chi.Router) {
		// 上流の一覧取得は保存を伴わないため認証不要
		r.Get("/posts", redditHandler.ListPosts)

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, log))

			r.Get("/search-history", redditHandler.SearchHistory)
			r.Get("/stored/posts", redditHandler.StoredPosts)
			r.Get("/stored/posts/{id}/comments", redditHandler.StoredComments)
			r.Get("/stats", statsHandler.Stats)

			// 上流取得と保存を伴うルートはユーザー別の取得レート制限を追加
			r.Group(func(r chi.Router) {
				r.Use(deps.FetchLimiter.Middleware())

				r.Post("/posts", redditHandler.FetchPost)
				r.Post("/subreddits/search", redditHandler.SearchSubreddits)
				r.Post("/subreddits/{name}/posts", redditHandler.FetchSubredditPosts)
			})
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, log))
		r.Get("/dashboard/analytics", statsHandler.Dashboard)
	})

	return r
}
