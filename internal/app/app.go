package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Lemmeyg/redditresearch/internal/analytics"
	"github.com/Lemmeyg/redditresearch/internal/apiclient"
	"github.com/Lemmeyg/redditresearch/internal/config"
	"github.com/Lemmeyg/redditresearch/internal/database"
	"github.com/Lemmeyg/redditresearch/internal/handler"
	"github.com/Lemmeyg/redditresearch/internal/ingest"
	"github.com/Lemmeyg/redditresearch/internal/logger"
	"github.com/Lemmeyg/redditresearch/internal/metrics"
	"github.com/Lemmeyg/redditresearch/internal/middleware"
	"github.com/Lemmeyg/redditresearch/internal/model"
	"github.com/Lemmeyg/redditresearch/internal/reddit"
	"github.com/Lemmeyg/redditresearch/internal/repository"
	"github.com/Lemmeyg/redditresearch/internal/security"
	"github.com/Lemmeyg/redditresearch/internal/worker/cleanup"
	"github.com/Lemmeyg/redditresearch/internal/worker/refresh"
	"github.com/Lemmeyg/redditresearch/internal/worker/schedule"
)

// envFile は起動時に読み込む.envファイルのパス。
const envFile = ".env"

// Init はアプリケーションの初期化を行う。
// .envファイルと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. .envの読み込みとログの初期化（設定読み込み前にログを使えるようにする）
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, nil, fmt.Errorf("failed to load env file: %w", err)
	}
	log := logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, log, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, known := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	if !known {
		log.Warn("unknown command, falling back to serve", slog.String("arg", args[0]))
	}

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg, log)
	case CommandMigrate:
		return runMigrate(cfg, log)
	default:
		return runServe(cfg, log)
	}
}

// openDatabase はDB接続を開いて疎通を確認する。
// SQLiteはローカル開発用のため、起動時にマイグレーションも適用する。
func openDatabase(cfg *config.Config, log *slog.Logger) (*sql.DB, database.Dialect, error) {
	db, dialect, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("failed to connect to database: %w", err)
	}

	if dialect == database.SQLite {
		if err := database.RunMigrations(db, dialect); err != nil {
			db.Close()
			return nil, "", fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Info("database connection established", slog.String("dialect", string(dialect)))
	return db, dialect, nil
}

// services はserveとworkerで共有するドメインサービス群。
type services struct {
	reddit    *reddit.Client
	ingest    *ingest.Service
	sessions  *repository.SQLSessionRepo
	posts     *repository.SQLPostRepo
	comments  *repository.SQLCommentRepo
	history   *repository.SQLSearchHistoryRepo
	analytics *analytics.Service
}

// newServices はリポジトリ、上流クライアント、ドメインサービスを組み立てる。
func newServices(cfg *config.Config, db *sql.DB, dialect database.Dialect, log *slog.Logger, mc metrics.MetricsCollector) (*services, error) {
	// 1. リポジトリの初期化
	postRepo := repository.NewSQLPostRepo(db, dialect)
	commentRepo := repository.NewSQLCommentRepo(db, dialect)
	subredditRepo := repository.NewSQLSubredditRepo(db, dialect)

	// 2. セキュリティサービスの初期化
	guard := security.NewUpstreamGuard()
	if err := guard.ValidateBaseURL(cfg.RedditBaseURL); err != nil {
		return nil, fmt.Errorf("invalid REDDIT_BASE_URL: %w", err)
	}
	sanitizer := security.NewContentSanitizer()

	// 3. 上流クライアントの初期化
	api := apiclient.NewClient(guard.NewSafeClient(cfg.RedditTimeout), log, apiclient.Config{
		Timeout: cfg.RedditTimeout,
		RateLimit: apiclient.RateLimitConfig{
			MaxRequests: cfg.RedditRateLimitMax,
			Window:      cfg.RedditRateLimitWindow,
		},
		UserAgent:       cfg.RedditUserAgent,
		MaxResponseSize: cfg.RedditMaxResponseSize,
	}, mc)
	redditClient := reddit.NewClient(api, reddit.NewNormalizer(sanitizer), log, cfg.RedditBaseURL)

	// 4. ドメインサービスの初期化
	return &services{
		reddit:    redditClient,
		ingest:    ingest.NewService(redditClient, postRepo, commentRepo, subredditRepo, log, mc),
		sessions:  repository.NewSQLSessionRepo(db, dialect),
		posts:     postRepo,
		comments:  commentRepo,
		history:   repository.NewSQLSearchHistoryRepo(db, dialect),
		analytics: analytics.NewService(repository.NewSQLStatsRepo(db, dialect), log),
	}, nil
}

// newRouter はAPIサーバーのハンドラーを構築する。
// 返却する関数はバックグラウンドのリミッタークリーンアップを停止する。
func newRouter(cfg *config.Config, db *sql.DB, dialect database.Dialect, log *slog.Logger) (http.Handler, func(), error) {
	reg := prometheus.NewRegistry()
	mc := metrics.NewCollector(reg)

	svc, err := newServices(cfg, db, dialect, log, mc)
	if err != nil {
		return nil, nil, err
	}

	fetchLimiter := middleware.NewFetchLimiter(middleware.FetchLimiterConfig{
		PerMinute: cfg.FetchRatePerMin,
	}, log, mc)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		Metrics:           mc,
		MetricsHandler:    metrics.Handler(reg),
		HealthChecker:     db,
		SessionFinder:     svc.sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		IngressLimiter:    middleware.NewIngressLimiter(cfg.IngressRateLimitMax, cfg.IngressRateLimitWindow, log, mc),
		FetchLimiter:      fetchLimiter,
		PostLister:        svc.reddit,
		IngestService:     svc.ingest,
		SearchHistory:     svc.history,
		StatsService:      svc.analytics,
	})

	return router, fetchLimiter.Stop, nil
}

// newHTTPServer はAPIサーバー用のhttp.Serverを返す。
// WriteTimeoutは上流タイムアウトより常に長くする。
func newHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RedditTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// newMetricsServer はワーカーの/metricsを公開するhttp.Serverを返す。
func newMetricsServer(port string, gatherer prometheus.Gatherer) *http.Server {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))

	return &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config, log *slog.Logger) error {
	// 1. DB接続
	db, dialect, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. ルーターの構築
	router, stopLimiters, err := newRouter(cfg, db, dialect, log)
	if err != nil {
		return err
	}
	defer stopLimiters()

	// 3. HTTPサーバーの起動
	server := newHTTPServer(cfg, router)

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	log.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// newScheduler はリフレッシュとクリーンアップのジョブを登録したスケジューラを返す。
// 返却するjobsは起動直後の即時実行に使う。
func newScheduler(ctx context.Context, cfg *config.Config, db *sql.DB, dialect database.Dialect, log *slog.Logger, mc metrics.MetricsCollector) (*schedule.Scheduler, map[string]schedule.Job, error) {
	svc, err := newServices(cfg, db, dialect, log, mc)
	if err != nil {
		return nil, nil, err
	}

	refresher := refresh.NewRefresher(svc.ingest, refresh.Config{
		Subreddits:    cfg.RefreshSubreddits,
		Sort:          model.PostSort(cfg.RefreshSort),
		Limit:         cfg.RefreshLimit,
		MaxConcurrent: cfg.RefreshMaxConcurrent,
		APIInterval:   cfg.RefreshAPIInterval,
	}, log, mc)
	cleanupJob := cleanup.NewCleanupJob(svc.posts, svc.comments, svc.sessions, log, cfg.RetentionDays)

	jobs := map[string]schedule.Job{
		"refresh": refresher.RunOnce,
		"cleanup": cleanupJob.Run,
	}
	specs := map[string]string{
		"refresh": cfg.RefreshSchedule,
		"cleanup": cfg.CleanupSchedule,
	}

	sched := schedule.New(log)
	for _, name := range []string{"refresh", "cleanup"} {
		if err := sched.AddJob(ctx, name, specs[name], jobs[name]); err != nil {
			return nil, nil, err
		}
	}
	return sched, jobs, nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、リフレッシュとクリーンアップのスケジューラと/metricsを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config, log *slog.Logger) error {
	// 1. DB接続
	db, dialect, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. スケジューラの構築
	reg := prometheus.NewRegistry()
	sched, jobs, err := newScheduler(ctx, cfg, db, dialect, log, metrics.NewCollector(reg))
	if err != nil {
		return err
	}

	// 3. メトリクスサーバーの起動（失敗してもジョブは止めない）
	metricsServer := newMetricsServer(cfg.WorkerMetricsPort, reg)
	go func() {
		log.Info("worker metrics server starting", slog.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("worker metrics server failed", slog.String("error", err.Error()))
		}
	}()

	log.Info("worker starting",
		slog.Any("subreddits", cfg.RefreshSubreddits),
		slog.String("refresh_schedule", cfg.RefreshSchedule),
		slog.String("cleanup_schedule", cfg.CleanupSchedule),
		slog.Int("max_concurrent", cfg.RefreshMaxConcurrent),
	)

	// 4. 起動直後に1回実行（失敗はログのみ、次回スケジュールで再試行する）
	for _, name := range []string{"refresh", "cleanup"} {
		_ = sched.RunNow(ctx, name, jobs[name])
	}

	// 5. スケジューラの起動
	sched.Start()
	<-ctx.Done()

	log.Info("shutting down worker...")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("worker metrics server shutdown failed", slog.String("error", err.Error()))
	}

	log.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	db, dialect, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.RunMigrations(db, dialect); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
// パースできないURLは全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	return u.Redacted()
}
