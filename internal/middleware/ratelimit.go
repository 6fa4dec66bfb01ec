package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Lemmeyg/redditresearch/internal/logger"
	"github.com/Lemmeyg/redditresearch/internal/metrics"
	"github.com/Lemmeyg/redditresearch/internal/model"
)

// FetchLimiterConfig は上流取得を伴う操作のユーザー別レート制限設定を保持する。
type FetchLimiterConfig struct {
	PerMinute       int           // 1分あたりの許可数（バーストサイズも同じ）
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultFetchLimiterConfig はデフォルトの設定を返す。
// 1ユーザーあたり10取得/分。
func DefaultFetchLimiterConfig() FetchLimiterConfig {
	return FetchLimiterConfig{
		PerMinute:       10,
		CleanupInterval: 5 * time.Minute,
	}
}

// userLimiter はユーザーごとのトークンバケットとアクセス時刻を保持する。
type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// FetchLimiter はユーザーごとのトークンバケットで上流取得を伴う操作を制限する。
// 上流クライアントの共有ウィンドウを1人のユーザーが使い切らないようにする。
type FetchLimiter struct {
	rate    rate.Limit
	burst   int
	ttl     time.Duration
	logger  *slog.Logger
	metrics metrics.MetricsCollector

	mu       sync.Mutex
	limiters map[string]*userLimiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewFetchLimiter は新しいFetchLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewFetchLimiter(config FetchLimiterConfig, log *slog.Logger, mc metrics.MetricsCollector) *FetchLimiter {
	def := DefaultFetchLimiterConfig()
	if config.PerMinute <= 0 {
		config.PerMinute = def.PerMinute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if log == nil {
		log = logger.Discard()
	}
	if mc == nil {
		mc = metrics.Nop{}
	}

	fl := &FetchLimiter{
		rate:     rate.Limit(float64(config.PerMinute) / 60.0),
		burst:    config.PerMinute,
		ttl:      config.CleanupInterval * 2,
		logger:   log,
		metrics:  mc,
		limiters: make(map[string]*userLimiter),
		stopCh:   make(chan struct{}),
	}

	go fl.cleanupLoop(config.CleanupInterval)

	return fl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼んでもよい。
func (fl *FetchLimiter) Stop() {
	fl.stopOnce.Do(func() { close(fl.stopCh) })
}

// Middleware はユーザー別の取得レート制限ミドルウェアを返す。
// セッションミドルウェアの後に配置する。
func (fl *FetchLimiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, model.NewUnauthorizedError())
				return
			}

			if !fl.allow(userID, time.Now()) {
				fl.metrics.RecordRateLimited(metrics.ScopeFetch)
				fl.logger.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", metrics.ScopeFetch),
				)
				writeRetryAfter(w, fl.rate)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LimiterCount は現在管理されているリミッターのエントリ数を返す。テスト用。
func (fl *FetchLimiter) LimiterCount() int {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return len(fl.limiters)
}

// allow はユーザーのトークンを1つ消費できるか判定する。
func (fl *FetchLimiter) allow(userID string, now time.Time) bool {
	fl.mu.Lock()
	ul, ok := fl.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(fl.rate, fl.burst)}
		fl.limiters[userID] = ul
	}
	ul.lastAccess = now
	fl.mu.Unlock()

	return ul.limiter.AllowN(now, 1)
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (fl *FetchLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fl.cleanup(time.Now())
		case <-fl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセスからttlを超えたエントリを削除する。
func (fl *FetchLimiter) cleanup(now time.Time) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	for userID, ul := range fl.limiters {
		if now.Sub(ul.lastAccess) > fl.ttl {
			delete(fl.limiters, userID)
		}
	}
}

// writeRetryAfter は429レスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが1つ補充されるまでの推定秒数を設定する。
func writeRetryAfter(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(ErrorResponseBody{
		Error:    "Too many fetch requests",
		Code:     model.ErrCodeRateLimitExceeded,
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
