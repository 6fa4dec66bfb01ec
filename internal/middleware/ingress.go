package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Lemmeyg/redditresearch/internal/logger"
	"github.com/Lemmeyg/redditresearch/internal/metrics"
	"github.com/Lemmeyg/redditresearch/internal/model"
	"github.com/Lemmeyg/redditresearch/internal/ratelimit"
)

// レート制限ヘッダー
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// デフォルトの受信レート制限: 呼び出し元ごとに60秒あたり100リクエスト
const (
	DefaultIngressMax    = 100
	DefaultIngressWindow = time.Minute
)

// IngressLimiter は呼び出し元アドレスごとの固定ウィンドウで受信リクエストを制限する。
// 上流クライアントのウィンドウとは独立しており、プロセス内でのみ共有される。
type IngressLimiter struct {
	windows *ratelimit.KeyedWindow
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewIngressLimiter は新しいIngressLimiterを生成する。
// maxまたはwindowが0以下の場合はデフォルト値を使用する。
func NewIngressLimiter(max int, window time.Duration, log *slog.Logger, mc metrics.MetricsCollector) *IngressLimiter {
	if max <= 0 {
		max = DefaultIngressMax
	}
	if window <= 0 {
		window = DefaultIngressWindow
	}
	if log == nil {
		log = logger.Discard()
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &IngressLimiter{
		windows: ratelimit.NewKeyedWindow(max, window),
		logger:  log,
		metrics: mc,
	}
}

// Middleware は受信レート制限ミドルウェアを返す。
// すべての応答にX-RateLimit-*ヘッダーを付与し、上限超過時は429を返す。
// 呼び出し元アドレスはchiのRealIPミドルウェアの後で判定する。
func (l *IngressLimiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			d := l.windows.Allow(key)

			h := w.Header()
			h.Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
			h.Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
			h.Set(HeaderRateLimitReset, strconv.FormatInt(d.ResetAt.UnixMilli(), 10))

			if !d.Allowed {
				l.metrics.RecordRateLimited(metrics.ScopeIngress)
				l.logger.Warn("rate limit exceeded",
					slog.String("client", key),
					slog.String("limit_type", metrics.ScopeIngress),
				)
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(ErrorResponseBody{
					Error: "Too many requests",
					Code:  model.ErrCodeRateLimitExceeded,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ForPathPrefix はprefix配下（prefix自身を含む）のパスにのみ受信レート制限を適用するミドルウェアを返す。
// ルーティングとCORSより前に配置し、プリフライトや未定義パスへの応答にもX-RateLimit-*ヘッダーを付与する。
func (l *IngressLimiter) ForPathPrefix(prefix string) func(next http.Handler) http.Handler {
	prefix = strings.TrimRight(prefix, "/")
	limited := l.Middleware()
	return func(next http.Handler) http.Handler {
		wrapped := limited(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p := r.URL.Path; p == prefix || strings.HasPrefix(p, prefix+"/") {
				wrapped.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Len は現在追跡している呼び出し元の数を返す。
func (l *IngressLimiter) Len() int {
	return l.windows.Len()
}

// clientKey はRemoteAddrのホスト部分を返す。ポートがない場合はそのまま使う。
func clientKey(r *http.Request) string {
	addr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if addr == "" {
		return "unknown"
	}
	return addr
}
