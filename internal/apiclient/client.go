// Package apiclient は送信側レート制限付きのHTTPクライアントを提供する。
// 上流APIへの全リクエストは固定ウィンドウのカウンタを通過し、
// 失敗は model.APIError に統一して返される。
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Lemmeyg/redditresearch/internal/logger"
	"github.com/Lemmeyg/redditresearch/internal/metrics"
	"github.com/Lemmeyg/redditresearch/internal/model"
	"github.com/Lemmeyg/redditresearch/internal/ratelimit"
)

// RateLimitConfig は送信側の固定ウィンドウ設定。
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
}

// Config はクライアントの設定。生成後は変更しない。
type Config struct {
	Timeout         time.Duration
	RateLimit       RateLimitConfig
	UserAgent       string
	MaxResponseSize int64
}

// DefaultConfig はデフォルト設定を返す。
// タイムアウト30秒、1分あたり100リクエスト。
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		RateLimit: RateLimitConfig{
			MaxRequests: 100,
			Window:      time.Minute,
		},
		UserAgent:       "redditresearch/1.0",
		MaxResponseSize: 10 << 20,
	}
}

// RequestOptions はリクエストごとの追加設定。
type RequestOptions struct {
	Header http.Header
	Body   io.Reader
}

// Response は読み取り済みのレスポンス。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client はレート制限付きHTTPクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	config     Config
	window     *ratelimit.FixedWindow
	metrics    metrics.MetricsCollector
}

// NewClient は新しいClientを生成する。
// httpClientがnilの場合はConfig.Timeoutを設定したクライアントを使う。
func NewClient(httpClient *http.Client, log *slog.Logger, cfg Config, mc metrics.MetricsCollector) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RateLimit.MaxRequests <= 0 {
		cfg.RateLimit.MaxRequests = def.RateLimit.MaxRequests
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = def.RateLimit.Window
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = def.MaxResponseSize
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = logger.Discard()
	}
	if mc == nil {
		mc = metrics.Nop{}
	}

	return &Client{
		httpClient: httpClient,
		logger:     log,
		config:     cfg,
		window:     ratelimit.NewFixedWindow(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window),
		metrics:    mc,
	}
}

// Request はレート制限を確認したうえでHTTPリクエストを送信する。
// 制限超過時はネットワーク呼び出しを行わずRateLimitExceededを返す。
// 非2xx応答はUpstreamError、通信失敗はInternalError(500)に変換する。
func (c *Client) Request(ctx context.Context, method, url string, opts *RequestOptions) (*Response, error) {
	// 1. ローカルのレート制限判定
	if d := c.window.Allow(); !d.Allowed {
		err := model.NewRateLimitExceededError()
		c.metrics.RecordRateLimited(metrics.ScopeUpstream)
		c.metrics.RecordUpstreamRequest(metrics.OutcomeRateLimited)
		c.logError(method, url, err)
		return nil, err
	}

	c.logger.Info("API Request",
		slog.String("method", method),
		slog.String("url", url),
	)

	// 2. リクエスト作成
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var body io.Reader
	if opts != nil {
		body = opts.Body
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		apiErr := model.NewInternalError(fmt.Errorf("build request: %w", err))
		c.metrics.RecordUpstreamRequest(metrics.OutcomeTransportError)
		c.logError(method, url, apiErr)
		return nil, apiErr
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if opts != nil {
		for k, vs := range opts.Header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}

	// 3. 送信
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RecordUpstreamLatency(time.Since(start))
	if err != nil {
		apiErr := model.NewInternalError(err)
		c.metrics.RecordUpstreamRequest(metrics.OutcomeTransportError)
		c.logError(method, url, apiErr)
		return nil, apiErr
	}
	defer resp.Body.Close()

	// 4. ボディ読み取り（サイズ上限付き）
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseSize+1))
	if err != nil {
		apiErr := model.NewInternalError(fmt.Errorf("read response body: %w", err))
		c.metrics.RecordUpstreamRequest(metrics.OutcomeTransportError)
		c.logError(method, url, apiErr)
		return nil, apiErr
	}
	if int64(len(data)) > c.config.MaxResponseSize {
		apiErr := model.NewInternalError(fmt.Errorf("response body exceeds %d bytes", c.config.MaxResponseSize))
		c.metrics.RecordUpstreamRequest(metrics.OutcomeTransportError)
		c.logError(method, url, apiErr)
		return nil, apiErr
	}

	// 5. ステータス判定
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := model.NewUpstreamError(resp.StatusCode, http.StatusText(resp.StatusCode))
		c.metrics.RecordUpstreamRequest(metrics.OutcomeUpstreamError)
		c.logError(method, url, apiErr)
		return nil, apiErr
	}

	c.metrics.RecordUpstreamRequest(metrics.OutcomeSuccess)
	c.logger.Debug("API Response",
		slog.String("method", method),
		slog.String("url", url),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// Get はGETリクエストを送信する。
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Request(ctx, http.MethodGet, url, nil)
}

// GetJSON はGETリクエストを送信し、レスポンスボディをoutへデコードする。
// デコードに失敗した場合はInternalErrorを返す。
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		apiErr := model.NewInternalError(fmt.Errorf("decode response: %w", err))
		c.logError(http.MethodGet, url, apiErr)
		return apiErr
	}
	return nil
}

func (c *Client) logError(method, url string, err error) {
	attrs := []any{
		slog.String("method", method),
		slog.String("url", url),
		slog.String("error", err.Error()),
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		attrs = append(attrs, slog.String("code", apiErr.Code), slog.Int("status", apiErr.Status))
	}
	c.logger.Error("API Error", attrs...)
}
