// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法、HTTPステータスを含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, upstream, storage, system
	Action   string // ユーザー向け対処方法
	Status   int    // HTTPステータスコード
	Err      error  // 原因エラー（ログ用、レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// AsAPIError はerrチェーンからAPIErrorを取り出す。
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// 定義済みエラーコード
const (
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeAPIError          = "API_ERROR"
	ErrCodeRedditAPIError    = "REDDIT_API_ERROR"
	ErrCodePostNotFound      = "POST_NOT_FOUND"
	ErrCodeCommentsNotFound  = "COMMENTS_NOT_FOUND"
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeStorage           = "STORAGE_ERROR"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
)

// NewRateLimitExceededError はローカルのレート制限超過エラーを生成する。
// ネットワーク呼び出しは行われていない。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "Rate limit exceeded",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Status:   http.StatusTooManyRequests,
	}
}

// NewUpstreamError は上流APIの非2xx応答エラーを生成する。
// ステータスは上流のものをそのまま反映する。
func NewUpstreamError(status int, statusText string) *APIError {
	return &APIError{
		Code:     ErrCodeAPIError,
		Message:  fmt.Sprintf("HTTP %d: %s", status, statusText),
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
		Status:   status,
	}
}

// NewInvalidResponseError は上流レスポンスの形状が契約と異なる場合のエラーを生成する。
// 一時的な障害ではないためリトライしない。
func NewInvalidResponseError(what string) *APIError {
	return &APIError{
		Code:     ErrCodeRedditAPIError,
		Message:  fmt.Sprintf("Invalid response format from Reddit API: %s", what),
		Category: "upstream",
		Action:   "サブレディット名や検索条件を確認してください。",
		Status:   http.StatusNotFound,
	}
}

// NewPostNotFoundError は投稿未検出エラーを生成する。
func NewPostNotFoundError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  fmt.Sprintf("Post not found: %s", postID),
		Category: "upstream",
		Action:   "投稿IDを確認してください。",
		Status:   http.StatusNotFound,
	}
}

// NewCommentsNotFoundError はコメント未検出エラーを生成する。
func NewCommentsNotFoundError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodeCommentsNotFound,
		Message:  fmt.Sprintf("Comments not found: %s", postID),
		Category: "upstream",
		Action:   "投稿IDを確認してください。",
		Status:   http.StatusNotFound,
	}
}

// NewInternalError は通信失敗などの予期しないエラーを生成する。
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An unexpected error occurred",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Status:   http.StatusInternalServerError,
		Err:      err,
	}
}

// NewValidationError はリクエストパラメータ不正エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("Invalid request: %s", reason),
		Category: "validation",
		Action:   "リクエストパラメータを確認してください。",
		Status:   http.StatusBadRequest,
	}
}

// NewStorageError は永続化層の失敗を表すエラーを生成する。
func NewStorageError(op string, err error) *APIError {
	return &APIError{
		Code:     ErrCodeStorage,
		Message:  fmt.Sprintf("Failed to %s", op),
		Category: "storage",
		Action:   "しばらく待ってから再度お試しください。",
		Status:   http.StatusInternalServerError,
		Err:      err,
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Unauthorized",
		Category: "auth",
		Action:   "ログインしてください。",
		Status:   http.StatusUnauthorized,
	}
}
