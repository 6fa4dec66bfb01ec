package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Lemmeyg/redditresearch/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// errorにはメッセージ、codeには定義済みエラーコードを入れる。
type ErrorResponseBody struct {
	Error    string `json:"error"`
	Code     string `json:"code"`
	Category string `json:"category,omitempty"`
	Action   string `json:"action,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// ステータスはAPIErrorのStatusを使い、未設定の場合は500とする。
func WriteErrorResponse(w http.ResponseWriter, apiErr *model.APIError) {
	status := apiErr.Status
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Error:    apiErr.Message,
		Code:     apiErr.Code,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteError は任意のエラーを統一フォーマットで書き込む。
// APIError以外は内部エラーとして扱い、詳細はログのみに記録する。
func WriteError(w http.ResponseWriter, log *slog.Logger, err error) {
	apiErr, ok := model.AsAPIError(err)
	if !ok {
		apiErr = model.NewInternalError(err)
	}
	if apiErr.Status >= 500 && log != nil {
		log.Error("request failed",
			slog.String("code", apiErr.Code),
			slog.String("error", err.Error()),
		)
	}
	WriteErrorResponse(w, apiErr)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, model.NewInternalError(nil))
}
