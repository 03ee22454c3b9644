// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/kuzamarket/internal/identity"
	"github.com/hitoshi/kuzamarket/internal/middleware"
	"github.com/hitoshi/kuzamarket/internal/model"
)

// maxJSONBody はJSONリクエストボディの上限。
const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをJSONとして読み込む。失敗したら400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Kind:     model.KindValidationFailed,
			Code:     "INVALID_REQUEST",
			Message:  "The request body could not be parsed.",
			Category: "validation",
			Action:   "Send a valid JSON body.",
		})
		return false
	}
	return true
}

// handleServiceError はサービス層のエラーを種別に応じたHTTPレスポンスに変換する。
// APIError以外は内部エラーとして扱い、詳細はログにのみ残す。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Kind == model.KindRemoteFailure {
			slog.Error("remote failure", slog.String("code", apiErr.Code), slog.String("error", apiErr.Error()))
		}
		middleware.WriteAPIError(w, apiErr)
		return
	}
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

func currentIdentity(r *http.Request) *identity.Identity {
	return middleware.IdentityFromContext(r.Context())
}

// noticeResponse は通知のみを返す操作のレスポンス。
type noticeResponse struct {
	Notice *model.Notice `json:"notice"`
}
