// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind は外部呼び出しの失敗種別を表す閉じた列挙型。
// ハンドラーはこの種別でHTTPステータスを網羅的に決定する。
type ErrorKind int

const (
	// KindRemoteFailure はストア呼び出し自体が失敗したことを表す（ゼロ値）。
	KindRemoteFailure ErrorKind = iota
	// KindUnauthenticated はサインインが必要な操作で識別情報がないことを表す。
	KindUnauthenticated
	// KindValidationFailed は必須項目の欠落など入力検証の失敗を表す。
	KindValidationFailed
	// KindNotFound は要求された出品・プロフィールが存在しないことを表す。
	KindNotFound
	// KindForbidden は所有者・管理者でない利用者による操作を表す。
	KindForbidden
)

// String はログ出力用の種別名を返す。
func (k ErrorKind) String() string {
	switch k {
	case KindRemoteFailure:
		return "remote_failure"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindValidationFailed:
		return "validation_failed"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Kind     ErrorKind // 失敗種別
	Code     string    // エラーコード
	Message  string    // エラーメッセージ
	Category string    // カテゴリ: auth, validation, listing, saved, system
	Action   string    // ユーザー向け対処方法
	Err      error     // 原因（ログ用、レスポンスには含めない）
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

// KindOf はエラーから失敗種別を取り出す。APIErrorでなければRemoteFailureとみなす。
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindRemoteFailure
}

// 定義済みエラーコード
const (
	ErrCodeAuthRequired       = "AUTH_REQUIRED"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeEmailTaken         = "EMAIL_TAKEN"
	ErrCodeValidation         = "VALIDATION_FAILED"
	ErrCodeCategoryRequired   = "CATEGORY_REQUIRED"
	ErrCodeUnknownCategory    = "UNKNOWN_CATEGORY"
	ErrCodePasswordMismatch   = "PASSWORD_MISMATCH"
	ErrCodeInvalidQuery       = "INVALID_QUERY"
	ErrCodeInvalidURL         = "INVALID_URL"
	ErrCodeSSRFBlocked        = "SSRF_BLOCKED"
	ErrCodeImageFetchFailed   = "IMAGE_FETCH_FAILED"
	ErrCodeItemNotFound       = "ITEM_NOT_FOUND"
	ErrCodeProfileNotFound    = "PROFILE_NOT_FOUND"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeRemoteFailure      = "REMOTE_FAILURE"
)

// NewAuthRequiredError はサインインが必要な操作のエラーを生成する。
func NewAuthRequiredError(action string) *APIError {
	return &APIError{
		Kind:     KindUnauthenticated,
		Code:     ErrCodeAuthRequired,
		Message:  fmt.Sprintf("Please log in to %s.", action),
		Category: "auth",
		Action:   "Sign in or create an account, then try again.",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワード不一致のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Kind:     KindUnauthenticated,
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid email or password.",
		Category: "auth",
		Action:   "Check your email and password and try again.",
	}
}

// NewEmailTakenError は登録済みメールアドレスでのサインアップエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Kind:     KindValidationFailed,
		Code:     ErrCodeEmailTaken,
		Message:  "An account with this email already exists.",
		Category: "auth",
		Action:   "Sign in instead, or use a different email address.",
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Kind:     KindValidationFailed,
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("Invalid %s: %s", field, reason),
		Category: "validation",
		Action:   "Correct the highlighted field and submit again.",
	}
}

// NewCategoryRequiredError はカテゴリ未選択のエラーを生成する。
func NewCategoryRequiredError() *APIError {
	return &APIError{
		Kind:     KindValidationFailed,
		Code:     ErrCodeCategoryRequired,
		Message:  "Please select a category.",
		Category: "validation",
		Action:   "Choose a category for your listing.",
	}
}

// NewUnknownCategoryError はカタログに存在しないカテゴリのエラーを生成する。
func NewUnknownCategoryError(category string) *APIError {
	return &APIError{
		Kind:     KindValidationFailed,
		Code:     ErrCodeUnknownCategory,
		Message:  fmt.Sprintf("Unknown category: %s", category),
		Category: "validation",
		Action:   "Pick one of the listed categories.",
	}
}

// NewPasswordMismatchError はパスワード確認不一致のエラーを生成する。
func NewPasswordMismatchError() *APIError {
	return &APIError{
		Kind:     KindValidationFailed,
		Code:     ErrCodePasswordMismatch,
		Message:  "Passwords do not match.",
		Category: "validation",
		Action:   "Re-enter the same password in both fields.",
	}
}

// NewInvalidQueryError は検索条件の不正エラーを生成する。
func NewInvalidQueryError(reason string) *APIError {
	return &APIError{
		Kind:     KindValidationFailed,
		Code:     ErrCodeInvalidQuery,
		Message:  fmt.Sprintf("Invalid search: %s", reason),
		Category: "validation",
		Action:   "Adjust the filters and search again.",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Kind:     KindValidationFailed,
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("Invalid URL: %s", reason),
		Category: "validation",
		Action:   "Enter a URL starting with http:// or https://.",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Kind:     KindValidationFailed,
		Code:     ErrCodeSSRFBlocked,
		Message:  "Access to the given URL was blocked by the security policy.",
		Category: "validation",
		Action:   "Use an image hosted on a public website.",
	}
}

// NewImageFetchFailedError は画像取り込み失敗エラーを生成する。
func NewImageFetchFailedError(reason string) *APIError {
	return &APIError{
		Kind:     KindRemoteFailure,
		Code:     ErrCodeImageFetchFailed,
		Message:  fmt.Sprintf("Could not fetch the image: %s", reason),
		Category: "listing",
		Action:   "Check the URL or upload the photo directly.",
	}
}

// NewItemNotFoundError は出品未検出エラーを生成する。
func NewItemNotFoundError(itemID string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeItemNotFound,
		Message:  fmt.Sprintf("Item not found: %s", itemID),
		Category: "listing",
		Action:   "The item may have been sold or removed.",
	}
}

// NewProfileNotFoundError はプロフィール未検出エラーを生成する。
func NewProfileNotFoundError(userID string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeProfileNotFound,
		Message:  fmt.Sprintf("Profile not found: %s", userID),
		Category: "profile",
		Action:   "Check the seller link.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeUserNotFound,
		Message:  "User not found.",
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewForbiddenError は権限のない操作のエラーを生成する。
func NewForbiddenError(action string) *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeForbidden,
		Message:  fmt.Sprintf("You are not allowed to %s.", action),
		Category: "auth",
		Action:   "Only the owner or an administrator can do this.",
	}
}

// NewRemoteFailureError はストア呼び出し失敗をラップする。
// 原因はErrに保持し、利用者には一般的なメッセージのみ返す。
func NewRemoteFailureError(op string, err error) *APIError {
	return &APIError{
		Kind:     KindRemoteFailure,
		Code:     ErrCodeRemoteFailure,
		Message:  fmt.Sprintf("Could not %s. Please try again.", op),
		Category: "system",
		Action:   "Try again in a moment.",
		Err:      err,
	}
}
