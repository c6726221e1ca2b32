// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, link, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeValidation       = "VALIDATION_FAILED"
	ErrCodeInvalidDateRange = "INVALID_DATE_RANGE"
	ErrCodeUsernameTaken    = "USERNAME_TAKEN"
	ErrCodeAuthFailed       = "AUTH_FAILED"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeForbidden        = "FORBIDDEN"
	ErrCodeLinkNotFound     = "LINK_NOT_FOUND"
	ErrCodeCodeExhausted    = "CODE_EXHAUSTED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewValidationError は必須項目の欠落エラーを生成する。
func NewValidationError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("必須項目が指定されていません: %s", field),
		Category: "validation",
		Action:   fmt.Sprintf("%s を指定してください。", field),
	}
}

// NewInvalidDateRangeError は分析期間の指定が不正な場合のエラーを生成する。
func NewInvalidDateRangeError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDateRange,
		Message:  fmt.Sprintf("無効な期間指定です: %s", reason),
		Category: "validation",
		Action:   "startDate と endDate を正しい形式で、startDate <= endDate となるよう指定してください。",
	}
}

// NewUsernameTakenError はユーザー名重複エラーを生成する。
func NewUsernameTakenError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeUsernameTaken,
		Message:  fmt.Sprintf("ユーザー名は既に使用されています: %s", username),
		Category: "auth",
		Action:   "別のユーザー名を指定してください。",
	}
}

// NewAuthFailedError は認証失敗エラーを生成する。
// ユーザーが存在しない場合とパスワード不一致の場合を区別しない。
func NewAuthFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  "ユーザー名またはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "権限のあるアカウントでログインしてください。",
	}
}

// NewLinkNotFoundError は短縮コード未検出エラーを生成する。
func NewLinkNotFoundError(shortCode string) *APIError {
	return &APIError{
		Code:     ErrCodeLinkNotFound,
		Message:  fmt.Sprintf("指定された短縮URLが見つかりません: %s", shortCode),
		Category: "link",
		Action:   "短縮URLを確認してください。",
	}
}

// NewCodeExhaustedError は短縮コードの生成リトライが上限に達した場合のエラーを生成する。
func NewCodeExhaustedError(attempts int) *APIError {
	return &APIError{
		Code:     ErrCodeCodeExhausted,
		Message:  fmt.Sprintf("短縮コードの生成に失敗しました（%d回衝突）。", attempts),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
