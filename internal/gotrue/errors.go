package gotrue

import (
	"errors"
	"fmt"

	"github.com/aifa/directorio/internal/model"
)

// Error は認証APIがエラーステータスを返したことを表す。
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth api returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("auth api returned status %d: %s", e.StatusCode, e.Message)
}

// Unwrap はステータスに対応する番兵エラーを返し、errors.Isでの判定を可能にする。
func (e *Error) Unwrap() error {
	switch ClassifyStatus(e.StatusCode) {
	case model.AuthErrorCredential:
		return model.ErrInvalidCredentials
	case model.AuthErrorUnavailable:
		return model.ErrBackendUnavailable
	default:
		return nil
	}
}

// ClassifyStatus はHTTPステータスコードを認証エラーの分類に変換する。
//   - 400/401/403/404/422: 資格情報またはトークンの拒否
//   - 408/429/5xx: サービス側の一時的な障害（再試行可能）
func ClassifyStatus(statusCode int) model.AuthErrorKind {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return model.AuthErrorNone
	case statusCode == 408 || statusCode == 429:
		return model.AuthErrorUnavailable
	case statusCode >= 500:
		return model.AuthErrorUnavailable
	case statusCode >= 400:
		return model.AuthErrorCredential
	default:
		return model.AuthErrorUnavailable
	}
}

// KindOf は任意のエラーを認証エラーの分類に変換する。
// 資格情報の拒否と判定できないエラー（タイムアウト、接続拒否など）はすべて障害として扱う。
func KindOf(err error) model.AuthErrorKind {
	if err == nil {
		return model.AuthErrorNone
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return ClassifyStatus(apiErr.StatusCode)
	}
	if errors.Is(err, model.ErrInvalidCredentials) {
		return model.AuthErrorCredential
	}
	return model.AuthErrorUnavailable
}
