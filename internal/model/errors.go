// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, directory, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNotAuthenticated   = "NOT_AUTHENTICATED"
	ErrCodeEntryNotFound      = "ENTRY_NOT_FOUND"
	ErrCodeAreaNotFound       = "AREA_NOT_FOUND"
	ErrCodeInvalidEntry       = "INVALID_ENTRY"
	ErrCodeInvalidID          = "INVALID_ID"
	ErrCodeUnsupportedCharset = "UNSUPPORTED_CHARSET"
)

// AuthErrorKind は認証・認可の失敗分類。
type AuthErrorKind string

const (
	// AuthErrorNone はエラーなし。
	AuthErrorNone AuthErrorKind = ""
	// AuthErrorCredential は認証サービスが資格情報を拒否したことを示す。
	AuthErrorCredential AuthErrorKind = "credential"
	// AuthErrorDenied は有効なIdentityだが、条件を満たすプロフィールがないことを示す。
	AuthErrorDenied AuthErrorKind = "denied"
	// AuthErrorUnavailable は通信・サービス障害で検証を完了できなかったことを示す。
	// 拒否とは区別し、再試行を促す。
	AuthErrorUnavailable AuthErrorKind = "unavailable"
)

// ユーザー向けメッセージ
const (
	MsgNotAuthorized      = "Usuario no autorizado para acceder al sistema"
	MsgBackendUnavailable = "No se pudo verificar la sesión. Intenta de nuevo."
	MsgInvalidCredentials = "Credenciales de inicio de sesión inválidas"
	MsgNotAuthenticated   = "Usuario no autenticado"
	MsgSignInUnavailable  = "No se pudo conectar con el servicio de autenticación. Intenta de nuevo."
	MsgSignOutFailed      = "No se pudo cerrar la sesión en el servidor"
	MsgVerificationBusy   = "Verificación en curso. Espera un momento."
)

// ErrBackendUnavailable は通信・サービス障害を表す番兵エラー。
// 呼び出し元はerrors.Isで判定する。
var ErrBackendUnavailable = errors.New("backend unavailable")

// ErrInvalidCredentials は資格情報が拒否されたことを表す番兵エラー。
var ErrInvalidCredentials = errors.New("invalid credentials")

// NewNotAuthenticatedError は未認証エラーを生成する。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  MsgNotAuthenticated,
		Category: "auth",
		Action:   "Inicia sesión nuevamente.",
	}
}

// NewEntryNotFoundError はエントリ未検出エラーを生成する。
func NewEntryNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeEntryNotFound,
		Message:  fmt.Sprintf("No se encontró la entrada: %s", id),
		Category: "directory",
		Action:   "Recarga el directorio y verifica que la entrada siga activa.",
	}
}

// NewAreaNotFoundError はエリア未検出エラーを生成する。
func NewAreaNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeAreaNotFound,
		Message:  fmt.Sprintf("No se encontró el área: %s", id),
		Category: "directory",
		Action:   "Selecciona un área activa.",
	}
}

// NewInvalidEntryError は入力検証エラーを生成する。
func NewInvalidEntryError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEntry,
		Message:  message,
		Category: "validation",
		Action:   "Corrige los campos marcados e intenta de nuevo.",
	}
}

// NewInvalidIDError はID形式エラーを生成する。
func NewInvalidIDError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidID,
		Message:  fmt.Sprintf("Identificador inválido: %s", id),
		Category: "validation",
		Action:   "Verifica el identificador.",
	}
}

// NewUnsupportedCharsetError は未対応の文字コード指定エラーを生成する。
func NewUnsupportedCharsetError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedCharset,
		Message:  fmt.Sprintf("Codificación no soportada: %s", name),
		Category: "validation",
		Action:   "Usa utf-8 o windows-1252.",
	}
}
