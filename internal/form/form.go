// Package form はログインフォームとエントリフォームのローカル検証を提供する。
// 検証はバックエンド呼び出しの前に行う。
package form

import (
	"sort"
	"strings"

	"github.com/aifa/directorio/internal/model"
)

// DefaultEmailDomain は許可されるメールアドレスの既定ドメイン。
const DefaultEmailDomain = "@aifa.aero"

// ログインフォームのメッセージ
const (
	MsgRequiredFields = "Por favor completa todos los campos"
	msgDomainPrefix   = "Debes usar tu correo institucional "
)

// エントリフォームのメッセージ
const (
	MsgFullNameRequired = "El nombre completo es requerido"
	MsgPositionRequired = "El puesto es requerido"
	msgEmailDomain      = "El email debe ser del dominio "
)

// エントリフォームのフィールド名
const (
	FieldFullName = "nombre_completo"
	FieldPosition = "puesto"
	FieldEmail    = "email"
)

// ValidateLogin はログイン入力を検証する。問題がなければnilを返す。
func ValidateLogin(email, password, domain string) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return model.NewInvalidEntryError(MsgRequiredFields)
	}
	domain = normalizeDomain(domain)
	if !HasDomain(email, domain) {
		return model.NewInvalidEntryError(msgDomainPrefix + domain)
	}
	return nil
}

// HasDomain はメールアドレスが指定ドメインで終わるかどうかを返す。
// 大文字小文字は区別しない。ローカル部が空の場合はfalse。
func HasDomain(email, domain string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	domain = strings.ToLower(normalizeDomain(domain))
	return len(email) > len(domain) && strings.HasSuffix(email, domain)
}

// FieldErrors はフィールド名からエラーメッセージへのマップ。
type FieldErrors map[string]string

// Error はerrorインターフェースを実装する。メッセージはフィールド名順に連結される。
func (fe FieldErrors) Error() string {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, fe[k])
	}
	return strings.Join(msgs, "; ")
}

// ValidateEntry はエントリ入力を検証する。
// 氏名と役職は必須。メールは入力されている場合のみドメインを検証する。
func ValidateEntry(in model.EntryInput, domain string) FieldErrors {
	errs := FieldErrors{}

	if strings.TrimSpace(in.FullName) == "" {
		errs[FieldFullName] = MsgFullNameRequired
	}
	if strings.TrimSpace(in.Position) == "" {
		errs[FieldPosition] = MsgPositionRequired
	}
	if email := strings.TrimSpace(in.Email); email != "" && !HasDomain(email, domain) {
		errs[FieldEmail] = msgEmailDomain + normalizeDomain(domain)
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func normalizeDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return DefaultEmailDomain
	}
	if !strings.HasPrefix(domain, "@") {
		domain = "@" + domain
	}
	return domain
}
