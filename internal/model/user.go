// Package model はドメインモデルを定義する。
package model

import "time"

// Role はプロフィールの主たる役割を表す。
type Role string

const (
	// RoleDirector はシステムへのアクセスが許可される唯一の役割。
	RoleDirector    Role = "DIRECTOR"
	RoleSubdirector Role = "SUBDIRECTOR"
	RoleAreaHead    Role = "JEFE_AREA"
	RoleStaff       Role = "STAFF"
)

// Status はレコードのライフサイクル状態を表す。
// 削除は行削除ではなくINACTIVOへの変更（論理削除）で表現する。
type Status string

const (
	StatusActive   Status = "ACTIVO"
	StatusInactive Status = "INACTIVO"
)

// Identity は認証サービス側のユーザー参照を表す。
// サインイン成功で生成され、サインアウトで破棄される。
type Identity struct {
	ID    string
	Email string
}

// AuthSession は認証サービスが発行したセッションを表す。
// 実行間でローカルに永続化される。
type AuthSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
}

// Identity はセッションに紐づくIdentityを返す。
func (s *AuthSession) Identity() *Identity {
	if s == nil || s.UserID == "" {
		return nil
	}
	return &Identity{ID: s.UserID, Email: s.Email}
}

// Expired は指定時刻にセッションのアクセストークンが期限切れかどうかを返す。
func (s *AuthSession) Expired(now time.Time) bool {
	return s.ExpiresAt.IsZero() || !now.Before(s.ExpiresAt)
}

// Profile はIdentityに1:1で紐づくアプリケーション側のレコード（perfilesテーブル）。
// status = ACTIVO の場合のみ認可判定に使用する。
type Profile struct {
	ID        string
	FullName  string
	Role      Role
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDirector はDIRECTORかつACTIVOのプロフィールかどうかを返す。
func (p *Profile) IsDirector() bool {
	return p != nil && p.Role == RoleDirector && p.Status == StatusActive
}

// SessionEventKind は認証サービスから通知されるセッション変化の種類。
type SessionEventKind string

const (
	EventSignedIn       SessionEventKind = "SIGNED_IN"
	EventSignedOut      SessionEventKind = "SIGNED_OUT"
	EventTokenRefreshed SessionEventKind = "TOKEN_REFRESHED"
	EventUserUpdated    SessionEventKind = "USER_UPDATED"
)

// SessionEvent はセッション変化通知を表す。サインアウト時のSessionはnil。
type SessionEvent struct {
	Kind    SessionEventKind
	Session *AuthSession
}
