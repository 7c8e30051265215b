package app

import (
	"context"

	"github.com/google/uuid"

	"github.com/aifa/directorio/internal/model"
	"github.com/aifa/directorio/internal/repository"
	"github.com/aifa/directorio/internal/session"
)

// authSource は認証サービス側の操作。*gotrue.Authが実装する。
type authSource interface {
	GetSession(ctx context.Context) (*model.AuthSession, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Identity, error)
	SignOut(ctx context.Context) error
	Subscribe() (<-chan model.SessionEvent, func())
}

// backendAdapter は認証サービスとプロフィールリポジトリをsession.Backendにまとめる。
type backendAdapter struct {
	auth     authSource
	profiles repository.ProfileRepository
}

func newBackendAdapter(auth authSource, profiles repository.ProfileRepository) *backendAdapter {
	return &backendAdapter{auth: auth, profiles: profiles}
}

func (b *backendAdapter) GetCurrentSession(ctx context.Context) (*model.AuthSession, error) {
	return b.auth.GetSession(ctx)
}

func (b *backendAdapter) SignInWithPassword(ctx context.Context, email, password string) (*model.Identity, error) {
	return b.auth.SignInWithPassword(ctx, email, password)
}

func (b *backendAdapter) SignOut(ctx context.Context) error {
	return b.auth.SignOut(ctx)
}

// FetchActiveProfile はIdentity IDに一致するACTIVOのプロフィールを返す。
// UUIDでないIDはperfilesに存在し得ないため、問い合わせずにnilを返す。
func (b *backendAdapter) FetchActiveProfile(ctx context.Context, identityID string) (*model.Profile, error) {
	if err := uuid.Validate(identityID); err != nil {
		return nil, nil
	}
	return b.profiles.FindActiveByID(ctx, identityID)
}

func (b *backendAdapter) SubscribeSessionChanges() (<-chan model.SessionEvent, func()) {
	return b.auth.Subscribe()
}

// compile-time interface check
var _ session.Backend = (*backendAdapter)(nil)
