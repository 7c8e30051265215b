package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aifa/directorio/internal/gotrue"
	"github.com/aifa/directorio/internal/model"
	"github.com/aifa/directorio/internal/session"
)

// --- モック ---

type mockAuthSource struct {
	getSessionFn func(ctx context.Context) (*model.AuthSession, error)
	signInFn     func(ctx context.Context, email, password string) (*model.Identity, error)
	signOutFn    func(ctx context.Context) error
	events       chan model.SessionEvent
}

func (m *mockAuthSource) GetSession(ctx context.Context) (*model.AuthSession, error) {
	if m.getSessionFn != nil {
		return m.getSessionFn(ctx)
	}
	return nil, nil
}

func (m *mockAuthSource) SignInWithPassword(ctx context.Context, email, password string) (*model.Identity, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAuthSource) SignOut(ctx context.Context) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx)
	}
	return nil
}

func (m *mockAuthSource) Subscribe() (<-chan model.SessionEvent, func()) {
	return m.events, func() {}
}

type mockProfileRepo struct {
	calls int
	fn    func(ctx context.Context, id string) (*model.Profile, error)
}

func (m *mockProfileRepo) FindActiveByID(ctx context.Context, id string) (*model.Profile, error) {
	m.calls++
	if m.fn != nil {
		return m.fn(ctx, id)
	}
	return nil, nil
}

type mockEventRecorder struct {
	kinds []string
}

func (m *mockEventRecorder) RecordSessionEvent(kind string) {
	m.kinds = append(m.kinds, kind)
}

const testIdentityID = "4b0f1e02-8f8e-4d55-9a3c-0c1d2e3f4a5b"

// --- backendAdapter ---

func TestBackendAdapter_FetchActiveProfile(t *testing.T) {
	profiles := &mockProfileRepo{fn: func(_ context.Context, id string) (*model.Profile, error) {
		return &model.Profile{ID: id, Role: model.RoleDirector, Status: model.StatusActive}, nil
	}}
	b := newBackendAdapter(&mockAuthSource{}, profiles)

	p, err := b.FetchActiveProfile(context.Background(), testIdentityID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil || p.ID != testIdentityID {
		t.Errorf("profile = %+v, want ID %s", p, testIdentityID)
	}
}

func TestBackendAdapter_FetchActiveProfile_NonUUIDIsNoProfile(t *testing.T) {
	profiles := &mockProfileRepo{}
	b := newBackendAdapter(&mockAuthSource{}, profiles)

	p, err := b.FetchActiveProfile(context.Background(), "not-a-uuid")
	if err != nil || p != nil {
		t.Errorf("FetchActiveProfile = (%v, %v), want (nil, nil)", p, err)
	}
	if profiles.calls != 0 {
		t.Error("UUIDでないIDでリポジトリを呼ぶべきではない")
	}
}

func TestBackendAdapter_DelegatesToAuth(t *testing.T) {
	events := make(chan model.SessionEvent)
	auth := &mockAuthSource{
		getSessionFn: func(context.Context) (*model.AuthSession, error) {
			return &model.AuthSession{UserID: testIdentityID}, nil
		},
		signInFn: func(_ context.Context, email, password string) (*model.Identity, error) {
			return &model.Identity{ID: testIdentityID, Email: email}, nil
		},
		signOutFn: func(context.Context) error { return errors.New("network down") },
		events:    events,
	}
	b := newBackendAdapter(auth, &mockProfileRepo{})
	ctx := context.Background()

	s, err := b.GetCurrentSession(ctx)
	if err != nil || s.UserID != testIdentityID {
		t.Errorf("GetCurrentSession = (%+v, %v)", s, err)
	}
	id, err := b.SignInWithPassword(ctx, "ana@aifa.aero", "secreto")
	if err != nil || id.Email != "ana@aifa.aero" {
		t.Errorf("SignInWithPassword = (%+v, %v)", id, err)
	}
	if err := b.SignOut(ctx); err == nil {
		t.Error("SignOutのエラーがそのまま返されるべき")
	}
	ch, _ := b.SubscribeSessionChanges()
	if ch != (<-chan model.SessionEvent)(events) {
		t.Error("購読チャネルが認証サービスのものではない")
	}
}

// セッションマネージャと組み合わせて、DIRECTORのみがアクセスできることを確認する
func TestBackendAdapter_WithSessionManager(t *testing.T) {
	tests := []struct {
		name       string
		profile    *model.Profile
		wantAccess bool
		wantState  session.State
	}{
		{"DIRECTOR", &model.Profile{ID: testIdentityID, FullName: "Ana", Role: model.RoleDirector, Status: model.StatusActive}, true, session.StateAuthenticatedWithAccess},
		{"STAFF", &model.Profile{ID: testIdentityID, FullName: "Luis", Role: model.RoleStaff, Status: model.StatusActive}, false, session.StateAuthenticatedNoAccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &mockAuthSource{
				getSessionFn: func(context.Context) (*model.AuthSession, error) {
					return &model.AuthSession{UserID: testIdentityID, Email: "ana@aifa.aero"}, nil
				},
				events: make(chan model.SessionEvent),
			}
			profiles := &mockProfileRepo{fn: func(context.Context, string) (*model.Profile, error) {
				return tt.profile, nil
			}}

			m := session.New(newBackendAdapter(auth, profiles), session.Options{})
			defer m.Close()

			a := m.Start(context.Background())
			if a.HasAccess != tt.wantAccess {
				t.Errorf("HasAccess = %v, want %v", a.HasAccess, tt.wantAccess)
			}
			if a.State != tt.wantState {
				t.Errorf("State = %s, want %s", a.State, tt.wantState)
			}
		})
	}
}

// stubTokenAPI はgotrue.Authに渡す認証APIのスタブ。
// RefreshSessionはreleaseが閉じられるまで戻らない。
type stubTokenAPI struct {
	started chan struct{}
	release chan struct{}
}

func (s *stubTokenAPI) SignInWithPassword(_ context.Context, email, _ string) (*model.AuthSession, error) {
	return &model.AuthSession{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(30 * time.Second),
		UserID:       testIdentityID,
		Email:        email,
	}, nil
}

func (s *stubTokenAPI) RefreshSession(context.Context, string) (*model.AuthSession, error) {
	close(s.started)
	<-s.release
	return &model.AuthSession{
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		ExpiresAt:    time.Now().Add(time.Hour),
		UserID:       testIdentityID,
		Email:        "ana@aifa.aero",
	}, nil
}

func (s *stubTokenAPI) SignOut(context.Context, string) error { return nil }

func (s *stubTokenAPI) GetUser(context.Context, string) (*model.Identity, error) {
	return &model.Identity{ID: testIdentityID}, nil
}

func TestSignOutDuringTokenRefresh_StaysSignedOut(t *testing.T) {
	api := &stubTokenAPI{started: make(chan struct{}), release: make(chan struct{})}
	store := gotrue.NewMemoryStore()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	auth := gotrue.NewAuth(api, store, logger, gotrue.AuthConfig{})
	profiles := &mockProfileRepo{fn: func(context.Context, string) (*model.Profile, error) {
		return &model.Profile{ID: testIdentityID, FullName: "Ana", Role: model.RoleDirector, Status: model.StatusActive}, nil
	}}

	m := session.New(newBackendAdapter(auth, profiles), session.Options{Logger: logger})
	defer m.Close()
	ctx := context.Background()

	if res := m.SignIn(ctx, "ana@aifa.aero", "secreto"); !res.Success {
		t.Fatalf("SignIn = %+v", res)
	}
	if !m.CurrentAccess().HasAccess {
		t.Fatal("DIRECTORはサインイン後にアクセスできるべき")
	}

	retried := make(chan bool, 1)
	go func() { retried <- m.RetryVerification(ctx) }()
	select {
	case <-api.started:
	case <-time.After(time.Second):
		t.Fatal("検証がトークンを更新しなかった")
	}

	if res := m.SignOut(ctx); !res.Success {
		t.Fatalf("SignOut = %+v", res)
	}
	close(api.release)
	select {
	case <-retried:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for verification")
	}

	if a := m.CurrentAccess(); a.IsAuthenticated || a.HasAccess {
		t.Errorf("サインアウト後に認証状態が戻った: %+v", a)
	}
	if stored, _ := store.Load(); stored != nil {
		t.Errorf("サインアウト後にセッションが保存されている: %+v", stored)
	}

	if !m.RetryVerification(ctx) {
		t.Fatal("RetryVerification should run when idle")
	}
	if a := m.CurrentAccess(); a.IsAuthenticated || a.HasAccess || a.State != session.StateUnauthenticated {
		t.Errorf("再検証後 = %+v, want unauthenticated", a)
	}
}

// --- countSessionEvents ---

func TestCountSessionEvents(t *testing.T) {
	events := make(chan model.SessionEvent, 3)
	events <- model.SessionEvent{Kind: model.EventSignedIn}
	events <- model.SessionEvent{Kind: model.EventTokenRefreshed}
	events <- model.SessionEvent{Kind: model.EventSignedOut}
	close(events)

	rec := &mockEventRecorder{}
	countSessionEvents(events, rec)

	got := strings.Join(rec.kinds, ",")
	if got != "SIGNED_IN,TOKEN_REFRESHED,SIGNED_OUT" {
		t.Errorf("recorded = %s", got)
	}
}

// --- describeAccess ---

func TestDescribeAccess(t *testing.T) {
	tests := []struct {
		name   string
		access session.Access
		want   []string
	}{
		{
			"アクセス許可",
			session.Access{IsAuthenticated: true, HasAccess: true, Profile: &model.Profile{FullName: "Ana Torres", Role: model.RoleDirector}},
			[]string{"Ana Torres", "DIRECTOR"},
		},
		{
			"役割による拒否",
			session.Access{IsAuthenticated: true, Profile: &model.Profile{FullName: "Luis", Role: model.RoleStaff}, Error: model.MsgNotAuthorized},
			[]string{"Acceso denegado", "Luis", "STAFF", model.MsgNotAuthorized},
		},
		{
			"プロフィールなし",
			session.Access{Error: model.MsgNotAuthorized, ErrorKind: model.AuthErrorDenied},
			[]string{model.MsgNotAuthorized},
		},
		{
			"通信障害",
			session.Access{Error: model.MsgBackendUnavailable, ErrorKind: model.AuthErrorUnavailable},
			[]string{model.MsgBackendUnavailable},
		},
		{
			"未サインイン",
			session.Access{},
			[]string{"directorio login"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := describeAccess(tt.access)
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("describeAccess() = %q, want to contain %q", got, want)
				}
			}
		})
	}
}
