package gotrue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aifa/directorio/internal/model"
)

const (
	defaultRefreshMargin   = 60 * time.Second
	defaultRefreshInterval = 30 * time.Second
	subscriberBuffer       = 16
)

// tokenAPI はAuthが必要とする認証API操作。Clientが実装する。
type tokenAPI interface {
	SignInWithPassword(ctx context.Context, email, password string) (*model.AuthSession, error)
	RefreshSession(ctx context.Context, refreshToken string) (*model.AuthSession, error)
	SignOut(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (*model.Identity, error)
}

// AuthConfig はAuthの設定。
type AuthConfig struct {
	// AutoRefresh がtrueの場合、Runが期限前にトークンを更新する。
	AutoRefresh bool
	// RefreshMargin は有効期限の何秒前から更新対象とするか。
	RefreshMargin time.Duration
	// RefreshInterval は自動更新のチェック間隔。
	RefreshInterval time.Duration
}

// Auth は現在の認証セッションを保持し、変化を購読者に通知する。
// セッションはStoreに永続化され、次回起動時に復元される。
type Auth struct {
	api    tokenAPI
	store  Store
	logger *slog.Logger
	config AuthConfig
	now    func() time.Time

	// mu はsessionとStoreへの書き込みを同じ順序に保つ。
	mu      sync.Mutex
	session *model.AuthSession
	loaded  bool
	// generation はサインインとローカル破棄のたびに進む。
	// リフレッシュ結果は開始時と同じ世代のときだけ適用する。
	generation uint64

	// refreshMu はリフレッシュトークンの二重使用を防ぐ。
	refreshMu sync.Mutex

	subMu   sync.Mutex
	subs    map[int]chan model.SessionEvent
	nextSub int
}

// NewAuth はAuthを生成する。
func NewAuth(api tokenAPI, store Store, logger *slog.Logger, config AuthConfig) *Auth {
	if config.RefreshMargin <= 0 {
		config.RefreshMargin = defaultRefreshMargin
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = defaultRefreshInterval
	}
	return &Auth{
		api:    api,
		store:  store,
		logger: logger,
		config: config,
		now:    time.Now,
		subs:   make(map[int]chan model.SessionEvent),
	}
}

// GetSession は現在有効なセッションを返す。セッションがない場合はnilを返す。
// 期限切れ間近のセッションはリフレッシュしてから返す。
// リフレッシュトークンが拒否された場合はローカルのセッションを破棄してnilを返す。
func (a *Auth) GetSession(ctx context.Context) (*model.AuthSession, error) {
	current, err := a.current()
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}
	if !a.needsRefresh(current) {
		return current, nil
	}

	refreshed, err := a.refresh(ctx, current)
	if err != nil {
		if KindOf(err) == model.AuthErrorCredential {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	return refreshed, nil
}

// GetUser は現在のセッションの持ち主を認証APIに問い合わせて返す。
// セッションがない場合はnilを返す。
func (a *Auth) GetUser(ctx context.Context) (*model.Identity, error) {
	session, err := a.GetSession(ctx)
	if err != nil || session == nil {
		return nil, err
	}
	return a.api.GetUser(ctx, session.AccessToken)
}

// SignInWithPassword はパスワード認証を行い、成功時にセッションを保存して通知する。
func (a *Auth) SignInWithPassword(ctx context.Context, email, password string) (*model.Identity, error) {
	session, err := a.api.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}

	a.setLocal(session)
	a.logger.Info("signed in", slog.String("user_id", session.UserID))
	a.emit(model.SessionEvent{Kind: model.EventSignedIn, Session: copySession(session)})

	return session.Identity(), nil
}

// SignOut はサーバー側のセッションを無効化する。
// サーバー呼び出しの成否にかかわらずローカルのセッションは破棄し、SIGNED_OUTを通知する。
// 戻り値はサーバー呼び出しの結果のみを表す。
func (a *Auth) SignOut(ctx context.Context) error {
	current, loadErr := a.current()

	var apiErr error
	if current != nil {
		apiErr = a.api.SignOut(ctx, current.AccessToken)
	}

	a.clearLocal()
	a.emit(model.SessionEvent{Kind: model.EventSignedOut})

	if apiErr != nil {
		return fmt.Errorf("failed to sign out: %w", apiErr)
	}
	if loadErr != nil {
		return loadErr
	}
	return nil
}

// Subscribe はセッション変化の通知チャネルを返す。
// 返された関数で購読を解除する（チャネルはクローズされる）。
func (a *Auth) Subscribe() (<-chan model.SessionEvent, func()) {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	id := a.nextSub
	a.nextSub++
	ch := make(chan model.SessionEvent, subscriberBuffer)
	a.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.subMu.Lock()
			defer a.subMu.Unlock()
			delete(a.subs, id)
			close(ch)
		})
	}
}

// Run は自動リフレッシュのループを実行する。ctxがキャンセルされるまでブロックする。
// AutoRefreshが無効の場合は即座に戻る。
func (a *Auth) Run(ctx context.Context) {
	if !a.config.AutoRefresh {
		return
	}

	ticker := time.NewTicker(a.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.refreshIfNeeded(ctx)
		}
	}
}

// refreshIfNeeded は期限切れ間近であればセッションを更新する。
func (a *Auth) refreshIfNeeded(ctx context.Context) {
	current, err := a.current()
	if err != nil || current == nil || !a.needsRefresh(current) {
		return
	}

	if _, err := a.refresh(ctx, current); err != nil && KindOf(err) != model.AuthErrorCredential {
		a.logger.Warn("token auto refresh failed", slog.String("error", err.Error()))
	}
}

// refresh はstaleセッションのリフレッシュトークンで新しいセッションを取得する。
// 他のゴルーチンが先に更新していた場合は、その結果を返す。
// リフレッシュトークンが拒否された場合はローカルのセッションを破棄してSIGNED_OUTを通知する。
// 実行中にサインアウトまたは別のサインインがあった場合、取得した結果は捨てて現在のセッションを返す。
func (a *Auth) refresh(ctx context.Context, stale *model.AuthSession) (*model.AuthSession, error) {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	current, gen, err := a.snapshot()
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("session was cleared during refresh: %w", model.ErrInvalidCredentials)
	}
	if current.AccessToken != stale.AccessToken && !a.needsRefresh(current) {
		return current, nil
	}

	session, err := a.api.RefreshSession(ctx, current.RefreshToken)
	if err != nil {
		if KindOf(err) != model.AuthErrorCredential {
			return nil, err
		}
		if a.clearIf(gen) {
			a.logger.Info("stored session rejected, signing out locally",
				slog.String("user_id", current.UserID),
			)
			a.emit(model.SessionEvent{Kind: model.EventSignedOut})
			return nil, err
		}
		return a.latest()
	}

	if !a.commit(gen, session) {
		a.logger.Info("session changed during refresh, discarding refreshed token",
			slog.String("user_id", session.UserID),
		)
		return a.latest()
	}

	a.logger.Info("token refreshed",
		slog.String("user_id", session.UserID),
		slog.Time("expires_at", session.ExpiresAt),
	)
	a.emit(model.SessionEvent{Kind: model.EventTokenRefreshed, Session: copySession(session)})
	return copySession(session), nil
}

// latest はリフレッシュ中に入れ替わったセッションを返す。
// サインアウト済みの場合は資格情報エラーを返す。
func (a *Auth) latest() (*model.AuthSession, error) {
	s, err := a.current()
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("session was cleared during refresh: %w", model.ErrInvalidCredentials)
	}
	return s, nil
}

func (a *Auth) needsRefresh(s *model.AuthSession) bool {
	return s.Expired(a.now().Add(a.config.RefreshMargin))
}

// current は保持中のセッションのコピーを返す。初回はStoreから読み込む。
func (a *Auth) current() (*model.AuthSession, error) {
	s, _, err := a.snapshot()
	return s, err
}

// snapshot は保持中のセッションのコピーと世代を返す。
func (a *Auth) snapshot() (*model.AuthSession, uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.loaded {
		s, err := a.store.Load()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to load stored session: %w", err)
		}
		a.session = s
		a.loaded = true
	}
	return copySession(a.session), a.generation, nil
}

// setLocal は新しいサインインのセッションを保持して保存する。
func (a *Auth) setLocal(s *model.AuthSession) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.generation++
	a.storeLocked(s)
}

// commit はgenが現在の世代と一致する場合だけリフレッシュ結果を保持する。
func (a *Auth) commit(gen uint64, s *model.AuthSession) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.generation != gen {
		return false
	}
	a.storeLocked(s)
	return true
}

// clearLocal はローカルのセッションを破棄する。
func (a *Auth) clearLocal() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.generation++
	a.storeLocked(nil)
}

// clearIf はgenが現在の世代と一致する場合だけローカルのセッションを破棄する。
func (a *Auth) clearIf(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.generation != gen {
		return false
	}
	a.generation++
	a.storeLocked(nil)
	return true
}

// storeLocked はセッションを保持してStoreに書き込む。a.muを保持して呼ぶこと。
func (a *Auth) storeLocked(s *model.AuthSession) {
	a.session = copySession(s)
	a.loaded = true

	if s == nil {
		if err := a.store.Clear(); err != nil {
			a.logger.Warn("failed to clear stored session", slog.String("error", err.Error()))
		}
		return
	}
	if err := a.store.Save(s); err != nil {
		a.logger.Warn("failed to persist session", slog.String("error", err.Error()))
	}
}

// emit は全購読者に通知する。バッファが満杯の購読者には送らない。
func (a *Auth) emit(ev model.SessionEvent) {
	a.subMu.Lock()
	defer a.subMu.Unlock()

	for id, ch := range a.subs {
		select {
		case ch <- ev:
		default:
			a.logger.Warn("session event dropped for slow subscriber",
				slog.Int("subscriber", id),
				slog.String("event", string(ev.Kind)),
			)
		}
	}
}

func copySession(s *model.AuthSession) *model.AuthSession {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
