// Package session は認証セッションのライフサイクルと、そこから導出される認可判定を管理する。
//
// Managerは「いま利用可能で認可されたIdentityがあるか」という単一の事実を
// 読み取りモデル(Access)として公開する。検証(セッション確認とプロフィール読み込み)は
// 同時に1つしか実行されず、実行中に届いた契機は破棄される。
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aifa/directorio/internal/model"
)

// State はセッションの状態。
type State int

const (
	StateUnknown State = iota
	StateVerifying
	StateUnauthenticated
	StateAuthenticatedNoAccess
	StateAuthenticatedWithAccess
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateVerifying:
		return "verifying"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticatedNoAccess:
		return "authenticated_no_access"
	case StateAuthenticatedWithAccess:
		return "authenticated_with_access"
	default:
		return "invalid"
	}
}

// 検証の契機
const (
	triggerStartup     = "startup"
	triggerSignIn      = "sign_in"
	triggerRetry       = "retry"
	triggerReactivated = "reactivated"
	triggerEventPrefix = "event:"
)

// 検証結果（メトリクスのラベル）
const (
	outcomeGranted         = "granted"
	outcomeDenied          = "denied"
	outcomeNoProfile       = "no_profile"
	outcomeUnauthenticated = "unauthenticated"
	outcomeUnavailable     = "unavailable"
	outcomeDiscarded       = "discarded"
)

// Backend は認証サービスとレコードストアへの操作。
type Backend interface {
	// GetCurrentSession は現在のセッションを返す。セッションがない場合はnilを返す。
	GetCurrentSession(ctx context.Context) (*model.AuthSession, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Identity, error)
	SignOut(ctx context.Context) error
	// FetchActiveProfile はIdentityに紐づくACTIVOのプロフィールを返す。該当がない場合はnilを返す。
	FetchActiveProfile(ctx context.Context, identityID string) (*model.Profile, error)
	// SubscribeSessionChanges はセッション変化の通知チャネルと購読解除関数を返す。
	SubscribeSessionChanges() (<-chan model.SessionEvent, func())
}

// Recorder はセッション関連のメトリクスを記録する。
type Recorder interface {
	RecordVerification(outcome string, duration time.Duration)
	RecordTriggerDropped(trigger string)
	RecordProfileFetch(duration time.Duration)
	RecordSignIn(outcome string)
	RecordSignOut(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordVerification(string, time.Duration) {}
func (nopRecorder) RecordTriggerDropped(string)              {}
func (nopRecorder) RecordProfileFetch(time.Duration)         {}
func (nopRecorder) RecordSignIn(string)                      {}
func (nopRecorder) RecordSignOut(string)                     {}

// Access はプレゼンテーション層が読む読み取りモデル。
// 常に値全体として公開され、部分的に更新されることはない。
type Access struct {
	IsAuthenticated bool
	HasAccess       bool
	Profile         *model.Profile
	Loading         bool
	Error           string
	ErrorKind       model.AuthErrorKind
	State           State
}

// Result はSignIn/SignOutの結果。
type Result struct {
	Success bool
	Error   string
	Kind    model.AuthErrorKind
	Err     error
}

// Options はManagerの設定。
type Options struct {
	// Debounce は復帰通知(NotifyReactivated)を無視する最小間隔。0の場合は間引かない。
	Debounce time.Duration
	Logger   *slog.Logger
	Metrics  Recorder
	Now      func() time.Time
}

// ErrClosed はClose後に呼ばれた操作が返すエラー。
var ErrClosed = errors.New("session manager closed")

// Manager は認証セッションと認可判定の唯一の書き手。
type Manager struct {
	backend  Backend
	logger   *slog.Logger
	metrics  Recorder
	debounce time.Duration
	now      func() time.Time

	// inFlight は検証の実行中フラグ。
	inFlight atomic.Bool

	mu               sync.Mutex
	state            State
	identity         *model.Identity
	profile          *model.Profile
	errMsg           string
	errKind          model.AuthErrorKind
	quiet            bool
	epoch            uint64
	lastReactivation time.Time
	watchers         map[int]chan Access
	nextWatcher      int
	closed           bool
	// closing はCloseの開始後にtrueになり、新しい検証を受け付けなくする。
	closing bool

	startOnce   sync.Once
	closeOnce   sync.Once
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
}

// New はManagerを生成する。状態はUnknownで、Startを呼ぶまで検証は行わない。
func New(backend Backend, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		backend:  backend,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		debounce: opts.Debounce,
		now:      opts.Now,
		state:    StateUnknown,
		watchers: make(map[int]chan Access),
	}
}

// Start はセッション変化の購読を開始し、初回の検証を実行する。
// 初回検証が終わるまでブロックし、その時点のAccessを返す。
// ctxがキャンセルされるかCloseが呼ばれるまで通知の処理を続ける。
func (m *Manager) Start(ctx context.Context) Access {
	m.startOnce.Do(func() {
		if !m.track() {
			return
		}
		defer m.wg.Done()

		loopCtx, cancel := context.WithCancel(ctx)
		events, unsubscribe := m.backend.SubscribeSessionChanges()

		m.mu.Lock()
		m.cancel = cancel
		m.unsubscribe = unsubscribe
		m.mu.Unlock()

		// 初回検証中に届いた通知は破棄させるため、ループより先にガードを取る
		acquired := m.begin(triggerStartup)

		m.wg.Add(1)
		go m.loop(loopCtx, events)

		if acquired {
			m.verify(loopCtx, triggerStartup, false)
			m.release()
		}
	})
	return m.CurrentAccess()
}

// Close は購読を解除し、実行中の検証の終了を待つ。Watchのチャネルはクローズされる。
// Startの初回検証とループの検証はキャンセルされる。
// それ以外の検証は呼び出し元のctxで完了するまで待つ。
// Close後の検証の呼び出しは何もしない。
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closing = true
		cancel, unsubscribe := m.cancel, m.unsubscribe
		m.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if unsubscribe != nil {
			unsubscribe()
		}
		m.wg.Wait()

		m.mu.Lock()
		defer m.mu.Unlock()
		m.closed = true
		for id, ch := range m.watchers {
			delete(m.watchers, id)
			close(ch)
		}
	})
}

// CurrentAccess は現在の読み取りモデルのスナップショットを返す。
func (m *Manager) CurrentAccess() Access {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// StateName は現在の状態名を返す。
func (m *Manager) StateName() string {
	return m.CurrentAccess().State.String()
}

// Watch は状態が変わるたびに最新のAccessを受け取るチャネルを返す。
// 購読直後に現在値が1つ届く。受信が遅れた場合は最新値のみが残る。
func (m *Manager) Watch() (<-chan Access, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Access, 1)
	if m.closed {
		close(ch)
		return ch, func() {}
	}

	id := m.nextWatcher
	m.nextWatcher++
	m.watchers[id] = ch
	ch <- m.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.watchers[id]; ok {
				delete(m.watchers, id)
				close(c)
			}
		})
	}
}

// SignIn は資格情報でサインインし、成功した場合はプロフィールを読み込む。
// 入力形式の検証は呼び出し側の責務。
// 失敗時は理由をResultで返し、状態はUnauthenticatedになる。
func (m *Manager) SignIn(ctx context.Context, email, password string) Result {
	if !m.track() {
		return Result{Error: model.MsgSignInUnavailable, Kind: model.AuthErrorUnavailable, Err: ErrClosed}
	}
	defer m.wg.Done()

	if !m.begin(triggerSignIn) {
		return Result{Error: model.MsgVerificationBusy, Kind: model.AuthErrorUnavailable}
	}
	defer m.release()

	start := m.now()
	epoch := m.enterVerifying(false)

	identity, err := m.backend.SignInWithPassword(ctx, email, password)
	if err == nil && identity == nil {
		err = errors.New("sign in returned no identity")
	}
	if err != nil {
		kind := classify(err)
		msg := model.MsgSignInUnavailable
		if kind == model.AuthErrorCredential {
			msg = model.MsgInvalidCredentials
		}
		m.logger.Info("sign in failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		m.metrics.RecordSignIn(string(kind))
		m.settle(epoch, StateUnauthenticated, nil, nil, "", model.AuthErrorNone)
		return Result{Error: msg, Kind: kind, Err: err}
	}

	m.metrics.RecordSignIn("success")
	outcome := m.loadProfile(ctx, epoch, identity)
	m.finish(triggerSignIn, outcome, identity, start)
	return Result{Success: true}
}

// SignOut はサーバー側のセッション無効化を要求し、結果にかかわらずローカル状態を破棄する。
// サーバー呼び出しの失敗はResultで報告する（診断用）。
func (m *Manager) SignOut(ctx context.Context) Result {
	err := m.backend.SignOut(ctx)

	m.mu.Lock()
	// 実行中の検証の結果はこれ以降適用しない
	m.epoch++
	m.state = StateUnauthenticated
	m.identity = nil
	m.profile = nil
	m.errMsg = ""
	m.errKind = model.AuthErrorNone
	m.quiet = false
	m.publishLocked()
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("backend sign out failed, local session cleared",
			slog.String("error", err.Error()),
		)
		m.metrics.RecordSignOut("error")
		return Result{Error: model.MsgSignOutFailed, Kind: classify(err), Err: err}
	}

	m.logger.Info("signed out")
	m.metrics.RecordSignOut("success")
	return Result{Success: true}
}

// RetryVerification は検証をやり直す。検証が既に実行中の場合は何もせずfalseを返す。
func (m *Manager) RetryVerification(ctx context.Context) bool {
	if !m.track() {
		return false
	}
	defer m.wg.Done()

	if !m.begin(triggerRetry) {
		return false
	}
	defer m.release()
	m.verify(ctx, triggerRetry, false)
	return true
}

// NotifyReactivated はアプリケーションが前面に戻ったことを通知する。
// 直前の通知からDebounce未満の場合、または検証が実行中の場合は何もせずfalseを返す。
func (m *Manager) NotifyReactivated(ctx context.Context) bool {
	m.mu.Lock()
	now := m.now()
	if m.debounce > 0 && !m.lastReactivation.IsZero() && now.Sub(m.lastReactivation) < m.debounce {
		m.mu.Unlock()
		m.logger.Debug("reactivation debounced")
		return false
	}
	m.lastReactivation = now
	m.mu.Unlock()

	if !m.track() {
		return false
	}
	defer m.wg.Done()

	if !m.begin(triggerReactivated) {
		return false
	}
	defer m.release()
	m.verify(ctx, triggerReactivated, true)
	return true
}

// loop はセッション変化通知を受け取り、検証を起動する。
// 破棄の判定は受信時に行うため、実行中に届いた通知が後から処理されることはない。
func (m *Manager) loop(ctx context.Context, events <-chan model.SessionEvent) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			trigger := triggerEventPrefix + string(ev.Kind)
			if !m.begin(trigger) {
				continue
			}
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				defer m.release()
				m.verify(ctx, trigger, true)
			}()
		}
	}
}

// track は呼び出しをCloseの待機対象に加える。Closeの開始後はfalseを返す。
// trueを返した場合、呼び出し側はm.wg.Doneを呼ぶこと。
func (m *Manager) track() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return false
	}
	m.wg.Add(1)
	return true
}

// begin はガードの取得を試みる。取得できなかった契機は破棄される。
func (m *Manager) begin(trigger string) bool {
	if m.inFlight.CompareAndSwap(false, true) {
		return true
	}
	m.logger.Debug("verification already in flight, trigger dropped",
		slog.String("trigger", trigger),
	)
	m.metrics.RecordTriggerDropped(trigger)
	return false
}

func (m *Manager) release() {
	m.inFlight.Store(false)
}

// verify はセッションを確認し、Identityがあればプロフィールを読み込む。
// 呼び出し側がガードを保持していること。
// backgroundがtrueの場合は読み込み中表示にしない。
func (m *Manager) verify(ctx context.Context, trigger string, background bool) {
	start := m.now()
	epoch := m.enterVerifying(background)

	session, err := m.backend.GetCurrentSession(ctx)
	if err != nil {
		m.logger.Warn("session verification failed",
			slog.String("trigger", trigger),
			slog.String("error", err.Error()),
		)
		outcome := outcomeUnavailable
		if !m.settle(epoch, StateUnauthenticated, nil, nil, model.MsgBackendUnavailable, model.AuthErrorUnavailable) {
			outcome = outcomeDiscarded
		}
		m.finish(trigger, outcome, nil, start)
		return
	}

	identity := session.Identity()
	if identity == nil {
		outcome := outcomeUnauthenticated
		if !m.settle(epoch, StateUnauthenticated, nil, nil, "", model.AuthErrorNone) {
			outcome = outcomeDiscarded
		}
		m.finish(trigger, outcome, nil, start)
		return
	}

	outcome := m.loadProfile(ctx, epoch, identity)
	m.finish(trigger, outcome, identity, start)
}

// loadProfile はプロフィールを取得して認可を判定し、結果を適用する。
func (m *Manager) loadProfile(ctx context.Context, epoch uint64, identity *model.Identity) string {
	start := m.now()
	profile, err := m.backend.FetchActiveProfile(ctx, identity.ID)
	m.metrics.RecordProfileFetch(m.now().Sub(start))

	var (
		applied bool
		outcome string
	)
	switch {
	case err != nil:
		m.logger.Warn("profile fetch failed",
			slog.String("user_id", identity.ID),
			slog.String("error", err.Error()),
		)
		outcome = outcomeUnavailable
		applied = m.settle(epoch, StateUnauthenticated, identity, nil, model.MsgBackendUnavailable, model.AuthErrorUnavailable)
	case profile == nil:
		outcome = outcomeNoProfile
		applied = m.settle(epoch, StateAuthenticatedNoAccess, identity, nil, model.MsgNotAuthorized, model.AuthErrorDenied)
	case profile.IsDirector():
		outcome = outcomeGranted
		applied = m.settle(epoch, StateAuthenticatedWithAccess, identity, profile, "", model.AuthErrorNone)
	default:
		outcome = outcomeDenied
		applied = m.settle(epoch, StateAuthenticatedNoAccess, identity, profile, model.MsgNotAuthorized, model.AuthErrorDenied)
	}
	if !applied {
		return outcomeDiscarded
	}
	return outcome
}

func (m *Manager) finish(trigger, outcome string, identity *model.Identity, start time.Time) {
	duration := m.now().Sub(start)
	attrs := []any{
		slog.String("trigger", trigger),
		slog.String("outcome", outcome),
		slog.Duration("duration", duration),
	}
	if identity != nil {
		attrs = append(attrs, slog.String("user_id", identity.ID))
	}
	m.logger.Info("session verified", attrs...)
	m.metrics.RecordVerification(outcome, duration)
}

// enterVerifying はVerifyingへ遷移し、現在の世代を返す。
func (m *Manager) enterVerifying(background bool) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = StateVerifying
	m.quiet = background
	if !background {
		m.errMsg = ""
		m.errKind = model.AuthErrorNone
	}
	m.publishLocked()
	return m.epoch
}

// settle は検証結果で状態を置き換える。
// 検証開始後にサインアウトされていた場合は適用せずfalseを返す。
func (m *Manager) settle(epoch uint64, state State, identity *model.Identity, profile *model.Profile, msg string, kind model.AuthErrorKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch {
		m.logger.Debug("stale verification result discarded", slog.String("state", state.String()))
		return false
	}
	m.state = state
	m.identity = identity
	m.profile = copyProfile(profile)
	m.errMsg = msg
	m.errKind = kind
	m.quiet = false
	m.publishLocked()
	return true
}

func (m *Manager) snapshotLocked() Access {
	a := Access{
		IsAuthenticated: m.identity != nil && m.profile != nil,
		HasAccess:       m.identity != nil && m.profile.IsDirector(),
		Profile:         copyProfile(m.profile),
		Error:           m.errMsg,
		ErrorKind:       m.errKind,
		State:           m.state,
	}
	switch m.state {
	case StateUnknown:
		a.Loading = true
	case StateVerifying:
		a.Loading = !m.quiet
	}
	return a
}

// publishLocked は全Watcherに最新のスナップショットを送る。未受信の古い値は捨てる。
func (m *Manager) publishLocked() {
	if m.closed {
		return
	}
	snapshot := m.snapshotLocked()
	for _, ch := range m.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}

// classify はバックエンドのエラーを分類する。資格情報の拒否以外はすべて障害として扱う。
func classify(err error) model.AuthErrorKind {
	if errors.Is(err, model.ErrInvalidCredentials) {
		return model.AuthErrorCredential
	}
	return model.AuthErrorUnavailable
}

func copyProfile(p *model.Profile) *model.Profile {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
