package tui

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/aifa/directorio/internal/model"
	"github.com/aifa/directorio/internal/session"
)

// --- モック ---

type mockSession struct {
	mu          sync.Mutex
	access      session.Access
	signInFn    func(ctx context.Context, email, password string) session.Result
	signInCalls int
	signOuts    int
	retries     int
	reactivated int
	watch       chan session.Access
}

func newMockSession(a session.Access) *mockSession {
	return &mockSession{access: a, watch: make(chan session.Access, 1)}
}

func (m *mockSession) SignIn(ctx context.Context, email, password string) session.Result {
	m.mu.Lock()
	m.signInCalls++
	m.mu.Unlock()
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return session.Result{Success: true}
}
func (m *mockSession) SignOut(context.Context) session.Result {
	m.signOuts++
	return session.Result{Success: true}
}
func (m *mockSession) RetryVerification(context.Context) bool {
	m.retries++
	return true
}
func (m *mockSession) NotifyReactivated(context.Context) bool {
	m.reactivated++
	return true
}
func (m *mockSession) CurrentAccess() session.Access {
	return m.access
}
func (m *mockSession) Watch() (<-chan session.Access, func()) {
	return m.watch, func() {}
}

type mockDirectory struct {
	listFn   func(ctx context.Context, filter model.DirectoryFilter) ([]*model.DirectoryEntry, error)
	areas    []*model.Area
	created  *model.EntryInput
	updated  string
	deleted  string
	actorIDs []string
}

func (m *mockDirectory) List(ctx context.Context, filter model.DirectoryFilter) ([]*model.DirectoryEntry, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, nil
}
func (m *mockDirectory) Areas(context.Context) ([]*model.Area, error) {
	return m.areas, nil
}
func (m *mockDirectory) Create(_ context.Context, actor *model.Identity, in model.EntryInput) (*model.DirectoryEntry, error) {
	m.created = &in
	m.actorIDs = append(m.actorIDs, actor.ID)
	return &model.DirectoryEntry{ID: "new", FullName: in.FullName}, nil
}
func (m *mockDirectory) Update(_ context.Context, actor *model.Identity, id string, in model.EntryInput) (*model.DirectoryEntry, error) {
	m.updated = id
	m.actorIDs = append(m.actorIDs, actor.ID)
	return &model.DirectoryEntry{ID: id, FullName: in.FullName}, nil
}
func (m *mockDirectory) Delete(_ context.Context, actor *model.Identity, id string) error {
	m.deleted = id
	m.actorIDs = append(m.actorIDs, actor.ID)
	return nil
}
func (m *mockDirectory) ExportCSV(_ context.Context, w io.Writer, _ model.DirectoryFilter, _ string) (int, error) {
	_, err := io.WriteString(w, "Nombre Completo,Puesto\n\"Ana\",\"Jefa\"")
	return 1, err
}

var (
	_ SessionController = (*session.Manager)(nil)
	_ SessionController = (*mockSession)(nil)
	_ DirectoryService  = (*mockDirectory)(nil)
)

// --- ヘルパー ---

var director = &model.Profile{ID: "profile-1", FullName: "Directora General", Role: model.RoleDirector, Status: model.StatusActive}

func grantedAccess() session.Access {
	return session.Access{IsAuthenticated: true, HasAccess: true, Profile: director, State: session.StateAuthenticatedWithAccess}
}

func unauthenticated() session.Access {
	return session.Access{State: session.StateUnauthenticated}
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	return nm, cmd
}

func newTestModel(t *testing.T, a session.Access) (Model, *mockSession, *mockDirectory) {
	t.Helper()
	sess := newMockSession(a)
	dir := &mockDirectory{}
	m := New(context.Background(), sess, dir, Config{
		EmailDomain: "@aifa.aero",
		ExportPath:  filepath.Join(t.TempDir(), "directorio.csv"),
	})
	return m, sess, dir
}

// directoryModel はディレクトリ画面で一覧を読み込み済みのModelを返す。
func directoryModel(t *testing.T, entries ...*model.DirectoryEntry) (Model, *mockSession, *mockDirectory) {
	t.Helper()
	m, sess, dir := newTestModel(t, grantedAccess())
	m, _ = update(t, m, entriesLoadedMsg{entries: entries})
	return m, sess, dir
}

// --- ViewFor ---

func TestViewFor(t *testing.T) {
	tests := []struct {
		name   string
		access session.Access
		want   View
	}{
		{"初期状態は読み込み中", session.Access{Loading: true, State: session.StateUnknown}, ViewLoading},
		{"前面の検証は読み込み中", session.Access{Loading: true, State: session.StateVerifying}, ViewLoading},
		{"未認証はログイン", unauthenticated(), ViewLogin},
		{"DIRECTORはディレクトリ", grantedAccess(), ViewDirectory},
		{
			"STAFFは拒否画面",
			session.Access{IsAuthenticated: true, Error: model.MsgNotAuthorized, ErrorKind: model.AuthErrorDenied, State: session.StateAuthenticatedNoAccess},
			ViewDenied,
		},
		{
			"プロフィールなしはログイン画面にエラー表示",
			session.Access{Error: model.MsgNotAuthorized, ErrorKind: model.AuthErrorDenied, State: session.StateAuthenticatedNoAccess},
			ViewLogin,
		},
		{
			"通信障害は再試行できる拒否画面",
			session.Access{Error: model.MsgBackendUnavailable, ErrorKind: model.AuthErrorUnavailable, State: session.StateUnauthenticated},
			ViewDenied,
		},
		{
			"復帰時の裏検証中は直前の画面を維持",
			session.Access{IsAuthenticated: true, HasAccess: true, Profile: director, State: session.StateVerifying},
			ViewDirectory,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ViewFor(tt.access); got != tt.want {
				t.Errorf("ViewFor = %s, want %s", got, tt.want)
			}
		})
	}
}

// --- ログイン画面 ---

func TestLogin_MalformedEmailNeverReachesBackend(t *testing.T) {
	m, sess, _ := newTestModel(t, unauthenticated())
	m.email.SetValue("user@gmail.com")
	m.password.SetValue("secreto")
	m.toggleLoginFocus()

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Error("検証エラー時はコマンドを返すべきではない")
	}
	if sess.signInCalls != 0 {
		t.Errorf("signInCalls = %d, want 0", sess.signInCalls)
	}
	if m.loginErr != "Debes usar tu correo institucional @aifa.aero" {
		t.Errorf("loginErr = %q", m.loginErr)
	}
	if !strings.Contains(m.View(), "Debes usar tu correo institucional @aifa.aero") {
		t.Error("エラーがログイン画面に表示されていない")
	}
}

func TestLogin_EmptyFields(t *testing.T) {
	m, sess, _ := newTestModel(t, unauthenticated())
	m.toggleLoginFocus()

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.loginErr != "Por favor completa todos los campos" {
		t.Errorf("loginErr = %q", m.loginErr)
	}
	if sess.signInCalls != 0 {
		t.Errorf("signInCalls = %d, want 0", sess.signInCalls)
	}
}

func TestLogin_EnterOnEmailMovesFocus(t *testing.T) {
	m, sess, _ := newTestModel(t, unauthenticated())
	m.email.SetValue("ana@aifa.aero")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.loginFocus != 1 {
		t.Errorf("loginFocus = %d, want 1", m.loginFocus)
	}
	if sess.signInCalls != 0 {
		t.Error("メール欄でのEnterはサインインしないべき")
	}
}

func TestLogin_SubmitCallsSignIn(t *testing.T) {
	m, sess, _ := newTestModel(t, unauthenticated())
	sess.signInFn = func(_ context.Context, email, password string) session.Result {
		if email != "ana@aifa.aero" || password != "secreto" {
			t.Errorf("SignIn(%q, %q)", email, password)
		}
		return session.Result{Error: model.MsgInvalidCredentials, Kind: model.AuthErrorCredential}
	}
	m.email.SetValue(" ana@aifa.aero ")
	m.password.SetValue("secreto")
	m.toggleLoginFocus()

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("サインインのコマンドが返されていない")
	}
	if !m.signingIn {
		t.Error("signingInがtrueになっていない")
	}

	m, _ = update(t, m, cmd())
	if sess.signInCalls != 1 {
		t.Errorf("signInCalls = %d, want 1", sess.signInCalls)
	}
	if m.signingIn {
		t.Error("完了後はsigningInがfalseになるべき")
	}
	if m.loginErr != model.MsgInvalidCredentials {
		t.Errorf("loginErr = %q, want %q", m.loginErr, model.MsgInvalidCredentials)
	}
	if m.password.Value() != "" {
		t.Error("失敗時はパスワードを消去するべき")
	}
}

func TestLogin_ShowsAccessError(t *testing.T) {
	m, _, _ := newTestModel(t, session.Access{
		Error:     model.MsgNotAuthorized,
		ErrorKind: model.AuthErrorDenied,
		State:     session.StateAuthenticatedNoAccess,
	})

	if !strings.Contains(m.View(), model.MsgNotAuthorized) {
		t.Error("プロフィールなしの拒否メッセージが表示されていない")
	}
}

// --- 拒否画面 ---

func TestDenied_RetryAndSignOut(t *testing.T) {
	m, sess, _ := newTestModel(t, session.Access{
		Error:     model.MsgBackendUnavailable,
		ErrorKind: model.AuthErrorUnavailable,
		State:     session.StateUnauthenticated,
	})
	if !strings.Contains(m.View(), model.MsgBackendUnavailable) {
		t.Error("再試行のメッセージが表示されていない")
	}

	_, cmd := update(t, m, keyRunes("r"))
	if cmd == nil {
		t.Fatal("再試行のコマンドが返されていない")
	}
	cmd()
	if sess.retries != 1 {
		t.Errorf("retries = %d, want 1", sess.retries)
	}

	_, cmd = update(t, m, keyRunes("q"))
	if cmd == nil {
		t.Fatal("サインアウトのコマンドが返されていない")
	}
	cmd()
	if sess.signOuts != 1 {
		t.Errorf("signOuts = %d, want 1", sess.signOuts)
	}
}

// --- 復帰 ---

func TestFocus_NotifiesReactivation(t *testing.T) {
	m, sess, _ := newTestModel(t, grantedAccess())

	_, cmd := update(t, m, tea.FocusMsg{})
	if cmd == nil {
		t.Fatal("復帰通知のコマンドが返されていない")
	}
	cmd()
	if sess.reactivated != 1 {
		t.Errorf("reactivated = %d, want 1", sess.reactivated)
	}
}

// --- ディレクトリ画面 ---

func TestAccessChange_EntersAndLeavesDirectory(t *testing.T) {
	m, _, _ := newTestModel(t, session.Access{Loading: true})

	m, cmd := update(t, m, accessMsg(grantedAccess()))
	if cmd == nil {
		t.Fatal("一覧読み込みのコマンドが返されていない")
	}
	if ViewFor(m.access) != ViewDirectory {
		t.Fatalf("view = %s, want directory", ViewFor(m.access))
	}

	m, _ = update(t, m, entriesLoadedMsg{entries: []*model.DirectoryEntry{{ID: "1", FullName: "Ana Torres"}}})
	if !m.loaded || len(m.entries) != 1 {
		t.Fatalf("entries not applied: loaded=%v len=%d", m.loaded, len(m.entries))
	}

	m, _ = update(t, m, accessMsg(unauthenticated()))
	if m.loaded || m.entries != nil {
		t.Error("ディレクトリ画面を離れたら一覧を破棄するべき")
	}
	if ViewFor(m.access) != ViewLogin {
		t.Errorf("view = %s, want login", ViewFor(m.access))
	}
}

func TestDirectory_RendersEntries(t *testing.T) {
	m, _, _ := directoryModel(t,
		&model.DirectoryEntry{ID: "1", FullName: "Ana Torres", Position: "Jefa de Turno", Area: &model.AreaRef{Name: "Operaciones"}},
		&model.DirectoryEntry{ID: "2", FullName: "Luis Pérez", Position: "Analista", Extension: "101"},
	)

	out := m.View()
	for _, want := range []string{"2 entradas", "Ana Torres", "Operaciones", "Luis Pérez", "ext. 101"} {
		if !strings.Contains(out, want) {
			t.Errorf("View() should contain %q", want)
		}
	}
}

func TestDirectory_SearchBuildsFilter(t *testing.T) {
	var got model.DirectoryFilter
	m, _, dir := directoryModel(t)
	dir.listFn = func(_ context.Context, filter model.DirectoryFilter) ([]*model.DirectoryEntry, error) {
		got = filter
		return nil, nil
	}

	m, _ = update(t, m, keyRunes("/"))
	if !m.searching {
		t.Fatal("/で検索入力に入るべき")
	}
	m, _ = update(t, m, keyRunes("torres"))
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.searching {
		t.Error("Enterで検索入力を終えるべき")
	}
	if cmd == nil {
		t.Fatal("再読み込みのコマンドが返されていない")
	}
	cmd()
	if got.Search != "torres" {
		t.Errorf("filter.Search = %q, want torres", got.Search)
	}
}

func TestDirectory_AreaCycle(t *testing.T) {
	m, _, _ := directoryModel(t)
	m, _ = update(t, m, areasLoadedMsg{areas: []*model.Area{{ID: "a1", Name: "Operaciones"}, {ID: "a2", Name: "Seguridad"}}})

	want := []string{"a1", "a2", ""}
	for _, id := range want {
		m, _ = update(t, m, keyRunes("a"))
		if got := m.filter().AreaID; got != id {
			t.Errorf("AreaID = %q, want %q", got, id)
		}
	}
}

func TestDirectory_DeleteWithConfirmation(t *testing.T) {
	m, _, dir := directoryModel(t, &model.DirectoryEntry{ID: "e1", FullName: "Ana Torres"})

	m, cmd := update(t, m, keyRunes("d"))
	if cmd != nil || !m.confirmDelete {
		t.Fatal("dは確認を求めるべき")
	}
	if !strings.Contains(m.View(), "¿Estás seguro de eliminar a Ana Torres?") {
		t.Error("確認メッセージが表示されていない")
	}

	m, cmd = update(t, m, keyRunes("s"))
	if cmd == nil {
		t.Fatal("削除のコマンドが返されていない")
	}
	m, _ = update(t, m, cmd())
	if dir.deleted != "e1" {
		t.Errorf("deleted = %q, want e1", dir.deleted)
	}
	if len(dir.actorIDs) != 1 || dir.actorIDs[0] != director.ID {
		t.Errorf("actor = %v, want %s", dir.actorIDs, director.ID)
	}
	if !strings.Contains(m.status, "Entrada eliminada correctamente") {
		t.Errorf("status = %q", m.status)
	}
}

func TestDirectory_DeleteCancelled(t *testing.T) {
	m, _, dir := directoryModel(t, &model.DirectoryEntry{ID: "e1", FullName: "Ana Torres"})

	m, _ = update(t, m, keyRunes("d"))
	m, cmd := update(t, m, keyRunes("n"))
	if cmd != nil {
		t.Error("キャンセル時はコマンドを返すべきではない")
	}
	if dir.deleted != "" {
		t.Error("キャンセル時は削除しないべき")
	}
	if m.confirmDelete {
		t.Error("確認状態が解除されていない")
	}
}

func TestDirectory_Export(t *testing.T) {
	m, _, _ := directoryModel(t)

	m, cmd := update(t, m, keyRunes("x"))
	if cmd == nil {
		t.Fatal("エクスポートのコマンドが返されていない")
	}
	m, _ = update(t, m, cmd())

	data, err := os.ReadFile(m.cfg.ExportPath)
	if err != nil {
		t.Fatalf("エクスポートファイルが作成されていない: %v", err)
	}
	if !strings.HasPrefix(string(data), "Nombre Completo,Puesto") {
		t.Errorf("export = %q", data)
	}
	if !strings.Contains(m.status, "1 entradas exportadas") {
		t.Errorf("status = %q", m.status)
	}
}

func TestDirectory_NewEntryForm(t *testing.T) {
	m, _, dir := directoryModel(t)
	m, _ = update(t, m, areasLoadedMsg{areas: []*model.Area{{ID: "a1", Code: "OPS", Name: "Operaciones"}}})

	m, _ = update(t, m, keyRunes("n"))
	if m.editor == nil {
		t.Fatal("nでフォームを開くべき")
	}

	// 必須項目が空のまま保存するとローカル検証で止まる
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	if cmd != nil {
		t.Error("検証エラー時はコマンドを返すべきではない")
	}
	if !strings.Contains(m.editor.err, "El nombre completo es requerido") {
		t.Errorf("form err = %q", m.editor.err)
	}

	m.editor.inputs[fieldFullName].SetValue("Ana Torres")
	m.editor.inputs[fieldPosition].SetValue("Jefa de Turno")
	m.editor.inputs[fieldArea].SetValue("ops")

	m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	if cmd == nil {
		t.Fatal("保存のコマンドが返されていない")
	}
	m, _ = update(t, m, cmd())
	if dir.created == nil || dir.created.AreaID != "a1" {
		t.Errorf("created = %+v, エリアコードがIDに解決されるべき", dir.created)
	}
	if m.editor != nil {
		t.Error("保存後はフォームを閉じるべき")
	}
}

func TestDirectory_EditUnknownArea(t *testing.T) {
	m, _, _ := directoryModel(t, &model.DirectoryEntry{ID: "e1", FullName: "Ana", Position: "Jefa"})

	m, _ = update(t, m, keyRunes("e"))
	if m.editor == nil || m.editor.id != "e1" {
		t.Fatal("eで選択中のエントリを編集するべき")
	}
	m.editor.inputs[fieldArea].SetValue("XYZ")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	if cmd != nil {
		t.Error("未知のエリアではコマンドを返すべきではない")
	}
	if !strings.Contains(m.editor.err, "XYZ") {
		t.Errorf("form err = %q", m.editor.err)
	}

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.editor != nil {
		t.Error("escでフォームを閉じるべき")
	}
}

func TestWatchClosed_Quits(t *testing.T) {
	m, _, _ := newTestModel(t, unauthenticated())

	_, cmd := update(t, m, watchClosedMsg{})
	if cmd == nil {
		t.Fatal("終了コマンドが返されていない")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("tea.Quitを返すべき")
	}
}
