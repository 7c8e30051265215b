// Package tui はbubbleteaによる端末UIを提供する。
//
// 画面はセッションの読み取りモデル(session.Access)から一意に決まり、
// ログイン、読み込み中、アクセス拒否、ディレクトリのいずれか1つだけが表示される。
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/aifa/directorio/internal/form"
	"github.com/aifa/directorio/internal/model"
	"github.com/aifa/directorio/internal/session"
)

// SessionController はUIが使うセッション操作。*session.Managerが実装する。
type SessionController interface {
	SignIn(ctx context.Context, email, password string) session.Result
	SignOut(ctx context.Context) session.Result
	RetryVerification(ctx context.Context) bool
	NotifyReactivated(ctx context.Context) bool
	CurrentAccess() session.Access
	Watch() (<-chan session.Access, func())
}

// DirectoryService はUIが使うディレクトリ操作。*directory.Serviceが実装する。
type DirectoryService interface {
	List(ctx context.Context, filter model.DirectoryFilter) ([]*model.DirectoryEntry, error)
	Areas(ctx context.Context) ([]*model.Area, error)
	Create(ctx context.Context, actor *model.Identity, in model.EntryInput) (*model.DirectoryEntry, error)
	Update(ctx context.Context, actor *model.Identity, id string, in model.EntryInput) (*model.DirectoryEntry, error)
	Delete(ctx context.Context, actor *model.Identity, id string) error
	ExportCSV(ctx context.Context, w io.Writer, filter model.DirectoryFilter, encoding string) (int, error)
}

// Config はUIの設定。
type Config struct {
	EmailDomain    string
	ExportPath     string
	ExportEncoding string
}

// --- メッセージ ---

type accessMsg session.Access

type watchClosedMsg struct{}

type signInDoneMsg session.Result

type signOutDoneMsg session.Result

type retryDoneMsg bool

type reactivatedMsg bool

type entriesLoadedMsg struct {
	entries []*model.DirectoryEntry
	err     error
}

type areasLoadedMsg struct {
	areas []*model.Area
	err   error
}

type entrySavedMsg struct {
	entry *model.DirectoryEntry
	err   error
}

type entryDeletedMsg struct {
	name string
	err  error
}

type exportDoneMsg struct {
	count int
	path  string
	err   error
}

// Model は端末UIのルートモデル。
type Model struct {
	ctx       context.Context
	sess      SessionController
	dir       DirectoryService
	cfg       Config
	keys      keyMap
	watch     <-chan session.Access
	stopWatch func()

	access  session.Access
	spinner spinner.Model
	width   int

	// ログイン
	email      textinput.Model
	password   textinput.Model
	loginFocus int
	loginErr   string
	signingIn  bool

	// ディレクトリ
	loaded        bool
	entries       []*model.DirectoryEntry
	areas         []*model.Area
	areaIdx       int
	cursor        int
	search        textinput.Model
	searching     bool
	confirmDelete bool
	status        string
	statusErr     bool

	// エントリフォーム
	editor *entryForm
}

// New はModelを生成し、セッションの変化の購読を開始する。
// 終了時はCloseを呼ぶこと。
func New(ctx context.Context, sess SessionController, dir DirectoryService, cfg Config) Model {
	if cfg.EmailDomain == "" {
		cfg.EmailDomain = form.DefaultEmailDomain
	}
	if cfg.ExportPath == "" {
		cfg.ExportPath = "directorio.csv"
	}

	email := textinput.New()
	email.Placeholder = "usuario" + cfg.EmailDomain
	email.Prompt = "Correo: "
	email.CharLimit = 254
	email.Focus()

	password := textinput.New()
	password.Placeholder = "••••••••"
	password.Prompt = "Contraseña: "
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'

	search := textinput.New()
	search.Prompt = "Buscar: "
	search.Placeholder = "nombre, puesto, departamento o email"

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	watch, stop := sess.Watch()

	return Model{
		ctx:       ctx,
		sess:      sess,
		dir:       dir,
		cfg:       cfg,
		keys:      defaultKeyMap(),
		watch:     watch,
		stopWatch: stop,
		access:    sess.CurrentAccess(),
		spinner:   sp,
		email:     email,
		password:  password,
		search:    search,
		areaIdx:   -1,
	}
}

// Close はセッションの購読を解除する。
func (m Model) Close() {
	if m.stopWatch != nil {
		m.stopWatch()
	}
}

// Init はbubbleteaの初期コマンドを返す。
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForAccess(m.watch), m.spinner.Tick, textinput.Blink)
}

// Update はメッセージを処理する。
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.FocusMsg:
		return m, m.reactivatedCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case accessMsg:
		return m.applyAccess(session.Access(msg))

	case watchClosedMsg:
		return m, tea.Quit

	case signInDoneMsg:
		m.signingIn = false
		if !msg.Success {
			m.loginErr = msg.Error
			m.password.Reset()
			return m, nil
		}
		m.loginErr = ""
		m.email.Reset()
		m.password.Reset()
		return m, nil

	case signOutDoneMsg:
		if !msg.Success {
			m.loginErr = msg.Error
		}
		return m, nil

	case retryDoneMsg, reactivatedMsg:
		return m, nil

	case entriesLoadedMsg:
		if msg.err != nil {
			m.setStatus(errorMessage(msg.err), true)
			return m, nil
		}
		m.entries = msg.entries
		m.loaded = true
		if m.cursor >= len(m.entries) {
			m.cursor = max(len(m.entries)-1, 0)
		}
		return m, nil

	case areasLoadedMsg:
		if msg.err != nil {
			m.setStatus(errorMessage(msg.err), true)
			return m, nil
		}
		m.areas = msg.areas
		if m.areaIdx >= len(m.areas) {
			m.areaIdx = -1
		}
		return m, nil

	case entrySavedMsg:
		if msg.err != nil {
			if m.editor != nil {
				m.editor.err = errorMessage(msg.err)
			}
			return m, nil
		}
		m.editor = nil
		m.setStatus("Entrada guardada: "+msg.entry.FullName, false)
		return m, m.loadEntriesCmd()

	case entryDeletedMsg:
		if msg.err != nil {
			m.setStatus("Error al eliminar: "+errorMessage(msg.err), true)
			return m, nil
		}
		m.setStatus("Entrada eliminada correctamente: "+msg.name, false)
		return m, m.loadEntriesCmd()

	case exportDoneMsg:
		if msg.err != nil {
			m.setStatus("Error al exportar: "+errorMessage(msg.err), true)
			return m, nil
		}
		m.setStatus(fmt.Sprintf("%d entradas exportadas a %s", msg.count, msg.path), false)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.ForceQuit) {
			return m, tea.Quit
		}
		switch ViewFor(m.access) {
		case ViewLogin:
			return m.updateLogin(msg)
		case ViewDenied:
			return m.updateDenied(msg)
		case ViewDirectory:
			if m.editor != nil {
				return m.updateForm(msg)
			}
			return m.updateDirectory(msg)
		}
	}
	return m, nil
}

// applyAccess は新しい読み取りモデルを反映し、次の通知を待つ。
// ディレクトリ画面に入った時点で一覧とエリアを読み込む。
func (m Model) applyAccess(a session.Access) (tea.Model, tea.Cmd) {
	before := ViewFor(m.access)
	m.access = a
	after := ViewFor(a)

	cmds := []tea.Cmd{waitForAccess(m.watch)}
	if after == ViewDirectory && before != ViewDirectory {
		cmds = append(cmds, m.loadEntriesCmd(), m.loadAreasCmd())
	}
	if after != ViewDirectory {
		m.resetDirectory()
	}
	if after == ViewLogin && before != ViewLogin {
		m.loginFocus = 0
		m.email.Focus()
		m.password.Blur()
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) resetDirectory() {
	m.loaded = false
	m.entries = nil
	m.areas = nil
	m.areaIdx = -1
	m.cursor = 0
	m.searching = false
	m.search.Reset()
	m.search.Blur()
	m.confirmDelete = false
	m.editor = nil
	m.status = ""
}

// --- ログイン画面 ---

func (m Model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.signingIn {
		return m, nil
	}
	switch {
	case key.Matches(msg, m.keys.Next), key.Matches(msg, m.keys.Prev):
		m.toggleLoginFocus()
		return m, nil
	case key.Matches(msg, m.keys.Submit):
		if m.loginFocus == 0 {
			m.toggleLoginFocus()
			return m, nil
		}
		return m.submitLogin()
	}

	var cmd tea.Cmd
	if m.loginFocus == 0 {
		m.email, cmd = m.email.Update(msg)
	} else {
		m.password, cmd = m.password.Update(msg)
	}
	return m, cmd
}

func (m *Model) toggleLoginFocus() {
	if m.loginFocus == 0 {
		m.loginFocus = 1
		m.email.Blur()
		m.password.Focus()
		return
	}
	m.loginFocus = 0
	m.password.Blur()
	m.email.Focus()
}

// submitLogin はローカル検証を通過した場合のみサインインを開始する。
func (m Model) submitLogin() (tea.Model, tea.Cmd) {
	email := strings.TrimSpace(m.email.Value())
	password := m.password.Value()
	if err := form.ValidateLogin(email, password, m.cfg.EmailDomain); err != nil {
		m.loginErr = errorMessage(err)
		return m, nil
	}
	m.loginErr = ""
	m.signingIn = true
	sess, ctx := m.sess, m.ctx
	return m, func() tea.Msg {
		return signInDoneMsg(sess.SignIn(ctx, email, password))
	}
}

// --- アクセス拒否画面 ---

func (m Model) updateDenied(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Retry):
		sess, ctx := m.sess, m.ctx
		return m, func() tea.Msg {
			return retryDoneMsg(sess.RetryVerification(ctx))
		}
	case key.Matches(msg, m.keys.Quit), key.Matches(msg, m.keys.SignOut):
		return m, m.signOutCmd()
	}
	return m, nil
}

// --- ディレクトリ画面 ---

func (m Model) updateDirectory(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.searching {
		return m.updateSearch(msg)
	}
	if m.confirmDelete {
		m.confirmDelete = false
		if key.Matches(msg, m.keys.Confirm) {
			return m, m.deleteCmd()
		}
		m.setStatus("Eliminación cancelada", false)
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.entries)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Search):
		m.searching = true
		cmd := m.search.Focus()
		return m, cmd
	case key.Matches(msg, m.keys.Area):
		m.areaIdx = (m.areaIdx+2)%(len(m.areas)+1) - 1
		m.cursor = 0
		return m, m.loadEntriesCmd()
	case key.Matches(msg, m.keys.Reload):
		return m, m.loadEntriesCmd()
	case key.Matches(msg, m.keys.New):
		m.editor = newEntryForm(nil, m.areas)
		return m, m.editor.focusCmd()
	case key.Matches(msg, m.keys.Edit):
		if e := m.selected(); e != nil {
			m.editor = newEntryForm(e, m.areas)
			return m, m.editor.focusCmd()
		}
	case key.Matches(msg, m.keys.Delete):
		if e := m.selected(); e != nil {
			m.confirmDelete = true
			m.setStatus(fmt.Sprintf("¿Estás seguro de eliminar a %s? (s/n)", e.FullName), false)
		}
	case key.Matches(msg, m.keys.Export):
		return m, m.exportCmd()
	case key.Matches(msg, m.keys.SignOut):
		return m, m.signOutCmd()
	}
	return m, nil
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Submit):
		m.searching = false
		m.search.Blur()
		m.cursor = 0
		return m, m.loadEntriesCmd()
	case key.Matches(msg, m.keys.Cancel):
		m.searching = false
		m.search.Reset()
		m.search.Blur()
		return m, m.loadEntriesCmd()
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	return m, cmd
}

func (m Model) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.editor = nil
		return m, nil
	case key.Matches(msg, m.keys.Save):
		return m.submitForm()
	case key.Matches(msg, m.keys.Submit):
		if m.editor.last() {
			return m.submitForm()
		}
		return m, m.editor.move(1)
	case key.Matches(msg, m.keys.Next):
		return m, m.editor.move(1)
	case key.Matches(msg, m.keys.Prev):
		return m, m.editor.move(-1)
	}
	return m, m.editor.update(msg)
}

// submitForm はローカル検証を通過した場合のみ保存を開始する。
func (m Model) submitForm() (tea.Model, tea.Cmd) {
	in, err := m.editor.input(m.cfg.EmailDomain)
	if err != nil {
		m.editor.err = errorMessage(err)
		return m, nil
	}
	m.editor.err = ""

	dir, ctx, actor, id := m.dir, m.ctx, m.actor(), m.editor.id
	return m, func() tea.Msg {
		if id == "" {
			entry, err := dir.Create(ctx, actor, in)
			return entrySavedMsg{entry: entry, err: err}
		}
		entry, err := dir.Update(ctx, actor, id, in)
		return entrySavedMsg{entry: entry, err: err}
	}
}

// --- コマンド ---

func waitForAccess(ch <-chan session.Access) tea.Cmd {
	return func() tea.Msg {
		a, ok := <-ch
		if !ok {
			return watchClosedMsg{}
		}
		return accessMsg(a)
	}
}

func (m Model) reactivatedCmd() tea.Cmd {
	sess, ctx := m.sess, m.ctx
	return func() tea.Msg {
		return reactivatedMsg(sess.NotifyReactivated(ctx))
	}
}

func (m Model) signOutCmd() tea.Cmd {
	sess, ctx := m.sess, m.ctx
	return func() tea.Msg {
		return signOutDoneMsg(sess.SignOut(ctx))
	}
}

func (m Model) loadEntriesCmd() tea.Cmd {
	dir, ctx, filter := m.dir, m.ctx, m.filter()
	return func() tea.Msg {
		entries, err := dir.List(ctx, filter)
		return entriesLoadedMsg{entries: entries, err: err}
	}
}

func (m Model) loadAreasCmd() tea.Cmd {
	dir, ctx := m.dir, m.ctx
	return func() tea.Msg {
		areas, err := dir.Areas(ctx)
		return areasLoadedMsg{areas: areas, err: err}
	}
}

func (m Model) deleteCmd() tea.Cmd {
	e := m.selected()
	if e == nil {
		return nil
	}
	dir, ctx, actor := m.dir, m.ctx, m.actor()
	id, name := e.ID, e.FullName
	return func() tea.Msg {
		return entryDeletedMsg{name: name, err: dir.Delete(ctx, actor, id)}
	}
}

func (m Model) exportCmd() tea.Cmd {
	dir, ctx, filter := m.dir, m.ctx, m.filter()
	path, encoding := m.cfg.ExportPath, m.cfg.ExportEncoding
	return func() tea.Msg {
		n, err := exportToFile(ctx, dir, path, filter, encoding)
		return exportDoneMsg{count: n, path: path, err: err}
	}
}

// exportToFile はCSVを一時ファイルに書き出してからpathへ置き換える。
func exportToFile(ctx context.Context, dir DirectoryService, path string, filter model.DirectoryFilter, encoding string) (int, error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create export file: %w", err)
	}
	n, err := dir.ExportCSV(ctx, f, filter, encoding)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("failed to save export file: %w", err)
	}
	return n, nil
}

// --- ヘルパー ---

func (m Model) filter() model.DirectoryFilter {
	f := model.DirectoryFilter{Search: strings.TrimSpace(m.search.Value())}
	if m.areaIdx >= 0 && m.areaIdx < len(m.areas) {
		f.AreaID = m.areas[m.areaIdx].ID
	}
	return f
}

func (m Model) selected() *model.DirectoryEntry {
	if m.cursor < 0 || m.cursor >= len(m.entries) {
		return nil
	}
	return m.entries[m.cursor]
}

// actor はサインイン中のユーザーをエントリの作成者・編集者として返す。
// プロフィールIDはIdentityのIDと一致する。
func (m Model) actor() *model.Identity {
	if m.access.Profile == nil {
		return nil
	}
	return &model.Identity{ID: m.access.Profile.ID}
}

func (m *Model) setStatus(msg string, isErr bool) {
	m.status = msg
	m.statusErr = isErr
}

// errorMessage はユーザー向けのメッセージを取り出す。
func errorMessage(err error) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
