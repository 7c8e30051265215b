package tui

import (
	"fmt"
	"strings"

	"github.com/aifa/directorio/internal/model"
	"github.com/aifa/directorio/internal/session"
	"github.com/aifa/directorio/internal/style"
)

// View は表示する画面。
type View int

const (
	ViewLoading View = iota
	ViewLogin
	ViewDenied
	ViewDirectory
)

// String は画面名を返す。
func (v View) String() string {
	switch v {
	case ViewLoading:
		return "loading"
	case ViewLogin:
		return "login"
	case ViewDenied:
		return "denied"
	case ViewDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// ViewFor は読み取りモデルから表示する画面を決める。
// 検証の失敗（通信・サービス障害）は拒否画面で再試行を促し、
// プロフィールがない場合はログイン画面にエラーを表示する。
func ViewFor(a session.Access) View {
	switch {
	case a.Loading:
		return ViewLoading
	case a.IsAuthenticated && a.HasAccess:
		return ViewDirectory
	case a.ErrorKind == model.AuthErrorUnavailable:
		return ViewDenied
	case a.IsAuthenticated:
		return ViewDenied
	default:
		return ViewLogin
	}
}

// View は現在の画面を描画する。
func (m Model) View() string {
	var body string
	switch ViewFor(m.access) {
	case ViewLoading:
		body = m.viewLoading()
	case ViewLogin:
		body = m.viewLogin()
	case ViewDenied:
		body = m.viewDenied()
	case ViewDirectory:
		if m.editor != nil {
			body = m.viewForm()
		} else {
			body = m.viewDirectory()
		}
	}
	return style.Title.Render("Directorio AIFA") + "\n\n" + body + "\n"
}

func (m Model) viewLoading() string {
	return m.spinner.View() + " Verificando sesión..."
}

func (m Model) viewLogin() string {
	var b strings.Builder
	b.WriteString(style.Bold.Render("Iniciar sesión") + "\n\n")
	b.WriteString(m.email.View() + "\n")
	b.WriteString(m.password.View() + "\n")

	// ローカル検証・サインイン失敗を優先し、なければ検証結果のエラーを表示する
	msg := m.loginErr
	if msg == "" {
		msg = m.access.Error
	}
	if msg != "" {
		b.WriteString("\n" + style.ErrorPrefix + " " + style.Error.Render(msg) + "\n")
	}
	if m.signingIn {
		b.WriteString("\n" + m.spinner.View() + " Iniciando sesión...\n")
	}
	b.WriteString("\n" + style.Dim.Render(helpLine(m.keys.Next, m.keys.Submit, m.keys.ForceQuit)))
	return style.Panel.Render(b.String())
}

func (m Model) viewDenied() string {
	var b strings.Builder
	if m.access.ErrorKind == model.AuthErrorUnavailable {
		b.WriteString(style.WarningPrefix + " " + style.Warning.Render("Sin conexión") + "\n\n")
	} else {
		b.WriteString(style.ErrorPrefix + " " + style.Error.Render("Acceso denegado") + "\n\n")
	}
	if m.access.Error != "" {
		b.WriteString(m.access.Error + "\n")
	}
	if p := m.access.Profile; p != nil {
		b.WriteString(style.Dim.Render(fmt.Sprintf("%s · %s", p.FullName, p.Role)) + "\n")
	}
	if m.access.State == session.StateVerifying {
		b.WriteString("\n" + m.spinner.View() + " Verificando...\n")
	}
	b.WriteString("\n" + style.Dim.Render(helpLine(m.keys.Retry, m.keys.Quit)+" (cerrar sesión)"))
	return style.Panel.Render(b.String())
}

func (m Model) viewDirectory() string {
	var b strings.Builder

	count := len(m.entries)
	noun := "entradas"
	if count == 1 {
		noun = "entrada"
	}
	header := style.Bold.Render("Directorio") + " " + style.Dim.Render(fmt.Sprintf("%d %s", count, noun))
	if p := m.access.Profile; p != nil {
		header += "  " + style.Info.Render(p.FullName)
	}
	b.WriteString(header + "\n")

	area := "Todas las áreas"
	if m.areaIdx >= 0 && m.areaIdx < len(m.areas) {
		area = m.areas[m.areaIdx].Name
	}
	b.WriteString(style.Dim.Render("Área: "+area) + "\n")
	if m.searching || m.search.Value() != "" {
		b.WriteString(m.search.View() + "\n")
	}
	b.WriteString("\n")

	switch {
	case !m.loaded:
		b.WriteString(m.spinner.View() + " Cargando...\n")
	case count == 0:
		b.WriteString(style.Dim.Render("No hay entradas") + "\n")
	default:
		for i, e := range m.entries {
			line := formatEntry(e)
			if i == m.cursor {
				line = style.Selected.Render("› " + line)
			} else {
				line = "  " + line
			}
			b.WriteString(line + "\n")
		}
	}

	if m.status != "" {
		b.WriteString("\n")
		if m.statusErr {
			b.WriteString(style.ErrorPrefix + " " + style.Error.Render(m.status))
		} else {
			b.WriteString(style.ArrowPrefix + " " + m.status)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n" + style.Dim.Render(helpLine(
		m.keys.Search, m.keys.Area, m.keys.New, m.keys.Edit, m.keys.Delete,
		m.keys.Export, m.keys.SignOut, m.keys.Quit,
	)))
	return b.String()
}

func (m Model) viewForm() string {
	f := m.editor
	var b strings.Builder
	b.WriteString(style.Bold.Render(f.title()) + "\n\n")
	for i, field := range entryFields {
		label := fmt.Sprintf("%-18s", field.label)
		if i == f.focus {
			label = style.Info.Render(label)
		}
		b.WriteString(label + " " + f.inputs[i].View() + "\n")
	}
	if f.err != "" {
		b.WriteString("\n" + style.ErrorPrefix + " " + style.Error.Render(f.err) + "\n")
	}
	b.WriteString("\n" + style.Dim.Render(helpLine(m.keys.Next, m.keys.Save, m.keys.Cancel)))
	return style.Panel.Render(b.String())
}

func formatEntry(e *model.DirectoryEntry) string {
	parts := []string{e.FullName, e.Position}
	if e.Area != nil {
		parts = append(parts, e.Area.Name)
	}
	if e.Extension != "" {
		parts = append(parts, "ext. "+e.Extension)
	}
	if e.Email != "" {
		parts = append(parts, e.Email)
	}
	return strings.Join(parts, " · ")
}
