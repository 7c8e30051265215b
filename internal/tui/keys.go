package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap は画面ごとのキー割り当て。
type keyMap struct {
	ForceQuit key.Binding
	Quit      key.Binding
	Next      key.Binding
	Prev      key.Binding
	Submit    key.Binding
	Cancel    key.Binding
	Retry     key.Binding
	SignOut   key.Binding
	Up        key.Binding
	Down      key.Binding
	Search    key.Binding
	Area      key.Binding
	New       key.Binding
	Edit      key.Binding
	Delete    key.Binding
	Export    key.Binding
	Reload    key.Binding
	Confirm   key.Binding
	Save      key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		ForceQuit: key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "salir")),
		Quit:      key.NewBinding(key.WithKeys("q"), key.WithHelp("q", "salir")),
		Next:      key.NewBinding(key.WithKeys("tab", "down"), key.WithHelp("tab", "siguiente")),
		Prev:      key.NewBinding(key.WithKeys("shift+tab", "up"), key.WithHelp("shift+tab", "anterior")),
		Submit:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "aceptar")),
		Cancel:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancelar")),
		Retry:     key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reintentar")),
		SignOut:   key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "cerrar sesión")),
		Up:        key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "arriba")),
		Down:      key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "abajo")),
		Search:    key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "buscar")),
		Area:      key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "área")),
		New:       key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "nuevo")),
		Edit:      key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "editar")),
		Delete:    key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "eliminar")),
		Export:    key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "exportar CSV")),
		Reload:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "recargar")),
		Confirm:   key.NewBinding(key.WithKeys("y", "s"), key.WithHelp("s", "confirmar")),
		Save:      key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "guardar")),
	}
}

// helpLine はキー割り当ての説明を1行にまとめる。
func helpLine(bindings ...key.Binding) string {
	var s string
	for i, b := range bindings {
		if i > 0 {
			s += " · "
		}
		h := b.Help()
		s += h.Key + " " + h.Desc
	}
	return s
}
