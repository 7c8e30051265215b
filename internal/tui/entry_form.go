package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/aifa/directorio/internal/form"
	"github.com/aifa/directorio/internal/model"
)

// entryField はエントリフォームの入力欄。
type entryField struct {
	label string
	limit int
}

const (
	fieldFullName = iota
	fieldPosition
	fieldArea
	fieldDepartment
	fieldPhone
	fieldExtension
	fieldEmail
	fieldMobile
	fieldOffice
	fieldNotes
)

var entryFields = []entryField{
	fieldFullName:   {"Nombre completo *", 200},
	fieldPosition:   {"Puesto *", 200},
	fieldArea:       {"Área (clave)", 20},
	fieldDepartment: {"Departamento", 200},
	fieldPhone:      {"Teléfono", 40},
	fieldExtension:  {"Extensión", 10},
	fieldEmail:      {"Email", 254},
	fieldMobile:     {"Celular", 40},
	fieldOffice:     {"Ubicación", 200},
	fieldNotes:      {"Notas", 500},
}

// entryForm はエントリの作成・編集フォーム。idが空の場合は新規作成。
type entryForm struct {
	id     string
	order  int
	photo  string
	areas  []*model.Area
	inputs []textinput.Model
	focus  int
	err    string
}

func newEntryForm(e *model.DirectoryEntry, areas []*model.Area) *entryForm {
	f := &entryForm{areas: areas, inputs: make([]textinput.Model, len(entryFields))}
	for i, field := range entryFields {
		in := textinput.New()
		in.Prompt = ""
		in.CharLimit = field.limit
		f.inputs[i] = in
	}

	if e != nil {
		f.id = e.ID
		f.order = e.DisplayOrder
		f.photo = e.PhotoURL
		f.inputs[fieldFullName].SetValue(e.FullName)
		f.inputs[fieldPosition].SetValue(e.Position)
		if e.Area != nil {
			f.inputs[fieldArea].SetValue(e.Area.Code)
		}
		f.inputs[fieldDepartment].SetValue(e.Department)
		f.inputs[fieldPhone].SetValue(e.Phone)
		f.inputs[fieldExtension].SetValue(e.Extension)
		f.inputs[fieldEmail].SetValue(e.Email)
		f.inputs[fieldMobile].SetValue(e.Mobile)
		f.inputs[fieldOffice].SetValue(e.OfficeLocation)
		f.inputs[fieldNotes].SetValue(e.Notes)
	}
	return f
}

func (f *entryForm) title() string {
	if f.id == "" {
		return "Nueva entrada"
	}
	return "Editar entrada"
}

func (f *entryForm) focusCmd() tea.Cmd {
	for i := range f.inputs {
		f.inputs[i].Blur()
	}
	return f.inputs[f.focus].Focus()
}

func (f *entryForm) move(delta int) tea.Cmd {
	f.focus = (f.focus + delta + len(f.inputs)) % len(f.inputs)
	return f.focusCmd()
}

func (f *entryForm) last() bool {
	return f.focus == len(f.inputs)-1
}

func (f *entryForm) update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return cmd
}

func (f *entryForm) value(i int) string {
	return strings.TrimSpace(f.inputs[i].Value())
}

// input はフォームの値を検証してEntryInputを返す。
// エリアはコード（大文字小文字を区別しない）からIDに解決する。
func (f *entryForm) input(domain string) (model.EntryInput, error) {
	in := model.EntryInput{
		FullName:       f.value(fieldFullName),
		Position:       f.value(fieldPosition),
		Department:     f.value(fieldDepartment),
		Phone:          f.value(fieldPhone),
		Extension:      f.value(fieldExtension),
		Email:          f.value(fieldEmail),
		Mobile:         f.value(fieldMobile),
		OfficeLocation: f.value(fieldOffice),
		PhotoURL:       f.photo,
		Notes:          f.value(fieldNotes),
		DisplayOrder:   f.order,
	}

	if code := f.value(fieldArea); code != "" {
		for _, a := range f.areas {
			if strings.EqualFold(a.Code, code) {
				in.AreaID = a.ID
				break
			}
		}
		if in.AreaID == "" {
			return in, model.NewAreaNotFoundError(code)
		}
	}

	if errs := form.ValidateEntry(in, domain); errs != nil {
		return in, model.NewInvalidEntryError(errs.Error())
	}
	return in, nil
}
