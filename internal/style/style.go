// Package style は端末UIとCLI出力で共通のLipglossスタイルを提供する。
package style

import "github.com/charmbracelet/lipgloss"

var (
	// Success は成功メッセージ
	Success = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10")).
		Bold(true)

	// Warning は注意メッセージ
	Warning = lipgloss.NewStyle().
		Foreground(lipgloss.Color("11")).
		Bold(true)

	// Error はエラーメッセージ
	Error = lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	// Info は補足情報
	Info = lipgloss.NewStyle().
		Foreground(lipgloss.Color("12"))

	// Dim は二次的な情報
	Dim = lipgloss.NewStyle().
		Foreground(lipgloss.Color("8"))

	// Bold は強調
	Bold = lipgloss.NewStyle().
		Bold(true)

	// Title は画面の見出し
	Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("24")).
		Bold(true).
		Padding(0, 1)

	// Panel はログインフォームや拒否画面の枠
	Panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("24")).
		Padding(1, 2)

	// Selected は一覧の選択行
	Selected = lipgloss.NewStyle().
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("238"))

	// SuccessPrefix は成功メッセージの接頭辞
	SuccessPrefix = Success.Render("✓")

	// WarningPrefix は注意メッセージの接頭辞
	WarningPrefix = Warning.Render("⚠")

	// ErrorPrefix はエラーメッセージの接頭辞
	ErrorPrefix = Error.Render("✗")

	// ArrowPrefix は操作を示す接頭辞
	ArrowPrefix = Info.Render("→")
)
