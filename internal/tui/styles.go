package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorTitle   = lipgloss.Color("#7aa2f7")
	colorWorking = lipgloss.Color("#e0af68")
	colorDone    = lipgloss.Color("#9ece6a")
	colorError   = lipgloss.Color("#f7768e")
	colorBorder  = lipgloss.Color("#3b4261")
	colorFocus   = lipgloss.Color("#bb9af7")
	colorFg      = lipgloss.Color("#c0caf5")
	colorDim     = lipgloss.Color("#565f89")
	colorSelBg   = lipgloss.Color("#283457")
)

var (
	titleStyle    = lipgloss.NewStyle().Foreground(colorTitle).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(colorDim)
	userStyle     = lipgloss.NewStyle().Foreground(colorTitle).Bold(true)
	assistStyle   = lipgloss.NewStyle().Foreground(colorDone).Bold(true)
	errorStyle    = lipgloss.NewStyle().Foreground(colorError)
	workingStyle  = lipgloss.NewStyle().Foreground(colorWorking)
	selectedStyle = lipgloss.NewStyle().Foreground(colorFg).Background(colorSelBg).Bold(true)
	bodyStyle     = lipgloss.NewStyle().Foreground(colorFg)
	noticeStyle   = lipgloss.NewStyle().Foreground(colorWorking).Italic(true)
)

func paneStyle(focused bool) lipgloss.Style {
	border := colorBorder
	if focused {
		border = colorFocus
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1)
}
