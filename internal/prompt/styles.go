// Package prompt は端末でのパスフレーズ入力、確認、鍵の選択と出力スタイルを提供する。
package prompt

import "github.com/charmbracelet/lipgloss"

var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

// RenderReady は適用可否を色付きで返す。
func RenderReady(ready bool) string {
	if ready {
		return PassStyle.Render("ready")
	}
	return WarnStyle.Render("pending")
}

// RenderWarn は警告色で返す。
func RenderWarn(s string) string {
	return WarnStyle.Render(s)
}

// RenderFail はエラー色で返す。
func RenderFail(s string) string {
	return FailStyle.Render(s)
}

// RenderMuted は補足情報の色で返す。
func RenderMuted(s string) string {
	return MutedStyle.Render(s)
}

// RenderAccent は強調色で返す。
func RenderAccent(s string) string {
	return AccentStyle.Render(s)
}
