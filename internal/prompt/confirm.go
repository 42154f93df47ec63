package prompt

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"stamp-cli/internal/domain"
)

// TerminalConfirmer は huh のフォームで破壊的操作の確認を取る。
type TerminalConfirmer struct {
	in *os.File
}

// NewTerminalConfirmer は標準入力を使う TerminalConfirmer を生成する。
func NewTerminalConfirmer() *TerminalConfirmer {
	return &TerminalConfirmer{in: os.Stdin}
}

// Confirm は確認を取る。端末でない場合は ErrConfirmationRequired を返す。
// 中断された場合は拒否として扱う。
func (c *TerminalConfirmer) Confirm(ctx context.Context, message string) (bool, error) {
	if !term.IsTerminal(int(c.in.Fd())) {
		return false, fmt.Errorf("%w: not a terminal, pass --yes to skip confirmation", domain.ErrConfirmationRequired)
	}

	var confirmed bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(message).
				Affirmative("Yes").
				Negative("No").
				Value(&confirmed),
		),
	).WithTheme(huh.ThemeDracula())

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	return confirmed, nil
}
