package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"stamp-cli/internal/domain"
)

// TerminalChooser は候補を番号付きの表で表示し、1行の入力で選ばせる。
// 不正な入力はやり直させずに ErrInvalidChoice を返す。
type TerminalChooser struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalChooser は新しいTerminalChooserを生成する。
func NewTerminalChooser(in io.Reader, out io.Writer) *TerminalChooser {
	return &TerminalChooser{in: bufio.NewReader(in), out: out}
}

// Choose は 1 始まりの選択番号を返す。
func (c *TerminalChooser) Choose(candidates []domain.Subkey) (int, error) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(MutedStyle).
		Headers("#", "NAME", "CAPABILITY", "ID", "DESCRIPTION").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return HeaderStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for i, k := range candidates {
		t.Row(strconv.Itoa(i+1), k.Name, string(k.Capability), k.ID.Short(), k.Description)
	}

	fmt.Fprintln(c.out, "Multiple keys match:")
	fmt.Fprintln(c.out, t.Render())
	fmt.Fprintf(c.out, "Choose a key [1-%d]: ", len(candidates))

	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return 0, fmt.Errorf("%w: no choice entered", domain.ErrInvalidChoice)
	}
	choice, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", domain.ErrInvalidChoice, strings.TrimSpace(line))
	}
	if choice < 1 || choice > len(candidates) {
		return 0, fmt.Errorf("%w: %d (expected 1-%d)", domain.ErrInvalidChoice, choice, len(candidates))
	}
	return choice, nil
}
