package prompt

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"stamp-cli/internal/crypto"
	"stamp-cli/internal/domain"
)

// TerminalPassphrase は端末からパスフレーズを読み取る PassphraseSource。
// 標準入力が端末でない場合は1行ずつ読み取る。
type TerminalPassphrase struct {
	in      *os.File
	out     io.Writer
	confirm bool
	lines   *bufio.Reader
}

// NewTerminalPassphrase は標準入力から読み取る TerminalPassphrase を生成する。
func NewTerminalPassphrase() *TerminalPassphrase {
	return &TerminalPassphrase{in: os.Stdin, out: os.Stderr, lines: bufio.NewReader(os.Stdin)}
}

// WithConfirm は新しいパスフレーズを2回入力させて確認する TerminalPassphrase を返す。
// 入力は元の TerminalPassphrase と共有する。
func (p *TerminalPassphrase) WithConfirm() *TerminalPassphrase {
	if p.lines == nil {
		p.lines = bufio.NewReader(p.in)
	}
	c := *p
	c.confirm = true
	return &c
}

// Passphrase はパスフレーズを読み取る。空のパスフレーズは受け付けない。
func (p *TerminalPassphrase) Passphrase(ctx context.Context, prompt string) ([]byte, error) {
	first, err := p.read(prompt + ": ")
	if err != nil {
		return nil, err
	}
	if len(first) == 0 {
		return nil, fmt.Errorf("%w: empty passphrase", domain.ErrIncorrectCredential)
	}
	if !p.confirm {
		return first, nil
	}

	second, err := p.read("Confirm passphrase: ")
	if err != nil {
		crypto.Wipe(first)
		return nil, err
	}
	defer crypto.Wipe(second)
	if !bytes.Equal(first, second) {
		crypto.Wipe(first)
		return nil, errors.New("passphrases do not match")
	}
	return first, nil
}

func (p *TerminalPassphrase) read(prompt string) ([]byte, error) {
	fd := int(p.in.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(p.out, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return nil, fmt.Errorf("failed to read passphrase: %w", err)
		}
		return b, nil
	}

	if p.lines == nil {
		p.lines = bufio.NewReader(p.in)
	}
	line, err := p.lines.ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		crypto.Wipe(line)
		return nil, fmt.Errorf("failed to read passphrase from stdin: %w", err)
	}
	trimmed := bytes.TrimRight(line, "\r\n")
	b := append([]byte(nil), trimmed...)
	crypto.Wipe(line)
	return b, nil
}
