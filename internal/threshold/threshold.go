// Package threshold はマスター鍵のM-of-N分散バックアップと復元を提供する。
package threshold

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/vault/shamir"

	"stamp-cli/internal/crypto"
	"stamp-cli/internal/domain"
)

// Validator は復元候補の秘密を検証する。受理する場合は nil を返す。
type Validator func(secret []byte) error

// ParseSpec は "M/N" または "M,N" 形式の閾値指定を解釈する。
func ParseSpec(s string) (domain.ThresholdSpec, error) {
	sep := "/"
	if !strings.Contains(s, sep) {
		sep = ","
	}
	parts := strings.Split(strings.TrimSpace(s), sep)
	if len(parts) != 2 {
		return domain.ThresholdSpec{}, fmt.Errorf("%w: %q (expected M/N)", domain.ErrInvalidThreshold, s)
	}
	m, errM := strconv.Atoi(strings.TrimSpace(parts[0]))
	n, errN := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errM != nil || errN != nil {
		return domain.ThresholdSpec{}, fmt.Errorf("%w: %q (expected M/N)", domain.ErrInvalidThreshold, s)
	}
	spec := domain.ThresholdSpec{Threshold: m, Total: n}
	if err := spec.Validate(); err != nil {
		return domain.ThresholdSpec{}, err
	}
	return spec, nil
}

// Split は秘密を N 個のシェアに分割する。任意の M 個から復元できる。
// M が 1 の場合は各シェアが秘密そのものを保持する。
func Split(secret []byte, m, n int) ([]domain.Share, error) {
	if err := (domain.ThresholdSpec{Threshold: m, Total: n}).Validate(); err != nil {
		return nil, err
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: splitting secret: empty secret", domain.ErrCryptoFailure)
	}

	var payloads [][]byte
	if m == 1 {
		payloads = make([][]byte, n)
		for i := range payloads {
			payloads[i] = append([]byte(nil), secret...)
		}
	} else {
		parts, err := shamir.Split(secret, n, m)
		if err != nil {
			return nil, fmt.Errorf("%w: splitting secret: %v", domain.ErrCryptoFailure, err)
		}
		payloads = parts
	}

	shares := make([]domain.Share, n)
	for i, p := range payloads {
		shares[i] = domain.Share{Index: uint8(i + 1), Payload: p}
	}
	return shares, nil
}

// Recover はシェアから秘密を復元する。
// 閾値が分からないため |shares| から 1 まで推定を下げながら試し、validate が受理した最初の候補を返す。
func Recover(shares []domain.Share, validate Validator) ([]byte, error) {
	if validate == nil {
		return nil, fmt.Errorf("%w: validator is required", domain.ErrRecoveryFailed)
	}
	unique := dedupe(shares)
	if len(unique) == 0 {
		return nil, fmt.Errorf("%w: no shares given", domain.ErrRecoveryFailed)
	}

	for guess := len(unique); guess >= 1; guess-- {
		candidate, err := combine(unique[:guess])
		if err != nil {
			continue
		}
		if err := validate(candidate); err != nil {
			crypto.Wipe(candidate)
			continue
		}
		return candidate, nil
	}
	return nil, fmt.Errorf("%w: none of %d share(s) combined into a valid secret", domain.ErrRecoveryFailed, len(unique))
}

func combine(shares []domain.Share) ([]byte, error) {
	if len(shares) == 1 {
		return append([]byte(nil), shares[0].Payload...), nil
	}
	parts := make([][]byte, len(shares))
	for i, s := range shares {
		parts[i] = s.Payload
	}
	return shamir.Combine(parts)
}

func dedupe(shares []domain.Share) []domain.Share {
	var out []domain.Share
	seen := make(map[uint8]bool)
	for _, s := range shares {
		if seen[s.Index] || len(s.Payload) == 0 {
			continue
		}
		dup := false
		for _, o := range out {
			if bytes.Equal(o.Payload, s.Payload) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		seen[s.Index] = true
		out = append(out, s)
	}
	return out
}

// EncodeShare はシェアを1バイトのインデックスとペイロードのbase64テキストにする。
func EncodeShare(s domain.Share) string {
	buf := make([]byte, 0, 1+len(s.Payload))
	buf = append(buf, s.Index)
	buf = append(buf, s.Payload...)
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeShare は EncodeShare の逆変換を行う。
func DecodeShare(text string) (domain.Share, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(text))
	if err != nil {
		return domain.Share{}, fmt.Errorf("%w: decoding share: %v", domain.ErrRecoveryFailed, err)
	}
	if len(raw) < 2 {
		return domain.Share{}, fmt.Errorf("%w: decoding share: share is too short", domain.ErrRecoveryFailed)
	}
	return domain.Share{Index: raw[0], Payload: raw[1:]}, nil
}

// EncodeShares はシェアを1行1シェアのテキストにする。
func EncodeShares(shares []domain.Share) string {
	lines := make([]string, len(shares))
	for i, s := range shares {
		lines[i] = EncodeShare(s)
	}
	return strings.Join(lines, "\n") + "\n"
}

// DecodeShares は1行1シェアのテキストを読み込む。空行は無視する。
func DecodeShares(text string) ([]domain.Share, error) {
	var shares []domain.Share
	for i, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		s, err := DecodeShare(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		shares = append(shares, s)
	}
	return shares, nil
}
