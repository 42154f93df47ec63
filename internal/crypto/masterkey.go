// Package crypto はマスター鍵の導出と秘密データの封緘を提供する。
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/argon2"

	"stamp-cli/internal/domain"
)

// MasterKeySize はマスター鍵のバイト長。
const MasterKeySize = 32

// MasterKey はアイデンティティの秘密データを封緘する対称鍵。
// 使い終わったら必ず Wipe を呼ぶこと。
type MasterKey struct {
	key []byte
}

// NewMasterKey は与えられたバイト列のコピーからマスター鍵を生成する。
func NewMasterKey(b []byte) (*MasterKey, error) {
	if len(b) != MasterKeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes, got %d", domain.ErrCryptoFailure, MasterKeySize, len(b))
	}
	return &MasterKey{key: append([]byte(nil), b...)}, nil
}

// Bytes は鍵のバイト列を返す。呼び出し側で保持しないこと。
func (k *MasterKey) Bytes() []byte {
	return k.key
}

// Wipe は鍵をゼロで上書きする。nil でも安全に呼べる。
func (k *MasterKey) Wipe() {
	if k == nil {
		return
	}
	Wipe(k.key)
}

// KDFParams はargon2idのコストパラメータ。
type KDFParams struct {
	Time     uint32
	MemoryKB uint32
	Threads  uint8
}

var (
	// KDFModerate は通常利用時のコスト。
	KDFModerate = KDFParams{Time: 3, MemoryKB: 256 * 1024, Threads: 1}

	// KDFInteractive は開発・テスト用の低コスト設定。
	KDFInteractive = KDFParams{Time: 2, MemoryKB: 64 * 1024, Threads: 1}
)

func (p KDFParams) validate() error {
	if p.Time == 0 || p.Threads == 0 || p.MemoryKB < 8*uint32(p.Threads) {
		return fmt.Errorf("%w: invalid kdf parameters t=%d m=%d p=%d", domain.ErrCryptoFailure, p.Time, p.MemoryKB, p.Threads)
	}
	return nil
}

// DeriveMasterKey はパスフレーズとソルトからマスター鍵を導出する。
func DeriveMasterKey(passphrase, salt []byte, p KDFParams) (*MasterKey, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: empty passphrase", domain.ErrIncorrectCredential)
	}
	if len(salt) == 0 {
		return nil, errors.New("deriving master key: empty salt")
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &MasterKey{key: argon2.IDKey(passphrase, salt, p.Time, p.MemoryKB, p.Threads, MasterKeySize)}, nil
}

// IdentitySalt はアイデンティティ作成日時からマスター鍵導出用のソルトを生成する。
func IdentitySalt(created time.Time) []byte {
	h := sha256.New()
	h.Write([]byte("stamp/master-key/v1:"))
	h.Write([]byte(created.UTC().Format(time.RFC3339Nano)))
	return h.Sum(nil)
}

// RandomBytes は暗号論的乱数で n バイトを生成する。
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("%w: reading random bytes: %v", domain.ErrCryptoFailure, err)
	}
	return b, nil
}

// Wipe はバイト列をゼロで上書きする。
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
