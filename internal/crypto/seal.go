package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"stamp-cli/internal/domain"
)

const saltSize = 16

// Seal は平文を鍵で封緘する。ノンスは呼び出しごとに新規生成される。
func Seal(key *MasterKey, plaintext []byte) (*domain.SealedValue, error) {
	salt, err := RandomBytes(saltSize)
	if err != nil {
		return nil, err
	}
	inner := make([]byte, 0, saltSize+len(plaintext))
	inner = append(inner, salt...)
	inner = append(inner, plaintext...)
	defer Wipe(inner)

	sum := sha256.Sum256(inner)
	return sealInner(key, inner, sum[:])
}

// Open は封緘データを復号し平文を返す。復号できない場合は ErrIncorrectCredential を返す。
func Open(key *MasterKey, v *domain.SealedValue) ([]byte, error) {
	inner, err := openInner(key, v)
	if err != nil {
		return nil, err
	}
	defer Wipe(inner)
	return append([]byte(nil), inner[saltSize:]...), nil
}

// Reseal は封緘データを別の鍵で封緘し直す。コミットメントは変わらない。
func Reseal(from, to *MasterKey, v *domain.SealedValue) (*domain.SealedValue, error) {
	inner, err := openInner(from, v)
	if err != nil {
		return nil, err
	}
	defer Wipe(inner)
	return sealInner(to, inner, v.Commitment)
}

func sealInner(key *MasterKey, inner, commitment []byte) (*domain.SealedValue, error) {
	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCryptoFailure, err)
	}
	nonce, err := RandomBytes(aead.NonceSize())
	if err != nil {
		return nil, err
	}
	return &domain.SealedValue{
		Commitment: append([]byte(nil), commitment...),
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, inner, commitment),
	}, nil
}

func openInner(key *MasterKey, v *domain.SealedValue) ([]byte, error) {
	if !v.HasCiphertext() {
		return nil, fmt.Errorf("%w: sealed value has no ciphertext", domain.ErrCryptoFailure)
	}
	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCryptoFailure, err)
	}
	if len(v.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce length %d", domain.ErrCryptoFailure, len(v.Nonce))
	}
	inner, err := aead.Open(nil, v.Nonce, v.Ciphertext, v.Commitment)
	if err != nil {
		return nil, domain.ErrIncorrectCredential
	}
	sum := sha256.Sum256(inner)
	if len(inner) < saltSize || subtle.ConstantTimeCompare(sum[:], v.Commitment) != 1 {
		Wipe(inner)
		return nil, fmt.Errorf("%w: commitment mismatch", domain.ErrCryptoFailure)
	}
	return inner, nil
}
