package crypto

import (
	"stamp-cli/internal/domain"
)

// NewTransportKey は転送用パスフレーズから新しいランダムソルトで鍵を導出する。
// 同じパスフレーズでもエクスポートごとに異なる鍵になる。
func NewTransportKey(passphrase []byte, p KDFParams) (*MasterKey, *domain.ExportKDF, error) {
	salt, err := RandomBytes(saltSize)
	if err != nil {
		return nil, nil, err
	}
	key, err := DeriveMasterKey(passphrase, salt, p)
	if err != nil {
		return nil, nil, err
	}
	return key, &domain.ExportKDF{Salt: salt, Time: p.Time, MemoryKB: p.MemoryKB, Threads: p.Threads}, nil
}

// TransportKey はエクスポート時のパラメータで転送鍵を再導出する。
func TransportKey(passphrase []byte, kdf *domain.ExportKDF) (*MasterKey, error) {
	return DeriveMasterKey(passphrase, kdf.Salt, KDFParams{Time: kdf.Time, MemoryKB: kdf.MemoryKB, Threads: kdf.Threads})
}
