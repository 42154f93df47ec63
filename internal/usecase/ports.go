// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"fmt"

	"stamp-cli/internal/crypto"
	"stamp-cli/internal/domain"
)

// StagedRepository はステージングエリアのインターフェース。
type StagedRepository interface {
	Put(ctx context.Context, identityID domain.IdentityID, tx *domain.Transaction) error
	FindByID(ctx context.Context, id domain.TransactionID) (*domain.StagedTransaction, error)
	FindByPrefix(ctx context.Context, prefix string) ([]*domain.StagedTransaction, error)
	FindAllByIdentityID(ctx context.Context, identityID domain.IdentityID) ([]*domain.StagedTransaction, error)
	Delete(ctx context.Context, id domain.TransactionID) error
}

// IdentityRepository はアイデンティティ履歴ストアのインターフェース。
type IdentityRepository interface {
	Save(ctx context.Context, log *domain.TransactionLog) error
	FindByID(ctx context.Context, id domain.IdentityID) (*domain.TransactionLog, error)
	FindByPrefix(ctx context.Context, prefix string) ([]*domain.TransactionLog, error)
	FindAll(ctx context.Context) ([]*domain.TransactionLog, error)
}

// IdentityEngine は履歴の検証・適用・署名を行うエンジンのインターフェース。
type IdentityEngine interface {
	Build(log *domain.TransactionLog) (*domain.Identity, error)
	Verify(ident *domain.Identity, tx *domain.Transaction) error
	Sign(tx *domain.Transaction, key *domain.Subkey, mk *crypto.MasterKey) (*domain.Transaction, error)
	Append(log *domain.TransactionLog, tx *domain.Transaction) (*domain.TransactionLog, error)
	TestMasterKey(ident *domain.Identity, mk *crypto.MasterKey) error
	Rewrap(tx *domain.Transaction, from, to *crypto.MasterKey) (*domain.Transaction, error)
	Reencrypt(log *domain.TransactionLog, from, to *crypto.MasterKey) (*domain.TransactionLog, error)
}

// Unlocker はアイデンティティのマスター鍵を取得する。
// 返された鍵の所有権は呼び出し側に移り、呼び出し側が Wipe する。
type Unlocker interface {
	Unlock(ctx context.Context, ident *domain.Identity) (*crypto.MasterKey, error)
}

// PassphraseSource はパスフレーズを取得する。返されたバイト列は呼び出し側が消去する。
type PassphraseSource interface {
	Passphrase(ctx context.Context, prompt string) ([]byte, error)
}

// Confirmer は破壊的操作の確認を取る。
type Confirmer interface {
	Confirm(ctx context.Context, message string) (bool, error)
}

// StaticPassphrase は固定のパスフレーズを返す PassphraseSource。
type StaticPassphrase []byte

// Passphrase はパスフレーズのコピーを返す。
func (p StaticPassphrase) Passphrase(ctx context.Context, prompt string) ([]byte, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("%w: no passphrase provided", domain.ErrIncorrectCredential)
	}
	return append([]byte(nil), p...), nil
}

// PassphraseUnlocker はパスフレーズとアイデンティティ作成日時からマスター鍵を導出する。
type PassphraseUnlocker struct {
	source PassphraseSource
	kdf    crypto.KDFParams
}

// NewPassphraseUnlocker は新しいPassphraseUnlockerを生成する。
func NewPassphraseUnlocker(source PassphraseSource, kdf crypto.KDFParams) *PassphraseUnlocker {
	return &PassphraseUnlocker{source: source, kdf: kdf}
}

// Unlock はパスフレーズを取得してマスター鍵を導出する。
func (u *PassphraseUnlocker) Unlock(ctx context.Context, ident *domain.Identity) (*crypto.MasterKey, error) {
	passphrase, err := u.source.Passphrase(ctx, fmt.Sprintf("Passphrase for identity %s", ident.ID.Short()))
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(passphrase)
	return crypto.DeriveMasterKey(passphrase, crypto.IdentitySalt(ident.Created), u.kdf)
}

// unlock はマスター鍵を取得し、アイデンティティの秘密データで検証する。失敗時は鍵を消去する。
func unlock(ctx context.Context, engine IdentityEngine, u Unlocker, ident *domain.Identity) (*crypto.MasterKey, error) {
	if u == nil {
		return nil, fmt.Errorf("%w: no way to obtain the master key", domain.ErrIncorrectCredential)
	}
	mk, err := u.Unlock(ctx, ident)
	if err != nil {
		return nil, fmt.Errorf("unlocking identity %s: %w", ident.ID.Short(), err)
	}
	if err := engine.TestMasterKey(ident, mk); err != nil {
		mk.Wipe()
		return nil, fmt.Errorf("unlocking identity %s: %w", ident.ID.Short(), err)
	}
	return mk, nil
}

// loadIdentity は履歴を取得して現在のアイデンティティを構築する。
func loadIdentity(ctx context.Context, repo IdentityRepository, engine IdentityEngine, id domain.IdentityID) (*domain.TransactionLog, *domain.Identity, error) {
	log, err := repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("finding identity %s: %w", id, err)
	}
	if log == nil {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrIdentityNotFound, id)
	}
	ident, err := engine.Build(log)
	if err != nil {
		return nil, nil, fmt.Errorf("building identity %s: %w", id, err)
	}
	return log, ident, nil
}
