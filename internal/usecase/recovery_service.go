package usecase

import (
	"context"
	"fmt"

	"stamp-cli/internal/crypto"
	"stamp-cli/internal/domain"
	"stamp-cli/internal/threshold"
)

// RecoveryService はマスター鍵の分散バックアップ、復元、パスフレーズ変更を提供する。
type RecoveryService struct {
	identities IdentityRepository
	engine     IdentityEngine
	kdf        crypto.KDFParams
}

// NewRecoveryService は新しいRecoveryServiceを生成する。
func NewRecoveryService(identities IdentityRepository, engine IdentityEngine, kdf crypto.KDFParams) *RecoveryService {
	return &RecoveryService{identities: identities, engine: engine, kdf: kdf}
}

// Keyfile はマスター鍵を "M/N" 指定で分割し、1行1シェアのテキストを返す。
func (s *RecoveryService) Keyfile(ctx context.Context, identityID domain.IdentityID, spec string, unlocker Unlocker) ([]string, error) {
	ts, err := threshold.ParseSpec(spec)
	if err != nil {
		return nil, err
	}
	_, ident, err := loadIdentity(ctx, s.identities, s.engine, identityID)
	if err != nil {
		return nil, err
	}
	mk, err := unlock(ctx, s.engine, unlocker, ident)
	if err != nil {
		return nil, err
	}
	defer mk.Wipe()

	shares, err := threshold.Split(mk.Bytes(), ts.Threshold, ts.Total)
	if err != nil {
		return nil, fmt.Errorf("splitting master key: %w", err)
	}
	lines := make([]string, len(shares))
	for i, share := range shares {
		lines[i] = threshold.EncodeShare(share)
		crypto.Wipe(share.Payload)
	}
	return lines, nil
}

// RecoverMasterKey はシェアからマスター鍵を復元する。候補はアイデンティティの秘密データで検証する。
func (s *RecoveryService) RecoverMasterKey(ident *domain.Identity, shares []domain.Share) (*crypto.MasterKey, error) {
	secret, err := threshold.Recover(shares, func(candidate []byte) error {
		mk, err := crypto.NewMasterKey(candidate)
		if err != nil {
			return err
		}
		defer mk.Wipe()
		return s.engine.TestMasterKey(ident, mk)
	})
	if err != nil {
		return nil, fmt.Errorf("recovering master key for %s: %w", ident.ID.Short(), err)
	}
	defer crypto.Wipe(secret)
	return crypto.NewMasterKey(secret)
}

// ChangePassphrase は現在のマスター鍵で開いた履歴を新しいパスフレーズから導出した鍵で封緘し直して保存する。
// current にはパスフレーズによる Unlocker か ShareUnlocker を渡す。
func (s *RecoveryService) ChangePassphrase(ctx context.Context, identityID domain.IdentityID, current Unlocker, next PassphraseSource) error {
	log, ident, err := loadIdentity(ctx, s.identities, s.engine, identityID)
	if err != nil {
		return err
	}
	mk, err := unlock(ctx, s.engine, current, ident)
	if err != nil {
		return err
	}
	defer mk.Wipe()

	passphrase, err := next.Passphrase(ctx, "New passphrase")
	if err != nil {
		return err
	}
	newKey, err := crypto.DeriveMasterKey(passphrase, crypto.IdentitySalt(ident.Created), s.kdf)
	crypto.Wipe(passphrase)
	if err != nil {
		return err
	}
	defer newKey.Wipe()

	reencrypted, err := s.engine.Reencrypt(log, mk, newKey)
	if err != nil {
		return fmt.Errorf("re-encrypting identity %s: %w", identityID, err)
	}
	rebuilt, err := s.engine.Build(reencrypted)
	if err != nil {
		return fmt.Errorf("re-encrypting identity %s: %w", identityID, err)
	}
	if err := s.engine.TestMasterKey(rebuilt, newKey); err != nil {
		return fmt.Errorf("re-encrypting identity %s: %w", identityID, err)
	}
	if err := s.identities.Save(ctx, reencrypted); err != nil {
		return fmt.Errorf("saving identity %s: %w", identityID, err)
	}
	return nil
}

// ShareUnlocker はシェアからマスター鍵を復元する Unlocker。
type ShareUnlocker struct {
	recovery *RecoveryService
	shares   []domain.Share
}

// NewShareUnlocker は新しいShareUnlockerを生成する。
func NewShareUnlocker(recovery *RecoveryService, shares []domain.Share) *ShareUnlocker {
	return &ShareUnlocker{recovery: recovery, shares: shares}
}

// Unlock はシェアからマスター鍵を復元する。
func (u *ShareUnlocker) Unlock(ctx context.Context, ident *domain.Identity) (*crypto.MasterKey, error) {
	return u.recovery.RecoverMasterKey(ident, u.shares)
}
