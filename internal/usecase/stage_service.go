package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"stamp-cli/internal/crypto"
	"stamp-cli/internal/domain"
)

// StageService はステージ済みトランザクションのライフサイクルを管理する。
// ステージングエリアは単一プロセスからの逐次利用を前提とし、同じIDへの書き込みは後勝ちになる。
type StageService struct {
	staged       StagedRepository
	identities   IdentityRepository
	engine       IdentityEngine
	readiness    *Readiness
	resolver     *KeyResolver
	transportKDF crypto.KDFParams
}

// NewStageService は新しいStageServiceを生成する。
func NewStageService(staged StagedRepository, identities IdentityRepository, engine IdentityEngine, resolver *KeyResolver, transportKDF crypto.KDFParams) *StageService {
	return &StageService{
		staged:       staged,
		identities:   identities,
		engine:       engine,
		readiness:    NewReadiness(engine),
		resolver:     resolver,
		transportKDF: transportKDF,
	}
}

// Stage はトランザクションをステージングエリアに保存する。同じIDの既存エントリは上書きされる。
func (s *StageService) Stage(ctx context.Context, identityID domain.IdentityID, tx *domain.Transaction) (domain.TransactionID, error) {
	if tx == nil || tx.ID == "" {
		return "", fmt.Errorf("%w: transaction has no id", domain.ErrInvalidTransaction)
	}
	if tx.Identity != "" && tx.Identity != identityID {
		return "", fmt.Errorf("%w: transaction %s belongs to identity %s, not %s", domain.ErrInvalidTransaction, tx.ID, tx.Identity, identityID)
	}
	if err := s.staged.Put(ctx, identityID, tx); err != nil {
		return "", fmt.Errorf("staging transaction %s: %w", tx.ID, err)
	}
	return tx.ID, nil
}

// List はアイデンティティのステージ済みトランザクションを現在のスナップショットに対する適用可否付きで返す。
func (s *StageService) List(ctx context.Context, identityID domain.IdentityID) ([]*domain.StagedSummary, error) {
	log, _, err := loadIdentity(ctx, s.identities, s.engine, identityID)
	if err != nil {
		return nil, err
	}
	staged, err := s.staged.FindAllByIdentityID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("listing staged transactions: %w", err)
	}

	summaries := make([]*domain.StagedSummary, len(staged))
	for i, st := range staged {
		summaries[i] = &domain.StagedSummary{
			ID:         st.ID,
			IdentityID: st.IdentityID,
			Kind:       st.Transaction.Body.Kind,
			Signatures: len(st.Transaction.Signatures),
			Ready:      s.readiness.IsReady(log, st.Transaction),
			Created:    st.Transaction.Created,
		}
	}
	return summaries, nil
}

// View はIDまたは一意なプレフィックスでステージ済みトランザクションを取得する。
func (s *StageService) View(ctx context.Context, search string) (*domain.StagedTransaction, error) {
	return s.find(ctx, search)
}

// Ready はステージ済みトランザクションが適用可能かどうかと、不可の場合はその理由を返す。
func (s *StageService) Ready(ctx context.Context, st *domain.StagedTransaction) (bool, error) {
	log, _, err := loadIdentity(ctx, s.identities, s.engine, st.IdentityID)
	if err != nil {
		return false, err
	}
	if reason := s.readiness.Check(log, st.Transaction); reason != nil {
		return false, reason
	}
	return true, nil
}

// Sign はステージ済みトランザクションに署名して保存し直す。
// 署名が足りないことはエラーではなく、結果の Ready が false になる。
func (s *StageService) Sign(ctx context.Context, search, keySearch string, unlocker Unlocker) (*domain.SignResult, error) {
	st, err := s.find(ctx, search)
	if err != nil {
		return nil, err
	}
	log, ident, err := loadIdentity(ctx, s.identities, s.engine, st.IdentityID)
	if err != nil {
		return nil, err
	}
	key, err := s.resolver.Resolve(ident, SigningKeys, keySearch)
	if err != nil {
		return nil, fmt.Errorf("finding signing key: %w", err)
	}

	mk, err := unlock(ctx, s.engine, unlocker, ident)
	if err != nil {
		return nil, err
	}
	defer mk.Wipe()

	signed, err := s.engine.Sign(st.Transaction, key, mk)
	if err != nil {
		return nil, fmt.Errorf("signing transaction %s: %w", st.ID, err)
	}
	if err := s.staged.Put(ctx, st.IdentityID, signed); err != nil {
		return nil, fmt.Errorf("saving signed transaction %s: %w", st.ID, err)
	}

	return &domain.SignResult{
		ID:         signed.ID,
		SignedWith: key.ID,
		KeyName:    key.Name,
		Signatures: len(signed.Signatures),
		Ready:      s.readiness.IsReady(log, signed),
	}, nil
}

// Apply は適用可能なステージ済みトランザクションを履歴に追加し、ステージングから削除する。
// 追加後の削除に失敗した場合はエラーにせず、結果に CleanupErr と手動削除用のコマンドを設定する。
func (s *StageService) Apply(ctx context.Context, search string) (*domain.ApplyResult, error) {
	st, err := s.find(ctx, search)
	if err != nil {
		return nil, err
	}
	log, _, err := loadIdentity(ctx, s.identities, s.engine, st.IdentityID)
	if err != nil {
		return nil, err
	}

	if _, applied := log.Find(st.ID); applied {
		return nil, fmt.Errorf("transaction %s: %w (remove the staged copy with `%s`)", st.ID, domain.ErrAlreadyApplied, domain.CleanupCommand(st.ID))
	}
	next, err := s.engine.Append(log, st.Transaction)
	if err != nil {
		if errors.Is(err, domain.ErrNotReady) {
			return nil, fmt.Errorf("transaction %s is not ready: %w", st.ID, err)
		}
		return nil, fmt.Errorf("transaction %s cannot be applied: %w", st.ID, err)
	}
	if err := s.identities.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("saving identity %s: %w", st.IdentityID, err)
	}

	result := &domain.ApplyResult{ID: st.ID, IdentityID: st.IdentityID}
	if err := s.staged.Delete(ctx, st.ID); err != nil {
		slog.WarnContext(ctx, "transaction applied but staged copy was not removed",
			"operation", "apply",
			"transaction_id", st.ID,
			"error", err,
		)
		result.CleanupErr = err
		result.CleanupCommand = domain.CleanupCommand(st.ID)
	}
	return result, nil
}

// Delete はステージ済みトランザクションを破棄する。force が false の場合は確認を取る。
func (s *StageService) Delete(ctx context.Context, search string, confirmer Confirmer, force bool) (*domain.DeleteResult, error) {
	st, err := s.find(ctx, search)
	if err != nil {
		return nil, err
	}

	if !force {
		if confirmer == nil {
			return nil, fmt.Errorf("deleting transaction %s: %w", st.ID, domain.ErrConfirmationRequired)
		}
		ok, err := confirmer.Confirm(ctx, fmt.Sprintf("Delete staged transaction %s (%s)?", st.ID, st.Transaction.Body.Kind))
		if err != nil {
			return nil, fmt.Errorf("deleting transaction %s: %w", st.ID, err)
		}
		if !ok {
			return &domain.DeleteResult{ID: st.ID, Deleted: false}, nil
		}
	}

	if err := s.staged.Delete(ctx, st.ID); err != nil {
		return nil, fmt.Errorf("deleting transaction %s: %w", st.ID, err)
	}
	return &domain.DeleteResult{ID: st.ID, Deleted: true}, nil
}

// Export はステージ済みトランザクションを他の署名者へ渡せる形にする。
// 封緘データはエクスポートごとに新しいランダムソルトで導出した転送鍵で封緘し直す。
func (s *StageService) Export(ctx context.Context, search string, unlocker Unlocker, transport PassphraseSource) (*domain.ExportEnvelope, error) {
	st, err := s.find(ctx, search)
	if err != nil {
		return nil, err
	}

	env := &domain.ExportEnvelope{
		Version:     domain.ExportEnvelopeVersion,
		ExportID:    uuid.New().String(),
		IdentityID:  st.IdentityID,
		Transaction: st.Transaction.Clone(),
	}
	if !st.Transaction.HasSealed() {
		return env, nil
	}

	_, ident, err := loadIdentity(ctx, s.identities, s.engine, st.IdentityID)
	if err != nil {
		return nil, err
	}
	mk, err := unlock(ctx, s.engine, unlocker, ident)
	if err != nil {
		return nil, err
	}
	defer mk.Wipe()

	tk, kdf, err := s.transportKey(ctx, transport)
	if err != nil {
		return nil, err
	}
	defer tk.Wipe()

	wrapped, err := s.engine.Rewrap(st.Transaction, mk, tk)
	if err != nil {
		return nil, fmt.Errorf("exporting transaction %s: %w", st.ID, err)
	}
	env.KDF = kdf
	env.Transaction = wrapped
	return env, nil
}

func (s *StageService) transportKey(ctx context.Context, transport PassphraseSource) (*crypto.MasterKey, *domain.ExportKDF, error) {
	if transport == nil {
		return nil, nil, fmt.Errorf("%w: transaction has private data and needs a transport passphrase", domain.ErrIncorrectCredential)
	}
	passphrase, err := transport.Passphrase(ctx, "Transport passphrase")
	if err != nil {
		return nil, nil, err
	}
	defer crypto.Wipe(passphrase)
	return crypto.NewTransportKey(passphrase, s.transportKDF)
}

// Import はエクスポートされたトランザクションをステージングエリアに取り込む。
// 同じIDのエントリは上書きされ、署名はマージされない。
func (s *StageService) Import(ctx context.Context, env *domain.ExportEnvelope, unlocker Unlocker, transport PassphraseSource) (domain.TransactionID, error) {
	if env == nil || env.Transaction == nil {
		return "", fmt.Errorf("%w: empty export", domain.ErrInvalidTransaction)
	}
	if env.Version != domain.ExportEnvelopeVersion {
		return "", fmt.Errorf("%w: unsupported export version %d", domain.ErrInvalidTransaction, env.Version)
	}
	tx := env.Transaction
	if tx.Identity != "" && tx.Identity != env.IdentityID {
		return "", fmt.Errorf("%w: export for identity %s carries a transaction for %s", domain.ErrInvalidTransaction, env.IdentityID, tx.Identity)
	}
	id, err := tx.ComputeID()
	if err != nil {
		return "", err
	}
	if id != tx.ID {
		return "", fmt.Errorf("%w: id %s does not match content", domain.ErrInvalidTransaction, tx.ID)
	}

	_, ident, err := loadIdentity(ctx, s.identities, s.engine, env.IdentityID)
	if err != nil {
		return "", err
	}

	if tx.HasSealed() {
		if env.KDF == nil {
			return "", fmt.Errorf("%w: export has private data but no transport parameters", domain.ErrInvalidTransaction)
		}
		if tx, err = s.unwrap(ctx, env, ident, unlocker, transport); err != nil {
			return "", err
		}
	}

	existing, err := s.staged.FindByID(ctx, tx.ID)
	if err != nil {
		return "", fmt.Errorf("finding staged transaction %s: %w", tx.ID, err)
	}
	if existing != nil {
		if dropped := droppedSignatures(existing.Transaction, tx); dropped > 0 {
			slog.WarnContext(ctx, "import overwrites staged transaction and drops signatures missing from the import",
				"operation", "import",
				"transaction_id", tx.ID,
				"dropped_signatures", dropped,
			)
		}
	}

	return s.Stage(ctx, env.IdentityID, tx)
}

func (s *StageService) unwrap(ctx context.Context, env *domain.ExportEnvelope, ident *domain.Identity, unlocker Unlocker, transport PassphraseSource) (*domain.Transaction, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: export has private data and needs the transport passphrase", domain.ErrIncorrectCredential)
	}
	passphrase, err := transport.Passphrase(ctx, "Transport passphrase")
	if err != nil {
		return nil, err
	}
	tk, err := crypto.TransportKey(passphrase, env.KDF)
	crypto.Wipe(passphrase)
	if err != nil {
		return nil, err
	}
	defer tk.Wipe()

	mk, err := unlock(ctx, s.engine, unlocker, ident)
	if err != nil {
		return nil, err
	}
	defer mk.Wipe()

	tx, err := s.engine.Rewrap(env.Transaction, tk, mk)
	if err != nil {
		return nil, fmt.Errorf("importing transaction %s: %w", env.Transaction.ID, err)
	}
	return tx, nil
}

func droppedSignatures(existing, incoming *domain.Transaction) int {
	dropped := 0
	for _, sig := range existing.Signatures {
		if !incoming.SignedBy(sig.Key) {
			dropped++
		}
	}
	return dropped
}

// find はIDの完全一致、次にプレフィックスでステージ済みトランザクションを特定する。
func (s *StageService) find(ctx context.Context, search string) (*domain.StagedTransaction, error) {
	if search == "" {
		return nil, fmt.Errorf("%w: empty transaction id", domain.ErrTransactionNotFound)
	}
	st, err := s.staged.FindByID(ctx, domain.TransactionID(search))
	if err != nil {
		return nil, fmt.Errorf("finding staged transaction: %w", err)
	}
	if st != nil {
		return st, nil
	}

	matches, err := s.staged.FindByPrefix(ctx, search)
	if err != nil {
		return nil, fmt.Errorf("finding staged transaction: %w", err)
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %q", domain.ErrTransactionNotFound, search)
	case 1:
		return matches[0], nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = string(m.ID)
	}
	return nil, &domain.AmbiguousMatchError{What: "transaction", Search: search, Candidates: ids}
}
