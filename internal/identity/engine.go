// Package identity はトランザクション履歴の検証・適用と署名を行うアイデンティティエンジンを提供する。
package identity

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"stamp-cli/internal/crypto"
	"stamp-cli/internal/domain"
)

// Engine はアイデンティティエンジン。状態を持たない。
type Engine struct {
	now func() time.Time
}

// NewEngine は新しいEngineを生成する。
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// Build は履歴を先頭から検証しながら畳み込み、現在のアイデンティティを返す。
func (e *Engine) Build(log *domain.TransactionLog) (*domain.Identity, error) {
	if log == nil || len(log.Transactions) == 0 {
		return nil, fmt.Errorf("%w: empty transaction history", domain.ErrInvalidTransaction)
	}

	var ident *domain.Identity
	seen := make(map[domain.TransactionID]bool)
	for i := range log.Transactions {
		tx := &log.Transactions[i]
		for _, p := range tx.Previous {
			if !seen[p] {
				return nil, fmt.Errorf("%w: transaction %s references unknown previous %s", domain.ErrInvalidTransaction, tx.ID, p)
			}
		}
		if err := e.Verify(ident, tx); err != nil {
			return nil, fmt.Errorf("replaying transaction %s: %w", tx.ID, err)
		}
		next, err := apply(ident, tx)
		if err != nil {
			return nil, fmt.Errorf("replaying transaction %s: %w", tx.ID, err)
		}
		ident = next
		seen[tx.ID] = true
	}

	if ident.ID != log.IdentityID {
		return nil, fmt.Errorf("%w: history belongs to %s, not %s", domain.ErrInvalidTransaction, ident.ID, log.IdentityID)
	}
	return ident, nil
}

// Verify はトランザクションのID整合性、署名、ポリシー充足を検証する。
// ident は適用前のアイデンティティで、作成トランザクションの場合は nil を渡す。
func (e *Engine) Verify(ident *domain.Identity, tx *domain.Transaction) error {
	id, err := tx.ComputeID()
	if err != nil {
		return err
	}
	if id != tx.ID {
		return fmt.Errorf("%w: id %s does not match content (%s)", domain.ErrInvalidTransaction, tx.ID, id)
	}

	signer := ident
	if tx.Body.Kind == domain.KindCreateIdentity {
		if ident != nil {
			return fmt.Errorf("%w: identity %s already exists", domain.ErrInvalidTransaction, ident.ID)
		}
		if signer, err = genesis(tx); err != nil {
			return err
		}
	} else {
		if ident == nil {
			return fmt.Errorf("%w: history must start with %s", domain.ErrInvalidTransaction, domain.KindCreateIdentity)
		}
		if tx.Identity != ident.ID {
			return fmt.Errorf("%w: transaction %s is for identity %s, not %s", domain.ErrInvalidTransaction, tx.ID, tx.Identity, ident.ID)
		}
	}

	msg, err := tx.SigningBytes()
	if err != nil {
		return err
	}
	signed := make(map[domain.KeyID]bool)
	for _, sig := range tx.Signatures {
		key, ok := signer.KeyByID(sig.Key)
		if !ok {
			return fmt.Errorf("%w: signing key %s is not in the keychain", domain.ErrInvalidSignature, sig.Key)
		}
		if !key.Capability.CanSign() || key.Revoked {
			return fmt.Errorf("%w: key %s (%s) cannot sign", domain.ErrInvalidSignature, key.Name, key.ID)
		}
		if len(key.Public) != ed25519.PublicKeySize || !ed25519.Verify(key.Public, msg, sig.Value) {
			return fmt.Errorf("%w: signature from key %s (%s) does not verify", domain.ErrInvalidSignature, key.Name, key.ID)
		}
		signed[sig.Key] = true
	}

	return checkPolicies(signer, tx, signed)
}

func checkPolicies(ident *domain.Identity, tx *domain.Transaction, signed map[domain.KeyID]bool) error {
	var best *domain.Policy
	bestCount := -1
	for i := range ident.Policies {
		p := &ident.Policies[i]
		if !p.AppliesTo(tx.Body.Kind) {
			continue
		}
		count := 0
		for _, k := range p.Keys {
			if signed[k] {
				count++
			}
		}
		if count >= p.Threshold {
			return nil
		}
		if count > bestCount {
			best, bestCount = p, count
		}
	}
	if best == nil {
		return fmt.Errorf("%w: no policy covers %s", domain.ErrPolicyUnsatisfied, tx.Body.Kind)
	}
	return fmt.Errorf("%w: transaction %s has %d of %d signature(s) required by policy %q",
		domain.ErrPolicyUnsatisfied, tx.ID, bestCount, best.Threshold, best.Name)
}

// Sign は鍵でトランザクションに署名し、署名を追加したコピーを返す。
// 同じ鍵の署名が既にある場合は置き換える。
func (e *Engine) Sign(tx *domain.Transaction, key *domain.Subkey, mk *crypto.MasterKey) (*domain.Transaction, error) {
	if !key.Capability.CanSign() {
		return nil, fmt.Errorf("%w: key %s has capability %s", domain.ErrNoCapableKey, key.Name, key.Capability)
	}
	if !key.HasPrivate() {
		return nil, fmt.Errorf("%w: key %s has no private material", domain.ErrNoCapableKey, key.Name)
	}
	id, err := tx.ComputeID()
	if err != nil {
		return nil, err
	}
	if id != tx.ID {
		return nil, fmt.Errorf("%w: id %s does not match content", domain.ErrInvalidTransaction, tx.ID)
	}

	seed, err := crypto.Open(mk, key.Private)
	if err != nil {
		return nil, fmt.Errorf("opening key %s: %w", key.Name, err)
	}
	defer crypto.Wipe(seed)
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: key %s has malformed seed", domain.ErrCryptoFailure, key.Name)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	defer crypto.Wipe(priv)

	msg, err := tx.SigningBytes()
	if err != nil {
		return nil, err
	}
	sig := domain.Signature{Key: key.ID, Value: ed25519.Sign(priv, msg)}

	// 署名は追記のみ。同じ鍵の重複は許し、ポリシーの判定では1回として数える
	out := tx.Clone()
	out.Signatures = append(out.Signatures, sig)
	return out, nil
}

// Append はトランザクションを検証して履歴に追加した新しい履歴を返す。
func (e *Engine) Append(log *domain.TransactionLog, tx *domain.Transaction) (*domain.TransactionLog, error) {
	if _, ok := log.Find(tx.ID); ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyApplied, tx.ID)
	}
	ident, err := e.Build(log)
	if err != nil {
		return nil, err
	}
	for _, p := range tx.Previous {
		if _, ok := log.Find(p); !ok {
			return nil, fmt.Errorf("%w: previous transaction %s is not in the history", domain.ErrInvalidTransaction, p)
		}
	}
	if err := e.Verify(ident, tx); err != nil {
		return nil, err
	}
	if _, err := apply(ident, tx); err != nil {
		return nil, err
	}

	next := &domain.TransactionLog{
		IdentityID:   log.IdentityID,
		Transactions: make([]domain.Transaction, 0, len(log.Transactions)+1),
	}
	next.Transactions = append(next.Transactions, log.Transactions...)
	next.Transactions = append(next.Transactions, *tx.Clone())
	return next, nil
}

// TestMasterKey はマスター鍵でアイデンティティの秘密データを開けるか確認する。
func (e *Engine) TestMasterKey(ident *domain.Identity, mk *crypto.MasterKey) error {
	for _, k := range ident.Keychain {
		if !k.HasPrivate() {
			continue
		}
		secret, err := crypto.Open(mk, k.Private)
		if err != nil {
			if errors.Is(err, domain.ErrIncorrectCredential) {
				return err
			}
			return fmt.Errorf("%w: %v", domain.ErrIncorrectCredential, err)
		}
		crypto.Wipe(secret)
		return nil
	}
	return fmt.Errorf("%w: identity %s has no private material to check against", domain.ErrIncorrectCredential, ident.ID)
}

// Rewrap はトランザクション内の封緘データを from から to の鍵へ封緘し直したコピーを返す。
// IDと署名は変わらない。
func (e *Engine) Rewrap(tx *domain.Transaction, from, to *crypto.MasterKey) (*domain.Transaction, error) {
	out := tx.Clone()
	for _, v := range out.SealedValues() {
		if !v.HasCiphertext() {
			continue
		}
		resealed, err := crypto.Reseal(from, to, v)
		if err != nil {
			return nil, fmt.Errorf("rewrapping transaction %s: %w", tx.ID, err)
		}
		*v = *resealed
	}
	return out, nil
}

// Reencrypt は履歴全体の封緘データを新しい鍵で封緘し直す。
func (e *Engine) Reencrypt(log *domain.TransactionLog, from, to *crypto.MasterKey) (*domain.TransactionLog, error) {
	next := &domain.TransactionLog{
		IdentityID:   log.IdentityID,
		Transactions: make([]domain.Transaction, len(log.Transactions)),
	}
	for i := range log.Transactions {
		tx, err := e.Rewrap(&log.Transactions[i], from, to)
		if err != nil {
			return nil, err
		}
		next.Transactions[i] = *tx
	}
	return next, nil
}
