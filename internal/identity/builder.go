package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/curve25519"

	"stamp-cli/internal/crypto"
	"stamp-cli/internal/domain"
)

const (
	// RootKeyName は作成時に生成されるルート鍵の名前。
	RootKeyName = "root"
	// PublishKeyName は作成時に生成される公開用鍵の名前。
	PublishKeyName = "publish"
	// DefaultPolicyName は作成時のポリシー名。
	DefaultPolicyName = "default"
)

// NewSubkey は能力に応じた鍵ペアまたは秘密を生成し、秘密部分をマスター鍵で封緘する。
func (e *Engine) NewSubkey(mk *crypto.MasterKey, capability domain.Capability, name, description string) (domain.Subkey, error) {
	var public, secret []byte
	switch {
	case capability.CanSign():
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return domain.Subkey{}, fmt.Errorf("%w: generating ed25519 key: %v", domain.ErrCryptoFailure, err)
		}
		public = pub
		secret = append([]byte(nil), priv.Seed()...)
		crypto.Wipe(priv)
	case capability == domain.CapabilityCrypto:
		s, err := crypto.RandomBytes(curve25519.ScalarSize)
		if err != nil {
			return domain.Subkey{}, err
		}
		secret = s
		if public, err = curve25519.X25519(secret, curve25519.Basepoint); err != nil {
			crypto.Wipe(secret)
			return domain.Subkey{}, fmt.Errorf("%w: deriving x25519 key: %v", domain.ErrCryptoFailure, err)
		}
	default:
		s, err := crypto.RandomBytes(32)
		if err != nil {
			return domain.Subkey{}, err
		}
		secret = s
	}
	defer crypto.Wipe(secret)

	sealed, err := crypto.Seal(mk, secret)
	if err != nil {
		return domain.Subkey{}, err
	}
	digest := public
	if digest == nil {
		digest = sealed.Commitment
	}
	sum := sha256.Sum256(digest)
	return domain.Subkey{
		ID:          domain.KeyID(base58.Encode(sum[:])),
		Name:        name,
		Description: description,
		Capability:  capability,
		Public:      public,
		Private:     sealed,
	}, nil
}

// CreateIdentity は新しいアイデンティティの作成トランザクションを生成し、ルート鍵で署名する。
// mk は created から得たソルトで導出されている必要がある。
func (e *Engine) CreateIdentity(mk *crypto.MasterKey, created time.Time) (*domain.Transaction, error) {
	root, err := e.NewSubkey(mk, domain.CapabilityRoot, RootKeyName, "identity root key")
	if err != nil {
		return nil, err
	}
	publish, err := e.NewSubkey(mk, domain.CapabilityPublish, PublishKeyName, "publishes the identity")
	if err != nil {
		return nil, err
	}

	tx := &domain.Transaction{
		Created: created.UTC(),
		Body: domain.TransactionBody{
			Kind: domain.KindCreateIdentity,
			Keys: []domain.Subkey{root, publish},
			Policies: []domain.Policy{
				{Name: DefaultPolicyName, Threshold: 1, Keys: []domain.KeyID{root.ID}},
			},
		},
	}
	if tx.ID, err = tx.ComputeID(); err != nil {
		return nil, err
	}
	return e.Sign(tx, &root, mk)
}

// AddSubkey は鍵追加トランザクションを生成する。
func (e *Engine) AddSubkey(log *domain.TransactionLog, key domain.Subkey) (*domain.Transaction, error) {
	return e.newTransaction(log, domain.TransactionBody{Kind: domain.KindAddSubkey, Subkey: &key})
}

// RevokeSubkey は鍵失効トランザクションを生成する。
func (e *Engine) RevokeSubkey(log *domain.TransactionLog, id domain.KeyID, reason string) (*domain.Transaction, error) {
	return e.newTransaction(log, domain.TransactionBody{Kind: domain.KindRevokeSubkey, KeyID: id, Reason: reason})
}

// DeleteSubkey は鍵削除トランザクションを生成する。
func (e *Engine) DeleteSubkey(log *domain.TransactionLog, id domain.KeyID) (*domain.Transaction, error) {
	return e.newTransaction(log, domain.TransactionBody{Kind: domain.KindDeleteSubkey, KeyID: id})
}

// SetPolicy はポリシー置換トランザクションを生成する。
func (e *Engine) SetPolicy(log *domain.TransactionLog, policies []domain.Policy) (*domain.Transaction, error) {
	return e.newTransaction(log, domain.TransactionBody{Kind: domain.KindSetPolicy, Policies: policies})
}

// MakeClaim は主張トランザクションを生成する。private の場合は値をマスター鍵で封緘する。
func (e *Engine) MakeClaim(log *domain.TransactionLog, mk *crypto.MasterKey, name, value string, private bool) (*domain.Transaction, error) {
	claim := &domain.Claim{Name: name, Value: value}
	if private {
		if mk == nil {
			return nil, fmt.Errorf("%w: private claim needs the master key", domain.ErrIncorrectCredential)
		}
		sealed, err := crypto.Seal(mk, []byte(value))
		if err != nil {
			return nil, err
		}
		claim.Value = ""
		claim.Private = sealed
	}
	return e.newTransaction(log, domain.TransactionBody{Kind: domain.KindMakeClaim, Claim: claim})
}

// DeleteClaim は主張削除トランザクションを生成する。
func (e *Engine) DeleteClaim(log *domain.TransactionLog, claimID domain.TransactionID) (*domain.Transaction, error) {
	return e.newTransaction(log, domain.TransactionBody{Kind: domain.KindDeleteClaim, ClaimID: claimID})
}

// OpenClaim は非公開の主張の値を復号する。
func (e *Engine) OpenClaim(claim domain.Claim, mk *crypto.MasterKey) (string, error) {
	if claim.Private == nil {
		return claim.Value, nil
	}
	b, err := crypto.Open(mk, claim.Private)
	if err != nil {
		return "", err
	}
	defer crypto.Wipe(b)
	return string(b), nil
}

func (e *Engine) newTransaction(log *domain.TransactionLog, body domain.TransactionBody) (*domain.Transaction, error) {
	tx := &domain.Transaction{
		Identity: log.IdentityID,
		Previous: log.Heads(),
		Created:  e.now().UTC(),
		Body:     body,
	}
	id, err := tx.ComputeID()
	if err != nil {
		return nil, err
	}
	tx.ID = id
	return tx, nil
}
