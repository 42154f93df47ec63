package domain

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
)

// TransactionID はトランザクションのID（署名対象バイト列のハッシュ）。
type TransactionID string

// Short は表示用の短縮IDを返す。
func (id TransactionID) Short() string { return short(string(id)) }

// TransactionKind はトランザクションの種別。
type TransactionKind string

const (
	KindCreateIdentity TransactionKind = "CreateIdentityV1"
	KindAddSubkey      TransactionKind = "AddSubkeyV1"
	KindRevokeSubkey   TransactionKind = "RevokeSubkeyV1"
	KindDeleteSubkey   TransactionKind = "DeleteSubkeyV1"
	KindSetPolicy      TransactionKind = "SetPolicyV1"
	KindMakeClaim      TransactionKind = "MakeClaimV1"
	KindDeleteClaim    TransactionKind = "DeleteClaimV1"
)

// TransactionBody はトランザクションの本体。種別ごとに使うフィールドが異なる。
type TransactionBody struct {
	Kind     TransactionKind `json:"kind" yaml:"kind"`
	Keys     []Subkey        `json:"keys,omitempty" yaml:"keys,omitempty"`
	Subkey   *Subkey         `json:"subkey,omitempty" yaml:"subkey,omitempty"`
	Policies []Policy        `json:"policies,omitempty" yaml:"policies,omitempty"`
	KeyID    KeyID           `json:"key_id,omitempty" yaml:"key_id,omitempty"`
	Reason   string          `json:"reason,omitempty" yaml:"reason,omitempty"`
	Claim    *Claim          `json:"claim,omitempty" yaml:"claim,omitempty"`
	ClaimID  TransactionID   `json:"claim_id,omitempty" yaml:"claim_id,omitempty"`
}

// Signature は一つの鍵による署名。
type Signature struct {
	Key   KeyID  `json:"key" yaml:"key"`
	Value []byte `json:"value" yaml:"value"`
}

// Transaction はアイデンティティ履歴への署名付き変更要求。
type Transaction struct {
	ID         TransactionID   `json:"id" yaml:"id"`
	Identity   IdentityID      `json:"identity,omitempty" yaml:"identity,omitempty"`
	Previous   []TransactionID `json:"previous,omitempty" yaml:"previous,omitempty"`
	Created    time.Time       `json:"created" yaml:"created"`
	Body       TransactionBody `json:"body" yaml:"body"`
	Signatures []Signature     `json:"signatures,omitempty" yaml:"signatures,omitempty"`
}

type signingEntry struct {
	Identity IdentityID      `json:"identity,omitempty"`
	Previous []TransactionID `json:"previous,omitempty"`
	Created  string          `json:"created"`
	Body     TransactionBody `json:"body"`
}

// SigningBytes は署名対象のバイト列を返す。IDと署名、封緘データの暗号文は含まない。
func (t *Transaction) SigningBytes() ([]byte, error) {
	entry := signingEntry{
		Identity: t.Identity,
		Previous: t.Previous,
		Created:  t.Created.UTC().Format(time.RFC3339Nano),
		Body:     t.Body.public(),
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encoding transaction: %w", err)
	}
	return b, nil
}

// ComputeID は署名対象バイト列からIDを計算する。
func (t *Transaction) ComputeID() (TransactionID, error) {
	b, err := t.SigningBytes()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return TransactionID(base58.Encode(sum[:])), nil
}

// SignedBy は指定鍵の署名が含まれているかどうかを返す。
func (t *Transaction) SignedBy(key KeyID) bool {
	for _, s := range t.Signatures {
		if s.Key == key {
			return true
		}
	}
	return false
}

// SealedValues は本体に含まれる封緘データへのポインタを返す。
func (t *Transaction) SealedValues() []*SealedValue {
	var values []*SealedValue
	for i := range t.Body.Keys {
		if t.Body.Keys[i].Private != nil {
			values = append(values, t.Body.Keys[i].Private)
		}
	}
	if t.Body.Subkey != nil && t.Body.Subkey.Private != nil {
		values = append(values, t.Body.Subkey.Private)
	}
	if t.Body.Claim != nil && t.Body.Claim.Private != nil {
		values = append(values, t.Body.Claim.Private)
	}
	return values
}

// HasSealed は暗号文を含む封緘データがあるかどうかを返す。
func (t *Transaction) HasSealed() bool {
	for _, v := range t.SealedValues() {
		if v.HasCiphertext() {
			return true
		}
	}
	return false
}

// Clone はトランザクションの深いコピーを返す。
func (t *Transaction) Clone() *Transaction {
	c := *t
	c.Previous = append([]TransactionID(nil), t.Previous...)
	c.Signatures = make([]Signature, len(t.Signatures))
	for i, s := range t.Signatures {
		c.Signatures[i] = Signature{Key: s.Key, Value: append([]byte(nil), s.Value...)}
	}
	if len(t.Signatures) == 0 {
		c.Signatures = nil
	}
	c.Body = t.Body.clone(false)
	return &c
}

func (b TransactionBody) public() TransactionBody {
	return b.clone(true)
}

func (b TransactionBody) clone(strip bool) TransactionBody {
	sealed := func(v *SealedValue) *SealedValue {
		if v == nil {
			return nil
		}
		if strip {
			return v.Stripped()
		}
		return &SealedValue{
			Commitment: append([]byte(nil), v.Commitment...),
			Nonce:      append([]byte(nil), v.Nonce...),
			Ciphertext: append([]byte(nil), v.Ciphertext...),
		}
	}
	key := func(k Subkey) Subkey {
		k.Public = append([]byte(nil), k.Public...)
		k.Private = sealed(k.Private)
		return k
	}

	c := b
	if b.Keys != nil {
		c.Keys = make([]Subkey, len(b.Keys))
		for i, k := range b.Keys {
			c.Keys[i] = key(k)
		}
	}
	if b.Subkey != nil {
		k := key(*b.Subkey)
		c.Subkey = &k
	}
	if b.Policies != nil {
		c.Policies = make([]Policy, len(b.Policies))
		for i, p := range b.Policies {
			p.Keys = append([]KeyID(nil), p.Keys...)
			p.Kinds = append([]TransactionKind(nil), p.Kinds...)
			c.Policies[i] = p
		}
	}
	if b.Claim != nil {
		cl := *b.Claim
		cl.Private = sealed(cl.Private)
		c.Claim = &cl
	}
	return c
}

// TransactionLog はアイデンティティの適用済みトランザクション履歴。
type TransactionLog struct {
	IdentityID   IdentityID    `json:"identity_id"`
	Transactions []Transaction `json:"transactions"`
}

// Find はIDが一致するトランザクションを返す。
func (l *TransactionLog) Find(id TransactionID) (*Transaction, bool) {
	for i := range l.Transactions {
		if l.Transactions[i].ID == id {
			return &l.Transactions[i], true
		}
	}
	return nil, false
}

// Heads は他のトランザクションから参照されていないトランザクションのIDを返す。
func (l *TransactionLog) Heads() []TransactionID {
	referenced := make(map[TransactionID]bool)
	for _, t := range l.Transactions {
		for _, p := range t.Previous {
			referenced[p] = true
		}
	}
	var heads []TransactionID
	for _, t := range l.Transactions {
		if !referenced[t.ID] {
			heads = append(heads, t.ID)
		}
	}
	return heads
}
