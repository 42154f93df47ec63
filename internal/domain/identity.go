// Package domain はstampのドメインモデルを定義する。
package domain

import (
	"fmt"
	"time"
)

// IdentityID はアイデンティティのID（作成トランザクションのID）。
type IdentityID string

// Short は表示用の短縮IDを返す。
func (id IdentityID) Short() string { return short(string(id)) }

// KeyID は鍵のID（公開鍵ハッシュのbase58表現）。
type KeyID string

// Short は表示用の短縮IDを返す。
func (id KeyID) Short() string { return short(string(id)) }

func short(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}

// Capability は鍵に与えられた用途を表す。
type Capability string

const (
	CapabilityPolicy          Capability = "policy"
	CapabilityPublish         Capability = "publish"
	CapabilityRoot            Capability = "root"
	CapabilitySign            Capability = "sign"
	CapabilityCrypto          Capability = "crypto"
	CapabilitySecret          Capability = "secret"
	CapabilityExtensionPair   Capability = "extension-pair"
	CapabilityExtensionSecret Capability = "extension-secret"
)

// Capabilities は定義済みの全能力。
var Capabilities = []Capability{
	CapabilityPolicy,
	CapabilityPublish,
	CapabilityRoot,
	CapabilitySign,
	CapabilityCrypto,
	CapabilitySecret,
	CapabilityExtensionPair,
	CapabilityExtensionSecret,
}

// ParseCapability は文字列から能力を解釈する。
func ParseCapability(s string) (Capability, error) {
	for _, c := range Capabilities {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown key type %q", s)
}

// CanSign はed25519署名鍵を持つ能力かどうかを返す。
func (c Capability) CanSign() bool {
	switch c {
	case CapabilityPolicy, CapabilityPublish, CapabilityRoot, CapabilitySign, CapabilityExtensionPair:
		return true
	}
	return false
}

// SealedValue はマスター鍵などで封緘された秘密データ。
// Commitment は署名対象に含まれ、Nonce と Ciphertext は含まれない。
type SealedValue struct {
	Commitment []byte `json:"commitment" yaml:"commitment"`
	Nonce      []byte `json:"nonce,omitempty" yaml:"-"`
	Ciphertext []byte `json:"ciphertext,omitempty" yaml:"-"`
}

// Stripped は暗号文を取り除いたコピーを返す。
func (v *SealedValue) Stripped() *SealedValue {
	if v == nil {
		return nil
	}
	return &SealedValue{Commitment: append([]byte(nil), v.Commitment...)}
}

// HasCiphertext は暗号文を保持しているかどうかを返す。
func (v *SealedValue) HasCiphertext() bool {
	return v != nil && len(v.Ciphertext) > 0
}

// Subkey はキーチェーン内の鍵を表す。
// Private が nil の場合は参照のみの鍵（公開部分だけを保持する）。
type Subkey struct {
	ID          KeyID        `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Capability  Capability   `json:"capability" yaml:"capability"`
	Public      []byte       `json:"public,omitempty" yaml:"public,omitempty"`
	Private     *SealedValue `json:"private,omitempty" yaml:"private,omitempty"`
	Revoked     bool         `json:"revoked,omitempty" yaml:"revoked,omitempty"`
}

// HasPrivate は秘密鍵を保持しているかどうかを返す。
func (k Subkey) HasPrivate() bool {
	return k.Private.HasCiphertext()
}

// Policy は署名要件を表す。Kinds が空の場合は全種別に適用される。
type Policy struct {
	Name      string            `json:"name" yaml:"name"`
	Threshold int               `json:"threshold" yaml:"threshold"`
	Keys      []KeyID           `json:"keys" yaml:"keys"`
	Kinds     []TransactionKind `json:"kinds,omitempty" yaml:"kinds,omitempty"`
}

// AppliesTo はポリシーが指定種別に適用されるかどうかを返す。
func (p Policy) AppliesTo(kind TransactionKind) bool {
	if len(p.Kinds) == 0 {
		return true
	}
	for _, k := range p.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Claim はアイデンティティに付与された主張。
type Claim struct {
	ID      TransactionID `json:"id,omitempty" yaml:"id,omitempty"`
	Name    string        `json:"name" yaml:"name"`
	Value   string        `json:"value,omitempty" yaml:"value,omitempty"`
	Private *SealedValue  `json:"private,omitempty" yaml:"private,omitempty"`
}

// Identity はトランザクション履歴を畳み込んだアイデンティティのスナップショット。
type Identity struct {
	ID       IdentityID
	Created  time.Time
	Keychain []Subkey
	Policies []Policy
	Claims   []Claim
}

// KeyByName は名前が完全一致する鍵を返す。
func (i *Identity) KeyByName(name string) (*Subkey, bool) {
	for idx := range i.Keychain {
		if i.Keychain[idx].Name == name {
			return &i.Keychain[idx], true
		}
	}
	return nil, false
}

// KeyByID はIDが一致する鍵を返す。
func (i *Identity) KeyByID(id KeyID) (*Subkey, bool) {
	for idx := range i.Keychain {
		if i.Keychain[idx].ID == id {
			return &i.Keychain[idx], true
		}
	}
	return nil, false
}

// Keys はフィルタを満たす鍵をキーチェーン順に返す。
func (i *Identity) Keys(filter func(Subkey) bool) []Subkey {
	var keys []Subkey
	for _, k := range i.Keychain {
		if filter == nil || filter(k) {
			keys = append(keys, k)
		}
	}
	return keys
}
