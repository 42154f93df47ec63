package usecase

import (
	"fmt"
	"strings"

	"stamp-cli/internal/domain"
)

// KeyFilter は鍵の絞り込み条件。
type KeyFilter func(domain.Subkey) bool

// SigningKeys は署名に使える鍵（署名能力があり、失効しておらず、秘密鍵を持つ）を選ぶ。
func SigningKeys(k domain.Subkey) bool {
	return k.Capability.CanSign() && !k.Revoked && k.HasPrivate()
}

// PolicyKeys はポリシーに含められる鍵を選ぶ。
func PolicyKeys(k domain.Subkey) bool {
	return k.Capability.CanSign() && !k.Revoked
}

// WithCapability は指定能力の鍵を選ぶフィルタを返す。
func WithCapability(c domain.Capability) KeyFilter {
	return func(k domain.Subkey) bool { return k.Capability == c }
}

// Chooser は複数の候補から1つを選ばせる。戻り値は 1 始まりの番号。
type Chooser interface {
	Choose(candidates []domain.Subkey) (int, error)
}

// KeyResolver は検索文字列とフィルタから鍵を1つに特定する。
type KeyResolver struct {
	chooser Chooser
}

// NewKeyResolver は新しいKeyResolverを生成する。
func NewKeyResolver(chooser Chooser) *KeyResolver {
	return &KeyResolver{chooser: chooser}
}

// Resolve は鍵を特定する。
// 名前が完全一致した鍵はフィルタに関係なく返す。それ以外はフィルタを満たしIDが前方一致する鍵から選ぶ。
// search が空の場合はフィルタを満たす全ての鍵が候補になる。
func (r *KeyResolver) Resolve(ident *domain.Identity, filter KeyFilter, search string) (*domain.Subkey, error) {
	if search != "" {
		if key, ok := ident.KeyByName(search); ok {
			found := *key
			return &found, nil
		}
	}

	candidates := ident.Keys(func(k domain.Subkey) bool {
		if filter != nil && !filter(k) {
			return false
		}
		return search == "" || strings.HasPrefix(string(k.ID), search)
	})

	switch len(candidates) {
	case 0:
		if search == "" {
			return nil, domain.ErrNoCapableKey
		}
		return nil, fmt.Errorf("%w: %q", domain.ErrNoMatch, search)
	case 1:
		return &candidates[0], nil
	}

	if _, strict := r.chooser.(StrictChooser); strict || r.chooser == nil {
		return nil, ambiguousKeys(search, candidates)
	}
	choice, err := r.chooser.Choose(candidates)
	if err != nil {
		return nil, err
	}
	if choice < 1 || choice > len(candidates) {
		return nil, fmt.Errorf("%w: %d (expected 1-%d)", domain.ErrInvalidChoice, choice, len(candidates))
	}
	return &candidates[choice-1], nil
}

// FirstChooser は常に最初の候補を選ぶ。
type FirstChooser struct{}

// Choose は 1 を返す。
func (FirstChooser) Choose(candidates []domain.Subkey) (int, error) {
	return 1, nil
}

// StrictChooser は選択せず、全候補を列挙したエラーを返す。非対話実行で使う。
type StrictChooser struct{}

// Choose は AmbiguousMatchError を返す。KeyResolver 経由では検索文字列も含まれる。
func (StrictChooser) Choose(candidates []domain.Subkey) (int, error) {
	return 0, ambiguousKeys("", candidates)
}

func ambiguousKeys(search string, candidates []domain.Subkey) error {
	names := make([]string, len(candidates))
	for i, k := range candidates {
		names[i] = fmt.Sprintf("%s (%s, %s)", k.Name, k.ID, k.Capability)
	}
	return &domain.AmbiguousMatchError{What: "key", Search: search, Candidates: names}
}
