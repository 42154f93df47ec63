package usecase

import (
	"errors"
	"strings"
	"testing"

	"stamp-cli/internal/domain"
)

// fixedChooser は決まった番号を返す Chooser。
type fixedChooser struct {
	choice  int
	err     error
	offered int
}

func (c *fixedChooser) Choose(candidates []domain.Subkey) (int, error) {
	c.offered = len(candidates)
	return c.choice, c.err
}

func resolverIdentity() *domain.Identity {
	sealed := &domain.SealedValue{Commitment: []byte("c"), Ciphertext: []byte("x")}
	return &domain.Identity{
		ID: "ident",
		Keychain: []domain.Subkey{
			{ID: "AAA111", Name: "root", Capability: domain.CapabilityRoot, Private: sealed},
			{ID: "AAA222", Name: "publish", Capability: domain.CapabilityPublish, Private: sealed},
			{ID: "BBB333", Name: "vault", Capability: domain.CapabilitySecret, Private: sealed},
			{ID: "CCC444", Name: "old", Capability: domain.CapabilitySign, Private: sealed, Revoked: true},
			{ID: "DDD555", Name: "friend", Capability: domain.CapabilitySign},
		},
	}
}

func TestKeyResolver_Resolve(t *testing.T) {
	ident := resolverIdentity()

	tests := []struct {
		name    string
		filter  KeyFilter
		search  string
		chooser Chooser
		wantID  domain.KeyID
		wantErr error
	}{
		{name: "exact name", filter: SigningKeys, search: "publish", wantID: "AAA222"},
		{name: "name bypasses filter", filter: SigningKeys, search: "vault", wantID: "BBB333"},
		{name: "name bypasses revocation", filter: SigningKeys, search: "old", wantID: "CCC444"},
		{name: "unique id prefix", filter: SigningKeys, search: "AAA1", wantID: "AAA111"},
		{name: "prefix respects filter", filter: SigningKeys, search: "BBB", wantErr: domain.ErrNoMatch},
		{name: "reference only key is not signing", filter: SigningKeys, search: "DDD", wantErr: domain.ErrNoMatch},
		{name: "policy keys include reference keys", filter: PolicyKeys, search: "DDD", wantID: "DDD555"},
		{name: "no match", filter: nil, search: "ZZZ", wantErr: domain.ErrNoMatch},
		{name: "no capable key", filter: WithCapability(domain.CapabilityCrypto), wantErr: domain.ErrNoCapableKey},
		{name: "single capable key", filter: WithCapability(domain.CapabilitySecret), wantID: "BBB333"},
		{name: "ambiguous without chooser", filter: SigningKeys, search: "AAA", wantErr: domain.ErrAmbiguousMatch},
		{name: "chooser picks second", filter: SigningKeys, search: "AAA", chooser: &fixedChooser{choice: 2}, wantID: "AAA222"},
		{name: "chooser out of range", filter: SigningKeys, search: "AAA", chooser: &fixedChooser{choice: 3}, wantErr: domain.ErrInvalidChoice},
		{name: "chooser zero", filter: SigningKeys, search: "AAA", chooser: &fixedChooser{choice: 0}, wantErr: domain.ErrInvalidChoice},
		{name: "chooser error", filter: SigningKeys, search: "AAA", chooser: &fixedChooser{err: domain.ErrInvalidChoice}, wantErr: domain.ErrInvalidChoice},
		{name: "first chooser", filter: SigningKeys, chooser: FirstChooser{}, wantID: "AAA111"},
		{name: "strict chooser", filter: SigningKeys, chooser: StrictChooser{}, wantErr: domain.ErrAmbiguousMatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := NewKeyResolver(tt.chooser).Resolve(ident, tt.filter, tt.search)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("want %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if key.ID != tt.wantID {
				t.Errorf("want key %s, got %s", tt.wantID, key.ID)
			}
		})
	}
}

func TestKeyResolver_ChooserSeesFilteredCandidates(t *testing.T) {
	chooser := &fixedChooser{choice: 1}
	if _, err := NewKeyResolver(chooser).Resolve(resolverIdentity(), SigningKeys, ""); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	// root と publish のみ。失効鍵、秘密鍵のない鍵、署名できない鍵は除く
	if chooser.offered != 2 {
		t.Errorf("want 2 candidates, got %d", chooser.offered)
	}
}

func TestKeyResolver_AmbiguousListsCandidates(t *testing.T) {
	_, err := NewKeyResolver(nil).Resolve(resolverIdentity(), SigningKeys, "AAA")
	var ambiguous *domain.AmbiguousMatchError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("want AmbiguousMatchError, got %v", err)
	}
	if len(ambiguous.Candidates) != 2 {
		t.Errorf("want 2 candidates, got %v", ambiguous.Candidates)
	}
}

func TestKeyResolver_StrictChooserKeepsSearch(t *testing.T) {
	_, err := NewKeyResolver(StrictChooser{}).Resolve(resolverIdentity(), SigningKeys, "AAA")
	var ambiguous *domain.AmbiguousMatchError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("want AmbiguousMatchError, got %v", err)
	}
	if ambiguous.Search != "AAA" {
		t.Errorf("want search %q in error, got %q", "AAA", ambiguous.Search)
	}
	if !strings.Contains(err.Error(), "AAA") {
		t.Errorf("want search named in message, got %v", err)
	}
}
