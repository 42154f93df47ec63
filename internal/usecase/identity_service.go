package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stamp-cli/internal/crypto"
	"stamp-cli/internal/domain"
)

// TransactionBuilder はアイデンティティへの変更トランザクションを組み立てる。
type TransactionBuilder interface {
	NewSubkey(mk *crypto.MasterKey, capability domain.Capability, name, description string) (domain.Subkey, error)
	CreateIdentity(mk *crypto.MasterKey, created time.Time) (*domain.Transaction, error)
	AddSubkey(log *domain.TransactionLog, key domain.Subkey) (*domain.Transaction, error)
	RevokeSubkey(log *domain.TransactionLog, id domain.KeyID, reason string) (*domain.Transaction, error)
	DeleteSubkey(log *domain.TransactionLog, id domain.KeyID) (*domain.Transaction, error)
	SetPolicy(log *domain.TransactionLog, policies []domain.Policy) (*domain.Transaction, error)
	MakeClaim(log *domain.TransactionLog, mk *crypto.MasterKey, name, value string, private bool) (*domain.Transaction, error)
	DeleteClaim(log *domain.TransactionLog, claimID domain.TransactionID) (*domain.Transaction, error)
}

// Proposal は変更トランザクションの扱い方を指定する。
// Stage が true の場合は署名後にステージし、false の場合はポリシーを満たせばそのまま適用する。
type Proposal struct {
	Stage    bool
	SignWith string
}

// ProposalResult は変更トランザクションの提案結果。
type ProposalResult struct {
	ID      domain.TransactionID   `json:"id"`
	Kind    domain.TransactionKind `json:"kind"`
	Staged  bool                   `json:"staged"`
	Ready   bool                   `json:"ready"`
	Applied bool                   `json:"applied"`
}

// IdentityService はアイデンティティの作成と変更トランザクションの提案を提供する。
type IdentityService struct {
	identities IdentityRepository
	engine     IdentityEngine
	builder    TransactionBuilder
	stages     *StageService
	resolver   *KeyResolver
	readiness  *Readiness
	kdf        crypto.KDFParams
	now        func() time.Time
}

// NewIdentityService は新しいIdentityServiceを生成する。
func NewIdentityService(identities IdentityRepository, engine IdentityEngine, builder TransactionBuilder, stages *StageService, resolver *KeyResolver, kdf crypto.KDFParams) *IdentityService {
	return &IdentityService{
		identities: identities,
		engine:     engine,
		builder:    builder,
		stages:     stages,
		resolver:   resolver,
		readiness:  NewReadiness(engine),
		kdf:        kdf,
		now:        time.Now,
	}
}

// Create は新しいアイデンティティを作成して保存する。
func (s *IdentityService) Create(ctx context.Context, passphrase PassphraseSource) (*domain.Identity, error) {
	created := s.now().UTC()
	pass, err := passphrase.Passphrase(ctx, "Passphrase for the new identity")
	if err != nil {
		return nil, err
	}
	mk, err := crypto.DeriveMasterKey(pass, crypto.IdentitySalt(created), s.kdf)
	crypto.Wipe(pass)
	if err != nil {
		return nil, err
	}
	defer mk.Wipe()

	tx, err := s.builder.CreateIdentity(mk, created)
	if err != nil {
		return nil, fmt.Errorf("creating identity: %w", err)
	}
	log := &domain.TransactionLog{IdentityID: domain.IdentityID(tx.ID), Transactions: []domain.Transaction{*tx}}
	ident, err := s.engine.Build(log)
	if err != nil {
		return nil, fmt.Errorf("creating identity: %w", err)
	}
	if err := s.identities.Save(ctx, log); err != nil {
		return nil, fmt.Errorf("saving identity %s: %w", ident.ID, err)
	}
	return ident, nil
}

// List は全アイデンティティを返す。
func (s *IdentityService) List(ctx context.Context) ([]*domain.Identity, error) {
	logs, err := s.identities.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing identities: %w", err)
	}
	idents := make([]*domain.Identity, 0, len(logs))
	for _, log := range logs {
		ident, err := s.engine.Build(log)
		if err != nil {
			return nil, fmt.Errorf("building identity %s: %w", log.IdentityID, err)
		}
		idents = append(idents, ident)
	}
	return idents, nil
}

// Resolve はIDまたはプレフィックスでアイデンティティを1つに特定する。
// search が空の場合、アイデンティティが1つだけならそれを返す。
func (s *IdentityService) Resolve(ctx context.Context, search string) (*domain.Identity, error) {
	var logs []*domain.TransactionLog
	exact, err := s.identities.FindByID(ctx, domain.IdentityID(search))
	if err != nil {
		return nil, fmt.Errorf("finding identity: %w", err)
	}
	if exact != nil {
		logs = []*domain.TransactionLog{exact}
	} else if logs, err = s.identities.FindByPrefix(ctx, search); err != nil {
		return nil, fmt.Errorf("finding identity: %w", err)
	}

	switch len(logs) {
	case 0:
		if search == "" {
			return nil, fmt.Errorf("%w: no identities exist, create one with `stamp id new`", domain.ErrIdentityNotFound)
		}
		return nil, fmt.Errorf("%w: %q", domain.ErrIdentityNotFound, search)
	case 1:
		ident, err := s.engine.Build(logs[0])
		if err != nil {
			return nil, fmt.Errorf("building identity %s: %w", logs[0].IdentityID, err)
		}
		return ident, nil
	}
	ids := make([]string, len(logs))
	for i, l := range logs {
		ids[i] = string(l.IdentityID)
	}
	return nil, &domain.AmbiguousMatchError{What: "identity", Search: search, Candidates: ids}
}

// Keys はキーチェーンの鍵を返す。capability が空なら全能力を対象にし、includeRevoked が false なら失効鍵を除く。
func (s *IdentityService) Keys(ctx context.Context, identityID domain.IdentityID, capability domain.Capability, includeRevoked bool) ([]domain.Subkey, error) {
	_, ident, err := loadIdentity(ctx, s.identities, s.engine, identityID)
	if err != nil {
		return nil, err
	}
	return ident.Keys(func(k domain.Subkey) bool {
		if capability != "" && k.Capability != capability {
			return false
		}
		return includeRevoked || !k.Revoked
	}), nil
}

// AddKey は新しい鍵を生成し、追加トランザクションを提案する。
func (s *IdentityService) AddKey(ctx context.Context, identityID domain.IdentityID, capability domain.Capability, name, description string, unlocker Unlocker, p Proposal) (*ProposalResult, error) {
	return s.propose(ctx, identityID, unlocker, p, func(log *domain.TransactionLog, ident *domain.Identity, mk *crypto.MasterKey) (*domain.Transaction, error) {
		if _, exists := ident.KeyByName(name); exists {
			return nil, fmt.Errorf("%w: %q", domain.ErrDuplicateKeyName, name)
		}
		key, err := s.builder.NewSubkey(mk, capability, name, description)
		if err != nil {
			return nil, err
		}
		return s.builder.AddSubkey(log, key)
	})
}

// RevokeKey は鍵を失効させるトランザクションを提案する。
func (s *IdentityService) RevokeKey(ctx context.Context, identityID domain.IdentityID, keySearch, reason string, unlocker Unlocker, p Proposal) (*ProposalResult, error) {
	return s.propose(ctx, identityID, unlocker, p, func(log *domain.TransactionLog, ident *domain.Identity, mk *crypto.MasterKey) (*domain.Transaction, error) {
		key, err := s.resolver.Resolve(ident, func(k domain.Subkey) bool { return !k.Revoked }, keySearch)
		if err != nil {
			return nil, err
		}
		return s.builder.RevokeSubkey(log, key.ID, reason)
	})
}

// DeleteKey は鍵をキーチェーンから削除するトランザクションを提案する。
func (s *IdentityService) DeleteKey(ctx context.Context, identityID domain.IdentityID, keySearch string, unlocker Unlocker, p Proposal) (*ProposalResult, error) {
	return s.propose(ctx, identityID, unlocker, p, func(log *domain.TransactionLog, ident *domain.Identity, mk *crypto.MasterKey) (*domain.Transaction, error) {
		key, err := s.resolver.Resolve(ident, nil, keySearch)
		if err != nil {
			return nil, err
		}
		return s.builder.DeleteSubkey(log, key.ID)
	})
}

// SetPolicy は署名ポリシーを置き換えるトランザクションを提案する。
func (s *IdentityService) SetPolicy(ctx context.Context, identityID domain.IdentityID, policy domain.Policy, keySearches []string, unlocker Unlocker, p Proposal) (*ProposalResult, error) {
	return s.propose(ctx, identityID, unlocker, p, func(log *domain.TransactionLog, ident *domain.Identity, mk *crypto.MasterKey) (*domain.Transaction, error) {
		policy.Keys = nil
		for _, search := range keySearches {
			key, err := s.resolver.Resolve(ident, PolicyKeys, search)
			if err != nil {
				return nil, fmt.Errorf("resolving policy key %q: %w", search, err)
			}
			policy.Keys = append(policy.Keys, key.ID)
		}
		return s.builder.SetPolicy(log, []domain.Policy{policy})
	})
}

// MakeClaim は主張を追加するトランザクションを提案する。
func (s *IdentityService) MakeClaim(ctx context.Context, identityID domain.IdentityID, name, value string, private bool, unlocker Unlocker, p Proposal) (*ProposalResult, error) {
	return s.propose(ctx, identityID, unlocker, p, func(log *domain.TransactionLog, ident *domain.Identity, mk *crypto.MasterKey) (*domain.Transaction, error) {
		return s.builder.MakeClaim(log, mk, name, value, private)
	})
}

type buildFunc func(log *domain.TransactionLog, ident *domain.Identity, mk *crypto.MasterKey) (*domain.Transaction, error)

// propose はトランザクションを組み立てて署名し、ステージまたは適用する。
func (s *IdentityService) propose(ctx context.Context, identityID domain.IdentityID, unlocker Unlocker, p Proposal, build buildFunc) (*ProposalResult, error) {
	log, ident, err := loadIdentity(ctx, s.identities, s.engine, identityID)
	if err != nil {
		return nil, err
	}
	key, err := s.resolver.Resolve(ident, SigningKeys, p.SignWith)
	if err != nil {
		return nil, fmt.Errorf("finding signing key: %w", err)
	}
	mk, err := unlock(ctx, s.engine, unlocker, ident)
	if err != nil {
		return nil, err
	}
	defer mk.Wipe()

	tx, err := build(log, ident, mk)
	if err != nil {
		return nil, err
	}
	signed, err := s.engine.Sign(tx, key, mk)
	if err != nil {
		return nil, fmt.Errorf("signing transaction %s: %w", tx.ID, err)
	}
	result := &ProposalResult{ID: signed.ID, Kind: signed.Body.Kind}

	if p.Stage {
		if _, err := s.stages.Stage(ctx, identityID, signed); err != nil {
			return nil, err
		}
		result.Staged = true
		result.Ready = s.readiness.IsReady(log, signed)
		return result, nil
	}

	next, err := s.engine.Append(log, signed)
	if err != nil {
		if errors.Is(err, domain.ErrNotReady) {
			return nil, fmt.Errorf("transaction %s needs more signatures, stage it with --stage: %w", signed.ID, err)
		}
		return nil, fmt.Errorf("applying transaction %s: %w", signed.ID, err)
	}
	if err := s.identities.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("saving identity %s: %w", identityID, err)
	}
	result.Ready = true
	result.Applied = true
	return result, nil
}
