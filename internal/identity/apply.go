package identity

import (
	"fmt"

	"stamp-cli/internal/domain"
)

func genesis(tx *domain.Transaction) (*domain.Identity, error) {
	if tx.Identity != "" || len(tx.Previous) != 0 {
		return nil, fmt.Errorf("%w: %s must not reference an identity or previous transactions", domain.ErrInvalidTransaction, domain.KindCreateIdentity)
	}
	body := tx.Clone().Body
	ident := &domain.Identity{
		ID:      domain.IdentityID(tx.ID),
		Created: tx.Created,
	}
	for _, k := range body.Keys {
		if err := addKey(ident, k); err != nil {
			return nil, err
		}
	}
	if err := validatePolicies(ident, body.Policies); err != nil {
		return nil, err
	}
	ident.Policies = body.Policies
	return ident, nil
}

// apply はトランザクション本体を適用した新しいアイデンティティを返す。ident は変更しない。
func apply(ident *domain.Identity, tx *domain.Transaction) (*domain.Identity, error) {
	if tx.Body.Kind == domain.KindCreateIdentity {
		return genesis(tx)
	}

	next := cloneIdentity(ident)
	body := tx.Clone().Body
	switch body.Kind {
	case domain.KindAddSubkey:
		if body.Subkey == nil {
			return nil, fmt.Errorf("%w: %s without a key", domain.ErrInvalidTransaction, body.Kind)
		}
		if err := addKey(next, *body.Subkey); err != nil {
			return nil, err
		}
	case domain.KindRevokeSubkey:
		key, ok := next.KeyByID(body.KeyID)
		if !ok {
			return nil, fmt.Errorf("%w: key %s not in keychain", domain.ErrInvalidTransaction, body.KeyID)
		}
		key.Revoked = true
	case domain.KindDeleteSubkey:
		if _, ok := next.KeyByID(body.KeyID); !ok {
			return nil, fmt.Errorf("%w: key %s not in keychain", domain.ErrInvalidTransaction, body.KeyID)
		}
		for _, p := range next.Policies {
			for _, k := range p.Keys {
				if k == body.KeyID {
					return nil, fmt.Errorf("%w: key %s is referenced by policy %q", domain.ErrInvalidTransaction, body.KeyID, p.Name)
				}
			}
		}
		keys := next.Keychain[:0]
		for _, k := range next.Keychain {
			if k.ID != body.KeyID {
				keys = append(keys, k)
			}
		}
		next.Keychain = keys
	case domain.KindSetPolicy:
		if err := validatePolicies(next, body.Policies); err != nil {
			return nil, err
		}
		next.Policies = body.Policies
	case domain.KindMakeClaim:
		if body.Claim == nil || body.Claim.Name == "" {
			return nil, fmt.Errorf("%w: %s without a named claim", domain.ErrInvalidTransaction, body.Kind)
		}
		claim := *body.Claim
		claim.ID = tx.ID
		next.Claims = append(next.Claims, claim)
	case domain.KindDeleteClaim:
		claims := next.Claims[:0]
		found := false
		for _, c := range next.Claims {
			if c.ID == body.ClaimID {
				found = true
				continue
			}
			claims = append(claims, c)
		}
		if !found {
			return nil, fmt.Errorf("%w: claim %s not found", domain.ErrInvalidTransaction, body.ClaimID)
		}
		next.Claims = claims
	default:
		return nil, fmt.Errorf("%w: unknown transaction kind %q", domain.ErrInvalidTransaction, body.Kind)
	}
	return next, nil
}

func addKey(ident *domain.Identity, key domain.Subkey) error {
	if key.ID == "" {
		return fmt.Errorf("%w: key without id", domain.ErrInvalidTransaction)
	}
	if _, ok := ident.KeyByID(key.ID); ok {
		return fmt.Errorf("%w: key %s already in keychain", domain.ErrInvalidTransaction, key.ID)
	}
	if key.Name != "" {
		if _, ok := ident.KeyByName(key.Name); ok {
			return fmt.Errorf("%w: %q", domain.ErrDuplicateKeyName, key.Name)
		}
	}
	ident.Keychain = append(ident.Keychain, key)
	return nil
}

func validatePolicies(ident *domain.Identity, policies []domain.Policy) error {
	if len(policies) == 0 {
		return fmt.Errorf("%w: at least one policy is required", domain.ErrInvalidTransaction)
	}
	for _, p := range policies {
		if p.Threshold < 1 || p.Threshold > len(p.Keys) {
			return fmt.Errorf("%w: policy %q needs 1 <= threshold <= %d, got %d", domain.ErrInvalidTransaction, p.Name, len(p.Keys), p.Threshold)
		}
		for _, id := range p.Keys {
			key, ok := ident.KeyByID(id)
			if !ok {
				return fmt.Errorf("%w: policy %q references unknown key %s", domain.ErrInvalidTransaction, p.Name, id)
			}
			if !key.Capability.CanSign() {
				return fmt.Errorf("%w: policy %q references key %s that cannot sign", domain.ErrInvalidTransaction, p.Name, key.Name)
			}
		}
	}
	return nil
}

func cloneIdentity(ident *domain.Identity) *domain.Identity {
	next := *ident
	next.Keychain = append([]domain.Subkey(nil), ident.Keychain...)
	next.Policies = append([]domain.Policy(nil), ident.Policies...)
	next.Claims = append([]domain.Claim(nil), ident.Claims...)
	return &next
}
