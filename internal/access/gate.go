// Package access answers capability questions against the grants table.
package access

import (
	"context"
	"fmt"

	"github.com/spec-kit/doubt-service/internal/domain"
	"github.com/spec-kit/doubt-service/internal/repository"
)

// GrantGate checks capabilities using stored grants. A stronger tier
// satisfies a request for a weaker one.
type GrantGate struct {
	grants repository.GrantRepository
}

// NewGrantGate builds a gate over the grant repository.
func NewGrantGate(grants repository.GrantRepository) *GrantGate {
	return &GrantGate{grants: grants}
}

// HasCapability reports whether userID holds capability (or a stronger tier)
// on scopeID or on the system scope.
func (g *GrantGate) HasCapability(ctx context.Context, capability domain.Capability, scopeID, userID int64) (bool, error) {
	if !capability.IsValid() {
		return false, fmt.Errorf("unknown capability %q", capability)
	}
	for _, tier := range impliedBy(capability) {
		ok, err := g.grants.HasGrant(ctx, userID, scopeID, tier)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// impliedBy lists the tiers that satisfy capability, strongest first.
func impliedBy(capability domain.Capability) []domain.Capability {
	all := domain.AllCapabilities()
	out := make([]domain.Capability, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if all[i] == capability {
			break
		}
	}
	return out
}
