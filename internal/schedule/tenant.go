package schedule

import (
	"context"
	"slices"
	"strings"
)

// TenantSource lists the tenants whose declared tasks are reconciled.
type TenantSource interface {
	Tenants(ctx context.Context) ([]string, error)
}

// StaticTenants is a fixed TenantSource. Blank and duplicate entries are
// dropped; an empty list means DefaultTenant.
type StaticTenants []string

// Tenants implements TenantSource.
func (s StaticTenants) Tenants(context.Context) ([]string, error) {
	out := make([]string, 0, len(s))
	for _, t := range s {
		t = strings.TrimSpace(t)
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		out = append(out, DefaultTenant)
	}
	return out, nil
}
