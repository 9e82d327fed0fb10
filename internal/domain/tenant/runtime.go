package tenant

import (
	"github.com/agent-door/agentdoor/internal/domain/ratelimit"
	"github.com/agent-door/agentdoor/internal/domain/session"
)

// Tenant is the runtime bundle owned by the gateway's tenant map: a
// registration plus its compiled capability table and the per-tenant
// resources (session store, rate limiter) that back proxied traffic.
// A Tenant never holds a back-reference to the gateway that owns it.
type Tenant struct {
	Registration   SiteRegistration
	Capabilities   []Capability
	SessionStore   session.Store
	RateLimiter    ratelimit.Limiter
	CapabilityHash uint64
}

// CapabilityNames returns the ordered capability name list. door.Door
// builds its session snapshot from its own capability table, not from
// this method.
func (t *Tenant) CapabilityNames() []string {
	names := make([]string, len(t.Capabilities))
	for i, c := range t.Capabilities {
		names[i] = c.Name
	}
	return names
}

// Destroy tears down the tenant's per-tenant resources. Safe to call once;
// the gateway removes the tenant from its map before calling Destroy so
// in-flight requests already holding a reference complete normally.
func (t *Tenant) Destroy() {
	if t.SessionStore != nil {
		t.SessionStore.Destroy()
	}
	if t.RateLimiter != nil {
		t.RateLimiter.Destroy()
	}
}
