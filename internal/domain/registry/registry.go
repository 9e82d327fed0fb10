// Package registry defines the durable tenant registry contract: every
// mutation is crash-atomic, and listing is stable by creation time.
package registry

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/agent-door/agentdoor/internal/domain/tenant"
)

// ErrNotFound is returned when a slug has no registration.
var ErrNotFound = errors.New("registry: slug not found")

// Registry is the durable mapping slug -> SiteRegistration + specJson.
// Writes are serialized by the implementation; reads may be concurrent if
// the backing store allows it.
type Registry interface {
	// Register inserts or replaces the registration for reg.Slug.
	Register(ctx context.Context, reg tenant.SiteRegistration, specJSON json.RawMessage) error
	// Get returns the registration (without spec payload) for slug.
	Get(ctx context.Context, slug string) (tenant.SiteRegistration, error)
	// List returns all registrations ordered by CreatedAt ascending, ties
	// broken by insertion order.
	List(ctx context.Context) ([]tenant.SiteRegistration, error)
	// ListWithSpecs returns all registrations plus their spec payload, in
	// the same order as List.
	ListWithSpecs(ctx context.Context) ([]tenant.Record, error)
	// Delete removes slug's registration. Returns existed=false if unknown.
	Delete(ctx context.Context, slug string) (existed bool, err error)
	// Close releases any resources held by the registry.
	Close() error
}
