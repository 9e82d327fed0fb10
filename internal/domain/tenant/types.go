// Package tenant defines the persisted and runtime data model for a
// registered site: the SiteRegistration record, the derived Capability
// table, and the runtime Tenant bundle the gateway dispatches requests to.
package tenant

import (
	"context"
	"encoding/json"
	"time"
)

// SiteRegistration is the durable record created by a successful POST /register.
type SiteRegistration struct {
	Slug       string    `json:"slug"`
	SiteName   string    `json:"siteName"`
	SiteURL    string    `json:"siteUrl"`
	APIURL     string    `json:"apiUrl"`
	OpenAPIURL string    `json:"openApiUrl"`
	RateLimit  int       `json:"rateLimit"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Record pairs a SiteRegistration with the verbatim OpenAPI document bytes
// retrieved at registration time, as persisted by the Registry.
type Record struct {
	Registration SiteRegistration `json:"registration"`
	SpecJSON     json.RawMessage  `json:"specJson"`
}

// ParamSpec describes one merged capability parameter.
type ParamSpec struct {
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Enum     []any  `json:"enum,omitempty"`
	Default  any    `json:"default,omitempty"`
}

// Capability is one derived, callable upstream operation.
type Capability struct {
	Name            string               `json:"name"`
	Method          string               `json:"method"`
	PathTemplate    string               `json:"pathTemplate"`
	Params          map[string]ParamSpec `json:"params"`
	RequiresSession bool                 `json:"requires_session"`

	// Invoke performs the upstream call for this capability. It is not
	// serialized; it is populated by the capability compiler at compile time.
	Invoke CapabilityInvoker `json:"-"`
}

// CapabilityInvoker is the first-class call closure produced by the
// capability compiler for a single (path, method) pair.
type CapabilityInvoker interface {
	Invoke(ctx context.Context, params map[string]string, query map[string][]string, body json.RawMessage) (json.RawMessage, int, error)
}
