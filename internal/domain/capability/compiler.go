// Package capability compiles a parsed OpenAPI 3.x document into an ordered
// capability table plus, for each entry, an upstream-call closure. This is
// the one-shot step that runs at registration time and at startup
// restoration; it never re-parses the spec afterward.
package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/agent-door/agentdoor/internal/domain/tenant"
)

// MaxPaths is the compilation cap on distinct OpenAPI paths (spec §4.4, §8).
const MaxPaths = 100

// ErrNoPaths is returned when the document has no usable paths object.
var ErrNoPaths = errors.New("capability: spec has no paths")

// ErrTooManyPaths is returned when the path count exceeds MaxPaths.
var ErrTooManyPaths = errors.New("capability: spec exceeds maximum path count")

// orderedVerbs fixes traversal order for methodMap within one path, so
// compile order (and therefore the tie-break order for ambiguous route
// matches) is deterministic across restarts.
var orderedVerbs = []struct {
	name string
	get  func(*openapi3.PathItem) *openapi3.Operation
}{
	{"get", func(p *openapi3.PathItem) *openapi3.Operation { return p.Get }},
	{"post", func(p *openapi3.PathItem) *openapi3.Operation { return p.Post }},
	{"put", func(p *openapi3.PathItem) *openapi3.Operation { return p.Put }},
	{"patch", func(p *openapi3.PathItem) *openapi3.Operation { return p.Patch }},
	{"delete", func(p *openapi3.PathItem) *openapi3.Operation { return p.Delete }},
}

// Compile parses specJSON as an OpenAPI 3.x document and derives the
// ordered capability table for the given upstream baseURL. The document is
// parsed, not validated: a minimal or loosely-versioned spec that merely
// has a usable paths object compiles successfully.
func Compile(specJSON []byte, baseURL string, client *http.Client) ([]tenant.Capability, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(specJSON)
	if err != nil {
		return nil, fmt.Errorf("capability: parse spec: %w", err)
	}
	if doc.Paths == nil || doc.Paths.Len() == 0 {
		return nil, ErrNoPaths
	}
	if doc.Paths.Len() > MaxPaths {
		return nil, ErrTooManyPaths
	}

	paths := doc.Paths.Map()
	orderedPaths := make([]string, 0, len(paths))
	for p := range paths {
		orderedPaths = append(orderedPaths, p)
	}
	sort.Strings(orderedPaths)

	baseURL = strings.TrimSuffix(baseURL, "/")

	var caps []tenant.Capability
	seen := make(map[string]struct{})

	for _, p := range orderedPaths {
		item := paths[p]
		for _, v := range orderedVerbs {
			op := v.get(item)
			if op == nil {
				continue
			}
			name := sanitizeName(op.OperationID)
			if name == "" {
				name = deriveName(v.name, p)
			}
			if _, reserved := reservedCapabilityNames[name]; reserved {
				name = fmt.Sprintf("%s_%s", name, v.name)
			}
			if _, dup := seen[name]; dup {
				name = fmt.Sprintf("%s_%s", name, v.name)
			}
			seen[name] = struct{}{}

			params := mergeParams(op, v.name)

			cap := tenant.Capability{
				Name:            name,
				Method:          strings.ToUpper(v.name),
				PathTemplate:    p,
				Params:          params,
				RequiresSession: requiresSession(op),
			}
			cap.Invoke = &closure{
				client:   pickClient(client),
				baseURL:  baseURL,
				method:   cap.Method,
				template: p,
			}
			caps = append(caps, cap)
		}
	}

	return caps, nil
}

// TableHash computes a stable digest of a compiled capability table's
// name/method/path shape, used as the manifest ETag: two compiles of the
// same spec produce the same hash, independent of map iteration order
// (the table itself is already sorted by Compile).
func TableHash(caps []tenant.Capability) uint64 {
	h := xxhash.New()
	for _, c := range caps {
		_, _ = h.WriteString(c.Name)
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(c.Method)
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(c.PathTemplate)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

func pickClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return http.DefaultClient
}

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// deriveName builds a stable capability name from a method and path when
// the operation has no operationId: non-alphanumerics collapse to a single
// underscore, leading/trailing underscores are trimmed.
func deriveName(method, path string) string {
	raw := method + "_" + path
	collapsed := nonAlphanumeric.ReplaceAllString(raw, "_")
	return strings.Trim(collapsed, "_")
}

// invalidNameChar matches anything routeSegment and its mux pattern can't
// safely carry: everything but letters, digits, underscore, hyphen, and
// the dot routeSegment treats as a nested-segment separator.
var invalidNameChar = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// reservedCapabilityNames collide with routes buildMux registers outside
// the per-capability loop; an operationId equal to one of these would
// register a duplicate http.ServeMux pattern and panic.
var reservedCapabilityNames = map[string]struct{}{
	"session": {},
}

// sanitizeName collapses an OpenAPI operationId into a safe capability
// name: characters routeSegment or http.ServeMux can't carry (spaces,
// braces, slashes, ...) collapse, run by run, to a single underscore, and
// leading or trailing underscores, dots, and hyphens are trimmed; repeated
// separators inside the name are kept as they are. An operationId that is
// empty or sanitizes away to nothing yields "", signaling the caller to
// fall back to deriveName.
func sanitizeName(operationID string) string {
	if operationID == "" {
		return ""
	}
	collapsed := invalidNameChar.ReplaceAllString(operationID, "_")
	return strings.Trim(collapsed, "_.-")
}

// mergeParams merges parameters from query/path `in` locations and, for
// non-GET/DELETE verbs, from the JSON request body's top-level properties.
func mergeParams(op *openapi3.Operation, verb string) map[string]tenant.ParamSpec {
	params := make(map[string]tenant.ParamSpec)

	for _, ref := range op.Parameters {
		if ref == nil || ref.Value == nil {
			continue
		}
		p := ref.Value
		if p.In != "query" && p.In != "path" {
			continue
		}
		params[p.Name] = tenant.ParamSpec{
			Type:     schemaTypeName(p.Schema),
			Required: p.Required,
			Enum:     schemaEnum(p.Schema),
			Default:  schemaDefault(p.Schema),
		}
	}

	if verb == "get" || verb == "delete" {
		return params
	}
	if op.RequestBody == nil || op.RequestBody.Value == nil {
		return params
	}
	media := op.RequestBody.Value.Content.Get("application/json")
	if media == nil || media.Schema == nil || media.Schema.Value == nil {
		return params
	}
	required := make(map[string]struct{}, len(media.Schema.Value.Required))
	for _, r := range media.Schema.Value.Required {
		required[r] = struct{}{}
	}
	for name, propRef := range media.Schema.Value.Properties {
		_, isRequired := required[name]
		params[name] = tenant.ParamSpec{
			Type:     schemaTypeName(propRef),
			Required: isRequired,
			Enum:     schemaEnum(propRef),
			Default:  schemaDefault(propRef),
		}
	}

	return params
}

// requiresSession reports whether op declares a non-optional security
// requirement. An operation-level `security` array with at least one
// non-empty requirement means every alternative demands a scheme, so the
// capability is gated behind a session token; an empty requirement `{}`
// among the alternatives means auth is optional, which does not count.
func requiresSession(op *openapi3.Operation) bool {
	if op.Security == nil || len(*op.Security) == 0 {
		return false
	}
	for _, req := range *op.Security {
		if len(req) == 0 {
			return false
		}
	}
	return true
}

func schemaTypeName(ref *openapi3.SchemaRef) string {
	if ref == nil || ref.Value == nil || ref.Value.Type == nil {
		return "string"
	}
	types := *ref.Value.Type
	if len(types) == 0 {
		return "string"
	}
	return types[0]
}

func schemaEnum(ref *openapi3.SchemaRef) []any {
	if ref == nil || ref.Value == nil || len(ref.Value.Enum) == 0 {
		return nil
	}
	return ref.Value.Enum
}

func schemaDefault(ref *openapi3.SchemaRef) any {
	if ref == nil || ref.Value == nil {
		return nil
	}
	return ref.Value.Default
}

// closure is the per-capability call implementation, satisfying
// tenant.CapabilityInvoker.
type closure struct {
	client   *http.Client
	baseURL  string
	method   string
	template string
}

// UpstreamError wraps a non-2xx upstream response. The body is intentionally
// not exposed: callers surface only the status code (spec §4.4, §7).
type UpstreamError struct {
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d", e.Status)
}

// Invoke substitutes path parameters, attaches query or JSON body as
// appropriate for the verb, and performs a single bounded upstream call.
func (c *closure) Invoke(ctx context.Context, params map[string]string, query map[string][]string, body json.RawMessage) (json.RawMessage, int, error) {
	resolvedPath := resolvePath(c.template, params)
	target := c.baseURL + resolvedPath

	var reqBody io.Reader
	method := c.method

	if method == http.MethodGet || method == http.MethodDelete {
		if len(query) > 0 {
			u, err := url.Parse(target)
			if err != nil {
				return nil, 0, fmt.Errorf("capability: bad target url: %w", err)
			}
			q := u.Query()
			for k, vs := range query {
				for _, v := range vs {
					q.Add(k, v)
				}
			}
			u.RawQuery = q.Encode()
			target = u.String()
		}
	} else if len(body) > 0 {
		reqBody = strings.NewReader(string(body))
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("capability: build request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("capability: upstream call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("capability: read upstream response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, &UpstreamError{Status: resp.StatusCode}
	}

	if len(respBody) == 0 {
		return json.RawMessage("null"), resp.StatusCode, nil
	}
	return json.RawMessage(respBody), resp.StatusCode, nil
}

// resolvePath substitutes {param} placeholders with URL-encoded values.
func resolvePath(template string, params map[string]string) string {
	if len(params) == 0 {
		return template
	}
	result := template
	for k, v := range params {
		result = strings.ReplaceAll(result, "{"+k+"}", url.PathEscape(v))
	}
	return result
}
