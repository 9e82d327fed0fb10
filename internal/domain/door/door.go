// Package door implements the per-tenant HTTP router: discovery routes,
// session lifecycle, and the compiled capability table. One Door is
// constructed per Tenant and mounted by the gateway under the tenant's
// slug prefix; a Door never knows its own slug or the gateway that owns it.
package door

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agent-door/agentdoor/internal/domain/ratelimit"
	"github.com/agent-door/agentdoor/internal/domain/session"
	"github.com/agent-door/agentdoor/internal/domain/tenant"
)

// DefaultBase is the discovery route prefix mounted under a tenant slug.
const DefaultBase = "/.well-known"

// maxCapabilityBody bounds the request body read for non-GET/DELETE
// capability calls, mirroring the compiler's upstream response cap.
const maxCapabilityBody = 10 << 20

// Site describes the tenant metadata surfaced in the agents.json manifest.
type Site struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Door is the request handler for a single tenant.
type Door struct {
	site         Site
	capabilities []tenant.Capability
	sessions     session.Store
	limiter      ratelimit.Limiter
	rateLimit    int
	corsOrigins  []string
	etag         string
	mux          *http.ServeMux
}

// Option configures a Door.
type Option func(*Door)

// WithCORSOrigins restricts the Access-Control-Allow-Origin advertisement to
// an explicit allowlist instead of "*".
func WithCORSOrigins(origins []string) Option {
	return func(d *Door) { d.corsOrigins = origins }
}

// WithCapabilityHash sets the ETag advertised on agents.txt/agents.json,
// a stable xxhash digest of the compiled capability table computed once
// at registration time by the caller.
func WithCapabilityHash(hash uint64) Option {
	return func(d *Door) { d.etag = fmt.Sprintf("%q", strconv.FormatUint(hash, 16)) }
}

// New builds a Door and its fixed route table from a tenant's compiled
// capabilities. The route table never changes after construction; a
// capability-set change means building a new Door, not mutating this one.
func New(site Site, caps []tenant.Capability, sessions session.Store, limiter ratelimit.Limiter, rateLimit int, opts ...Option) *Door {
	d := &Door{
		site:         site,
		capabilities: caps,
		sessions:     sessions,
		limiter:      limiter,
		rateLimit:    rateLimit,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.mux = d.buildMux()
	return d
}

// ServeHTTP dispatches within the tenant's route table. The caller (gateway)
// has already stripped the slug prefix, so paths here are rooted at "/".
func (d *Door) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Link", fmt.Sprintf("<%s/agents.json>; rel=\"describedby\"", DefaultBase))
	d.mux.ServeHTTP(w, r)
}

// Destroy tears down the session store and rate limiter owned by this Door.
func (d *Door) Destroy() {
	if d.sessions != nil {
		d.sessions.Destroy()
	}
	if d.limiter != nil {
		d.limiter.Destroy()
	}
}

func (d *Door) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := "*"
	if len(d.corsOrigins) > 0 {
		origin = ""
		reqOrigin := r.Header.Get("Origin")
		for _, o := range d.corsOrigins {
			if o == reqOrigin || o == "*" {
				origin = reqOrigin
				break
			}
		}
		if origin == "" {
			return
		}
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, X-Session-Token, Content-Type")
}

func (d *Door) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+DefaultBase+"/agents.txt", d.handleAgentsTxt)
	mux.HandleFunc("GET "+DefaultBase+"/agents.json", d.handleAgentsJSON)
	mux.HandleFunc("POST "+DefaultBase+"/agents/api/session", d.handleSessionCreate)
	mux.HandleFunc("DELETE "+DefaultBase+"/agents/api/session", d.handleSessionEnd)

	for _, cap := range d.capabilities {
		pattern := fmt.Sprintf("%s %s/agents/api/%s", cap.Method, DefaultBase, routeSegment(cap.Name))
		mux.HandleFunc(pattern, d.handleCapability(cap))
	}

	return mux
}

// routeSegment derives the route path (after "agents/api/") for a
// capability name: "detail" is a sentinel taking a trailing :id, dotted
// names split into nested segments, everything else is used verbatim.
// ":p"-style path parameters are expressed with Go 1.22 mux wildcards.
func routeSegment(name string) string {
	if name == "detail" {
		return "detail/{id}"
	}
	if strings.Contains(name, ".") {
		return strings.ReplaceAll(name, ".", "/")
	}
	return name
}

func (d *Door) checkETag(w http.ResponseWriter, r *http.Request) bool {
	if d.etag == "" {
		return false
	}
	w.Header().Set("ETag", d.etag)
	if r.Header.Get("If-None-Match") == d.etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}

func (d *Door) handleAgentsTxt(w http.ResponseWriter, r *http.Request) {
	if d.checkETag(w, r) {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", d.site.Name)
	if d.site.Description != "" {
		fmt.Fprintf(&b, "%s\n", d.site.Description)
	}
	b.WriteString("\nCapabilities:\n")
	for _, c := range d.capabilities {
		fmt.Fprintf(&b, "- %s %s (%s)\n", c.Method, c.Name, c.PathTemplate)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(b.String()))
}

type manifestCapability struct {
	Name            string                      `json:"name"`
	Method          string                      `json:"method"`
	Params          map[string]tenant.ParamSpec `json:"params"`
	RequiresSession bool                        `json:"requires_session"`
}

type manifest struct {
	SchemaVersion string               `json:"schema_version"`
	Site          Site                 `json:"site"`
	Capabilities  []manifestCapability `json:"capabilities"`
}

func (d *Door) handleAgentsJSON(w http.ResponseWriter, r *http.Request) {
	if d.checkETag(w, r) {
		return
	}
	m := manifest{SchemaVersion: "1.0", Site: d.site}
	for _, c := range d.capabilities {
		m.Capabilities = append(m.Capabilities, manifestCapability{
			Name:            c.Name,
			Method:          c.Method,
			Params:          c.Params,
			RequiresSession: c.RequiresSession,
		})
	}
	writeJSON(w, http.StatusOK, m)
}

func (d *Door) capabilityNames() []string {
	names := make([]string, 0, len(d.capabilities))
	for _, c := range d.capabilities {
		names = append(names, c.Name)
	}
	return names
}

func (d *Door) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	if d.sessions == nil {
		writeError(w, http.StatusInternalServerError, "session store unavailable")
		return
	}
	sess, err := d.sessions.Create(r.Context(), d.capabilityNames())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_token": sess.Token,
		"expires_at":    sess.ExpiresAt.UTC().Format(time.RFC3339),
		"capabilities":  sess.Capabilities,
	})
}

func (d *Door) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token != "" && d.sessions != nil {
		_ = d.sessions.End(r.Context(), token)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ended": true})
}

func (d *Door) handleCapability(cap tenant.Capability) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if d.limiter != nil {
			result, err := d.limiter.Check(r.Context(), key, d.rateLimit)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "rate limiter unavailable")
				return
			}
			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.FormatInt(int64(time.Until(result.ResetAt).Seconds()), 10))
				writeJSONStatus(w, http.StatusTooManyRequests, map[string]any{"ok": false, "error": "Rate limit exceeded"})
				return
			}
		}

		if cap.RequiresSession {
			token := bearerToken(r)
			if token == "" || d.sessions == nil {
				writeJSONStatus(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "session required"})
				return
			}
			if _, err := d.sessions.Validate(r.Context(), token); err != nil {
				writeJSONStatus(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "invalid or expired session"})
				return
			}
		}

		params := map[string]string{}
		if id := r.PathValue("id"); id != "" {
			params["id"] = id
		}

		var body json.RawMessage
		if cap.Method != http.MethodGet && cap.Method != http.MethodDelete {
			data, err := readLimited(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, "could not read request body")
				return
			}
			body = data
		}

		data, status, err := cap.Invoke.Invoke(r.Context(), params, r.URL.Query(), body)
		if err != nil {
			writeJSONStatus(w, http.StatusBadRequest, map[string]any{"ok": false, "error": fmt.Sprintf("Upstream returned %d", status)})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": json.RawMessage(data)})
	}
}

var errBodyTooLarge = errors.New("door: request body exceeds limit")

func readLimited(r *http.Request) (json.RawMessage, error) {
	defer r.Body.Close()
	buf, err := io.ReadAll(io.LimitReader(r.Body, maxCapabilityBody+1))
	if err != nil {
		return nil, err
	}
	if len(buf) > maxCapabilityBody {
		return nil, errBodyTooLarge
	}
	if len(buf) == 0 {
		return nil, nil
	}
	return json.RawMessage(buf), nil
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-Session-Token")
}

func clientKey(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	writeJSONStatus(w, status, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, map[string]any{"ok": false, "error": msg})
}
