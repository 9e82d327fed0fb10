// Package gateway composes admin admission, tenant registration, slug
// dispatch, and process lifecycle into the single HTTP entry point.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/agent-door/agentdoor/internal/adapter/outbound/memory"
	"github.com/agent-door/agentdoor/internal/domain/capability"
	"github.com/agent-door/agentdoor/internal/domain/door"
	"github.com/agent-door/agentdoor/internal/domain/ratelimit"
	"github.com/agent-door/agentdoor/internal/domain/registry"
	"github.com/agent-door/agentdoor/internal/domain/tenant"
	"github.com/agent-door/agentdoor/internal/domain/urlguard"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,38}[a-z0-9]$`)

var reservedSlugs = map[string]struct{}{
	"register": {}, "sites": {}, "health": {}, "admin": {}, "api": {},
	"static": {}, "assets": {}, "favicon.ico": {}, "robots.txt": {}, ".well-known": {},
}

// registeredTenant bundles the runtime Tenant with the Door that serves it.
type registeredTenant struct {
	tenant *tenant.Tenant
	door   *door.Door
}

// Gateway is the process-level HTTP entry point.
type Gateway struct {
	cfg      Config
	reg      registry.Registry
	guard    *urlguard.Guard
	client   *http.Client
	logger   *slog.Logger
	version  string

	mu      sync.RWMutex
	tenants map[string]*registeredTenant

	registrationLimiter ratelimit.Limiter
	adminLimiter        ratelimit.Limiter

	startedAt time.Time
}

// New constructs a Gateway. It does not restore tenants; call Restore after
// construction, before serving traffic.
func New(cfg Config, reg registry.Registry, logger *slog.Logger, version string) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.adminConfigured() && !cfg.DevMode {
		logger.Warn("admin API key not configured; admin surface will fail closed (set AGENTDOOR_DEV_MODE=true to run open in development)")
	}
	if !cfg.adminConfigured() && cfg.DevMode {
		logger.Warn("running with admin surface open: no ADMIN_API_KEY configured and AGENTDOOR_DEV_MODE=true")
	}
	return &Gateway{
		cfg:                 cfg,
		reg:                 reg,
		guard:               urlguard.New(),
		client:              &http.Client{Timeout: cfg.FetchTimeout},
		logger:              logger,
		version:             version,
		tenants:             make(map[string]*registeredTenant),
		registrationLimiter: memory.NewRateLimiter(),
		adminLimiter:        memory.NewRateLimiter(),
		startedAt:           time.Now(),
	}
}

// Restore iterates the registry and reconstructs every Tenant. A single
// tenant that fails to restore is logged and skipped; it never aborts
// startup.
func (g *Gateway) Restore(ctx context.Context) error {
	records, err := g.reg.ListWithSpecs(ctx)
	if err != nil {
		return fmt.Errorf("gateway: list registrations: %w", err)
	}
	for _, rec := range records {
		if err := g.installTenant(rec.Registration, rec.SpecJSON); err != nil {
			g.logger.Error("failed to restore tenant, skipping", "slug", rec.Registration.Slug, "error", err)
			continue
		}
		g.logger.Info("restored tenant", "slug", rec.Registration.Slug)
	}
	return nil
}

func (g *Gateway) installTenant(reg tenant.SiteRegistration, specJSON json.RawMessage) error {
	caps, err := capability.Compile(specJSON, reg.APIURL, g.client)
	if err != nil {
		return fmt.Errorf("compile capabilities: %w", err)
	}
	g.activateTenant(reg, caps)
	return nil
}

// activateTenant builds the runtime Tenant and Door for an already-compiled
// capability table and installs them into the dispatch map.
func (g *Gateway) activateTenant(reg tenant.SiteRegistration, caps []tenant.Capability) {
	t := &tenant.Tenant{
		Registration:   reg,
		Capabilities:   caps,
		SessionStore:   memory.NewSessionStore(),
		RateLimiter:    memory.NewRateLimiter(),
		CapabilityHash: capability.TableHash(caps),
	}

	d := door.New(
		door.Site{Name: reg.SiteName, URL: reg.SiteURL},
		caps,
		t.SessionStore,
		t.RateLimiter,
		reg.RateLimit,
		door.WithCORSOrigins(g.cfg.CORSOrigins),
		door.WithCapabilityHash(t.CapabilityHash),
	)

	g.mu.Lock()
	g.tenants[reg.Slug] = &registeredTenant{tenant: t, door: d}
	g.mu.Unlock()
}

// ServeHTTP is the single process-level handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/":
		g.handleLiveness(w, r)
	case r.URL.Path == "/healthz":
		g.handleHealthz(w, r)
	case r.URL.Path == "/register" && r.Method == http.MethodPost:
		g.handleRegister(w, r)
	case r.URL.Path == "/sites" && r.Method == http.MethodGet:
		g.handleListSites(w, r)
	case strings.HasPrefix(r.URL.Path, "/sites/") && r.Method == http.MethodDelete:
		g.handleDeleteSite(w, r)
	default:
		g.dispatchTenant(w, r)
	}
}

func (g *Gateway) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"service": "agentdoor", "version": g.version})
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	g.mu.RLock()
	count := len(g.tenants)
	g.mu.RUnlock()

	status := "ok"
	httpStatus := http.StatusOK
	if _, err := g.reg.List(r.Context()); err != nil {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":       status,
		"tenants":      count,
		"uptimeSecond": int(time.Since(g.startedAt).Seconds()),
	})
}

// dispatchTenant rewrites /<slug>/<rest> to /<rest> and invokes the
// tenant's Door. Exactly one prefix strip via string operations, never a
// regex compiled from user input.
func (g *Gateway) dispatchTenant(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	trimmed := strings.TrimPrefix(path, "/")
	slug, rest, found := strings.Cut(trimmed, "/")
	if !found {
		slug = trimmed
		rest = ""
	}

	g.mu.RLock()
	rt, ok := g.tenants[slug]
	g.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	original := r.URL.Path
	r.URL.Path = "/" + rest
	rt.door.ServeHTTP(w, r)
	r.URL.Path = original
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readAllLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("gateway: body exceeds limit")
	}
	return data, nil
}

// Shutdown destroys every tenant and closes the registry. It does not stop
// accepting connections or drain in-flight requests; the HTTP server
// wrapping the Gateway is responsible for the 10-second graceful-stop
// bound, then calls Shutdown once no new requests can arrive.
func (g *Gateway) Shutdown() error {
	g.registrationLimiter.Destroy()
	g.adminLimiter.Destroy()

	g.mu.Lock()
	tenants := g.tenants
	g.tenants = make(map[string]*registeredTenant)
	g.mu.Unlock()

	for slug, rt := range tenants {
		rt.tenant.Destroy()
		g.logger.Debug("destroyed tenant", "slug", slug)
	}

	return g.reg.Close()
}

// TenantCount reports the number of currently dispatching tenants, used by
// the healthz handler and tests.
func (g *Gateway) TenantCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.tenants)
}
