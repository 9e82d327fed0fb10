package gateway

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// requireAdmin enforces bearer auth and the 20/60s admin-op rate window on
// every admin surface endpoint. Writes the response itself on failure and
// returns false; callers must stop processing when it does.
func (g *Gateway) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !g.cfg.adminConfigured() {
		if g.cfg.DevMode {
			return true
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "admin API not configured"})
		return false
	}

	candidate := extractAdminKey(r.Header.Get("X-Api-Key"), r.Header.Get("Authorization"))
	if candidate == "" || !verifyAdminKey(candidate, g.cfg.AdminAPIKey, g.cfg.AdminAPIKeyHash) {
		writeGatewayError(w, newErr(http.StatusUnauthorized, "missing or invalid admin key"))
		return false
	}

	result, err := g.adminLimiter.Check(r.Context(), clientIP(r, g.cfg.TrustedProxy), 20)
	if err != nil {
		writeGatewayError(w, newErr(http.StatusInternalServerError, "rate limiter unavailable"))
		return false
	}
	if !result.Allowed {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(time.Until(result.ResetAt).Seconds()), 10))
		writeGatewayError(w, newErr(http.StatusTooManyRequests, "admin rate limit exceeded"))
		return false
	}
	return true
}

func (g *Gateway) handleListSites(w http.ResponseWriter, r *http.Request) {
	if !g.requireAdmin(w, r) {
		return
	}
	list, err := g.reg.List(r.Context())
	if err != nil {
		writeGatewayError(w, newErr(http.StatusInternalServerError, "could not list registrations"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": list})
}

func (g *Gateway) handleDeleteSite(w http.ResponseWriter, r *http.Request) {
	if !g.requireAdmin(w, r) {
		return
	}
	slug := strings.TrimPrefix(r.URL.Path, "/sites/")
	if slug == "" {
		writeGatewayError(w, newErr(http.StatusBadRequest, "missing slug"))
		return
	}

	g.mu.Lock()
	rt, ok := g.tenants[slug]
	if ok {
		delete(g.tenants, slug)
	}
	g.mu.Unlock()

	if !ok {
		writeGatewayError(w, newErr(http.StatusNotFound, "unknown slug"))
		return
	}
	rt.tenant.Destroy()

	if _, err := g.reg.Delete(r.Context(), slug); err != nil {
		g.logger.Error("failed to delete registration record", "slug", slug, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeGatewayError(w http.ResponseWriter, gerr *gatewayError) {
	writeJSON(w, gerr.Status, map[string]any{"ok": false, "error": gerr.Message})
}

// clientIP extracts the caller's address, honoring X-Forwarded-For only
// when the gateway is configured to trust its upstream proxy.
func clientIP(r *http.Request, trustedProxy bool) string {
	if trustedProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			if first, _, ok := strings.Cut(fwd, ","); ok {
				return strings.TrimSpace(first)
			}
			return strings.TrimSpace(fwd)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// resolveBaseURL returns the configured BaseURL, falling back to a
// request-derived origin. X-Forwarded-* is only honored under
// TrustedProxy, never by default, so registration responses never echo
// unauthenticated client-supplied headers.
func (g *Gateway) resolveBaseURL(r *http.Request) string {
	if g.cfg.BaseURL != "" {
		return strings.TrimSuffix(g.cfg.BaseURL, "/")
	}
	scheme := "http"
	host := r.Host
	if g.cfg.TrustedProxy {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		if fwdHost := r.Header.Get("X-Forwarded-Host"); fwdHost != "" {
			host = fwdHost
		}
	} else if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + host
}
