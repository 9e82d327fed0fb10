package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/agent-door/agentdoor/internal/domain/capability"
	"github.com/agent-door/agentdoor/internal/domain/tenant"
)

type registerRequest struct {
	Slug       string `json:"slug"`
	SiteName   string `json:"siteName"`
	SiteURL    string `json:"siteUrl"`
	APIURL     string `json:"apiUrl"`
	OpenAPIURL string `json:"openApiUrl"`
	RateLimit  *int   `json:"rateLimit"`
}

const defaultRateLimit = 60

// handleRegister runs the twelve-step admission pipeline from spec §4.7,
// in order, terminating on the first failure. Each step is its own
// function so the order stays legible as a checklist rather than a
// generic validation-pipeline abstraction.
func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !g.requireAdmin(w, r) {
		return
	}

	req, gerr := g.parseRegisterBody(r)
	if gerr != nil {
		writeGatewayError(w, gerr)
		return
	}
	if gerr := validateRequiredFields(req); gerr != nil {
		writeGatewayError(w, gerr)
		return
	}
	if gerr := validateURLsPresent(req); gerr != nil {
		writeGatewayError(w, gerr)
		return
	}
	if gerr := validateSlugFormat(req.Slug); gerr != nil {
		writeGatewayError(w, gerr)
		return
	}
	if gerr := validateSlugNotReserved(req.Slug); gerr != nil {
		writeGatewayError(w, gerr)
		return
	}
	rateLimit, gerr := validateRateLimit(req.RateLimit)
	if gerr != nil {
		writeGatewayError(w, gerr)
		return
	}
	if gerr := g.checkQuota(); gerr != nil {
		writeGatewayError(w, gerr)
		return
	}
	if gerr := g.checkDuplicate(req.Slug); gerr != nil {
		writeGatewayError(w, gerr)
		return
	}
	if gerr := g.checkURLSafety(r.Context(), req); gerr != nil {
		writeGatewayError(w, gerr)
		return
	}
	resolvedAPIURL, specURL := resolveURLs(req)
	if gerr := g.guardURL(r.Context(), specURL); gerr != nil {
		writeGatewayError(w, gerr)
		return
	}
	if gerr := g.checkRegistrationRate(w, r); gerr != nil {
		writeGatewayError(w, gerr)
		return
	}
	ctx, span := g.traceRegistration(r.Context(), req.Slug)
	defer span.End()

	specJSON, caps, gerr := g.fetchAndCompile(ctx, specURL, resolvedAPIURL)
	if gerr != nil {
		span.SetStatus(codes.Error, gerr.Message)
		writeGatewayError(w, gerr)
		return
	}

	reg := tenant.SiteRegistration{
		Slug:       req.Slug,
		SiteName:   req.SiteName,
		SiteURL:    req.SiteURL,
		APIURL:     resolvedAPIURL,
		OpenAPIURL: specURL,
		RateLimit:  rateLimit,
		CreatedAt:  time.Now().UTC(),
	}

	if err := g.reg.Register(r.Context(), reg, specJSON); err != nil {
		g.logger.Error("failed to persist registration", "slug", reg.Slug, "error", err)
		writeGatewayError(w, newErr(http.StatusInternalServerError, "could not persist registration"))
		return
	}
	g.activateTenant(reg, caps)

	base := g.resolveBaseURL(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"data": map[string]any{
			"slug":        reg.Slug,
			"gateway_url": base + "/" + reg.Slug,
			"agents_txt":  base + "/" + reg.Slug + "/.well-known/agents.txt",
			"agents_json": base + "/" + reg.Slug + "/.well-known/agents.json",
		},
	})
}

func (g *Gateway) parseRegisterBody(r *http.Request) (*registerRequest, *gatewayError) {
	data, err := readAllLimited(r.Body, g.cfg.MaxBodyBytes)
	if err != nil {
		return nil, newErr(http.StatusRequestEntityTooLarge, "request body too large")
	}
	var req registerRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, newErr(http.StatusBadRequest, "malformed JSON body")
	}
	return &req, nil
}

func validateRequiredFields(req *registerRequest) *gatewayError {
	if strings.TrimSpace(req.Slug) == "" || strings.TrimSpace(req.SiteName) == "" || strings.TrimSpace(req.SiteURL) == "" {
		return newErr(http.StatusBadRequest, "slug, siteName, and siteUrl are required")
	}
	return nil
}

func validateURLsPresent(req *registerRequest) *gatewayError {
	if req.APIURL == "" && req.OpenAPIURL == "" {
		return newErr(http.StatusBadRequest, "apiUrl or openApiUrl is required")
	}
	return nil
}

func validateSlugFormat(slug string) *gatewayError {
	if !slugPattern.MatchString(slug) {
		return newErr(http.StatusBadRequest, "slug must match ^[a-z0-9][a-z0-9-]{0,38}[a-z0-9]$")
	}
	return nil
}

func validateSlugNotReserved(slug string) *gatewayError {
	if _, reserved := reservedSlugs[slug]; reserved {
		return newErr(http.StatusBadRequest, "slug is reserved")
	}
	return nil
}

func validateRateLimit(rateLimit *int) (int, *gatewayError) {
	if rateLimit == nil {
		return defaultRateLimit, nil
	}
	if *rateLimit < 1 || *rateLimit > 1000 {
		return 0, newErr(http.StatusBadRequest, "rateLimit must be in [1,1000]")
	}
	return *rateLimit, nil
}

func (g *Gateway) checkQuota() *gatewayError {
	g.mu.RLock()
	count := len(g.tenants)
	g.mu.RUnlock()
	if count >= g.cfg.MaxRegistrations {
		return newErr(http.StatusServiceUnavailable, "maximum registrations reached")
	}
	return nil
}

func (g *Gateway) checkDuplicate(slug string) *gatewayError {
	g.mu.RLock()
	_, exists := g.tenants[slug]
	g.mu.RUnlock()
	if exists {
		return newErr(http.StatusConflict, "slug already registered")
	}
	return nil
}

// checkURLSafety runs the URL Guard over siteUrl and apiUrl/openApiUrl (if
// supplied as raw fields); specUrl itself is guarded separately once
// resolveURLs has computed it, since openApiUrl may be derived from apiUrl.
func (g *Gateway) checkURLSafety(ctx context.Context, req *registerRequest) *gatewayError {
	if err := g.guard.Validate(ctx, req.SiteURL); err != nil {
		return newErr(http.StatusBadRequest, "siteUrl "+err.Error())
	}
	if req.APIURL != "" {
		if err := g.guard.Validate(ctx, req.APIURL); err != nil {
			return newErr(http.StatusBadRequest, "apiUrl "+err.Error())
		}
	}
	if req.OpenAPIURL != "" {
		if err := g.guard.Validate(ctx, req.OpenAPIURL); err != nil {
			return newErr(http.StatusBadRequest, "openApiUrl "+err.Error())
		}
	}
	return nil
}

// resolveURLs computes resolvedApiUrl (apiUrl, falling back to siteUrl,
// trailing slash stripped) and specUrl (openApiUrl, falling back to
// resolvedApiUrl + "/openapi.json").
func resolveURLs(req *registerRequest) (resolvedAPIURL, specURL string) {
	resolvedAPIURL = req.APIURL
	if resolvedAPIURL == "" {
		resolvedAPIURL = req.SiteURL
	}
	resolvedAPIURL = strings.TrimSuffix(resolvedAPIURL, "/")

	specURL = req.OpenAPIURL
	if specURL == "" {
		specURL = resolvedAPIURL + "/openapi.json"
	}
	return resolvedAPIURL, specURL
}

func (g *Gateway) guardURL(ctx context.Context, rawURL string) *gatewayError {
	if err := g.guard.Validate(ctx, rawURL); err != nil {
		return newErr(http.StatusBadRequest, "spec URL "+err.Error())
	}
	return nil
}

func (g *Gateway) checkRegistrationRate(w http.ResponseWriter, r *http.Request) *gatewayError {
	result, err := g.registrationLimiter.Check(r.Context(), clientIP(r, g.cfg.TrustedProxy), 10)
	if err != nil {
		return newErr(http.StatusInternalServerError, "rate limiter unavailable")
	}
	if !result.Allowed {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(time.Until(result.ResetAt).Seconds()), 10))
		return newErr(http.StatusTooManyRequests, "registration rate limit exceeded")
	}
	return nil
}

// fetchAndCompile retrieves specUrl with a hard deadline, rejects
// oversized bodies (by Content-Length first, then streamed size), and
// compiles the capability table.
func (g *Gateway) fetchAndCompile(ctx context.Context, specURL, resolvedAPIURL string) (json.RawMessage, []tenant.Capability, *gatewayError) {
	data, gerr := g.fetchSpec(ctx, specURL)
	if gerr != nil {
		return nil, nil, gerr
	}

	_, compileSpan := traceCompileCapabilities(ctx)
	caps, err := capability.Compile(data, resolvedAPIURL, g.client)
	if err != nil {
		compileSpan.SetStatus(codes.Error, err.Error())
		compileSpan.End()
		return nil, nil, wrapErr(http.StatusBadRequest, "could not compile OpenAPI spec", err)
	}
	compileSpan.End()

	return json.RawMessage(data), caps, nil
}

func (g *Gateway) fetchSpec(ctx context.Context, specURL string) ([]byte, *gatewayError) {
	ctx, span := traceFetchSpec(ctx, specURL)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, g.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, specURL, nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, newErr(http.StatusBadRequest, "could not build spec request")
	}
	resp, err := g.client.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, wrapErr(http.StatusBadRequest, "Could not load OpenAPI spec", err)
	}
	defer resp.Body.Close()

	if resp.ContentLength > g.cfg.MaxSpecBytes {
		return nil, newErr(http.StatusBadRequest, "OpenAPI spec too large")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newErr(http.StatusBadRequest, "Could not load OpenAPI spec")
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, g.cfg.MaxSpecBytes+1))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, wrapErr(http.StatusBadRequest, "Could not load OpenAPI spec", err)
	}
	if int64(len(data)) > g.cfg.MaxSpecBytes {
		return nil, newErr(http.StatusBadRequest, "OpenAPI spec too large")
	}

	return data, nil
}
