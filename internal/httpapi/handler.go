// Package httpapi implements the HTTP Capture & Response Engine (C4,
// spec.md section 4.4): the dashboard-control REST surface and the
// subdomain catch-all capture/response path. Built on
// github.com/labstack/echo/v4, the web framework every app in the
// teacher monorepo uses for its HTTP surface.
package httpapi

import (
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/arc-self/requestrepo/internal/apperr"
	"github.com/arc-self/requestrepo/internal/auth"
	"github.com/arc-self/requestrepo/internal/config"
	"github.com/arc-self/requestrepo/internal/ipcountry"
	"github.com/arc-self/requestrepo/internal/store"
	"github.com/arc-self/requestrepo/internal/subdomain"
	"github.com/arc-self/requestrepo/internal/tree"
)

// tokenExpiry matches the original service's long-lived dashboard
// session token (original_source/backend/app.py get_token, 31 days).
const tokenExpiry = 31 * 24 * time.Hour

// Handler holds the dependencies every REST and catch-all route needs.
type Handler struct {
	cfg      config.Config
	session  *store.Session
	verifier *auth.Verifier
	grammar  subdomain.Grammar
	log      *zap.Logger
}

// New builds a Handler.
func New(cfg config.Config, session *store.Session, verifier *auth.Verifier, log *zap.Logger) *Handler {
	return &Handler{cfg: cfg, session: session, verifier: verifier, grammar: cfg.Grammar(), log: log}
}

// Register mounts every route from spec.md section 6's REST surface
// table plus the catch-all, on the given Echo instance.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	api := e.Group("/api")
	api.POST("/get_token", h.getToken)
	api.GET("/get_file", h.getFile)
	api.POST("/update_file", h.updateFile)
	api.GET("/files", h.getFiles)
	api.POST("/files", h.updateFiles)
	api.GET("/get_dns", h.getDNS)
	api.POST("/update_dns", h.updateDNS)
	api.GET("/list_requests", h.listRequests)
	api.GET("/get_request", h.getRequest)
	api.POST("/delete_request", h.deleteRequest)
	api.POST("/delete_all", h.deleteAll)

	e.Any("/*", h.catchAll)
}

// tokenFromRequest reads the bearer token from either the "token" query
// parameter or an Authorization: Bearer header, treating them
// equivalently (spec.md section 4.4, "token either as a query parameter
// or bearer header").
func tokenFromRequest(c echo.Context) string {
	if t := c.QueryParam("token"); t != "" {
		return t
	}
	authz := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimPrefix(authz, "Bearer ")
	}
	return authz
}

// authSubdomain resolves and verifies the caller's token. On failure it
// returns an Auth-kind error and writes nothing; callers render it with
// writeErr.
func (h *Handler) authSubdomain(c echo.Context) (string, error) {
	tok := tokenFromRequest(c)
	if tok == "" {
		return "", apperr.New(apperr.Auth, "missing token")
	}
	sub, err := h.verifier.Verify(tok)
	if err != nil {
		return "", err
	}
	return sub, nil
}

func writeErr(c echo.Context, err error) error {
	return c.JSON(apperr.StatusCode(apperr.KindOf(err)), map[string]string{"error": apperr.Message(err)})
}

// getToken implements mint-session: no auth, loops picking a fresh
// random subdomain until subdomain:<sub> is absent, seeds the default
// tree (spec.md section 4.4).
func (h *Handler) getToken(c echo.Context) error {
	ctx := c.Request().Context()
	var sub string
	for i := 0; i < 100; i++ {
		candidate, err := h.grammar.Random()
		if err != nil {
			return writeErr(c, apperr.Wrap(apperr.Fatal, err, "generate subdomain"))
		}
		exists, err := h.session.SubdomainExists(ctx, candidate)
		if err != nil {
			return writeErr(c, err)
		}
		if !exists {
			sub = candidate
			break
		}
	}
	if sub == "" {
		return writeErr(c, apperr.New(apperr.Fatal, "could not mint a unique subdomain"))
	}
	if err := h.session.MarkSubdomain(ctx, sub); err != nil {
		return writeErr(c, err)
	}
	if err := h.session.SaveTree(ctx, sub, tree.Default(h.cfg.IncludeServerHdr, h.cfg.RootDomain)); err != nil {
		return writeErr(c, err)
	}
	tok, err := h.verifier.Mint(sub, tokenExpiry)
	if err != nil {
		return writeErr(c, apperr.Wrap(apperr.Fatal, err, "mint token"))
	}
	return c.JSON(http.StatusOK, map[string]string{"token": tok, "subdomain": sub})
}

func (h *Handler) getFile(c echo.Context) error {
	sub, err := h.authSubdomain(c)
	if err != nil {
		return writeErr(c, err)
	}
	ctx := c.Request().Context()
	t, err := h.session.LoadTree(ctx, sub, h.cfg.IncludeServerHdr, h.cfg.RootDomain)
	if err != nil {
		return writeErr(c, err)
	}
	leaf, ok := t.Root[tree.IndexPath]
	if !ok || leaf.File == nil {
		return writeErr(c, apperr.New(apperr.NotFound, "index.html not found"))
	}
	return c.JSON(http.StatusOK, leaf.File)
}

func (h *Handler) updateFile(c echo.Context) error {
	sub, err := h.authSubdomain(c)
	if err != nil {
		return writeErr(c, err)
	}
	var resp tree.Response
	if err := c.Bind(&resp); err != nil {
		return writeErr(c, apperr.Wrap(apperr.Validation, err, "invalid body"))
	}
	if len(resp.RawB64) > h.cfg.MaxFileSize {
		return writeErr(c, apperr.New(apperr.Validation, "file too large"))
	}
	ctx := c.Request().Context()
	t, err := h.session.LoadTree(ctx, sub, h.cfg.IncludeServerHdr, h.cfg.RootDomain)
	if err != nil {
		return writeErr(c, err)
	}
	t.Root[tree.IndexPath] = &tree.Node{File: &resp}
	if err := h.session.SaveTree(ctx, sub, t); err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"msg": "ok"})
}

func (h *Handler) getFiles(c echo.Context) error {
	sub, err := h.authSubdomain(c)
	if err != nil {
		return writeErr(c, err)
	}
	t, err := h.session.LoadTree(c.Request().Context(), sub, h.cfg.IncludeServerHdr, h.cfg.RootDomain)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) updateFiles(c echo.Context) error {
	sub, err := h.authSubdomain(c)
	if err != nil {
		return writeErr(c, err)
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return writeErr(c, apperr.Wrap(apperr.Validation, err, "read body"))
	}
	if err := tree.Validate(body, h.cfg.MaxFileSize); err != nil {
		return writeErr(c, apperr.Wrap(apperr.Validation, err, "%s", err.Error()))
	}
	var t tree.Tree
	if err := t.UnmarshalJSON(body); err != nil {
		return writeErr(c, apperr.Wrap(apperr.Validation, err, "invalid tree"))
	}
	if err := h.session.SaveTree(c.Request().Context(), sub, &t); err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"msg": "ok"})
}

func (h *Handler) getDNS(c echo.Context) error {
	sub, err := h.authSubdomain(c)
	if err != nil {
		return writeErr(c, err)
	}
	recs, err := h.session.GetDNSRecords(c.Request().Context(), sub)
	if err != nil {
		return writeErr(c, err)
	}
	if recs == nil {
		recs = []store.DNSRecord{}
	}
	return c.JSON(http.StatusOK, recs)
}

type dnsRecordInput struct {
	Domain string `json:"domain"`
	Type   int    `json:"type"`
	Value  string `json:"value"`
}

type updateDNSBody struct {
	Records []dnsRecordInput `json:"records"`
}

func (h *Handler) updateDNS(c echo.Context) error {
	sub, err := h.authSubdomain(c)
	if err != nil {
		return writeErr(c, err)
	}
	var body updateDNSBody
	if err := c.Bind(&body); err != nil {
		return writeErr(c, apperr.Wrap(apperr.Validation, err, "invalid body"))
	}

	normalised := make([]store.DNSRecord, 0, len(body.Records))
	for _, r := range body.Records {
		rec, err := validateDNSRecord(r, sub, h.cfg.RootDomain)
		if err != nil {
			return writeErr(c, err)
		}
		normalised = append(normalised, rec)
	}

	if err := h.session.UpdateDNSRecords(c.Request().Context(), sub, normalised); err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"msg": "ok"})
}

func (h *Handler) listRequests(c echo.Context) error {
	sub, err := h.authSubdomain(c)
	if err != nil {
		return writeErr(c, err)
	}
	limit := atoiDefault(c.QueryParam("limit"), 0)
	offset := atoiDefault(c.QueryParam("offset"), 0)
	recs, err := h.session.ListCaptures(c.Request().Context(), sub, limit, offset)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, recs)
}

// getRequest is shared — no auth required (spec.md section 4.4).
func (h *Handler) getRequest(c echo.Context) error {
	sub := strings.ToLower(c.QueryParam("subdomain"))
	id := c.QueryParam("id")
	rec, ok, err := h.session.GetCapture(c.Request().Context(), sub, id)
	if err != nil {
		return writeErr(c, err)
	}
	if !ok {
		return writeErr(c, apperr.New(apperr.NotFound, "request not found"))
	}
	return c.JSON(http.StatusOK, rec)
}

type deleteRequestBody struct {
	ID string `json:"id"`
}

func (h *Handler) deleteRequest(c echo.Context) error {
	sub, err := h.authSubdomain(c)
	if err != nil {
		return writeErr(c, err)
	}
	var body deleteRequestBody
	if err := c.Bind(&body); err != nil {
		return writeErr(c, apperr.Wrap(apperr.Validation, err, "invalid body"))
	}
	if err := h.session.DeleteCapture(c.Request().Context(), sub, body.ID); err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"msg": "ok"})
}

func (h *Handler) deleteAll(c echo.Context) error {
	sub, err := h.authSubdomain(c)
	if err != nil {
		return writeErr(c, err)
	}
	if err := h.session.DeleteAllCaptures(c.Request().Context(), sub); err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"msg": "ok"})
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// remoteIP extracts the caller's address, preferring Echo's RealIP
// (X-Forwarded-For aware) over the raw socket peer.
func remoteIP(c echo.Context) string {
	if ip := c.RealIP(); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(c.Request().RemoteAddr)
	if err != nil {
		return c.Request().RemoteAddr
	}
	return host
}

func remotePort(c echo.Context) int {
	_, portStr, err := net.SplitHostPort(c.Request().RemoteAddr)
	if err != nil {
		return 0
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return p
}

func countryFor(ip string) string { return ipcountry.Lookup(ip) }
