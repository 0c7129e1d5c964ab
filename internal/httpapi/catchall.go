package httpapi

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/arc-self/requestrepo/internal/capture"
)

// catchAll implements spec.md section 4.4's classification order: resolve
// a subdomain from Host or "/r/<sub>/" path; if none, serve the static
// dashboard (or its SPA fallback); if one, walk the subdomain's response
// tree and log the request as a capture.
func (h *Handler) catchAll(c echo.Context) error {
	req := c.Request()
	host := req.Host
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}

	sub, ok := h.grammar.FromHost(host, h.cfg.RootDomain)
	if !ok {
		sub, ok = h.grammar.FromPath(req.URL.Path)
	}
	if !ok {
		return h.serveDashboard(c)
	}

	return h.serveSubdomain(c, sub)
}

// serveDashboard serves the static asset tree for the root host, with a
// path-traversal guard (resolved path must stay within the asset root)
// and an SPA fallback to index.html (spec.md section 4.4, step 2).
func (h *Handler) serveDashboard(c echo.Context) error {
	root, err := filepath.Abs(h.cfg.AssetsDir)
	if err != nil {
		return c.String(http.StatusInternalServerError, "internal error")
	}
	reqPath := strings.TrimPrefix(c.Request().URL.Path, "/")
	candidate := filepath.Join(root, filepath.Clean("/"+reqPath))

	c.Response().Header().Set("Access-Control-Allow-Origin", "*")

	if !strings.HasPrefix(candidate, root) {
		return h.serveIndexFallback(c, root)
	}
	info, err := os.Stat(candidate)
	if err != nil || info.IsDir() {
		return h.serveIndexFallback(c, root)
	}
	return c.File(candidate)
}

func (h *Handler) serveIndexFallback(c echo.Context, root string) error {
	index := filepath.Join(root, "index.html")
	if _, err := os.Stat(index); err != nil {
		return c.String(http.StatusNotFound, "not found")
	}
	return c.File(index)
}

// serveSubdomain walks the subdomain's response tree to pick a reply,
// then logs the request as an HTTP capture (spec.md section 4.4, step 3).
// The reply is written before the capture so the client never waits on
// the store write.
func (h *Handler) serveSubdomain(c echo.Context, sub string) error {
	ctx := c.Request().Context()
	req := c.Request()

	t, err := h.session.LoadTree(ctx, sub, h.cfg.IncludeServerHdr, h.cfg.RootDomain)
	if err != nil {
		return writeErr(c, err)
	}
	leaf := t.Walk(req.URL.Path)

	body, _ := base64.StdEncoding.DecodeString(leaf.RawB64)
	for _, hdr := range leaf.Headers {
		c.Response().Header().Set(hdr.Name, hdr.Value)
	}
	status := leaf.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	reqBody, _ := io.ReadAll(io.LimitReader(req.Body, int64(h.cfg.MaxRequestSize)))

	c.Response().WriteHeader(status)
	_, err = c.Response().Write(body)

	go h.logHTTPCapture(sub, c, reqBody)

	return err
}

// logHTTPCapture records the request as a capture (spec.md section 3):
// body is bounded by max_request_size, written through AppendCapture's
// publish-then-append-then-index order. Header names are recorded as
// net/http delivers them, in canonical form ("X-Custom-Header"); the
// case the client sent is not preserved.
func (h *Handler) logHTTPCapture(sub string, c echo.Context, body []byte) {
	req := c.Request()

	headers := make([]capture.Header, 0, len(req.Header))
	for name, values := range req.Header {
		for _, v := range values {
			headers = append(headers, capture.Header{Name: name, Value: v})
		}
	}

	rec := &capture.Record{
		ID:        capture.NewID(),
		Kind:      capture.KindHTTP,
		Subdomain: sub,
		IP:        remoteIP(c),
		Country:   countryFor(remoteIP(c)),
		Port:      remotePort(c),
		Date:      time.Now().Unix(),
		Method:    req.Method,
		Protocol:  req.Proto,
		Headers:   headers,
		Path:      req.URL.Path,
		Query:     req.URL.RawQuery,
		Fragment:  req.URL.Fragment,
		URL:       req.URL.String(),
	}
	rec.SetRaw(body)

	_ = h.session.AppendCapture(context.Background(), sub, rec)
}
