// Package tree implements the per-subdomain response tree (spec.md
// section 3): a finite tree keyed by path segments, interior keys ending
// in "/", leaves holding a Response record. spec.md section 9 calls out
// that a typed sum type expresses this better than the original's
// untyped nested dicts — Node is that sum type — but the wire format
// stays the original's nested-map-of-maps JSON shape so the dashboard
// and the requestrepo-lib Python client keep working unmodified.
package tree

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Header is one response header, name and value kept separately (rather
// than as a map) because headers are an ordered list on the wire.
type Header struct {
	Name  string `json:"header"`
	Value string `json:"value"`
}

// Response is a leaf of the tree: the raw bytes (base64 on the wire),
// the ordered header list, and the status code to reply with.
type Response struct {
	RawB64     string   `json:"raw"`
	Headers    []Header `json:"headers"`
	StatusCode int      `json:"status_code"`
}

// Node is the sum type for one entry of a tree level: either a File leaf
// or a Dir interior node holding more Nodes.
type Node struct {
	File *Response
	Dir  map[string]*Node
}

// Tree is the root Dir of a subdomain's response tree.
type Tree struct {
	Root map[string]*Node
}

// IndexPath is the key index.html must always carry at the tree root
// (invariant I1, spec.md section 3).
const IndexPath = "index.html"

// New builds an empty tree with no leaves.
func New() *Tree { return &Tree{Root: map[string]*Node{}} }

// Default seeds a fresh subdomain's tree: a single index.html leaf with
// an empty body, text/html content type, permissive CORS, and a 200
// status (spec.md section 3, "A fresh subdomain is seeded...").
//
// includeServerHeader adds a Server: header carrying serverDomain when
// the deployment has INCLUDE_SERVER_DOMAIN set (spec.md section 6).
func Default(includeServerHeader bool, serverDomain string) *Tree {
	headers := []Header{
		{Name: "Content-Type", Value: "text/html"},
		{Name: "Access-Control-Allow-Origin", Value: "*"},
	}
	if includeServerHeader {
		headers = append(headers, Header{Name: "Server", Value: serverDomain})
	}
	t := New()
	t.Root[IndexPath] = &Node{File: &Response{
		RawB64:     "",
		Headers:    headers,
		StatusCode: 200,
	}}
	return t
}

// HasIndex reports whether the root carries an index.html leaf
// (invariant I1).
func (t *Tree) HasIndex() bool {
	n, ok := t.Root[IndexPath]
	return ok && n.File != nil
}

// Walk resolves the leaf a request path should be served from, following
// spec.md section 4.4's algorithm: for each segment, a leaf key wins
// immediately; an interior key (suffixed "/") descends; anything else
// falls back to root index.html.
func (t *Tree) Walk(path string) *Response {
	segments := splitPath(path)
	level := t.Root

	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if n, ok := level[seg]; ok && n.File != nil {
			return n.File
		}
		if n, ok := level[seg+"/"]; ok && n.Dir != nil {
			level = n.Dir
			continue
		}
		break
	}

	if idx, ok := t.Root[IndexPath]; ok && idx.File != nil {
		return idx.File
	}
	return &Response{Headers: nil, StatusCode: 200}
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	// Collapse duplicate slashes, matching the Python's re.sub("/+", "/", ...).
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// MarshalJSON encodes the tree to the nested-map wire format.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return marshalLevel(t.Root)
}

func marshalLevel(level map[string]*Node) ([]byte, error) {
	raw := make(map[string]json.RawMessage, len(level))
	for key, node := range level {
		var (
			b   []byte
			err error
		)
		if node.File != nil {
			b, err = json.Marshal(node.File)
		} else {
			b, err = marshalLevel(node.Dir)
		}
		if err != nil {
			return nil, err
		}
		raw[key] = b
	}
	return json.Marshal(raw)
}

// UnmarshalJSON decodes the nested-map wire format into the typed tree.
func (t *Tree) UnmarshalJSON(data []byte) error {
	root, err := unmarshalLevel(data)
	if err != nil {
		return err
	}
	t.Root = root
	return nil
}

func unmarshalLevel(data []byte) (map[string]*Node, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	level := make(map[string]*Node, len(raw))
	for key, v := range raw {
		if strings.HasSuffix(key, "/") {
			children, err := unmarshalLevel(v)
			if err != nil {
				return nil, fmt.Errorf("tree: dir %q: %w", key, err)
			}
			level[key] = &Node{Dir: children}
			continue
		}
		var resp Response
		if err := json.Unmarshal(v, &resp); err != nil {
			return nil, fmt.Errorf("tree: file %q: %w", key, err)
		}
		level[key] = &Node{File: &resp}
	}
	return level, nil
}

// Validate checks every leaf of the tree carries {raw, headers,
// status_code} with the right semantic types, and that index.html is
// present at the root (spec.md section 4.4, update-files contract).
func Validate(data []byte, maxFileSize int) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid tree JSON: %w", err)
	}
	if err := validateLevel(raw, "", maxFileSize); err != nil {
		return err
	}
	if _, ok := raw[IndexPath]; !ok {
		return fmt.Errorf("index.html cannot be deleted")
	}
	return nil
}

func validateLevel(level map[string]json.RawMessage, path string, maxFileSize int) error {
	for key, v := range level {
		current := path + key
		if strings.HasSuffix(key, "/") {
			var children map[string]json.RawMessage
			if err := json.Unmarshal(v, &children); err != nil {
				return fmt.Errorf("invalid directory structure for %s", current)
			}
			if err := validateLevel(children, current, maxFileSize); err != nil {
				return err
			}
			continue
		}
		var generic map[string]json.RawMessage
		if err := json.Unmarshal(v, &generic); err != nil {
			return fmt.Errorf("invalid file structure for %s", current)
		}
		rawField, ok := generic["raw"]
		if !ok {
			return fmt.Errorf("invalid file structure for %s", current)
		}
		var rawStr string
		if err := json.Unmarshal(rawField, &rawStr); err != nil {
			return fmt.Errorf("invalid raw file structure for %s", current)
		}
		if _, ok := generic["headers"]; !ok {
			return fmt.Errorf("invalid headers file structure for %s", current)
		}
		var headers []Header
		if err := json.Unmarshal(generic["headers"], &headers); err != nil {
			return fmt.Errorf("invalid headers file structure for %s", current)
		}
		statusField, ok := generic["status_code"]
		if !ok {
			return fmt.Errorf("invalid status_code file structure for %s", current)
		}
		var statusCode int
		if err := json.Unmarshal(statusField, &statusCode); err != nil {
			return fmt.Errorf("invalid status_code file structure for %s", current)
		}
		if len(rawStr) > maxFileSize {
			return fmt.Errorf("file too large: %s", current)
		}
	}
	return nil
}
