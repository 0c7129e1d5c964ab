// Package capture defines the tagged-union Capture record (spec.md
// section 3) written by the DNS authority and the HTTP engine, and read
// back by the dashboard REST surface and the live fan-out.
package capture

import (
	"encoding/base64"
	"encoding/json"

	"github.com/google/uuid"
)

// Kind discriminates the tagged union.
type Kind string

const (
	KindHTTP Kind = "http"
	KindDNS  Kind = "dns"
	KindSMTP Kind = "smtp"
	KindTCP  Kind = "tcp"
)

// Tombstone is the literal marker that replaces a deleted capture in the
// append-only list (spec.md section 3, "Tombstone semantics").
const Tombstone = "{}"

// Header preserves a single HTTP header exactly as received, including
// its original case — lower-casing it would be an observable behaviour
// change for the dashboard (spec.md section 9, "Header case preservation").
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Record is the common envelope for every captured interaction, plus the
// kind-specific fields flattened into the same JSON object the way the
// original service encodes them (see original_source/backend/app.py's
// HttpRequestLog).
type Record struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"type"`
	Subdomain string `json:"uid"`
	IP        string `json:"ip"`
	Country   string `json:"country,omitempty"`
	Port      int    `json:"port,omitempty"`
	Date      int64  `json:"date"`
	Raw       []byte `json:"-"`
	RawB64    string `json:"raw"`

	// HTTP-specific.
	Method   string   `json:"method,omitempty"`
	Protocol string   `json:"protocol,omitempty"`
	Headers  []Header `json:"headers,omitempty"`
	Path     string   `json:"path,omitempty"`
	Query    string   `json:"query,omitempty"`
	Fragment string   `json:"fragment,omitempty"`
	URL      string   `json:"url,omitempty"`

	// DNS-specific.
	QueryType string `json:"query_type,omitempty"`
	Name      string `json:"name,omitempty"`
	ReplyText string `json:"reply_text,omitempty"`
}

// NewID mints a fresh capture identifier.
func NewID() string { return uuid.New().String() }

// SetRaw base64-encodes raw into the wire field; call before Marshal.
func (r *Record) SetRaw(raw []byte) {
	r.Raw = raw
	r.RawB64 = base64.StdEncoding.EncodeToString(raw)
}

// Marshal encodes the record to the JSON string stored in requests:<sub>.
func (r *Record) Marshal() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Unmarshal decodes a stored JSON string back into a Record, populating
// Raw from the base64 wire field. Returns ok=false for tombstones.
func Unmarshal(s string) (rec Record, ok bool, err error) {
	if s == Tombstone {
		return Record{}, false, nil
	}
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return Record{}, false, err
	}
	if rec.RawB64 != "" {
		raw, err := base64.StdEncoding.DecodeString(rec.RawB64)
		if err == nil {
			rec.Raw = raw
		}
	}
	return rec, true, nil
}

// IsTombstone reports whether a raw stored list entry is the tombstone.
func IsTombstone(s string) bool { return s == Tombstone }
