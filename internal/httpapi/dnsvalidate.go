package httpapi

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/arc-self/requestrepo/internal/apperr"
	"github.com/arc-self/requestrepo/internal/store"
)

// dnsTypes is the update-dns type-code mapping: 0→A, 1→AAAA, 2→CNAME,
// 3→TXT (spec.md section 4.4).
var dnsTypes = []string{"A", "AAAA", "CNAME", "TXT"}

var domainPattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9._-]{0,61}[A-Za-z0-9])?$`)

// validateDNSRecord checks one record's grammar (spec.md section 3):
// domain regex and length, type index range, value length, and value
// printable-ASCII unless TXT. On success it returns the normalised
// record with the lower-cased FQDN "<domain>.<subdomain>.<root>." and
// the type as a string.
func validateDNSRecord(r dnsRecordInput, subdomain, root string) (store.DNSRecord, error) {
	if len(r.Domain) == 0 || len(r.Domain) > 63 || !domainPattern.MatchString(r.Domain) {
		return store.DNSRecord{}, apperr.New(apperr.Validation, "invalid domain %q", r.Domain)
	}
	if r.Type < 0 || r.Type >= len(dnsTypes) {
		return store.DNSRecord{}, apperr.New(apperr.Validation, "invalid record type %d", r.Type)
	}
	if len(r.Value) == 0 || len(r.Value) > 255 {
		return store.DNSRecord{}, apperr.New(apperr.Validation, "invalid value length")
	}
	typ := dnsTypes[r.Type]
	if typ != "TXT" && !isPrintableASCII(r.Value) {
		return store.DNSRecord{}, apperr.New(apperr.Validation, "value must be printable ASCII")
	}

	fqdn := strings.ToLower(r.Domain) + "." + subdomain + "." + root + "."
	return store.DNSRecord{Domain: fqdn, Type: typ, Value: r.Value}, nil
}

func isPrintableASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
