// Package subdomain implements the grammar, validation, and random
// minting of the subdomain token that is the primary key for every
// user-scoped artifact in the store (spec.md section 3).
package subdomain

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
)

const (
	DefaultLength   = 8
	DefaultAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// Grammar describes the alphabet and length subdomains are minted from
// and validated against. Both are configurable (spec.md section 3).
type Grammar struct {
	Length   int
	Alphabet string
}

// Default returns the grammar used when configuration does not override it.
func Default() Grammar {
	return Grammar{Length: DefaultLength, Alphabet: DefaultAlphabet}
}

// Regexp compiles a matcher for strings of exactly g.Length characters
// drawn from g.Alphabet.
func (g Grammar) Regexp() *regexp.Regexp {
	return regexp.MustCompile("^[" + regexp.QuoteMeta(g.Alphabet) + "]{" + itoa(g.Length) + "}$")
}

// Valid reports whether s satisfies the grammar.
func (g Grammar) Valid(s string) bool {
	if len(s) != g.Length {
		return false
	}
	set := make(map[byte]struct{}, len(g.Alphabet))
	for i := 0; i < len(g.Alphabet); i++ {
		set[g.Alphabet[i]] = struct{}{}
	}
	for i := 0; i < len(s); i++ {
		if _, ok := set[s[i]]; !ok {
			return false
		}
	}
	return true
}

// Random draws one random token from the grammar, uniformly over the
// alphabet, using crypto/rand (the subdomain is a bearer-adjacent
// credential component, so we avoid math/rand here).
func (g Grammar) Random() (string, error) {
	buf := make([]byte, g.Length)
	alphaLen := big.NewInt(int64(len(g.Alphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphaLen)
		if err != nil {
			return "", err
		}
		buf[i] = g.Alphabet[n.Int64()]
	}
	return string(buf), nil
}

// FromHost extracts the subdomain from a Host header value, per spec.md
// section 4.4 step 1: "the leading label preceding <root>". host must
// end in "."+root (case-insensitive) or this reports false. The label
// immediately before root is taken, then narrowed to its trailing
// g.Length characters if longer, and validated against the grammar.
func (g Grammar) FromHost(host, root string) (string, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	root = strings.ToLower(root)
	suffix := "." + root
	if !strings.HasSuffix(host, suffix) {
		return "", false
	}
	prefix := strings.TrimSuffix(host, suffix)
	if prefix == "" {
		return "", false
	}
	labels := strings.Split(prefix, ".")
	last := labels[len(labels)-1]
	if len(last) > g.Length {
		last = last[len(last)-g.Length:]
	}
	if !g.Valid(last) {
		return "", false
	}
	return last, true
}

// FromPath extracts the subdomain from the "/r/<sub>/..." URL path
// fallback (spec.md section 4.4 step 1), case-insensitive on the "r"
// segment and tolerant of repeated slashes. The candidate is narrowed to
// its leading g.Length characters if longer, then grammar-validated.
func (g Grammar) FromPath(path string) (string, bool) {
	collapsed := collapseSlashes(path)
	labels := strings.Split(collapsed, "/")
	if len(labels) < 3 || !strings.EqualFold(labels[1], "r") {
		return "", false
	}
	candidate := labels[2]
	if len(candidate) > g.Length {
		candidate = candidate[:g.Length]
	}
	if !g.Valid(candidate) {
		return "", false
	}
	return candidate, true
}

func collapseSlashes(s string) string {
	var b strings.Builder
	prevSlash := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
