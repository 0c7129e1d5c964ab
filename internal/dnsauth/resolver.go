// Package dnsauth implements the DNS Authority (C3, spec.md section
// 4.3): answers A/AAAA/CNAME/TXT for *.<root> from the store, falling
// back to the configured server IP/name/text when no record exists, and
// logging every query as a capture. Built on github.com/miekg/dns, the
// DNS protocol library both owasp-amass-amass and owasp-amass-engine in
// the retrieval pack depend on directly.
package dnsauth

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/arc-self/requestrepo/internal/capture"
	"github.com/arc-self/requestrepo/internal/ipcountry"
	"github.com/arc-self/requestrepo/internal/store"
	"github.com/arc-self/requestrepo/internal/subdomain"
)

// recordTTL is fixed at 1 second on every authoritative record,
// deliberately, so users can iterate without caching (spec.md section 4.3).
const recordTTL = 1

// Config carries the resolver's zone and fallback answers. There is no
// separate CNAME fallback setting: answerCNAME falls back to "<root>."
// (the "Open question — CNAME fallback target" of spec.md section 9; see
// SPEC_FULL.md and DESIGN.md).
type Config struct {
	RootDomain string
	ServerIP   string
	DefaultTXT string
	Grammar    subdomain.Grammar
}

// Resolver answers DNS questions against the session store.
type Resolver struct {
	cfg     Config
	session *store.Session
	ownerRe *regexp.Regexp
}

// New builds a Resolver. ownerRe matches "<anything.>*<sub>.<root>."
// where <sub> satisfies the configured subdomain grammar, used to derive
// the owning subdomain from a query name for capture logging (spec.md
// section 4.3).
func New(cfg Config, session *store.Session) *Resolver {
	subPattern := "[" + regexp.QuoteMeta(cfg.Grammar.Alphabet) + "]{" + fmt.Sprint(cfg.Grammar.Length) + "}"
	re := regexp.MustCompile(`^(?:[^.]+\.)*(` + subPattern + `)\.` + regexp.QuoteMeta(cfg.RootDomain) + `\.$`)
	return &Resolver{cfg: cfg, session: session, ownerRe: re}
}

// Handle answers one DNS question and returns the subdomain the query
// should be logged under (empty if none). Handle writes no capture
// itself; the caller logs through LogQuery after replying (see ServeDNS
// in server.go, which replies first).
func (r *Resolver) Handle(ctx context.Context, req *dns.Msg) (*dns.Msg, string) {
	reply := new(dns.Msg)
	reply.SetReply(req)
	reply.Authoritative = true

	if len(req.Question) == 0 {
		return reply, ""
	}
	q := req.Question[0]
	qname := strings.ToLower(q.Name)

	rr := r.answer(ctx, q.Qtype, qname)
	if rr != nil {
		reply.Answer = append(reply.Answer, rr)
	}

	owner := r.ownerOf(qname)
	return reply, owner
}

func (r *Resolver) ownerOf(qname string) string {
	m := r.ownerRe.FindStringSubmatch(qname)
	if m == nil {
		return ""
	}
	return m[1]
}

func (r *Resolver) answer(ctx context.Context, qtype uint16, qname string) dns.RR {
	switch qtype {
	case dns.TypeA:
		return r.answerA(ctx, qname)
	case dns.TypeAAAA:
		return r.answerAAAA(ctx, qname)
	case dns.TypeCNAME:
		return r.answerCNAME(ctx, qname)
	case dns.TypeTXT:
		return r.answerTXT(ctx, qname)
	default:
		return nil
	}
}

func (r *Resolver) answerA(ctx context.Context, qname string) dns.RR {
	values, ok, _ := r.session.LookupDNSBucket(ctx, "A", qname)
	if !ok || len(values) == 0 {
		hdr := dns.RR_Header{Name: qname, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: recordTTL}
		ip := net.ParseIP(r.cfg.ServerIP)
		if ip == nil {
			return nil
		}
		return &dns.A{Hdr: hdr, A: ip.To4()}
	}
	value := r.pickOrRotate(ctx, "A", qname, values)
	ip := net.ParseIP(value)
	if ip == nil {
		return nil
	}
	hdr := dns.RR_Header{Name: qname, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: recordTTL}
	return &dns.A{Hdr: hdr, A: ip.To4()}
}

func (r *Resolver) answerAAAA(ctx context.Context, qname string) dns.RR {
	values, ok, _ := r.session.LookupDNSBucket(ctx, "AAAA", qname)
	if !ok || len(values) == 0 {
		hdr := dns.RR_Header{Name: qname, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: recordTTL}
		ip := net.ParseIP(r.cfg.ServerIP)
		// Preserve bug-for-bug: if the configured server IP does not parse
		// as IPv6, produce an empty answer rather than an error (spec.md
		// section 9, "Open question — IPv6 server fallback").
		if ip == nil || ip.To4() != nil {
			return nil
		}
		return &dns.AAAA{Hdr: hdr, AAAA: ip.To16()}
	}
	value := r.pickOrRotate(ctx, "AAAA", qname, values)
	ip := net.ParseIP(value)
	if ip == nil {
		return nil
	}
	hdr := dns.RR_Header{Name: qname, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: recordTTL}
	return &dns.AAAA{Hdr: hdr, AAAA: ip.To16()}
}

func (r *Resolver) answerCNAME(ctx context.Context, qname string) dns.RR {
	values, ok, _ := r.session.LookupDNSBucket(ctx, "CNAME", qname)
	hdr := dns.RR_Header{Name: qname, Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: recordTTL}
	if !ok || len(values) == 0 {
		return &dns.CNAME{Hdr: hdr, Target: r.cfg.RootDomain + "."}
	}
	return &dns.CNAME{Hdr: hdr, Target: dns.Fqdn(values[0])}
}

func (r *Resolver) answerTXT(ctx context.Context, qname string) dns.RR {
	values, ok, _ := r.session.LookupDNSBucket(ctx, "TXT", qname)
	hdr := dns.RR_Header{Name: qname, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: recordTTL}
	if !ok || len(values) == 0 {
		txt := r.cfg.DefaultTXT
		if txt == "" {
			txt = "Hello!"
		}
		return &dns.TXT{Hdr: hdr, Txt: []string{txt}}
	}
	return &dns.TXT{Hdr: hdr, Txt: values}
}

// pickOrRotate implements the two supported value-list encodings from
// spec.md section 4.3: "a%b%c" picks one uniformly at random (new
// deployments need implement only this form); the legacy "a/b/c" form
// rotates through the list on every query, persisting the rotation back
// (original_source/dns/ns.py). LookupDNSBucket returns each record's
// value exactly as stored, so both the '%' and the '/' form arrive as a
// single combined entry; this function tells them apart by inspecting
// that string. When a bucket holds several entries (several records for
// the same name), one of them is picked at random.
func (r *Resolver) pickOrRotate(ctx context.Context, qtype, qname string, values []string) string {
	if len(values) == 1 && strings.Contains(values[0], "/") {
		parts := strings.Split(values[0], "/")
		picked := parts[0]
		rotated := strings.Join(append(parts[1:], parts[0]), "/")
		_ = r.session.RewriteDNSBucketValue(ctx, qtype, qname, []string{rotated})
		return picked
	}
	if len(values) == 1 && strings.Contains(values[0], "%") {
		parts := strings.Split(values[0], "%")
		return parts[rand.Intn(len(parts))]
	}
	if len(values) > 1 {
		return values[rand.Intn(len(values))]
	}
	return values[0]
}

// LogQuery writes a DNS capture record for a resolved owner subdomain.
// Called fire-and-forget from the server's reply path: it must never
// block the answer, but the write itself must still complete under
// normal load (spec.md section 4.3, "Writes never block the reply").
func (r *Resolver) LogQuery(ctx context.Context, owner, remoteIP string, qtype uint16, qname string, reply *dns.Msg) {
	rec := &capture.Record{
		ID:        capture.NewID(),
		Kind:      capture.KindDNS,
		Subdomain: owner,
		IP:        remoteIP,
		Date:      time.Now().Unix(),
		QueryType: dns.TypeToString[qtype],
		Name:      qname,
		ReplyText: reply.String(),
	}
	if c := ipcountry.Lookup(remoteIP); c != "" {
		rec.Country = c
	}
	rec.SetRaw([]byte(reply.String()))
	_ = r.session.AppendCapture(ctx, owner, rec)
}
