package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arc-self/requestrepo/internal/apperr"
	"github.com/arc-self/requestrepo/internal/capture"
	"github.com/arc-self/requestrepo/internal/tree"
)

// Session is the per-subdomain façade over Store, implementing the
// keyspace laid out in spec.md section 4.1. It carries no state of its
// own beyond the Store handle and the configured TTL, so it is cheap to
// construct per request.
type Session struct {
	Store   Store
	TTLSecs int64
}

func keySubdomain(sub string) string   { return "subdomain:" + sub }
func keyFiles(sub string) string       { return "files:" + sub }
func keyDNS(sub string) string         { return "dns:" + sub }
func keyDNSBucket(t, fqdn string) string { return "dns:" + t + ":" + fqdn }
func keyRequests(sub string) string    { return "requests:" + sub }
func keyRequestIndex(sub, id string) string { return "request:" + sub + ":" + id }
func keyPubsub(sub string) string      { return "pubsub:" + sub }

// DNSRecord is one entry of a subdomain's DNS record set (spec.md
// section 3, "DNS Record Set").
type DNSRecord struct {
	Domain string `json:"domain"`
	Type   string `json:"type"`
	Value  string `json:"value"`
}

// SubdomainExists reports whether a uniqueness marker is present.
func (s *Session) SubdomainExists(ctx context.Context, sub string) (bool, error) {
	return s.Store.Exists(ctx, keySubdomain(sub))
}

// MarkSubdomain writes the uniqueness marker with the session TTL.
func (s *Session) MarkSubdomain(ctx context.Context, sub string) error {
	return s.Store.Set(ctx, keySubdomain(sub), "1", s.TTLSecs)
}

// LoadTree fetches files:<sub>, seeding the default tree on a miss
// (spec.md section 4.4, "If missing, seed via the default tree").
func (s *Session) LoadTree(ctx context.Context, sub string, includeServerHdr bool, serverDomain string) (*tree.Tree, error) {
	raw, ok, err := s.Store.Get(ctx, keyFiles(sub))
	if err != nil {
		return tree.Default(includeServerHdr, serverDomain), nil
	}
	if !ok {
		def := tree.Default(includeServerHdr, serverDomain)
		if err := s.SaveTree(ctx, sub, def); err != nil {
			return nil, err
		}
		return def, nil
	}
	var t tree.Tree
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		// Defensive: corrupt tree reads fall back to the default rather
		// than failing the request.
		return tree.Default(includeServerHdr, serverDomain), nil
	}
	return &t, nil
}

// SaveTree writes the whole tree atomically as a single blob (spec.md
// section 3, "Whole-tree writes are atomic").
func (s *Session) SaveTree(ctx context.Context, sub string, t *tree.Tree) error {
	b, err := json.Marshal(t)
	if err != nil {
		return apperr.Wrap(apperr.Fatal, err, "marshal tree")
	}
	return s.Store.Set(ctx, keyFiles(sub), string(b), s.TTLSecs)
}

// GetDNSRecords returns the aggregate record list for a subdomain, or a
// nil slice and no error if none has been set yet.
func (s *Session) GetDNSRecords(ctx context.Context, sub string) ([]DNSRecord, error) {
	raw, ok, err := s.Store.Get(ctx, keyDNS(sub))
	if err != nil || !ok {
		return nil, err
	}
	var recs []DNSRecord
	if err := json.Unmarshal([]byte(raw), &recs); err != nil {
		return nil, apperr.Wrap(apperr.Fatal, err, "decode dns aggregate")
	}
	return recs, nil
}

// UpdateDNSRecords replaces the DNS aggregate and per-key buckets for a
// subdomain: delete old buckets, write new aggregate, write new buckets
// (invariant I4, spec.md section 3). records must already be validated
// and normalised (domain lower-cased and FQDN-qualified, type as string).
func (s *Session) UpdateDNSRecords(ctx context.Context, sub string, records []DNSRecord) error {
	old, err := s.GetDNSRecords(ctx, sub)
	if err != nil {
		return err
	}
	for _, r := range old {
		if err := s.Store.Delete(ctx, keyDNSBucket(r.Type, r.Domain)); err != nil {
			return err
		}
	}

	buckets := map[string][]string{}
	for _, r := range records {
		k := keyDNSBucket(r.Type, r.Domain)
		buckets[k] = append(buckets[k], r.Value)
	}
	for k, values := range buckets {
		b, err := json.Marshal(values)
		if err != nil {
			return apperr.Wrap(apperr.Fatal, err, "marshal dns bucket")
		}
		if err := s.Store.Set(ctx, k, string(b), s.TTLSecs); err != nil {
			return err
		}
	}

	b, err := json.Marshal(records)
	if err != nil {
		return apperr.Wrap(apperr.Fatal, err, "marshal dns aggregate")
	}
	return s.Store.Set(ctx, keyDNS(sub), string(b), s.TTLSecs)
}

// LookupDNSBucket returns the values configured for (qtype, fqdn), used
// by the resolver for a single lookup per query (spec.md section 4.1).
func (s *Session) LookupDNSBucket(ctx context.Context, qtype, fqdn string) ([]string, bool, error) {
	raw, ok, err := s.Store.Get(ctx, keyDNSBucket(qtype, fqdn))
	if err != nil || !ok {
		return nil, ok, err
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, false, apperr.Wrap(apperr.Fatal, err, "decode dns bucket")
	}
	return values, true, nil
}

// RewriteDNSBucketValue persists a rotated value list back to a bucket
// (the legacy a/b/c rotation form, spec.md section 4.3).
func (s *Session) RewriteDNSBucketValue(ctx context.Context, qtype, fqdn string, values []string) error {
	b, err := json.Marshal(values)
	if err != nil {
		return apperr.Wrap(apperr.Fatal, err, "marshal rotated dns bucket")
	}
	return s.Store.Set(ctx, keyDNSBucket(qtype, fqdn), string(b), s.TTLSecs)
}

// AppendCapture writes a capture record through the store: publish then
// append then index, in that strict order (spec.md section 5,
// "publish-then-append-then-index is the contract; swapping steps is a
// bug").
func (s *Session) AppendCapture(ctx context.Context, sub string, rec *capture.Record) error {
	data, err := rec.Marshal()
	if err != nil {
		return apperr.Wrap(apperr.Fatal, err, "marshal capture")
	}

	if err := s.Store.Publish(ctx, keyPubsub(sub), data); err != nil {
		return err
	}
	newLen, err := s.Store.Append(ctx, keyRequests(sub), data, s.TTLSecs)
	if err != nil {
		return err
	}
	idx := newLen - 1
	return s.Store.Set(ctx, keyRequestIndex(sub, rec.ID), fmt.Sprintf("%d", idx), s.TTLSecs)
}

// ListCaptures returns the (limit, offset) window of non-tombstone
// captures for a subdomain, newest additions staying at higher indexes.
func (s *Session) ListCaptures(ctx context.Context, sub string, limit, offset int) ([]capture.Record, error) {
	all, err := s.Store.Range(ctx, keyRequests(sub))
	if err != nil {
		return nil, err
	}
	out := make([]capture.Record, 0, len(all))
	for _, raw := range all {
		rec, ok, err := capture.Unmarshal(raw)
		if err != nil || !ok {
			continue
		}
		out = append(out, rec)
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return []capture.Record{}, nil
	}
	end := len(out)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return out[offset:end], nil
}

// GetCapture fetches a single capture by its secondary index
// (spec.md section 3, "O(1) single-item lookup").
func (s *Session) GetCapture(ctx context.Context, sub, id string) (capture.Record, bool, error) {
	idxStr, ok, err := s.Store.Get(ctx, keyRequestIndex(sub, id))
	if err != nil || !ok {
		return capture.Record{}, false, err
	}
	var idx int64
	if _, err := fmt.Sscanf(idxStr, "%d", &idx); err != nil {
		return capture.Record{}, false, nil
	}
	raw, ok, err := s.Store.IndexAt(ctx, keyRequests(sub), idx)
	if err != nil || !ok {
		return capture.Record{}, false, err
	}
	rec, ok, err := capture.Unmarshal(raw)
	return rec, ok, err
}

// DeleteCapture tombstones one entry: overwrite its list slot with "{}"
// and remove the secondary index (spec.md section 3).
func (s *Session) DeleteCapture(ctx context.Context, sub, id string) error {
	idxStr, ok, err := s.Store.Get(ctx, keyRequestIndex(sub, id))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var idx int64
	if _, err := fmt.Sscanf(idxStr, "%d", &idx); err != nil {
		return nil
	}
	if err := s.Store.SetAt(ctx, keyRequests(sub), idx, capture.Tombstone); err != nil {
		return err
	}
	return s.Store.Delete(ctx, keyRequestIndex(sub, id))
}

// DeleteAllCaptures purges the list and every secondary index for a
// subdomain (spec.md section 3).
func (s *Session) DeleteAllCaptures(ctx context.Context, sub string) error {
	all, err := s.Store.Range(ctx, keyRequests(sub))
	if err != nil {
		return err
	}
	if err := s.Store.Delete(ctx, keyRequests(sub)); err != nil {
		return err
	}
	for _, raw := range all {
		rec, ok, err := capture.Unmarshal(raw)
		if err != nil || !ok {
			continue
		}
		if err := s.Store.Delete(ctx, keyRequestIndex(sub, rec.ID)); err != nil {
			return err
		}
	}
	return nil
}

// RequestsChannel returns the pub/sub channel name for a subdomain.
func RequestsChannel(sub string) string { return keyPubsub(sub) }

// SubdomainFromChannel extracts the subdomain from a pubsub:<sub> channel
// name, mirroring the Python's channel.split(":")[1].
func SubdomainFromChannel(channel string) string {
	const prefix = "pubsub:"
	if len(channel) > len(prefix) && channel[:len(prefix)] == prefix {
		return channel[len(prefix):]
	}
	return ""
}
