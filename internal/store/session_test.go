package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-self/requestrepo/internal/capture"
	"github.com/arc-self/requestrepo/internal/store"
)

func newTestSession() *store.Session {
	return &store.Session{Store: store.NewFakeStore(), TTLSecs: 3600}
}

func TestMarkAndCheckSubdomain(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession()

	exists, err := sess.SubdomainExists(ctx, "abcd1234")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, sess.MarkSubdomain(ctx, "abcd1234"))

	exists, err = sess.SubdomainExists(ctx, "abcd1234")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLoadTreeSeedsDefaultOnMiss(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession()

	tr, err := sess.LoadTree(ctx, "abcd1234", false, "")
	require.NoError(t, err)
	assert.True(t, tr.HasIndex())

	// The seeded default must now be persisted, not just returned.
	_, persisted, err := sess.Store.Get(ctx, "files:abcd1234")
	require.NoError(t, err)
	assert.True(t, persisted)

	again, err := sess.LoadTree(ctx, "abcd1234", false, "")
	require.NoError(t, err)
	assert.True(t, again.HasIndex())
}

func TestUpdateDNSRecordsReplacesOldBuckets(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession()
	sub := "abcd1234"

	require.NoError(t, sess.UpdateDNSRecords(ctx, sub, []store.DNSRecord{
		{Domain: "a." + sub + ".localhost.", Type: "A", Value: "1.2.3.4"},
	}))

	values, ok, err := sess.LookupDNSBucket(ctx, "A", "a."+sub+".localhost.")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"1.2.3.4"}, values)

	// Replacing with a disjoint record set must drop the old bucket.
	require.NoError(t, sess.UpdateDNSRecords(ctx, sub, []store.DNSRecord{
		{Domain: "b." + sub + ".localhost.", Type: "TXT", Value: "hello"},
	}))

	_, ok, err = sess.LookupDNSBucket(ctx, "A", "a."+sub+".localhost.")
	require.NoError(t, err)
	assert.False(t, ok)

	values, ok, err = sess.LookupDNSBucket(ctx, "TXT", "b."+sub+".localhost.")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"hello"}, values)
}

func TestAppendCaptureThenListAndGet(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession()
	sub := "abcd1234"

	rec := &capture.Record{ID: capture.NewID(), Kind: capture.KindHTTP, Subdomain: sub}
	require.NoError(t, sess.AppendCapture(ctx, sub, rec))

	list, err := sess.ListCaptures(ctx, sub, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.ID, list[0].ID)

	got, ok, err := sess.GetCapture(ctx, sub, rec.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.ID, got.ID)
}

func TestDeleteCaptureTombstonesAndHidesFromList(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession()
	sub := "abcd1234"

	rec1 := &capture.Record{ID: capture.NewID(), Kind: capture.KindHTTP, Subdomain: sub}
	rec2 := &capture.Record{ID: capture.NewID(), Kind: capture.KindHTTP, Subdomain: sub}
	require.NoError(t, sess.AppendCapture(ctx, sub, rec1))
	require.NoError(t, sess.AppendCapture(ctx, sub, rec2))

	require.NoError(t, sess.DeleteCapture(ctx, sub, rec1.ID))

	list, err := sess.ListCaptures(ctx, sub, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec2.ID, list[0].ID)

	_, ok, err := sess.GetCapture(ctx, sub, rec1.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteAllCapturesPurgesEverything(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession()
	sub := "abcd1234"

	rec := &capture.Record{ID: capture.NewID(), Kind: capture.KindHTTP, Subdomain: sub}
	require.NoError(t, sess.AppendCapture(ctx, sub, rec))
	require.NoError(t, sess.DeleteAllCaptures(ctx, sub))

	list, err := sess.ListCaptures(ctx, sub, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, ok, err := sess.GetCapture(ctx, sub, rec.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListCapturesAppliesLimitAndOffset(t *testing.T) {
	ctx := context.Background()
	sess := newTestSession()
	sub := "abcd1234"

	for i := 0; i < 5; i++ {
		rec := &capture.Record{ID: capture.NewID(), Kind: capture.KindHTTP, Subdomain: sub}
		require.NoError(t, sess.AppendCapture(ctx, sub, rec))
	}

	page, err := sess.ListCaptures(ctx, sub, 2, 1)
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestSubdomainFromChannelRoundTrip(t *testing.T) {
	sub := "abcd1234"
	channel := store.RequestsChannel(sub)
	assert.Equal(t, sub, store.SubdomainFromChannel(channel))
	assert.Equal(t, "", store.SubdomainFromChannel("not-a-pubsub-channel"))
}
