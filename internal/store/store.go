// Package store implements the Session & Response Store (C1, spec.md
// section 4.1): a small set of async primitives — get/set/delete/append/
// range/setAt/indexAt/publish/subscribe/lock — that every other
// component is built on. Store is an interface so the production Redis
// backend and the in-memory test fake (fake.go) share one contract.
package store

import "context"

// Message is one pub/sub delivery.
type Message struct {
	Channel string
	Payload string
}

// Store is the C1 contract. Every method may suspend on I/O; callers
// must pass a context they are prepared to have cancelled.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl int64) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Append adds value to the end of the list at listKey and returns the
	// new length (so newLen-1 is value's index).
	Append(ctx context.Context, listKey, value string, ttl int64) (int64, error)
	Range(ctx context.Context, listKey string) ([]string, error)
	SetAt(ctx context.Context, listKey string, index int64, value string) error
	IndexAt(ctx context.Context, listKey string, index int64) (string, bool, error)
	Len(ctx context.Context, listKey string) (int64, error)

	Publish(ctx context.Context, channel, value string) error
	// Subscribe returns a channel of messages on the given channel and an
	// unsubscribe function the caller must call exactly once when done.
	Subscribe(ctx context.Context, channel string) (<-chan Message, func(), error)

	// SubscribeAndSnapshot subscribes to channel, then reads listKey, in
	// that order, so no capture published between the two steps is lost
	// (spec.md section 9, historical-replay race / section 4.5 invariant).
	// A capture that lands in the gap may appear in both the snapshot and
	// the live channel; callers dedup by id.
	SubscribeAndSnapshot(ctx context.Context, channel, listKey string) ([]string, <-chan Message, func(), error)

	// Lock attempts to acquire a non-blocking advisory lock named name
	// for ttl seconds. It returns false, nil if already held elsewhere.
	Lock(ctx context.Context, name string, ttlSeconds int64) (acquired bool, release func(context.Context) error, err error)
}
