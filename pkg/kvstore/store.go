// Package kvstore is the durable key-value storage used by the cart store.
// Values are opaque strings; every call may block on I/O and takes a context.
package kvstore

import "context"

// Store is the durable key-value contract. Get reports a missing key as ok=false with a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}
