// Package store adapts a remote real-time key-value database behind a small
// path-addressable interface. Paths are slash-separated, e.g. "commands/XMAS"
// or "status/XMAS/room-joy"; subscribing to a path also observes writes to
// its descendants.
package store

import (
	"context"
	"errors"
	"strings"
)

// ErrBackendUnavailable is returned when a backend cannot be initialised,
// e.g. the endpoint is unreachable or configuration is missing.
var ErrBackendUnavailable = errors.New("store backend unavailable")

// Event describes one delivered change: the full path that was written and
// the raw value now stored there.
type Event struct {
	Path string
	Data []byte
}

// UnsubscribeFunc releases a subscription. Safe to call more than once.
type UnsubscribeFunc func()

// Store is the backing store contract. Write replaces the value at a path
// atomically. Read is a one-shot snapshot; the bool reports presence. List
// returns the immediate children of a prefix keyed by child name. Subscribe
// delivers the current value(s) under path immediately and then again on
// every subsequent write; delivery is at-least-once, so consumers must
// tolerate duplicates.
type Store interface {
	Write(ctx context.Context, path string, data []byte) error
	Read(ctx context.Context, path string) ([]byte, bool, error)
	List(ctx context.Context, prefix string) (map[string][]byte, error)
	Subscribe(path string, fn func(Event)) (UnsubscribeFunc, error)
	Close() error
}

// childKey extracts the immediate child name of path under prefix, or ""
// if path is not strictly below prefix.
func childKey(prefix, path string) string {
	if !strings.HasPrefix(path, prefix+"/") {
		return ""
	}
	rest := strings.TrimPrefix(path, prefix+"/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// covers reports whether a subscription rooted at sub observes a write to
// path (exact match or descendant).
func covers(sub, path string) bool {
	return path == sub || strings.HasPrefix(path, sub+"/")
}
