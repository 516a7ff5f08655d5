// Package lock serializes operations on the same accounts, either inside one
// process or across instances sharing a Redis server.
package lock

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNilLockFn is returned when WithLock is given no function.
	ErrNilLockFn = errors.New("lock function is nil")
	// ErrEmptyLockKey is returned when a key is blank.
	ErrEmptyLockKey = errors.New("lock key cannot be empty")
)

// orderedKeys sorts keys ascending and drops duplicates, giving every caller
// the same acquisition order.
func orderedKeys(keys []string) ([]string, error) {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if strings.TrimSpace(k) == "" {
			return nil, ErrEmptyLockKey
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
