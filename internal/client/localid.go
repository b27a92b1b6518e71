// Package client keeps a local view of threads and messages and reconciles
// entities created offline with the identifiers the server assigns.
package client

import (
	"strconv"
	"strings"
	"sync"
)

// LocalIDPrefix starts every provisional identifier.
const LocalIDPrefix = "local"

// LocalIDs hands out session-unique provisional identifiers.
type LocalIDs struct {
	mu   sync.Mutex
	next uint64
}

// NewLocalIDs continues numbering after last, the highest value already used.
func NewLocalIDs(last uint64) *LocalIDs { return &LocalIDs{next: last + 1} }

// Next returns a fresh local id and the counter value it consumed.
func (g *LocalIDs) Next() (string, uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.next
	g.next++
	return LocalIDPrefix + strconv.FormatUint(n, 10), n
}

// IsLocalID reports whether s was produced by LocalIDs.
func IsLocalID(s string) bool {
	n, ok := strings.CutPrefix(s, LocalIDPrefix)
	if !ok || n == "" {
		return false
	}
	_, err := strconv.ParseUint(n, 10, 64)
	return err == nil
}
