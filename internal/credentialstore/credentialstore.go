// Package credentialstore implements the abstract "CredentialStore"
// interface spec.md reserves for credential material harvested from a
// capture (auth headers, cookies, CSRF tokens) so a materialized skill can
// be replayed without re-extracting them from the original HAR every time.
//
// The contract and its memory/redis duality are grounded on the teacher's
// runtime/cache.DecisionCache: same Lookup/Store/DeletePrefix/Size/Close
// shape, same TTL-and-epoch invalidation idea, repurposed from caching
// per-request admission decisions to caching per-capture credentials. Unlike
// the teacher's decision cache, entries here carry a StaleAt watermark
// distinct from ExpiresAt: a harvested credential can go bad before its
// hard TTL (session rotation, revoked token) in a way a cached admission
// decision never does, so callers can tell "still valid" apart from
// "due for a fresh harvest" instead of treating every entry as binary
// hit-or-miss.
package credentialstore

import (
	"context"
	"time"
)

// Credential is the harvested auth material for one capture/service pair,
// as produced by C4's Auth Extractor and surfaced through apidata.AuthInfo.
type Credential struct {
	AuthMethod string            `json:"authMethod"`
	Headers    map[string]string `json:"headers,omitempty"`
	Cookies    map[string]string `json:"cookies,omitempty"`
	Notes      []string          `json:"notes,omitempty"`
}

// staleFraction is how far into an entry's lifetime it is considered stale:
// a credential harvested from a HAR capture can silently stop working
// before its store-side TTL expires (session rotation, revoked token), so
// callers watching a capture folder (CapturesConfig.WatchFolder) treat a
// stale-but-unexpired entry as a signal to prefer a freshly re-ingested
// capture's credentials over blindly extending the old ones.
const staleFraction = 0.75

// Entry is a stored Credential plus its bookkeeping timestamps. StaleAt
// marks when the credential should be considered due for refresh, distinct
// from ExpiresAt, which marks when it must no longer be served at all.
type Entry struct {
	Credential Credential `json:"credential"`
	StoredAt   time.Time  `json:"storedAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	StaleAt    time.Time  `json:"staleAt"`
}

// IsStale reports whether entry has crossed its staleness threshold as of
// now, even though it may still be valid until ExpiresAt.
func (e Entry) IsStale(now time.Time) bool {
	if e.StaleAt.IsZero() {
		return false
	}
	return now.After(e.StaleAt)
}

// withComputedStaleAt fills in StaleAt from the entry's lifetime
// (StoredAt..ExpiresAt) when the caller left it unset, so every backend
// gets the same staleness policy without duplicating the math.
func withComputedStaleAt(entry Entry) Entry {
	if !entry.StaleAt.IsZero() || entry.ExpiresAt.IsZero() || entry.StoredAt.IsZero() {
		return entry
	}
	lifetime := entry.ExpiresAt.Sub(entry.StoredAt)
	entry.StaleAt = entry.StoredAt.Add(time.Duration(float64(lifetime) * staleFraction))
	return entry
}

// Store is the abstract CredentialStore interface spec.md reserves:
// credential vaulting internals beyond this contract are out of scope.
type Store interface {
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	Store(ctx context.Context, key string, entry Entry) error
	DeletePrefix(ctx context.Context, prefix string) error
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}

// ReloadScope conveys the namespace and prefix of credentials that should
// be invalidated when a capture is re-ingested under a new epoch.
type ReloadScope struct {
	Capture string
	Epoch   int
	Prefix  string
}

// ReloadInvalidator is implemented by stores that need extra coordination
// when the orchestrator swaps in a freshly re-ingested capture.
type ReloadInvalidator interface {
	InvalidateOnReload(ctx context.Context, scope ReloadScope) error
}

// Key derives the store key for a capture's credential under a given
// service, so DeletePrefix(capture+":") can invalidate every service's
// credentials for a re-ingested capture in one call.
func Key(capture, service string) string {
	return capture + ":" + service
}
