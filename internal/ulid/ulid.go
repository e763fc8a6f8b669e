// Package ulid wraps github.com/oklog/ulid/v2 with prefixed, monotonic IDs
// used for request tracing, sync cycles, sync log rows and settings.
package ulid

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// PrefixRequest marks outbound and inbound HTTP request IDs
	PrefixRequest = "req"

	// PrefixCycle marks one sync drain cycle
	PrefixCycle = "cyc"

	// PrefixSyncLog marks a sync log row
	PrefixSyncLog = "slog"

	// PrefixSetting marks a persisted setting
	PrefixSetting = "set"

	PrefixSeparator = "-"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// withPrefix returns "prefix-ULID". IDs generated within the same
// millisecond are strictly increasing.
func withPrefix(prefix string) string {
	entropyLock.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyLock.Unlock()
	return prefix + PrefixSeparator + id.String()
}

// RequestID generates a new request ID
func RequestID() string {
	return withPrefix(PrefixRequest)
}

// CycleID generates a new sync cycle ID
func CycleID() string {
	return withPrefix(PrefixCycle)
}

// SyncLogID generates a new sync log ID
func SyncLogID() string {
	return withPrefix(PrefixSyncLog)
}

// SettingID generates a new setting ID
func SettingID() string {
	return withPrefix(PrefixSetting)
}
