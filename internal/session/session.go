// Package session namespaces job identifiers by browser session so that
// concurrent clients sharing one backend never see each other's jobs. A
// session id is not an authorization token; user identity is resolved
// separately by the auth layer.
package session

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Separator joins a session id and a raw job id into a scoped job id.
const Separator = ":"

const suffixLen = 6

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewID returns a fresh session identifier combining the current time with a
// short random suffix. Collision resistance only needs to cover sessions
// created on the same backend, so a cryptographic source is not required.
func NewID() string {
	suffix := make([]byte, suffixLen)
	for i := range suffix {
		suffix[i] = base36[rand.Intn(len(base36))]
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), suffix)
}

// Prefix scopes jobID under sessionID.
func Prefix(sessionID, jobID string) string {
	return sessionID + Separator + jobID
}

// Unprefix strips the session prefix from a scoped job id, splitting on the
// first separator only so raw job ids containing the separator survive the
// round trip. Ids without a separator are returned unchanged; they are
// treated as unscoped legacy ids.
func Unprefix(scopedID string) string {
	parts := strings.SplitN(scopedID, Separator, 2)
	if len(parts) < 2 {
		return scopedID
	}
	return parts[1]
}

// Of returns the session component of a scoped job id, or "" when the id
// carries no session prefix.
func Of(scopedID string) string {
	idx := strings.Index(scopedID, Separator)
	if idx < 0 {
		return ""
	}
	return scopedID[:idx]
}
