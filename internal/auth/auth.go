// Package auth resolves the authenticated user at the HTTP boundary. The
// session id is deliberately not part of authorization; it only namespaces
// jobs.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/openscribe/openscribe/internal/persistence"
)

// ErrUnauthenticated is returned when no valid credential accompanies a
// request.
var ErrUnauthenticated = errors.New("authentication required")

// UserSource resolves API tokens to users. The persistence store satisfies
// this.
type UserSource interface {
	GetUserByToken(ctx context.Context, token string) (*persistence.User, error)
}

type Authenticator struct {
	users UserSource
}

func NewAuthenticator(users UserSource) *Authenticator {
	return &Authenticator{users: users}
}

// Resolve extracts the bearer token from the request and returns the owning
// user.
func (a *Authenticator) Resolve(r *http.Request) (*persistence.User, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, ErrUnauthenticated
	}
	user, err := a.users.GetUserByToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	return user, nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// CanIdentifySpeakers reports whether the user's tier includes the speaker
// identification pass.
func CanIdentifySpeakers(u *persistence.User) bool {
	if u == nil {
		return false
	}
	return u.Role == persistence.RolePremium || u.Role == persistence.RoleAdmin
}

// IsAdmin reports whether the user may access admin endpoints.
func IsAdmin(u *persistence.User) bool {
	return u != nil && u.Role == persistence.RoleAdmin
}
