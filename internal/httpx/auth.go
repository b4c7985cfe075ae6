package httpx

import (
	"context"
	"net/http"
	"strings"
)

const (
	HeaderUserEmail = "X-User-Email"
	HeaderUserRole  = "X-User-Role"
)

// Identity is the caller as asserted by the upstream gateway.
type Identity struct {
	Email string
	Role  string
}

func (id Identity) Anonymous() bool { return id.Email == "" && id.Role == "" }

type Authorizer interface {
	IsAdmin(id Identity) bool
}

// AllowlistAuthorizer admits the admin role or any listed e-mail.
type AllowlistAuthorizer struct {
	emails map[string]bool
}

func NewAllowlistAuthorizer(emails []string) AllowlistAuthorizer {
	a := AllowlistAuthorizer{emails: make(map[string]bool, len(emails))}
	for _, e := range emails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			a.emails[e] = true
		}
	}
	return a
}

func (a AllowlistAuthorizer) IsAdmin(id Identity) bool {
	if strings.EqualFold(id.Role, "admin") {
		return true
	}
	return id.Email != "" && a.emails[strings.ToLower(id.Email)]
}

type identityKey struct{}

func identityFrom(r *http.Request) Identity {
	return Identity{
		Email: strings.TrimSpace(r.Header.Get(HeaderUserEmail)),
		Role:  strings.TrimSpace(r.Header.Get(HeaderUserRole)),
	}
}

// CallerOf returns the identity stored by RequireAdmin.
func CallerOf(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}

// RequireAdmin rejects anonymous callers with 401 and non-admins with 403.
func RequireAdmin(auth Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := identityFrom(r)
			if id.Anonymous() {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated", Message: "missing caller identity"})
				return
			}
			if auth == nil || !auth.IsAdmin(id) {
				writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Message: "admin access required"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
		})
	}
}
