// Package access decides whether a caller's role clears a required role.
// Authentication itself happens upstream; this package only consumes the
// resolved role and yields an allow/deny plus redirect target.
package access

import "net/http"

// Role is an ordered privilege level.
type Role string

const (
	RoleVisitor    Role = "visitor"
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

// rank orders roles. Unknown roles rank below visitor.
var rank = map[Role]int{
	RoleVisitor:    0,
	RoleUser:       1,
	RoleAdmin:      2,
	RoleSuperadmin: 3,
}

// Known reports whether r names a defined role.
func Known(r Role) bool {
	_, ok := rank[r]
	return ok
}

// Decision is the outcome of an access check.
type Decision struct {
	Allowed    bool
	RedirectTo string
}

// Gate evaluates role requirements.
type Gate struct {
	// LoginURL receives callers with no recognized role.
	LoginURL string
	// DeniedURL receives authenticated callers below the required role.
	DeniedURL string
}

func NewGate(loginURL, deniedURL string) *Gate {
	if loginURL == "" {
		loginURL = "/login"
	}
	if deniedURL == "" {
		deniedURL = "/"
	}
	return &Gate{LoginURL: loginURL, DeniedURL: deniedURL}
}

// Allow reports whether a caller with the given role may access a
// resource requiring required.
func (g *Gate) Allow(role, required Role) Decision {
	if required == RoleVisitor || required == "" {
		return Decision{Allowed: true}
	}
	if !Known(role) || role == RoleVisitor {
		return Decision{RedirectTo: g.LoginURL}
	}
	if rank[role] >= rank[required] {
		return Decision{Allowed: true}
	}
	return Decision{RedirectTo: g.DeniedURL}
}

// RoleResolver extracts the caller's role from a request.
type RoleResolver func(*http.Request) Role

// Require wraps a handler with a role check. Denied requests get a
// redirect for page loads and a 403 for API calls.
func (g *Gate) Require(required Role, resolve RoleResolver, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := g.Allow(resolve(r), required)
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Accept") == "application/json" {
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
			return
		}
		http.Redirect(w, r, decision.RedirectTo, http.StatusFound)
	})
}
