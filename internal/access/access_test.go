package access

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAllowOrdering(t *testing.T) {
	g := NewGate("/login", "/denied")
	cases := []struct {
		role     Role
		required Role
		allowed  bool
		redirect string
	}{
		{RoleVisitor, RoleVisitor, true, ""},
		{RoleVisitor, RoleUser, false, "/login"},
		{RoleUser, RoleUser, true, ""},
		{RoleUser, RoleAdmin, false, "/denied"},
		{RoleAdmin, RoleUser, true, ""},
		{RoleAdmin, RoleAdmin, true, ""},
		{RoleAdmin, RoleSuperadmin, false, "/denied"},
		{RoleSuperadmin, RoleAdmin, true, ""},
		{Role("garbage"), RoleUser, false, "/login"},
		{Role(""), RoleUser, false, "/login"},
		{Role("garbage"), RoleVisitor, true, ""},
	}
	for _, tc := range cases {
		d := g.Allow(tc.role, tc.required)
		if d.Allowed != tc.allowed {
			t.Errorf("Allow(%q, %q): expected allowed=%v, got %v", tc.role, tc.required, tc.allowed, d.Allowed)
		}
		if d.RedirectTo != tc.redirect {
			t.Errorf("Allow(%q, %q): expected redirect %q, got %q", tc.role, tc.required, tc.redirect, d.RedirectTo)
		}
	}
}

func TestRequireMiddleware(t *testing.T) {
	g := NewGate("/login", "/denied")
	resolve := func(r *http.Request) Role {
		return Role(r.Header.Get("X-Test-Role"))
	}
	handler := g.Require(RoleAdmin, resolve, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-Test-Role", "admin")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for admin, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-Test-Role", "user")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusFound {
		t.Errorf("Expected redirect for user, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/denied" {
		t.Errorf("Expected redirect to /denied, got %q", loc)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-Test-Role", "user")
	req.Header.Set("Accept", "application/json")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for JSON client, got %d", rec.Code)
	}
}
