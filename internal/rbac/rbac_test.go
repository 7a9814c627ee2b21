package rbac

import (
	"testing"

	"bughatch/internal/store"
)

func TestNormalize(t *testing.T) {
	cases := map[string]Role{
		"admin":   RoleAdmin,
		" Admin ": RoleAdmin,
		"member":  RoleMember,
		"viewer":  RoleViewer,
		"":        RoleViewer,
		"owner":   RoleViewer,
	}
	for input, want := range cases {
		if got := Normalize(input); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestCanViewAndCanMutate(t *testing.T) {
	project := store.Project{ID: "p1", OwnerID: "owner", Members: []string{"owner", "member"}}

	cases := []struct {
		name     string
		identity *Identity
		view     bool
		mutate   bool
	}{
		{name: "anonymous", identity: nil, view: false, mutate: false},
		{name: "admin non-member", identity: &Identity{ID: "root", Role: RoleAdmin}, view: true, mutate: true},
		{name: "viewer global read", identity: &Identity{ID: "watcher", Role: RoleViewer}, view: true, mutate: false},
		{name: "viewer listed as member", identity: &Identity{ID: "member", Role: RoleViewer}, view: true, mutate: true},
		{name: "member", identity: &Identity{ID: "member", Role: RoleMember}, view: true, mutate: true},
		{name: "outsider member role", identity: &Identity{ID: "stranger", Role: RoleMember}, view: false, mutate: false},
		{name: "demo outsider", identity: &Identity{ID: "demo", Role: RoleMember, IsDemo: true}, view: true, mutate: false},
		{name: "demo admin", identity: &Identity{ID: "root", Role: RoleAdmin, IsDemo: true}, view: true, mutate: false},
		{name: "demo member", identity: &Identity{ID: "member", Role: RoleMember, IsDemo: true}, view: true, mutate: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanView(project, tc.identity); got != tc.view {
				t.Fatalf("CanView() = %v, want %v", got, tc.view)
			}
			if got := CanMutate(project, tc.identity); got != tc.mutate {
				t.Fatalf("CanMutate() = %v, want %v", got, tc.mutate)
			}
		})
	}
}

func TestCanModifyOwned(t *testing.T) {
	project := store.Project{ID: "p1", OwnerID: "owner", Members: []string{"owner", "alice", "bob"}}

	cases := []struct {
		name     string
		identity *Identity
		allow    bool
	}{
		{name: "author", identity: &Identity{ID: "alice", Role: RoleMember}, allow: true},
		{name: "other member", identity: &Identity{ID: "bob", Role: RoleMember}, allow: false},
		{name: "project owner is not author", identity: &Identity{ID: "owner", Role: RoleMember}, allow: false},
		{name: "admin", identity: &Identity{ID: "root", Role: RoleAdmin}, allow: true},
		{name: "demo author", identity: &Identity{ID: "alice", Role: RoleMember, IsDemo: true}, allow: false},
		{name: "anonymous", identity: nil, allow: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanModifyOwned(project, tc.identity, "alice"); got != tc.allow {
				t.Fatalf("CanModifyOwned() = %v, want %v", got, tc.allow)
			}
		})
	}
}

func TestCanManageProject(t *testing.T) {
	project := store.Project{ID: "p1", OwnerID: "owner", Members: []string{"owner", "alice"}}

	if !CanManageProject(project, &Identity{ID: "owner", Role: RoleMember}) {
		t.Fatal("owner should manage project")
	}
	if CanManageProject(project, &Identity{ID: "alice", Role: RoleMember}) {
		t.Fatal("plain member should not manage project")
	}
	if !CanManageProject(project, &Identity{ID: "root", Role: RoleAdmin}) {
		t.Fatal("admin should manage project")
	}
	if CanManageProject(project, &Identity{ID: "owner", Role: RoleMember, IsDemo: true}) {
		t.Fatal("demo identity must not manage project")
	}
}

func TestCanCreateProject(t *testing.T) {
	cases := []struct {
		identity *Identity
		allow    bool
	}{
		{identity: nil, allow: false},
		{identity: &Identity{ID: "v", Role: RoleViewer}, allow: false},
		{identity: &Identity{ID: "m", Role: RoleMember}, allow: true},
		{identity: &Identity{ID: "a", Role: RoleAdmin}, allow: true},
		{identity: &Identity{ID: "d", Role: RoleAdmin, IsDemo: true}, allow: false},
	}
	for _, tc := range cases {
		if got := CanCreateProject(tc.identity); got != tc.allow {
			t.Fatalf("CanCreateProject(%+v) = %v, want %v", tc.identity, got, tc.allow)
		}
	}
}

func TestCanSaveFilter(t *testing.T) {
	project := store.Project{ID: "p1", OwnerID: "owner", Members: []string{"owner"}}
	cases := []struct {
		name     string
		identity *Identity
		want     bool
	}{
		{name: "anonymous", identity: nil, want: false},
		{name: "viewer", identity: &Identity{ID: "v", Role: RoleViewer}, want: true},
		{name: "member outsider", identity: &Identity{ID: "x", Role: RoleMember}, want: false},
		{name: "demo", identity: &Identity{ID: "d", Role: RoleAdmin, IsDemo: true}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanSaveFilter(project, tc.identity); got != tc.want {
				t.Fatalf("CanSaveFilter() = %v, want %v", got, tc.want)
			}
		})
	}
	if !CanReadAudit(&Identity{Role: RoleAdmin}) || CanReadAudit(&Identity{Role: RoleAdmin, IsDemo: true}) || CanReadAudit(&Identity{Role: RoleMember}) {
		t.Fatal("unexpected CanReadAudit result")
	}
	if IsReadOnly(nil) {
		t.Fatal("nil identity is unauthenticated, not read-only")
	}
}

func TestParseRole(t *testing.T) {
	cases := []struct {
		raw  string
		want Role
		ok   bool
	}{
		{raw: "admin", want: RoleAdmin, ok: true},
		{raw: " Viewer ", want: RoleViewer, ok: true},
		{raw: "member", want: RoleMember, ok: true},
		{raw: "", ok: false},
		{raw: "owner", ok: false},
	}
	for _, tc := range cases {
		got, ok := ParseRole(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseRole(%q) = %q, %v; want %q, %v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
	if !CanAssignRole(&Identity{Role: RoleAdmin}) || CanAssignRole(&Identity{Role: RoleMember}) || CanAssignRole(&Identity{Role: RoleAdmin, IsDemo: true}) {
		t.Fatal("unexpected CanAssignRole result")
	}
}
