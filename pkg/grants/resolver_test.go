package grants

import (
	"context"
	"testing"
)

// memCache is a call-recording EffectiveCache for resolver tests.
type memCache struct {
	entries     map[string][]string
	gets, sets  int
	invalidates int
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]string)}
}

func (c *memCache) GetNames(_ context.Context, userID string) ([]string, bool, error) {
	c.gets++
	names, ok := c.entries[userID]
	return names, ok, nil
}

func (c *memCache) SetNames(_ context.Context, userID string, names []string) error {
	c.sets++
	c.entries[userID] = names
	return nil
}

func (c *memCache) Invalidate(_ context.Context, userID string) error {
	c.invalidates++
	delete(c.entries, userID)
	return nil
}

func (c *memCache) Close() error { return nil }

func TestResolver_EffectivePermissionSets(t *testing.T) {
	store, db := setupTestStore(t)
	defer db.Close()
	ctx := context.Background()

	manager := mustCreateSet(t, store, "Manager")
	viewer := mustCreateSet(t, store, "Viewer")

	createTestProfile(t, db, "profile-1", "Regional Manager")
	assignTestUserProfile(t, db, "user-1", "profile-1")
	if err := store.AssignPermissionSetToProfile(ctx, "profile-1", manager.ID); err != nil {
		t.Fatalf("assign to profile failed: %v", err)
	}
	if err := store.AssignPermissionSetToUser(ctx, "user-1", viewer.ID, SourceDirect); err != nil {
		t.Fatalf("direct assign failed: %v", err)
	}

	resolver := NewResolver(store, nil, nil)
	grants, err := resolver.EffectivePermissionSets(ctx, "user-1")
	if err != nil {
		t.Fatalf("EffectivePermissionSets failed: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("resolved %d grants, want 2", len(grants))
	}
	if grants[0].Source != SourceProfile || grants[0].PermissionSet.Name != "Manager" {
		t.Errorf("first grant = %s via %s, want Manager via profile", grants[0].PermissionSet.Name, grants[0].Source)
	}
	if grants[1].Source != SourceDirect || grants[1].PermissionSet.Name != "Viewer" {
		t.Errorf("second grant = %s via %s, want Viewer via direct", grants[1].PermissionSet.Name, grants[1].Source)
	}
}

func TestResolver_DualSourceSetAppearsTwice(t *testing.T) {
	store, db := setupTestStore(t)
	defer db.Close()
	ctx := context.Background()

	set := mustCreateSet(t, store, "Manager")
	createTestProfile(t, db, "profile-1", "Regional Manager")
	assignTestUserProfile(t, db, "user-1", "profile-1")
	if err := store.AssignPermissionSetToProfile(ctx, "profile-1", set.ID); err != nil {
		t.Fatalf("assign to profile failed: %v", err)
	}
	if err := store.AssignPermissionSetToUser(ctx, "user-1", set.ID, SourceDirect); err != nil {
		t.Fatalf("direct assign failed: %v", err)
	}

	resolver := NewResolver(store, nil, nil)
	grants, err := resolver.EffectivePermissionSets(ctx, "user-1")
	if err != nil {
		t.Fatalf("EffectivePermissionSets failed: %v", err)
	}
	// One entry per source; membership is not deduplicated.
	if len(grants) != 2 {
		t.Fatalf("resolved %d grants, want 2 (one per source)", len(grants))
	}

	// The deduplicated name view collapses them.
	names, err := resolver.PermissionSetNames(ctx, "user-1")
	if err != nil {
		t.Fatalf("PermissionSetNames failed: %v", err)
	}
	if len(names) != 1 || names[0] != "Manager" {
		t.Errorf("names = %v, want [Manager]", names)
	}
}

func TestResolver_EffectiveTableAccessUnion(t *testing.T) {
	store, db := setupTestStore(t)
	defer db.Close()
	ctx := context.Background()

	reader := mustCreateSet(t, store, "Reader")
	writer := mustCreateSet(t, store, "Writer")
	mustAttachTable(t, store, reader.ID, "orders", TableFlags{CanRead: true})
	mustAttachTable(t, store, writer.ID, "orders", TableFlags{CanCreate: true, CanUpdate: true})

	if err := store.AssignPermissionSetToUser(ctx, "user-1", reader.ID, SourceDirect); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if err := store.AssignPermissionSetToUser(ctx, "user-1", writer.ID, SourceDirect); err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	resolver := NewResolver(store, nil, nil)
	flags, err := resolver.EffectiveTableAccess(ctx, "user-1", "orders")
	if err != nil {
		t.Fatalf("EffectiveTableAccess failed: %v", err)
	}
	want := TableFlags{CanCreate: true, CanRead: true, CanUpdate: true}
	if flags != want {
		t.Errorf("effective table flags = %+v, want %+v", flags, want)
	}

	// A table no set grants resolves to all-false, not an error.
	flags, err = resolver.EffectiveTableAccess(ctx, "user-1", "invoices")
	if err != nil {
		t.Fatalf("EffectiveTableAccess failed: %v", err)
	}
	if flags != (TableFlags{}) {
		t.Errorf("ungranted table flags = %+v, want all false", flags)
	}
}

func TestResolver_EffectiveFieldAccessMasksPerSet(t *testing.T) {
	store, db := setupTestStore(t)
	defer db.Close()
	ctx := context.Background()

	// Editor grants edit on orders.total; Blind holds the same stored
	// field flags but its table lost READ, so its contribution is masked
	// to nothing before the union.
	editor := mustCreateSet(t, store, "Editor")
	blind := mustCreateSet(t, store, "Blind")

	editorTA := mustAttachTable(t, store, editor.ID, "orders", TableFlags{CanRead: true, CanUpdate: true})
	total := fieldByName(t, store, editorTA.ID, "total")
	if err := store.UpdateFieldFlags(ctx, total.ID, FieldFlags{CanView: true, CanEdit: true}); err != nil {
		t.Fatalf("UpdateFieldFlags failed: %v", err)
	}

	blindTA := mustAttachTable(t, store, blind.ID, "orders", TableFlags{})
	// Force stored flags on under a read-less table, bypassing validation,
	// to prove resolution masks rather than trusts stored values.
	if _, err := db.Exec(`UPDATE field_access SET can_view = $1, can_edit = $2 WHERE table_access_id = $3`,
		true, true, blindTA.ID); err != nil {
		t.Fatalf("failed to force field flags: %v", err)
	}

	resolver := NewResolver(store, nil, nil)

	if err := store.AssignPermissionSetToUser(ctx, "user-blind", blind.ID, SourceDirect); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	flags, err := resolver.EffectiveFieldAccess(ctx, "user-blind", "orders", "total")
	if err != nil {
		t.Fatalf("EffectiveFieldAccess failed: %v", err)
	}
	if flags != (FieldFlags{}) {
		t.Errorf("masked set contributed %+v, want nothing", flags)
	}

	// Adding the editor set flips both flags on via the union.
	if err := store.AssignPermissionSetToUser(ctx, "user-blind", editor.ID, SourceDirect); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	flags, err = resolver.EffectiveFieldAccess(ctx, "user-blind", "orders", "total")
	if err != nil {
		t.Fatalf("EffectiveFieldAccess failed: %v", err)
	}
	if !flags.CanView || !flags.CanEdit {
		t.Errorf("effective field flags = %+v, want view and edit", flags)
	}

	// Unknown field under a granted table resolves to all-false.
	flags, err = resolver.EffectiveFieldAccess(ctx, "user-blind", "orders", "no_such_field")
	if err != nil {
		t.Fatalf("EffectiveFieldAccess failed: %v", err)
	}
	if flags != (FieldFlags{}) {
		t.Errorf("unknown field flags = %+v, want all false", flags)
	}
}

func TestResolver_PermissionSetNamesUsesCache(t *testing.T) {
	store, db := setupTestStore(t)
	defer db.Close()
	ctx := context.Background()

	set := mustCreateSet(t, store, "Manager")
	if err := store.AssignPermissionSetToUser(ctx, "user-1", set.ID, SourceDirect); err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	cache := newMemCache()
	resolver := NewResolver(store, nil, cache)

	names, err := resolver.PermissionSetNames(ctx, "user-1")
	if err != nil {
		t.Fatalf("PermissionSetNames failed: %v", err)
	}
	if len(names) != 1 || names[0] != "Manager" {
		t.Fatalf("names = %v, want [Manager]", names)
	}
	if cache.sets != 1 {
		t.Errorf("cache writes = %d, want 1", cache.sets)
	}

	// Second read is served from the snapshot.
	if _, err := resolver.PermissionSetNames(ctx, "user-1"); err != nil {
		t.Fatalf("PermissionSetNames failed: %v", err)
	}
	if cache.sets != 1 {
		t.Errorf("cache hit still rewrote the snapshot (%d writes)", cache.sets)
	}
}

func TestResolver_RefreshUserSyncsProfileGrants(t *testing.T) {
	store, db := setupTestStore(t)
	defer db.Close()
	ctx := context.Background()

	manager := mustCreateSet(t, store, "Manager")
	viewer := mustCreateSet(t, store, "Viewer")

	createTestProfile(t, db, "profile-1", "Regional Manager")
	assignTestUserProfile(t, db, "user-1", "profile-1")
	if err := store.AssignPermissionSetToProfile(ctx, "profile-1", manager.ID); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if err := store.AssignPermissionSetToUser(ctx, "user-1", viewer.ID, SourceDirect); err != nil {
		t.Fatalf("direct assign failed: %v", err)
	}

	cache := newMemCache()
	resolver := NewResolver(store, nil, cache)

	if err := resolver.RefreshUser(ctx, "user-1"); err != nil {
		t.Fatalf("RefreshUser failed: %v", err)
	}
	if cache.invalidates != 1 {
		t.Errorf("cache invalidations = %d, want 1", cache.invalidates)
	}

	// The denormalized profile-sourced rows now mirror the profile.
	profileSets, err := store.ListUserPermissionSets(ctx, "user-1", SourceProfile)
	if err != nil {
		t.Fatalf("ListUserPermissionSets failed: %v", err)
	}
	if len(profileSets) != 1 || profileSets[0].Name != "Manager" {
		t.Fatalf("profile-sourced sets = %v, want [Manager]", profileSets)
	}

	// Dropping the profile assignment and refreshing clears the
	// denormalized rows but never touches the direct grant.
	if _, err := store.UnassignPermissionSetFromProfile(ctx, "profile-1", manager.ID); err != nil {
		t.Fatalf("unassign failed: %v", err)
	}
	if err := resolver.RefreshUser(ctx, "user-1"); err != nil {
		t.Fatalf("RefreshUser failed: %v", err)
	}

	profileSets, err = store.ListUserPermissionSets(ctx, "user-1", SourceProfile)
	if err != nil {
		t.Fatalf("ListUserPermissionSets failed: %v", err)
	}
	if len(profileSets) != 0 {
		t.Errorf("stale profile-sourced sets remain: %v", profileSets)
	}
	direct, err := store.ListUserPermissionSets(ctx, "user-1", SourceDirect)
	if err != nil {
		t.Fatalf("ListUserPermissionSets failed: %v", err)
	}
	if len(direct) != 1 {
		t.Errorf("direct grants = %d after refresh, want 1", len(direct))
	}

	names, ok := cache.entries["user-1"]
	if !ok {
		t.Fatal("RefreshUser did not rewrite the cached snapshot")
	}
	if len(names) != 1 || names[0] != "Viewer" {
		t.Errorf("cached names = %v, want [Viewer]", names)
	}
}
