package grants

import (
	"context"
	"testing"
	"time"
)

// countingRecorder tallies every measurement for assertions.
type countingRecorder struct {
	mutations   map[string]int
	cascades    [][4]int
	commits     map[string]int
	resolutions map[string]int
	hits        int
	misses      int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		mutations:   map[string]int{},
		commits:     map[string]int{},
		resolutions: map[string]int{},
	}
}

func (c *countingRecorder) RecordMutation(operation string) { c.mutations[operation]++ }
func (c *countingRecorder) RecordCascade(tables, fields, profileEdges, userEdges int) {
	c.cascades = append(c.cascades, [4]int{tables, fields, profileEdges, userEdges})
}
func (c *countingRecorder) RecordSessionCommit(outcome string) { c.commits[outcome]++ }
func (c *countingRecorder) RecordResolution(kind string, _ time.Duration) {
	c.resolutions[kind]++
}
func (c *countingRecorder) RecordCacheHit()  { c.hits++ }
func (c *countingRecorder) RecordCacheMiss() { c.misses++ }

func TestStore_RecordsMutations(t *testing.T) {
	store, db := setupTestStore(t)
	rec := newCountingRecorder()
	store.SetMetrics(rec)
	ctx := context.Background()

	set := mustCreateSet(t, store, "Sales")
	ta := mustAttachTable(t, store, set.ID, "orders", TableFlags{CanRead: true, CanUpdate: true})
	if err := store.UpdateTableFlags(ctx, ta.ID, TableFlags{CanRead: true}); err != nil {
		t.Fatalf("UpdateTableFlags failed: %v", err)
	}
	field := fieldByName(t, store, ta.ID, "id")
	if err := store.UpdateFieldFlags(ctx, field.ID, FieldFlags{CanView: true}); err != nil {
		t.Fatalf("UpdateFieldFlags failed: %v", err)
	}
	createTestProfile(t, db, "prof-1", "Managers")
	if err := store.AssignPermissionSetToProfile(ctx, "prof-1", set.ID); err != nil {
		t.Fatalf("AssignPermissionSetToProfile failed: %v", err)
	}
	if err := store.AssignPermissionSetToUser(ctx, "user-1", set.ID, SourceDirect); err != nil {
		t.Fatalf("AssignPermissionSetToUser failed: %v", err)
	}

	want := map[string]int{
		"set_create":         1,
		"table_attach":       1,
		"table_flags_update": 1,
		"field_flags_update": 1,
		"profile_assign":     1,
		"user_assign":        1,
	}
	for op, n := range want {
		if rec.mutations[op] != n {
			t.Errorf("expected %d %q mutations, got %d", n, op, rec.mutations[op])
		}
	}
}

func TestStore_RecordsCascadeOnDelete(t *testing.T) {
	store, db := setupTestStore(t)
	rec := newCountingRecorder()
	store.SetMetrics(rec)
	ctx := context.Background()

	set := mustCreateSet(t, store, "Sales")
	mustAttachTable(t, store, set.ID, "orders", TableFlags{CanRead: true})
	createTestProfile(t, db, "prof-1", "Managers")
	if err := store.AssignPermissionSetToProfile(ctx, "prof-1", set.ID); err != nil {
		t.Fatalf("AssignPermissionSetToProfile failed: %v", err)
	}

	report, err := store.DeletePermissionSet(ctx, set.ID)
	if err != nil {
		t.Fatalf("DeletePermissionSet failed: %v", err)
	}
	if rec.mutations["set_delete"] != 1 {
		t.Errorf("expected 1 set_delete mutation, got %d", rec.mutations["set_delete"])
	}
	if len(rec.cascades) != 1 {
		t.Fatalf("expected 1 cascade record, got %d", len(rec.cascades))
	}
	got := rec.cascades[0]
	want := [4]int{report.TablesRemoved, report.FieldsRemoved, report.ProfilesUnassigned, report.UsersUnassigned}
	if got != want {
		t.Errorf("expected cascade record %v, got %v", want, got)
	}
}

func TestStore_UnassignRecordsOnlyRemovals(t *testing.T) {
	store, db := setupTestStore(t)
	rec := newCountingRecorder()
	store.SetMetrics(rec)
	ctx := context.Background()

	set := mustCreateSet(t, store, "Sales")
	createTestProfile(t, db, "prof-1", "Managers")
	if err := store.AssignPermissionSetToProfile(ctx, "prof-1", set.ID); err != nil {
		t.Fatalf("AssignPermissionSetToProfile failed: %v", err)
	}

	if removed, err := store.UnassignPermissionSetFromProfile(ctx, "prof-1", set.ID); err != nil || !removed {
		t.Fatalf("expected removal, got removed=%v err=%v", removed, err)
	}
	// Re-running the removal is a no-op and must not count.
	if removed, err := store.UnassignPermissionSetFromProfile(ctx, "prof-1", set.ID); err != nil || removed {
		t.Fatalf("expected no-op, got removed=%v err=%v", removed, err)
	}
	if rec.mutations["profile_unassign"] != 1 {
		t.Errorf("expected 1 profile_unassign, got %d", rec.mutations["profile_unassign"])
	}
}

func TestResolver_RecordsResolutionsAndCache(t *testing.T) {
	store, _ := setupTestStore(t)
	resolver := NewResolver(store, nil, newMemCache())
	rec := newCountingRecorder()
	resolver.SetMetrics(rec)
	ctx := context.Background()

	set := mustCreateSet(t, store, "Sales")
	mustAttachTable(t, store, set.ID, "orders", TableFlags{CanRead: true, CanUpdate: true})
	if err := store.AssignPermissionSetToUser(ctx, "user-1", set.ID, SourceDirect); err != nil {
		t.Fatalf("AssignPermissionSetToUser failed: %v", err)
	}

	if _, err := resolver.EffectiveFieldAccess(ctx, "user-1", "orders", "id"); err != nil {
		t.Fatalf("EffectiveFieldAccess failed: %v", err)
	}
	if _, err := resolver.EffectiveTableAccess(ctx, "user-1", "orders"); err != nil {
		t.Fatalf("EffectiveTableAccess failed: %v", err)
	}
	if _, err := resolver.EffectivePermissionSets(ctx, "user-1"); err != nil {
		t.Fatalf("EffectivePermissionSets failed: %v", err)
	}
	if rec.resolutions["field"] != 1 || rec.resolutions["table"] != 1 || rec.resolutions["sets"] != 1 {
		t.Errorf("expected one resolution per kind, got %v", rec.resolutions)
	}

	// First name lookup misses and fills the cache, second hits.
	if _, err := resolver.PermissionSetNames(ctx, "user-1"); err != nil {
		t.Fatalf("PermissionSetNames failed: %v", err)
	}
	if _, err := resolver.PermissionSetNames(ctx, "user-1"); err != nil {
		t.Fatalf("PermissionSetNames failed: %v", err)
	}
	if rec.misses != 1 || rec.hits != 1 {
		t.Errorf("expected 1 miss and 1 hit, got misses=%d hits=%d", rec.misses, rec.hits)
	}
}

func TestSession_RecordsCommitOutcomes(t *testing.T) {
	store, _ := setupTestStore(t)
	rec := newCountingRecorder()
	store.SetMetrics(rec)
	ctx := context.Background()

	set := mustCreateSet(t, store, "Sales")

	session := NewSession(store)
	session.StageAttachTable(set.ID, "orders", TableFlags{CanRead: true})
	if _, err := session.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if rec.commits["success"] != 1 {
		t.Errorf("expected 1 success commit, got %d", rec.commits["success"])
	}

	failing := NewSession(store)
	failing.StageAssignSetToProfile("missing-profile", set.ID)
	if _, err := failing.Commit(ctx); err == nil {
		t.Fatal("expected commit failure for missing profile")
	}
	if rec.commits["failure"] != 1 {
		t.Errorf("expected 1 failure commit, got %d", rec.commits["failure"])
	}
}
