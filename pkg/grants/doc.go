// Package grants implements hierarchical table and field level permissions
// for the AccessDesk authorization service.
//
// # Overview
//
// Access is modeled as named permission sets. A permission set grants CRUD
// flags on whole tables, and view/edit flags on individual fields of those
// tables. Sets are attached to profiles (one profile per user) or granted
// to users directly; a user's effective rights are the union of every set
// reaching them from either source.
//
// # Hierarchy
//
// The grant model is a strict three-level hierarchy:
//
//	PermissionSet
//	  └── TableAccess   (can_create, can_read, can_update, can_delete)
//	        └── FieldAccess  (can_view, can_edit)
//
// Field flags are subordinate to their table's flags:
//
//   - A field can never be editable without being viewable.
//   - Disabling READ on a table forces every field's view and edit off.
//   - Disabling UPDATE on a table forces every field's edit off.
//   - Granting field edit requires the table to hold both READ and UPDATE.
//
// Cascades rewrite stored flags only on explicit downward transitions
// (turning READ or UPDATE off). Reads additionally mask stored field flags
// against the current table flags, so a field row that was stored as
// viewable reports view=false while its table's READ is off, and reports
// view=true again once READ is restored.
//
// # Structural Operations
//
// The Store owns all structural mutations:
//
//	store := grants.NewStore(db, introspector)
//	set, err := store.CreatePermissionSet(ctx, "Sales", "sales desk access")
//	ta, err := store.AttachTable(ctx, set.ID, "orders", grants.TableFlags{
//		CanRead:   true,
//		CanUpdate: true,
//	})
//
// Attaching a table seeds one FieldAccess row per column reported by the
// schema introspector, defaulting to view-only. Deleting a set removes its
// tables, fields, and assignment edges in one transaction and returns a
// CascadeReport with the removed-row counts.
//
// # Effective Rights
//
// The Resolver answers "what can this user do":
//
//	resolver := grants.NewResolver(store, replicaDB, cache)
//	flags, err := resolver.EffectiveFieldAccess(ctx, userID, "orders", "total")
//	if flags.CanEdit {
//		// user may write orders.total
//	}
//
// Resolution unions the sets attached to the user's profile with the sets
// granted directly, masks each contribution through its own table flags,
// and ORs the results. A grant reachable through both sources is reported
// twice by EffectivePermissionSets, tagged with its source.
//
// # Staged Edits
//
// Session batches structural edits and applies them atomically:
//
//	session := grants.NewSession(store)
//	session.StageAttachTable(setID, "invoices", grants.TableFlags{CanRead: true})
//	session.StageAssignSetToProfile(profileID, setID)
//	result, err := session.Commit(ctx)
//
// Staging an add and then a remove of the same target cancels both. A
// failed commit rolls everything back and keeps the staged list for retry.
//
// # Database Schema
//
// Seven tables, migrated by RunMigrations:
//
//   - permission_sets: set definitions with a maintained table_count
//   - table_access: per-set table CRUD flags
//   - field_access: per-table field view/edit flags
//   - profiles: profile definitions
//   - profile_permission_sets: profile-to-set edges
//   - user_permission_sets: user-to-set edges tagged by source
//   - user_profiles: the user's single profile assignment
//
// # Related Packages
//
//   - pkg/schema: table column discovery for field row seeding
//   - pkg/profiles: profile lifecycle and user-profile assignment
//   - pkg/audit: audit trail of structural mutations
package grants
