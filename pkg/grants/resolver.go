package grants

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Resolver computes a user's effective permission-set membership and the
// masked field/table rights it implies.
//
// Reads go through the reader handle, which may point at a replica; effective
// rights are an administrative view and tolerate staleness within the cache
// TTL. Writes (the denormalized profile-grant sync) go through the store's
// primary connection.
type Resolver struct {
	store   *Store
	reader  *sql.DB
	cache   EffectiveCache
	metrics MetricsRecorder
}

// NewResolver creates a resolver. reader may be a replica connection; when
// nil the store's primary is used. cache may be nil for uncached resolution.
func NewResolver(store *Store, reader *sql.DB, cache EffectiveCache) *Resolver {
	if reader == nil {
		reader = store.db
	}
	if cache == nil {
		cache = NopCache{}
	}
	return &Resolver{store: store, reader: reader, cache: cache, metrics: nopMetrics{}}
}

// SetMetrics routes resolution and cache measurements to m. Passing nil
// restores the no-op recorder.
func (r *Resolver) SetMetrics(m MetricsRecorder) {
	if m == nil {
		m = nopMetrics{}
	}
	r.metrics = m
}

// EffectivePermissionSets returns the union of the permission sets attached
// to the user's profile and those granted directly, each tagged with its
// source. A set reachable through both sources appears twice; callers that
// need membership as a boolean must scan the full list.
func (r *Resolver) EffectivePermissionSets(ctx context.Context, userID string) ([]EffectiveGrant, error) {
	start := time.Now()
	var grants []EffectiveGrant

	profileSets, err := r.queryGrants(ctx, `
		SELECT ps.id, ps.name, ps.description, ps.table_count, ps.created_at, ps.updated_at
		FROM permission_sets ps
		JOIN profile_permission_sets pps ON pps.permission_set_id = ps.id
		JOIN user_profiles up ON up.profile_id = pps.profile_id
		WHERE up.user_id = $1
		ORDER BY ps.name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve profile grants: %w", err)
	}
	for _, set := range profileSets {
		grants = append(grants, EffectiveGrant{PermissionSet: set, Source: SourceProfile})
	}

	directSets, err := r.queryGrants(ctx, `
		SELECT ps.id, ps.name, ps.description, ps.table_count, ps.created_at, ps.updated_at
		FROM permission_sets ps
		JOIN user_permission_sets ups ON ups.permission_set_id = ps.id
		WHERE ups.user_id = $1 AND ups.source_type = 'direct'
		ORDER BY ps.name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve direct grants: %w", err)
	}
	for _, set := range directSets {
		grants = append(grants, EffectiveGrant{PermissionSet: set, Source: SourceDirect})
	}

	r.metrics.RecordResolution("sets", time.Since(start))
	return grants, nil
}

func (r *Resolver) queryGrants(ctx context.Context, query, userID string) ([]PermissionSet, error) {
	rows, err := r.reader.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sets []PermissionSet
	for rows.Next() {
		var set PermissionSet
		if err := rows.Scan(&set.ID, &set.Name, &set.Description, &set.TableCount, &set.CreatedAt, &set.UpdatedAt); err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return sets, rows.Err()
}

// EffectiveFieldAccess resolves the user's masked view/edit rights for one
// field. Every contributing permission set that grants the table is masked
// per the hierarchy rules and the results are OR-combined. Both flags are
// false when no set grants the table.
func (r *Resolver) EffectiveFieldAccess(ctx context.Context, userID, tableName, fieldName string) (FieldFlags, error) {
	start := time.Now()
	rows, err := r.reader.QueryContext(ctx, `
		SELECT t.can_read, t.can_update, f.can_view, f.can_edit
		FROM table_access t
		JOIN field_access f ON f.table_access_id = t.id
		WHERE t.table_name = $1 AND f.field_name = $2 AND t.permission_set_id IN (
			SELECT pps.permission_set_id
			FROM profile_permission_sets pps
			JOIN user_profiles up ON up.profile_id = pps.profile_id
			WHERE up.user_id = $3
			UNION
			SELECT ups.permission_set_id
			FROM user_permission_sets ups
			WHERE ups.user_id = $4 AND ups.source_type = 'direct'
		)
	`, tableName, fieldName, userID, userID)
	if err != nil {
		return FieldFlags{}, fmt.Errorf("failed to resolve field access: %w", err)
	}
	defer rows.Close()

	var effective FieldFlags
	for rows.Next() {
		var table TableFlags
		var field FieldFlags
		if err := rows.Scan(&table.CanRead, &table.CanUpdate, &field.CanView, &field.CanEdit); err != nil {
			return FieldFlags{}, fmt.Errorf("failed to scan field access: %w", err)
		}
		effective = CombineFieldFlags(effective, MaskFieldFlags(table, field))
	}
	if err := rows.Err(); err != nil {
		return FieldFlags{}, err
	}
	r.metrics.RecordResolution("field", time.Since(start))
	return effective, nil
}

// EffectiveTableAccess resolves the user's OR-combined CRUD rights for one
// table across every contributing permission set.
func (r *Resolver) EffectiveTableAccess(ctx context.Context, userID, tableName string) (TableFlags, error) {
	start := time.Now()
	rows, err := r.reader.QueryContext(ctx, `
		SELECT t.can_create, t.can_read, t.can_update, t.can_delete
		FROM table_access t
		WHERE t.table_name = $1 AND t.permission_set_id IN (
			SELECT pps.permission_set_id
			FROM profile_permission_sets pps
			JOIN user_profiles up ON up.profile_id = pps.profile_id
			WHERE up.user_id = $2
			UNION
			SELECT ups.permission_set_id
			FROM user_permission_sets ups
			WHERE ups.user_id = $3 AND ups.source_type = 'direct'
		)
	`, tableName, userID, userID)
	if err != nil {
		return TableFlags{}, fmt.Errorf("failed to resolve table access: %w", err)
	}
	defer rows.Close()

	var effective TableFlags
	for rows.Next() {
		var flags TableFlags
		if err := rows.Scan(&flags.CanCreate, &flags.CanRead, &flags.CanUpdate, &flags.CanDelete); err != nil {
			return TableFlags{}, fmt.Errorf("failed to scan table access: %w", err)
		}
		effective = CombineTableFlags(effective, flags)
	}
	if err := rows.Err(); err != nil {
		return TableFlags{}, err
	}
	r.metrics.RecordResolution("table", time.Since(start))
	return effective, nil
}

// PermissionSetNames returns the distinct names of the user's effective
// permission sets, serving the cached snapshot when present.
func (r *Resolver) PermissionSetNames(ctx context.Context, userID string) ([]string, error) {
	if names, ok, err := r.cache.GetNames(ctx, userID); err == nil && ok {
		r.metrics.RecordCacheHit()
		return names, nil
	}
	r.metrics.RecordCacheMiss()

	names, err := r.computeNames(ctx, userID)
	if err != nil {
		return nil, err
	}
	// Cache write failures degrade to uncached reads, never to errors.
	_ = r.cache.SetNames(ctx, userID, names)
	return names, nil
}

// RefreshUser recomputes the user's denormalized profile-sourced grant rows
// and rewrites the cached name snapshot. Invoked after a profile
// reassignment so stale profile-derived grants are never displayed.
func (r *Resolver) RefreshUser(ctx context.Context, userID string) error {
	if err := r.store.SyncProfileGrants(ctx, userID); err != nil {
		return err
	}
	if err := r.cache.Invalidate(ctx, userID); err != nil {
		return fmt.Errorf("failed to invalidate effective-rights cache: %w", err)
	}
	names, err := r.computeNames(ctx, userID)
	if err != nil {
		return err
	}
	return r.cache.SetNames(ctx, userID, names)
}

func (r *Resolver) computeNames(ctx context.Context, userID string) ([]string, error) {
	grants, err := r.EffectivePermissionSets(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(grants))
	names := make([]string, 0, len(grants))
	for _, g := range grants {
		if seen[g.PermissionSet.Name] {
			continue
		}
		seen[g.PermissionSet.Name] = true
		names = append(names, g.PermissionSet.Name)
	}
	sort.Strings(names)
	return names, nil
}

// SyncProfileGrants rewrites the user's profile-sourced user_permission_sets
// rows to match the profile's current assignments. Direct grants are never
// touched. Runs as one transaction on the primary.
func (s *Store) SyncProfileGrants(ctx context.Context, userID string) error {
	return s.InTransaction(ctx, func(txn *Txn) error {
		if _, err := txn.tx.ExecContext(ctx, `
			DELETE FROM user_permission_sets WHERE user_id = $1 AND source_type = 'profile'
		`, userID); err != nil {
			return fmt.Errorf("failed to clear profile-sourced grants: %w", err)
		}

		rows, err := txn.tx.QueryContext(ctx, `
			SELECT pps.permission_set_id
			FROM profile_permission_sets pps
			JOIN user_profiles up ON up.profile_id = pps.profile_id
			WHERE up.user_id = $1
		`, userID)
		if err != nil {
			return fmt.Errorf("failed to list profile grants: %w", err)
		}
		var setIDs []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan permission set id: %w", err)
			}
			setIDs = append(setIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, setID := range setIDs {
			if _, err := txn.tx.ExecContext(ctx, `
				INSERT INTO user_permission_sets (id, user_id, permission_set_id, source_type, created_at)
				VALUES ($1, $2, $3, 'profile', $4)
			`, uuid.NewString(), userID, setID, now); err != nil {
				return fmt.Errorf("failed to record profile-sourced grant: %w", err)
			}
		}
		return nil
	})
}
