// Package audit records structural changes to permission sets, profiles,
// and assignments for compliance and forensics.
//
// # Overview
//
// Every mutation to the grant hierarchy (set create/delete, table attach,
// field flag change, profile assignment) produces one event with actor,
// target resource, and request context. Cascading deletes record the
// removed-row counts in event metadata.
//
// # Usage Example
//
// Record a mutation:
//
//	logger.LogMutation(ctx, audit.EventTypeSetDelete, actorID,
//		audit.ResourceTypePermissionSet, setID,
//		audit.EventStatusSuccess, "cascade removed 14 rows")
//
// Search events:
//
//	events, err := logger.Search(ctx, audit.SearchFilter{
//		StartTime:  &since,
//		EventTypes: []audit.EventType{audit.EventTypeSetDelete},
//		Limit:      100,
//	})
//
// # Retention Policy
//
// Default: 90 days active retention, purged by a scheduled job.
//
// # Related Packages
//
//   - pkg/grants: the mutations being audited
//   - pkg/profiles: profile lifecycle events
package audit
