package grants

import (
	"context"
	"fmt"
)

// SessionState is the staged edit session's lifecycle state.
type SessionState string

const (
	// SessionClean means no pending operations.
	SessionClean SessionState = "clean"
	// SessionEditing means operations are staged but not committed.
	SessionEditing SessionState = "editing"
	// SessionCommitting means a commit transaction is in flight.
	SessionCommitting SessionState = "committing"
	// SessionFailed means the last commit rolled back; pending operations
	// are intact and the session is immediately editable again.
	SessionFailed SessionState = "failed"
)

// opAction distinguishes staged additions, removals, and flag updates.
type opAction int

const (
	opAdd opAction = iota
	opRemove
	opUpdate
)

// opPhase orders commit application: grant-structure changes before
// assignment-edge changes.
type opPhase int

const (
	phaseGrants opPhase = iota
	phaseAssignments
)

// pendingOp is one staged mutation. Ops with the same key coalesce to their
// net effect before commit.
type pendingOp struct {
	key    string
	action opAction
	phase  opPhase
	seq    int

	// Touched permission set, for dependent-count recomputation.
	setID string

	apply func(ctx context.Context, txn *Txn) error
}

// Session accumulates structural edits (table/field grant changes and
// assignment changes) and applies them to the store as one transaction, or
// discards them. It models the editing surface of the administrative
// console: pending changes live only in memory until Commit.
//
// A Session is a client-held value and is not safe for concurrent use.
type Session struct {
	store *Store
	state SessionState
	ops   []pendingOp
	seq   int
}

// NewSession creates an empty session in the Clean state.
func NewSession(store *Store) *Session {
	return &Session{store: store, state: SessionClean}
}

// State returns the session's lifecycle state.
func (s *Session) State() SessionState { return s.state }

// Pending returns the number of staged operations after coalescing.
func (s *Session) Pending() int { return len(s.ops) }

// stage records an op, coalescing against a pending op with the same key:
// add-then-remove cancels out entirely, remove-then-add becomes the add, and
// repeated updates keep only the last payload.
func (s *Session) stage(op pendingOp) {
	s.seq++
	op.seq = s.seq

	for i, existing := range s.ops {
		if existing.key != op.key {
			continue
		}
		if existing.action == opAdd && op.action == opRemove {
			s.ops = append(s.ops[:i], s.ops[i+1:]...)
			s.state = s.editingState()
			return
		}
		s.ops[i] = op
		s.state = SessionEditing
		return
	}

	s.ops = append(s.ops, op)
	s.state = SessionEditing
}

func (s *Session) editingState() SessionState {
	if len(s.ops) == 0 {
		return SessionClean
	}
	return SessionEditing
}

// StageAttachTable stages attaching (or re-flagging) a table on a set.
func (s *Session) StageAttachTable(setID, tableName string, flags TableFlags) {
	s.stage(pendingOp{
		key:    "table|" + setID + "|" + tableName,
		action: opAdd,
		phase:  phaseGrants,
		setID:  setID,
		apply: func(ctx context.Context, txn *Txn) error {
			_, err := txn.AttachTable(ctx, setID, tableName, flags)
			return err
		},
	})
}

// StageDetachTable stages removing a table grant. tableName keys the op so a
// pending attach of the same table cancels out.
func (s *Session) StageDetachTable(setID, tableAccessID, tableName string) {
	s.stage(pendingOp{
		key:    "table|" + setID + "|" + tableName,
		action: opRemove,
		phase:  phaseGrants,
		setID:  setID,
		apply: func(ctx context.Context, txn *Txn) error {
			_, err := txn.DetachTable(ctx, setID, tableAccessID)
			return err
		},
	})
}

// StageTableFlags stages a table-flag change; repeats on the same row keep
// only the last flags.
func (s *Session) StageTableFlags(setID, tableAccessID string, flags TableFlags) {
	s.stage(pendingOp{
		key:    "tableflags|" + tableAccessID,
		action: opUpdate,
		phase:  phaseGrants,
		setID:  setID,
		apply: func(ctx context.Context, txn *Txn) error {
			return txn.UpdateTableFlags(ctx, tableAccessID, flags)
		},
	})
}

// StageFieldFlags stages a field-flag change; repeats on the same row keep
// only the last flags.
func (s *Session) StageFieldFlags(setID, fieldAccessID string, flags FieldFlags) {
	s.stage(pendingOp{
		key:    "fieldflags|" + fieldAccessID,
		action: opUpdate,
		phase:  phaseGrants,
		setID:  setID,
		apply: func(ctx context.Context, txn *Txn) error {
			return txn.UpdateFieldFlags(ctx, fieldAccessID, flags)
		},
	})
}

// StageAssignSetToProfile stages attaching a permission set to a profile.
func (s *Session) StageAssignSetToProfile(profileID, setID string) {
	s.stage(pendingOp{
		key:    "profileset|" + profileID + "|" + setID,
		action: opAdd,
		phase:  phaseAssignments,
		setID:  setID,
		apply: func(ctx context.Context, txn *Txn) error {
			return txn.AssignPermissionSetToProfile(ctx, profileID, setID)
		},
	})
}

// StageUnassignSetFromProfile stages detaching a permission set from a
// profile; a pending assignment of the same pair cancels out.
func (s *Session) StageUnassignSetFromProfile(profileID, setID string) {
	s.stage(pendingOp{
		key:    "profileset|" + profileID + "|" + setID,
		action: opRemove,
		phase:  phaseAssignments,
		setID:  setID,
		apply: func(ctx context.Context, txn *Txn) error {
			_, err := txn.UnassignPermissionSetFromProfile(ctx, profileID, setID)
			return err
		},
	})
}

// StageAssignSetToUser stages a direct (or profile-sourced) user grant.
func (s *Session) StageAssignSetToUser(userID, setID string, source SourceType) {
	s.stage(pendingOp{
		key:    "userset|" + userID + "|" + setID + "|" + string(source),
		action: opAdd,
		phase:  phaseAssignments,
		setID:  setID,
		apply: func(ctx context.Context, txn *Txn) error {
			return txn.AssignPermissionSetToUser(ctx, userID, setID, source)
		},
	})
}

// StageUnassignSetFromUser stages removing a user grant scoped to source; a
// pending assignment of the same triple cancels out.
func (s *Session) StageUnassignSetFromUser(userID, setID string, source SourceType) {
	s.stage(pendingOp{
		key:    "userset|" + userID + "|" + setID + "|" + string(source),
		action: opRemove,
		phase:  phaseAssignments,
		setID:  setID,
		apply: func(ctx context.Context, txn *Txn) error {
			_, err := txn.UnassignPermissionSetFromUser(ctx, userID, setID, source)
			return err
		},
	})
}

// Cancel discards all pending operations without contacting the store.
func (s *Session) Cancel() {
	s.ops = nil
	s.state = SessionClean
}

// CommitResult summarizes a successful commit.
type CommitResult struct {
	Applied int `json:"applied"`
}

// Commit applies every pending operation in one store transaction: grant
// changes first (in staged order), then assignment changes, then a
// dependent-count recomputation for every touched permission set. Any
// failure rolls the whole transaction back and leaves the pending list
// intact so the operator can retry; a concurrent structural change surfaces
// here as ErrNotFound.
func (s *Session) Commit(ctx context.Context) (*CommitResult, error) {
	if len(s.ops) == 0 {
		s.state = SessionClean
		return &CommitResult{}, nil
	}

	s.state = SessionCommitting

	ordered := make([]pendingOp, 0, len(s.ops))
	for _, op := range s.ops {
		if op.phase == phaseGrants {
			ordered = append(ordered, op)
		}
	}
	for _, op := range s.ops {
		if op.phase == phaseAssignments {
			ordered = append(ordered, op)
		}
	}

	touched := make(map[string]bool)
	err := s.store.InTransaction(ctx, func(txn *Txn) error {
		for _, op := range ordered {
			if err := op.apply(ctx, txn); err != nil {
				return fmt.Errorf("staged operation %s failed: %w", op.key, err)
			}
			if op.setID != "" {
				touched[op.setID] = true
			}
		}
		for setID := range touched {
			if err := txn.RecomputeTableCount(ctx, setID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// Pending ops survive a failed commit so the operator can
		// adjust and retry.
		s.state = SessionFailed
		s.store.metrics.RecordSessionCommit("failure")
		return nil, err
	}

	result := &CommitResult{Applied: len(ordered)}
	s.ops = nil
	s.state = SessionClean
	s.store.metrics.RecordSessionCommit("success")
	return result, nil
}
