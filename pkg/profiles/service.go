package profiles

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/accessdesk/accessdesk/pkg/grants"
	"github.com/accessdesk/accessdesk/pkg/observability"
)

const (
	minNameLen = 2
	maxNameLen = 100
)

// Service manages profile lifecycle and user-profile assignment
type Service struct {
	db     *sql.DB
	logger *observability.Logger
	clock  func() time.Time
}

// NewService creates a new profile service
func NewService(db *sql.DB, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil).WithField("component", "profiles")
	}
	return &Service{
		db:     db,
		logger: logger,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateProfile creates a new profile with a unique name
func (s *Service) CreateProfile(ctx context.Context, name, description string) (*Profile, error) {
	if n := utf8.RuneCountInString(name); n < minNameLen || n > maxNameLen {
		return nil, fmt.Errorf("profile name must be %d-%d characters", minNameLen, maxNameLen)
	}

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM profiles WHERE name = $1", name).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to check profile name: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("profile %q already exists: %w", name, ErrConflict)
	}

	now := s.clock()
	profile := &Profile{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO profiles (id, name, description, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)",
		profile.ID, profile.Name, profile.Description, profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		if grants.IsUniqueViolation(err) {
			return nil, fmt.Errorf("profile %q already exists: %w", name, ErrConflict)
		}
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{"profile_id": profile.ID, "name": name}).Info("profile created")
	return profile, nil
}

// GetProfile retrieves a profile by ID
func (s *Service) GetProfile(ctx context.Context, id string) (*Profile, error) {
	return s.getProfile(ctx, "id", id)
}

// GetProfileByName retrieves a profile by its unique name
func (s *Service) GetProfileByName(ctx context.Context, name string) (*Profile, error) {
	return s.getProfile(ctx, "name", name)
}

func (s *Service) getProfile(ctx context.Context, column, value string) (*Profile, error) {
	query := "SELECT id, name, description, created_at, updated_at FROM profiles WHERE " + column + " = $1"
	profile := &Profile{}
	var description sql.NullString
	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&profile.ID, &profile.Name, &description, &profile.CreatedAt, &profile.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("profile %s: %w", value, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	profile.Description = description.String
	return profile, nil
}

// ListProfiles returns all profiles ordered by name
func (s *Service) ListProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, description, created_at, updated_at FROM profiles ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		var p Profile
		var description sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		p.Description = description.String
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// UpdateProfile renames or re-describes a profile
func (s *Service) UpdateProfile(ctx context.Context, id, name, description string) error {
	if n := utf8.RuneCountInString(name); n < minNameLen || n > maxNameLen {
		return fmt.Errorf("profile name must be %d-%d characters", minNameLen, maxNameLen)
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM profiles WHERE name = $1 AND id != $2", name, id).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check profile name: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("profile %q already exists: %w", name, ErrConflict)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE profiles SET name = $1, description = $2, updated_at = $3 WHERE id = $4",
		name, description, s.clock(), id,
	)
	if err != nil {
		if grants.IsUniqueViolation(err) {
			return fmt.Errorf("profile %q already exists: %w", name, ErrConflict)
		}
		return fmt.Errorf("failed to update profile: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteProfile removes a profile, its permission set attachments, and its
// user assignments in one transaction. Permission sets themselves survive.
func (s *Service) DeleteProfile(ctx context.Context, id string) (*DeleteReport, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM profiles WHERE id = $1", id).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to check profile: %w", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}

	report := &DeleteReport{}

	res, err := tx.ExecContext(ctx, "DELETE FROM profile_permission_sets WHERE profile_id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("failed to remove set attachments: %w", err)
	}
	sets, _ := res.RowsAffected()
	report.SetsUnassigned = int(sets)

	res, err = tx.ExecContext(ctx, "DELETE FROM user_profiles WHERE profile_id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("failed to remove user assignments: %w", err)
	}
	users, _ := res.RowsAffected()
	report.UsersUnassigned = int(users)

	if _, err := tx.ExecContext(ctx, "DELETE FROM profiles WHERE id = $1", id); err != nil {
		return nil, fmt.Errorf("failed to delete profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delete: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"profile_id":       id,
		"sets_unassigned":  report.SetsUnassigned,
		"users_unassigned": report.UsersUnassigned,
	}).Info("profile deleted")
	return report, nil
}

// SetUserProfile assigns a profile to a user, replacing any previous
// assignment. A user holds at most one profile.
func (s *Service) SetUserProfile(ctx context.Context, userID, profileID string) error {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM profiles WHERE id = $1", profileID).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check profile: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("profile %s: %w", profileID, ErrNotFound)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM user_profiles WHERE user_id = $1", userID); err != nil {
		return fmt.Errorf("failed to clear previous profile: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO user_profiles (user_id, profile_id, assigned_at) VALUES ($1, $2, $3)",
		userID, profileID, s.clock(),
	); err != nil {
		return fmt.Errorf("failed to assign profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit assignment: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{"user_id": userID, "profile_id": profileID}).Info("user profile set")
	return nil
}

// ClearUserProfile removes a user's profile assignment. Clearing a user
// with no profile succeeds without effect.
func (s *Service) ClearUserProfile(ctx context.Context, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM user_profiles WHERE user_id = $1", userID)
	if err != nil {
		return false, fmt.Errorf("failed to clear profile: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check clear result: %w", err)
	}
	return affected > 0, nil
}

// GetUserProfile returns the profile currently assigned to a user
func (s *Service) GetUserProfile(ctx context.Context, userID string) (*Profile, error) {
	query := `
		SELECT p.id, p.name, p.description, p.created_at, p.updated_at
		FROM profiles p
		JOIN user_profiles up ON up.profile_id = p.id
		WHERE up.user_id = $1
	`
	profile := &Profile{}
	var description sql.NullString
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&profile.ID, &profile.Name, &description, &profile.CreatedAt, &profile.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s has no profile: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}
	profile.Description = description.String
	return profile, nil
}

// ListProfileUsers returns the users currently assigned to a profile
func (s *Service) ListProfileUsers(ctx context.Context, profileID string) ([]UserProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, profile_id, assigned_at FROM user_profiles WHERE profile_id = $1 ORDER BY user_id",
		profileID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list profile users: %w", err)
	}
	defer rows.Close()

	var assignments []UserProfile
	for rows.Next() {
		var up UserProfile
		if err := rows.Scan(&up.UserID, &up.ProfileID, &up.AssignedAt); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, up)
	}
	return assignments, rows.Err()
}
