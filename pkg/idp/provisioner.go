package idp

import (
	"context"
	"errors"
	"fmt"

	"github.com/accessdesk/accessdesk/pkg/grants"
	"github.com/accessdesk/accessdesk/pkg/observability"
	"github.com/accessdesk/accessdesk/pkg/profiles"
)

// ProfileProvisioner maps identity provider groups onto profiles at login
// time. The first group with a mapping wins; a user already holding the
// mapped profile is left untouched.
type ProfileProvisioner struct {
	profiles *profiles.Service
	resolver *grants.Resolver
	logger   *observability.Logger

	// groupToProfile maps an IdP group name to a profile name.
	groupToProfile map[string]string
}

// NewProfileProvisioner creates a provisioner with the given group-to-profile
// name mapping.
func NewProfileProvisioner(service *profiles.Service, resolver *grants.Resolver, mapping map[string]string, logger *observability.Logger) *ProfileProvisioner {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil).WithField("component", "idp")
	}
	return &ProfileProvisioner{
		profiles:       service,
		resolver:       resolver,
		logger:         logger,
		groupToProfile: mapping,
	}
}

// Provision applies the group mapping for a freshly authenticated user.
// Users whose groups match no mapping keep whatever profile they already
// have.
func (p *ProfileProvisioner) Provision(ctx context.Context, user *User) error {
	profileName := ""
	for _, group := range user.Groups {
		if name, ok := p.groupToProfile[group]; ok {
			profileName = name
			break
		}
	}
	if profileName == "" {
		return nil
	}

	profile, err := p.profiles.GetProfileByName(ctx, profileName)
	if err != nil {
		if errors.Is(err, profiles.ErrNotFound) {
			p.logger.WithFields(map[string]interface{}{
				"user_id": user.ID,
				"profile": profileName,
			}).Warn("mapped profile does not exist, skipping provisioning")
			return nil
		}
		return fmt.Errorf("failed to look up mapped profile: %w", err)
	}

	current, err := p.profiles.GetUserProfile(ctx, user.ID)
	if err == nil && current.ID == profile.ID {
		return nil
	}
	if err != nil && !errors.Is(err, profiles.ErrNotFound) {
		return fmt.Errorf("failed to check current profile: %w", err)
	}

	if err := p.profiles.SetUserProfile(ctx, user.ID, profile.ID); err != nil {
		return fmt.Errorf("failed to assign mapped profile: %w", err)
	}
	if p.resolver != nil {
		if err := p.resolver.RefreshUser(ctx, user.ID); err != nil {
			return fmt.Errorf("failed to refresh effective rights: %w", err)
		}
	}

	p.logger.WithFields(map[string]interface{}{
		"user_id": user.ID,
		"profile": profile.Name,
	}).Info("provisioned profile from group mapping")
	return nil
}
