package config

import (
	"context"
	"fmt"

	"github.com/synaxhq/synax/internal/loggy"
	"github.com/synaxhq/synax/internal/utils"
)

// SettingsService wraps the settings repository with the typed accessors the
// rest of the agent needs: the credential slot and the device name.
type SettingsService struct {
	repo   SettingsRepository
	logger *loggy.Logger
}

// NewSettingsService creates a new settings service
func NewSettingsService(repo SettingsRepository, logger *loggy.Logger) *SettingsService {
	return &SettingsService{
		repo:   repo,
		logger: logger,
	}
}

// Token reads the bearer token from the credential slot. "" means logged out.
func (s *SettingsService) Token(ctx context.Context) (string, error) {
	return s.repo.GetSetting(ctx, KeyAuthToken)
}

// SetToken stores the bearer token, and optionally the user it belongs to
func (s *SettingsService) SetToken(ctx context.Context, token, user string) error {
	if token == "" {
		return fmt.Errorf("token cannot be empty")
	}
	if err := s.repo.SetSetting(ctx, KeyAuthToken, token); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	if user != "" {
		if err := s.repo.SetSetting(ctx, KeyAuthUser, user); err != nil {
			return fmt.Errorf("saving user: %w", err)
		}
	}
	return nil
}

// ClearToken empties the credential slot
func (s *SettingsService) ClearToken(ctx context.Context) error {
	if err := s.repo.DeleteSetting(ctx, KeyAuthToken); err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}
	if err := s.repo.DeleteSetting(ctx, KeyAuthUser); err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return nil
}

// User returns the stored login name, if any
func (s *SettingsService) User(ctx context.Context) (string, error) {
	return s.repo.GetSetting(ctx, KeyAuthUser)
}

// DeviceName returns the persisted device name, generating and saving one on first use
func (s *SettingsService) DeviceName(ctx context.Context) (string, error) {
	name, err := s.repo.GetSetting(ctx, KeyDeviceName)
	if err != nil {
		return "", err
	}
	if name != "" {
		return name, nil
	}

	name = utils.GenerateDeviceName()
	if err := s.repo.SetSetting(ctx, KeyDeviceName, name); err != nil {
		return "", fmt.Errorf("saving device name: %w", err)
	}
	s.logger.Info("Generated device name", "device", name)
	return name, nil
}

// SetDeviceName overrides the device name
func (s *SettingsService) SetDeviceName(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("device name cannot be empty")
	}
	return s.repo.SetSetting(ctx, KeyDeviceName, name)
}
