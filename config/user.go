package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"timer2ticket/model"
)

// LoadUserDocument reads a YAML or JSON user document and validates it.
func LoadUserDocument(path string) (model.User, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return model.User{}, fmt.Errorf("read user document %s: %w", path, err)
	}

	var user model.User
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeHookFunc(time.RFC3339),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&user, hook); err != nil {
		return model.User{}, fmt.Errorf("decode user document %s: %w", path, err)
	}
	if err := ValidateUser(user); err != nil {
		return model.User{}, err
	}
	return user, nil
}

// ValidateUser checks the structural rules of a user document.
func ValidateUser(user model.User) error {
	if err := validator.New().Struct(user); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	primaries := 0
	seen := make(map[string]struct{}, len(user.ServiceDefinitions))
	for i, def := range user.ServiceDefinitions {
		name := strings.TrimSpace(def.Name)
		if _, exists := seen[name]; exists {
			return fmt.Errorf("validation failed: duplicate service definition %q", name)
		}
		seen[name] = struct{}{}
		if def.IsPrimary {
			primaries++
		}
		if name == "Redmine" && strings.TrimSpace(def.Config.APIPoint) == "" {
			return fmt.Errorf("validation failed: serviceDefinitions[%d] Redmine requires config.apiPoint", i)
		}
		if name == "TogglTrack" && strings.TrimSpace(def.Config.WorkspaceID) == "" {
			return fmt.Errorf("validation failed: serviceDefinitions[%d] TogglTrack requires config.workspaceId", i)
		}
	}
	if primaries != 1 {
		return fmt.Errorf("validation failed: exactly one primary service definition is required, got %d", primaries)
	}
	return nil
}
