package model

import "time"

const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)

// JobDefinition holds the schedule of one job kind for one user.
type JobDefinition struct {
	Schedule             string     `json:"schedule" bson:"schedule" mapstructure:"schedule"`
	LastSuccessfullyDone *time.Time `json:"lastSuccessfullyDone,omitempty" bson:"lastSuccessfullyDone,omitempty" mapstructure:"lastSuccessfullyDone"`
}

// ServiceConfig carries the per-service connection settings.
type ServiceConfig struct {
	WorkspaceID                string `json:"workspaceId,omitempty" bson:"workspaceId,omitempty" mapstructure:"workspaceId"`
	APIPoint                   string `json:"apiPoint,omitempty" bson:"apiPoint,omitempty" mapstructure:"apiPoint"`
	DefaultTimeEntryActivityID string `json:"defaultTimeEntryActivityId,omitempty" bson:"defaultTimeEntryActivityId,omitempty" mapstructure:"defaultTimeEntryActivityId"`
	UserID                     string `json:"userId,omitempty" bson:"userId,omitempty" mapstructure:"userId"`
}

// ServiceDefinition describes one external service of a user.
type ServiceDefinition struct {
	Name      string        `json:"name" bson:"name" mapstructure:"name" validate:"required"`
	APIKey    string        `json:"apiKey" bson:"apiKey" mapstructure:"apiKey" validate:"required"`
	IsPrimary bool          `json:"isPrimary" bson:"isPrimary" mapstructure:"isPrimary"`
	Config    ServiceConfig `json:"config" bson:"config" mapstructure:"config"`
}

// User is the aggregate the sync jobs operate on.
type User struct {
	ID                         string              `json:"id" bson:"_id" mapstructure:"id"`
	Username                   string              `json:"username" bson:"username" mapstructure:"username" validate:"required"`
	Registrated                time.Time           `json:"registrated" bson:"registrated" mapstructure:"registrated"`
	Status                     string              `json:"status" bson:"status" mapstructure:"status" validate:"omitempty,oneof=active inactive"`
	ConfigSyncJobDefinition    JobDefinition       `json:"configSyncJobDefinition" bson:"configSyncJobDefinition" mapstructure:"configSyncJobDefinition"`
	TimeEntrySyncJobDefinition JobDefinition       `json:"timeEntrySyncJobDefinition" bson:"timeEntrySyncJobDefinition" mapstructure:"timeEntrySyncJobDefinition"`
	ServiceDefinitions         []ServiceDefinition `json:"serviceDefinitions" bson:"serviceDefinitions" mapstructure:"serviceDefinitions" validate:"min=2,dive"`
	Mappings                   []Mapping           `json:"mappings" bson:"mappings" mapstructure:"mappings"`
}

// PrimaryServiceDefinition returns the service definition marked as primary.
func (u User) PrimaryServiceDefinition() (ServiceDefinition, bool) {
	for _, def := range u.ServiceDefinitions {
		if def.IsPrimary {
			return def, true
		}
	}
	return ServiceDefinition{}, false
}

// SecondaryServiceDefinitions returns every non-primary service definition in order.
func (u User) SecondaryServiceDefinitions() []ServiceDefinition {
	out := make([]ServiceDefinition, 0, len(u.ServiceDefinitions))
	for _, def := range u.ServiceDefinitions {
		if !def.IsPrimary {
			out = append(out, def)
		}
	}
	return out
}

// ServiceDefinition returns the definition registered under name.
func (u User) ServiceDefinition(name string) (ServiceDefinition, bool) {
	for _, def := range u.ServiceDefinitions {
		if def.Name == name {
			return def, true
		}
	}
	return ServiceDefinition{}, false
}

// ConfigSyncedOnce reports whether a config sync job ever completed successfully.
func (u User) ConfigSyncedOnce() bool {
	return u.ConfigSyncJobDefinition.LastSuccessfullyDone != nil
}
