package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeUserDocument(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write user document: %v", err)
	}
	return path
}

func TestLoadUserDocument_YAML(t *testing.T) {
	t.Parallel()

	path := writeUserDocument(t, "user.yaml", `username: "alice"
registrated: "2026-03-01T08:00:00Z"
status: "active"
configSyncJobDefinition:
  schedule: "*/10 * * * *"
timeEntrySyncJobDefinition:
  schedule: "*/5 * * * *"
serviceDefinitions:
  - name: "Redmine"
    apiKey: "redmine-key"
    isPrimary: true
    config:
      apiPoint: "https://redmine.example/"
      defaultTimeEntryActivityId: "9"
      userId: "3"
  - name: "TogglTrack"
    apiKey: "toggl-key"
    config:
      workspaceId: "42"
`)

	user, err := LoadUserDocument(path)
	if err != nil {
		t.Fatalf("load user document: %v", err)
	}
	if user.Username != "alice" {
		t.Fatalf("unexpected username: %q", user.Username)
	}
	if !user.Registrated.Equal(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected registrated: %s", user.Registrated)
	}
	if len(user.ServiceDefinitions) != 2 {
		t.Fatalf("expected 2 service definitions, got %d", len(user.ServiceDefinitions))
	}
	primary, ok := user.PrimaryServiceDefinition()
	if !ok || primary.Name != "Redmine" || primary.Config.DefaultTimeEntryActivityID != "9" {
		t.Fatalf("unexpected primary: %+v", primary)
	}
	if user.TimeEntrySyncJobDefinition.Schedule != "*/5 * * * *" {
		t.Fatalf("unexpected schedule: %q", user.TimeEntrySyncJobDefinition.Schedule)
	}
}

func TestLoadUserDocument_JSON(t *testing.T) {
	t.Parallel()

	path := writeUserDocument(t, "user.json", `{
  "username": "bob",
  "serviceDefinitions": [
    {"name": "TogglTrack", "apiKey": "t", "isPrimary": true, "config": {"workspaceId": "1"}},
    {"name": "Redmine", "apiKey": "r", "config": {"apiPoint": "https://redmine.example/"}}
  ]
}`)

	user, err := LoadUserDocument(path)
	if err != nil {
		t.Fatalf("load user document: %v", err)
	}
	if user.ServiceDefinitions[1].Config.APIPoint != "https://redmine.example/" {
		t.Fatalf("unexpected service definitions: %+v", user.ServiceDefinitions)
	}
}

func TestLoadUserDocument_RejectsInvalidDocuments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name: "two primaries",
			content: `username: "a"
serviceDefinitions:
  - {name: "TogglTrack", apiKey: "t", isPrimary: true, config: {workspaceId: "1"}}
  - {name: "Redmine", apiKey: "r", isPrimary: true, config: {apiPoint: "https://r/"}}
`,
			want: "exactly one primary",
		},
		{
			name: "single service",
			content: `username: "a"
serviceDefinitions:
  - {name: "TogglTrack", apiKey: "t", isPrimary: true, config: {workspaceId: "1"}}
`,
			want: "ServiceDefinitions",
		},
		{
			name: "redmine without api point",
			content: `username: "a"
serviceDefinitions:
  - {name: "TogglTrack", apiKey: "t", isPrimary: true, config: {workspaceId: "1"}}
  - {name: "Redmine", apiKey: "r"}
`,
			want: "apiPoint",
		},
		{
			name: "missing api key",
			content: `username: "a"
serviceDefinitions:
  - {name: "TogglTrack", isPrimary: true, config: {workspaceId: "1"}}
  - {name: "Redmine", apiKey: "r", config: {apiPoint: "https://r/"}}
`,
			want: "APIKey",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := LoadUserDocument(writeUserDocument(t, "user.yaml", tc.content))
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
