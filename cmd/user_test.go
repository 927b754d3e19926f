package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"timer2ticket/model"
	"timer2ticket/synced"
)

func TestValidateSchedules(t *testing.T) {
	user := model.User{
		ConfigSyncJobDefinition:    model.JobDefinition{Schedule: "*/10 * * * *"},
		TimeEntrySyncJobDefinition: model.JobDefinition{Schedule: "@every 5m"},
	}
	if err := validateSchedules(user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	user.TimeEntrySyncJobDefinition.Schedule = "every five minutes"
	err := validateSchedules(user)
	if err == nil || !strings.Contains(err.Error(), "timeEntrySyncJobDefinition.schedule") {
		t.Fatalf("expected invalid schedule error, got %v", err)
	}

	user.ConfigSyncJobDefinition.Schedule = ""
	if err := validateSchedules(user); err == nil {
		t.Fatalf("expected error for empty schedule")
	}
}

func TestPrintUsers(t *testing.T) {
	done := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	users := []model.User{
		{
			ID:       "u1",
			Username: "alice",
			Status:   model.UserStatusActive,
			ServiceDefinitions: []model.ServiceDefinition{
				{Name: "TogglTrack"},
				{Name: "Redmine", IsPrimary: true},
			},
			ConfigSyncJobDefinition: model.JobDefinition{LastSuccessfullyDone: &done},
		},
		{ID: "u2", Username: "bob", Status: model.UserStatusInactive},
	}

	var out bytes.Buffer
	if err := printUsers(&out, users); err != nil {
		t.Fatalf("print users: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got:\n%s", out.String())
	}
	if !strings.Contains(lines[1], "Redmine") || !strings.Contains(lines[1], "never") {
		t.Fatalf("unexpected row for alice: %q", lines[1])
	}
	if !strings.Contains(lines[2], "inactive") || !strings.Contains(lines[2], "-") {
		t.Fatalf("unexpected row for bob: %q", lines[2])
	}
}

func TestFallbackServices(t *testing.T) {
	user := model.User{
		ServiceDefinitions: []model.ServiceDefinition{
			{Name: "Redmine", IsPrimary: true},
			{Name: "TogglTrack"},
			{Name: "Jira"},
		},
	}

	got := fallbackServices(user, synced.RegisteredServices())
	if len(got) != 1 || got[0] != "Jira" {
		t.Fatalf("expected only Jira to fall back, got %v", got)
	}
	if got := fallbackServices(user, []string{"Jira", "Redmine", "TogglTrack"}); len(got) != 0 {
		t.Fatalf("expected no fallback, got %v", got)
	}
}
