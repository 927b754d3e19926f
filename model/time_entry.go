package model

import "time"

// TimeEntry is a time record as reported by one service. Services fill only
// the reference fields they know about.
type TimeEntry struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"projectId"`
	Text        string        `json:"text"`
	Start       time.Time     `json:"start"`
	End         time.Time     `json:"end"`
	Duration    time.Duration `json:"duration"`
	LastUpdated time.Time     `json:"lastUpdated"`

	Tags       []string `json:"tags,omitempty"`
	IssueID    string   `json:"issueId,omitempty"`
	ActivityID string   `json:"activityId,omitempty"`
}

// NewTimeEntry is the service independent payload of an entry to create.
type NewTimeEntry struct {
	Duration time.Duration
	Start    time.Time
	End      time.Time
	Text     string
}

// Payload returns the part of the entry that is copied to other services.
func (e TimeEntry) Payload() NewTimeEntry {
	return NewTimeEntry{
		Duration: e.Duration,
		Start:    e.Start,
		End:      e.End,
		Text:     e.Text,
	}
}

// ServiceTimeEntryObject is one member of a TimeEntrySyncedObject.
type ServiceTimeEntryObject struct {
	ID       string `json:"id" bson:"id"`
	Service  string `json:"service" bson:"service"`
	IsOrigin bool   `json:"isOrigin" bson:"isOrigin"`
}

// TimeEntrySyncedObject links one logical time entry across services.
type TimeEntrySyncedObject struct {
	ID                      string                   `json:"id" bson:"_id"`
	UserID                  string                   `json:"userId" bson:"userId"`
	LastUpdated             time.Time                `json:"lastUpdated" bson:"lastUpdated"`
	ServiceTimeEntryObjects []ServiceTimeEntryObject `json:"serviceTimeEntryObjects" bson:"serviceTimeEntryObjects"`
}

// Origin returns the member flagged as origin.
func (t TimeEntrySyncedObject) Origin() (ServiceTimeEntryObject, bool) {
	for _, member := range t.ServiceTimeEntryObjects {
		if member.IsOrigin {
			return member, true
		}
	}
	return ServiceTimeEntryObject{}, false
}

// MemberFor returns the member of the given service.
func (t TimeEntrySyncedObject) MemberFor(service string) (ServiceTimeEntryObject, bool) {
	for _, member := range t.ServiceTimeEntryObjects {
		if member.Service == service {
			return member, true
		}
	}
	return ServiceTimeEntryObject{}, false
}

// RemoveMember drops the member of the given service, if any.
func (t *TimeEntrySyncedObject) RemoveMember(service string) {
	kept := make([]ServiceTimeEntryObject, 0, len(t.ServiceTimeEntryObjects))
	for _, member := range t.ServiceTimeEntryObjects {
		if member.Service != service {
			kept = append(kept, member)
		}
	}
	t.ServiceTimeEntryObjects = kept
}

// Clone returns a deep copy.
func (t TimeEntrySyncedObject) Clone() TimeEntrySyncedObject {
	out := t
	out.ServiceTimeEntryObjects = append([]ServiceTimeEntryObject(nil), t.ServiceTimeEntryObjects...)
	return out
}
