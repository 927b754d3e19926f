package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"timer2ticket/model"
	"timer2ticket/synced"
)

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// fakeService keeps objects and entries in memory and records every write.
type fakeService struct {
	name    string
	objects []model.ServiceObject
	entries []model.TimeEntry
	calls   []string

	createErr      map[string]error
	deleteErr      map[string]error
	createEntryErr error

	nextID int
	clock  time.Time
}

func newFakeService(name string) *fakeService {
	return &fakeService{
		name:      name,
		createErr: map[string]error{},
		deleteErr: map[string]error{},
		clock:     baseTime.Add(time.Hour),
	}
}

func (s *fakeService) id() string {
	s.nextID++
	return fmt.Sprintf("%s-%d", s.name, s.nextID)
}

func (s *fakeService) tick() time.Time {
	s.clock = s.clock.Add(time.Minute)
	return s.clock
}

func (s *fakeService) writes() []string {
	return append([]string(nil), s.calls...)
}

func (s *fakeService) ListObjects(context.Context) ([]model.ServiceObject, error) {
	return append([]model.ServiceObject(nil), s.objects...), nil
}

func (s *fakeService) CreateObject(_ context.Context, objectID, name, objectType string) (model.ServiceObject, error) {
	s.calls = append(s.calls, "create:"+name)
	if err := s.createErr[name]; err != nil {
		return model.ServiceObject{}, err
	}
	object := model.ServiceObject{ID: s.id(), Name: s.FullName(model.ServiceObject{ID: objectID, Name: name, Type: objectType}), Type: objectType}
	s.objects = append(s.objects, object)
	return object, nil
}

func (s *fakeService) UpdateObject(_ context.Context, id string, object model.ServiceObject) (model.ServiceObject, error) {
	s.calls = append(s.calls, "update:"+id)
	for i := range s.objects {
		if s.objects[i].ID == id {
			s.objects[i].Name = s.FullName(object)
			return s.objects[i], nil
		}
	}
	return model.ServiceObject{}, &synced.StatusError{Method: "PUT", Path: id, StatusCode: 404}
}

func (s *fakeService) DeleteObject(_ context.Context, id, objectType string) error {
	s.calls = append(s.calls, "delete:"+id)
	if err := s.deleteErr[id]; err != nil {
		return err
	}
	s.objects = slices.DeleteFunc(s.objects, func(o model.ServiceObject) bool { return o.ID == id })
	return nil
}

func (s *fakeService) FullName(object model.ServiceObject) string {
	if object.Type == model.TypeIssue {
		return fmt.Sprintf("#%s %s", object.ID, object.Name)
	}
	return object.Name
}

func (s *fakeService) ListTimeEntries(context.Context, time.Time, time.Time) ([]model.TimeEntry, error) {
	return append([]model.TimeEntry(nil), s.entries...), nil
}

func (s *fakeService) CreateTimeEntry(_ context.Context, entry model.NewTimeEntry, refs []model.ServiceObject) (*model.TimeEntry, error) {
	s.calls = append(s.calls, "createEntry:"+entry.Text)
	if s.createEntryErr != nil {
		return nil, s.createEntryErr
	}
	var projectID string
	for _, ref := range refs {
		if ref.Type == model.TypeProject {
			projectID = ref.ID
		}
	}
	if projectID == "" {
		return nil, nil
	}
	created := model.TimeEntry{
		ID:          s.id(),
		ProjectID:   projectID,
		Text:        entry.Text,
		Start:       entry.Start,
		End:         entry.End,
		Duration:    entry.Duration,
		LastUpdated: s.tick(),
	}
	s.entries = append(s.entries, created)
	return &created, nil
}

func (s *fakeService) DeleteTimeEntry(_ context.Context, id string) error {
	s.calls = append(s.calls, "deleteEntry:"+id)
	if err := s.deleteErr[id]; err != nil {
		return err
	}
	s.entries = slices.DeleteFunc(s.entries, func(e model.TimeEntry) bool { return e.ID == id })
	return nil
}

func (s *fakeService) ExtractRefs(entry model.TimeEntry, mappings []model.Mapping) []model.MappingsObject {
	var out []model.MappingsObject
	for _, mapping := range mappings {
		object, _, ok := mapping.ObjectFor(s.name)
		if ok && object.Type == model.TypeProject && object.ID == entry.ProjectID {
			out = append(out, synced.OtherServiceObjects(mapping, s.name)...)
		}
	}
	return out
}

type fakeProvider map[string]*fakeService

func (p fakeProvider) Service(def model.ServiceDefinition) (synced.Service, error) {
	service, ok := p[def.Name]
	if !ok {
		return nil, fmt.Errorf("unknown service %s", def.Name)
	}
	return service, nil
}

// memoryRepo is an in-memory Repository.
type memoryRepo struct {
	mappings     map[string][]model.Mapping
	configDone   map[string]time.Time
	entriesDone  map[string]time.Time
	tesos        []model.TimeEntrySyncedObject
	jobLogs      []model.JobLog
	nextID       int
	replaceErr   error
	updateLogErr error
	deletedTESOs []string
	updatedTESOs []string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		mappings:    map[string][]model.Mapping{},
		configDone:  map[string]time.Time{},
		entriesDone: map[string]time.Time{},
	}
}

func (r *memoryRepo) ReplaceUserMappings(_ context.Context, userID string, mappings []model.Mapping) error {
	if r.replaceErr != nil {
		return r.replaceErr
	}
	r.mappings[userID] = model.CloneMappings(mappings)
	return nil
}

func (r *memoryRepo) SetConfigJobLastSuccessfullyDone(_ context.Context, userID string, at time.Time) error {
	r.configDone[userID] = at
	return nil
}

func (r *memoryRepo) SetTimeEntryJobLastSuccessfullyDone(_ context.Context, userID string, at time.Time) error {
	r.entriesDone[userID] = at
	return nil
}

func (r *memoryRepo) ListTimeEntrySyncedObjects(_ context.Context, userID string) ([]model.TimeEntrySyncedObject, error) {
	var out []model.TimeEntrySyncedObject
	for _, teso := range r.tesos {
		if teso.UserID == userID {
			out = append(out, teso.Clone())
		}
	}
	return out, nil
}

func (r *memoryRepo) CreateTimeEntrySyncedObject(_ context.Context, teso model.TimeEntrySyncedObject) (model.TimeEntrySyncedObject, error) {
	r.nextID++
	teso.ID = fmt.Sprintf("teso-%d", r.nextID)
	r.tesos = append(r.tesos, teso.Clone())
	return teso, nil
}

func (r *memoryRepo) UpdateTimeEntrySyncedObject(_ context.Context, teso model.TimeEntrySyncedObject) error {
	for i := range r.tesos {
		if r.tesos[i].ID == teso.ID {
			r.tesos[i] = teso.Clone()
			r.updatedTESOs = append(r.updatedTESOs, teso.ID)
			return nil
		}
	}
	return errors.New("teso not found")
}

func (r *memoryRepo) DeleteTimeEntrySyncedObject(_ context.Context, id string) error {
	r.tesos = slices.DeleteFunc(r.tesos, func(t model.TimeEntrySyncedObject) bool { return t.ID == id })
	r.deletedTESOs = append(r.deletedTESOs, id)
	return nil
}

func (r *memoryRepo) UpdateJobLog(_ context.Context, log model.JobLog) error {
	if r.updateLogErr != nil {
		return r.updateLogErr
	}
	r.jobLogs = append(r.jobLogs, log)
	return nil
}

func (r *memoryRepo) teso(id string) (model.TimeEntrySyncedObject, bool) {
	for _, teso := range r.tesos {
		if teso.ID == id {
			return teso, true
		}
	}
	return model.TimeEntrySyncedObject{}, false
}

func testUser(services ...string) model.User {
	user := model.User{
		ID:          "user-1",
		Username:    "alice",
		Registrated: baseTime.AddDate(0, 0, -1),
		Status:      model.UserStatusActive,
	}
	for i, name := range services {
		user.ServiceDefinitions = append(user.ServiceDefinitions, model.ServiceDefinition{
			Name:      name,
			APIKey:    "key-" + name,
			IsPrimary: i == 0,
		})
	}
	return user
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
