package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"timer2ticket/internal/timeutil"
	"timer2ticket/model"
	"timer2ticket/synced"
)

var errNoCounterpart = errors.New("time entry was not created in any other service")

// TimeEntriesSync copies time entries between all services of a user and
// keeps the copies of one logical entry in agreement.
type TimeEntriesSync struct {
	services ServiceProvider
	repo     Repository
	log      *zap.Logger
	now      func() time.Time
}

func NewTimeEntriesSync(services ServiceProvider, repo Repository, log *zap.Logger) *TimeEntriesSync {
	if log == nil {
		log = zap.NewNop()
	}
	return &TimeEntriesSync{services: services, repo: repo, log: log, now: time.Now}
}

func (j *TimeEntriesSync) Kind() model.JobType {
	return model.JobTypeTimeEntries
}

type serviceEntries struct {
	def     model.ServiceDefinition
	service synced.Service
	entries []model.TimeEntry
}

func (s *serviceEntries) find(id string) (model.TimeEntry, bool) {
	for _, entry := range s.entries {
		if entry.ID == id {
			return entry, true
		}
	}
	return model.TimeEntry{}, false
}

// member is one ServiceTimeEntryObject resolved against the live entries.
// A nil entry means the entry is missing in its service.
type member struct {
	object model.ServiceTimeEntryObject
	source *serviceEntries
	entry  *model.TimeEntry
}

type trackedEntry struct {
	teso    model.TimeEntrySyncedObject
	members []*member
}

func (t *trackedEntry) origin() *member {
	for _, m := range t.members {
		if m.object.IsOrigin {
			return m
		}
	}
	return nil
}

func (t *trackedEntry) hasMember(service string) bool {
	for _, m := range t.members {
		if m.source.def.Name == service {
			return true
		}
	}
	return false
}

func (j *TimeEntriesSync) Run(ctx context.Context, user model.User) (Result, error) {
	log := j.log.With(zap.String("user_id", user.ID), zap.String("job", string(model.JobTypeTimeEntries)))

	now := j.now()
	from := timeutil.StartOfDay(user.Registrated)

	services := make([]*serviceEntries, 0, len(user.ServiceDefinitions))
	byName := make(map[string]*serviceEntries, len(user.ServiceDefinitions))
	for _, def := range user.ServiceDefinitions {
		service, err := j.services.Service(def)
		if err != nil {
			return Result{}, err
		}
		entries, err := service.ListTimeEntries(ctx, from, now)
		if err != nil {
			return Result{}, fmt.Errorf("list time entries of service %s: %w", def.Name, err)
		}
		current := &serviceEntries{def: def, service: service, entries: entries}
		services = append(services, current)
		byName[def.Name] = current
	}

	stored, err := j.repo.ListTimeEntrySyncedObjects(ctx, user.ID)
	if err != nil {
		return Result{}, fmt.Errorf("load time entry synced objects: %w", err)
	}

	matched := make(map[string]map[string]bool, len(services))
	tracked := make([]*trackedEntry, 0, len(stored))
	for _, teso := range stored {
		if teso.LastUpdated.Before(from) {
			continue
		}
		current := &trackedEntry{teso: teso.Clone()}
		for _, object := range current.teso.ServiceTimeEntryObjects {
			source, ok := byName[object.Service]
			if !ok {
				continue
			}
			m := &member{object: object, source: source}
			if entry, ok := source.find(object.ID); ok {
				m.entry = &entry
				if matched[object.Service] == nil {
					matched[object.Service] = make(map[string]bool)
				}
				matched[object.Service][object.ID] = true
			}
			current.members = append(current.members, m)
		}
		tracked = append(tracked, current)
	}

	failed := newFailures(log)
	created := 0
	for _, source := range services {
		for _, entry := range source.entries {
			if matched[source.def.Name][entry.ID] {
				continue
			}
			if j.syncNewEntry(ctx, user, source, entry, services, failed) {
				created++
			}
		}
	}

	for _, current := range tracked {
		j.checkTracked(ctx, user, current, services, failed)
	}

	if failed.ok() {
		if err := j.repo.SetTimeEntryJobLastSuccessfullyDone(ctx, user.ID, now); err != nil {
			failed.addPersist(err, "stamp time entries sync job")
		}
	}

	result := failed.result()
	log.Info("time entries sync pass done",
		zap.Int("tracked", len(tracked)),
		zap.Int("created", created),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// syncNewEntry copies an entry without synced object to every other service
// and stores the new synced object. It reports whether one was stored.
func (j *TimeEntriesSync) syncNewEntry(ctx context.Context, user model.User, source *serviceEntries, entry model.TimeEntry, services []*serviceEntries, failed *failures) bool {
	refs := source.service.ExtractRefs(entry, user.Mappings)
	if len(refs) == 0 {
		return false
	}

	fields := []zap.Field{zap.String("service", source.def.Name), zap.String("entry_id", entry.ID)}
	teso := model.TimeEntrySyncedObject{
		UserID:      user.ID,
		LastUpdated: entry.LastUpdated,
		ServiceTimeEntryObjects: []model.ServiceTimeEntryObject{
			{ID: entry.ID, Service: source.def.Name, IsOrigin: true},
		},
	}
	for _, target := range services {
		if target == source {
			continue
		}
		copied, err := createEntry(ctx, target, entry, refs)
		if err != nil {
			failed.add(err, "create time entry copy", append(fields, zap.String("target", target.def.Name))...)
			continue
		}
		if copied == nil {
			continue
		}
		teso.ServiceTimeEntryObjects = append(teso.ServiceTimeEntryObjects, model.ServiceTimeEntryObject{ID: copied.ID, Service: target.def.Name})
		teso.LastUpdated = copied.LastUpdated
	}

	if len(teso.ServiceTimeEntryObjects) <= 1 {
		failed.add(errNoCounterpart, "sync new time entry", fields...)
		return false
	}
	if _, err := j.repo.CreateTimeEntrySyncedObject(ctx, teso); err != nil {
		failed.addPersist(err, "store time entry synced object", fields...)
		return false
	}
	return true
}

func (j *TimeEntriesSync) checkTracked(ctx context.Context, user model.User, current *trackedEntry, services []*serviceEntries, failed *failures) {
	origin := current.origin()
	if origin == nil {
		return
	}
	fields := []zap.Field{zap.String("teso_id", current.teso.ID)}

	if origin.entry == nil {
		j.deleteCopies(ctx, current, origin, failed, fields)
		return
	}

	newest := origin
	for _, m := range current.members {
		if m.entry != nil && m.entry.LastUpdated.After(newest.entry.LastUpdated) {
			newest = m
		}
	}
	source := *newest.entry
	refs := newest.source.service.ExtractRefs(source, user.Mappings)

	if source.LastUpdated.After(current.teso.LastUpdated) {
		for _, m := range current.members {
			if m == newest || m.entry == nil {
				continue
			}
			if err := m.source.service.DeleteTimeEntry(ctx, m.object.ID); err != nil {
				failed.add(err, "delete stale time entry copy", append(fields, zap.String("service", m.source.def.Name), zap.String("entry_id", m.object.ID))...)
				continue
			}
			m.entry = nil
		}
	}

	changed := false
	for _, m := range current.members {
		if m.entry != nil {
			continue
		}
		copied, err := createEntry(ctx, m.source, source, refs)
		if err != nil {
			failed.add(err, "recreate time entry copy", append(fields, zap.String("service", m.source.def.Name))...)
			if m.object.IsOrigin {
				// The origin entry is gone, so the newest copy has to become the
				// origin or the next pass reads this as a deletion.
				setOrigin(&current.teso, newest.source.def.Name)
				m.object.IsOrigin = false
				newest.object.IsOrigin = true
				changed = true
			}
			continue
		}
		current.teso.RemoveMember(m.source.def.Name)
		changed = true
		if copied == nil {
			if m.object.IsOrigin {
				setOrigin(&current.teso, newest.source.def.Name)
			}
			continue
		}
		m.object = model.ServiceTimeEntryObject{ID: copied.ID, Service: m.source.def.Name, IsOrigin: m.object.IsOrigin}
		m.entry = copied
		current.teso.ServiceTimeEntryObjects = append(current.teso.ServiceTimeEntryObjects, m.object)
		current.teso.LastUpdated = copied.LastUpdated
	}

	for _, target := range services {
		if current.hasMember(target.def.Name) {
			continue
		}
		copied, err := createEntry(ctx, target, source, refs)
		if err != nil {
			failed.add(err, "create time entry copy for new service", append(fields, zap.String("service", target.def.Name))...)
			continue
		}
		if copied == nil {
			continue
		}
		object := model.ServiceTimeEntryObject{ID: copied.ID, Service: target.def.Name}
		current.members = append(current.members, &member{object: object, source: target, entry: copied})
		current.teso.ServiceTimeEntryObjects = append(current.teso.ServiceTimeEntryObjects, object)
		current.teso.LastUpdated = copied.LastUpdated
		changed = true
	}

	if !changed {
		return
	}
	if err := j.repo.UpdateTimeEntrySyncedObject(ctx, current.teso); err != nil {
		failed.addPersist(err, "update time entry synced object", fields...)
	}
}

// deleteCopies handles an entry deleted in its origin service. The synced
// object is removed only once every copy is gone.
func (j *TimeEntriesSync) deleteCopies(ctx context.Context, current *trackedEntry, origin *member, failed *failures, fields []zap.Field) {
	allDeleted := true
	for _, m := range current.members {
		if m == origin || m.entry == nil {
			continue
		}
		if err := m.source.service.DeleteTimeEntry(ctx, m.object.ID); err != nil {
			allDeleted = false
			failed.add(err, "delete time entry copy", append(fields, zap.String("service", m.source.def.Name), zap.String("entry_id", m.object.ID))...)
		}
	}
	if !allDeleted {
		return
	}
	if err := j.repo.DeleteTimeEntrySyncedObject(ctx, current.teso.ID); err != nil {
		failed.addPersist(err, "delete time entry synced object", fields...)
	}
}

func createEntry(ctx context.Context, target *serviceEntries, source model.TimeEntry, refs []model.MappingsObject) (*model.TimeEntry, error) {
	objects := make([]model.ServiceObject, 0, len(refs))
	for _, ref := range refs {
		if ref.Service == target.def.Name {
			objects = append(objects, ref.ServiceObject())
		}
	}
	return target.service.CreateTimeEntry(ctx, source.Payload(), objects)
}

func setOrigin(teso *model.TimeEntrySyncedObject, service string) {
	for i := range teso.ServiceTimeEntryObjects {
		teso.ServiceTimeEntryObjects[i].IsOrigin = teso.ServiceTimeEntryObjects[i].Service == service
	}
}
