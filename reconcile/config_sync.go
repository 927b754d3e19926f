package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"timer2ticket/model"
	"timer2ticket/synced"
)

// ConfigSync mirrors the primary service's structural objects into every
// secondary service and keeps the user's mappings in line with them.
type ConfigSync struct {
	services ServiceProvider
	repo     Repository
	log      *zap.Logger
	now      func() time.Time
}

func NewConfigSync(services ServiceProvider, repo Repository, log *zap.Logger) *ConfigSync {
	if log == nil {
		log = zap.NewNop()
	}
	return &ConfigSync{services: services, repo: repo, log: log, now: time.Now}
}

func (j *ConfigSync) Kind() model.JobType {
	return model.JobTypeConfig
}

type secondary struct {
	def     model.ServiceDefinition
	service synced.Service
	objects []model.ServiceObject
}

func (j *ConfigSync) Run(ctx context.Context, user model.User) (Result, error) {
	primaryDef, ok := user.PrimaryServiceDefinition()
	if !ok {
		return Result{}, ErrNoPrimaryService
	}
	log := j.log.With(zap.String("user_id", user.ID), zap.String("job", string(model.JobTypeConfig)))

	primary, err := j.services.Service(primaryDef)
	if err != nil {
		return Result{}, err
	}
	objects, err := primary.ListObjects(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list objects of primary service %s: %w", primaryDef.Name, err)
	}

	secondaries := make([]secondary, 0, len(user.ServiceDefinitions))
	for _, def := range user.SecondaryServiceDefinitions() {
		service, err := j.services.Service(def)
		if err != nil {
			return Result{}, err
		}
		serviceObjects, err := service.ListObjects(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("list objects of service %s: %w", def.Name, err)
		}
		secondaries = append(secondaries, secondary{def: def, service: service, objects: serviceObjects})
	}

	now := j.now()
	failed := newFailures(log)

	mappings := model.CloneMappings(user.Mappings)
	checked := make([]bool, len(mappings))

	for _, object := range objects {
		idx, found := model.FindMapping(mappings, primaryDef.Name, object)
		if !found {
			mappings = append(mappings, j.createMapping(ctx, primaryDef.Name, object, secondaries, now, failed))
			checked = append(checked, true)
			continue
		}
		checked[idx] = true
		j.checkMapping(ctx, &mappings[idx], primaryDef.Name, object, secondaries, now, failed)
	}

	kept := make([]model.Mapping, 0, len(mappings))
	for i, mapping := range mappings {
		if checked[i] {
			kept = append(kept, mapping)
			continue
		}
		j.deleteMapping(ctx, mapping, secondaries, failed)
	}

	if err := j.repo.ReplaceUserMappings(ctx, user.ID, kept); err != nil {
		failed.addPersist(err, "persist mappings")
	}
	if failed.ok() {
		if err := j.repo.SetConfigJobLastSuccessfullyDone(ctx, user.ID, now); err != nil {
			failed.addPersist(err, "stamp config sync job")
		}
	}

	result := failed.result()
	log.Info("config sync pass done",
		zap.Int("objects", len(objects)),
		zap.Int("mappings", len(kept)),
		zap.Int("obsolete", len(mappings)-len(kept)),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

// createMapping builds the mapping of a primary object that has none yet.
// Objects that could not be created are left out so a later pass adds them.
func (j *ConfigSync) createMapping(ctx context.Context, primaryName string, object model.ServiceObject, secondaries []secondary, now time.Time, failed *failures) model.Mapping {
	mapping := model.Mapping{
		PrimaryObjectID:   object.ID,
		PrimaryObjectType: object.Type,
		Name:              object.Name,
		MappingsObjects: []model.MappingsObject{
			{ID: object.ID, Name: object.Name, Service: primaryName, Type: object.Type, LastUpdated: now},
		},
	}

	for _, sec := range secondaries {
		created, err := createObject(ctx, sec, object)
		if err != nil {
			failed.add(err, "create object", zap.String("service", sec.def.Name), zap.String("object_id", object.ID))
			continue
		}
		mapping.MappingsObjects = append(mapping.MappingsObjects, mappingsObject(created, sec.def.Name, now))
	}
	return mapping
}

func (j *ConfigSync) checkMapping(ctx context.Context, mapping *model.Mapping, primaryName string, object model.ServiceObject, secondaries []secondary, now time.Time, failed *failures) {
	mapping.Name = object.Name
	if mapping.PrimaryObjectType == "" {
		mapping.PrimaryObjectType = object.Type
	}
	if _, i, ok := mapping.ObjectFor(primaryName); ok {
		mapping.MappingsObjects[i].Name = object.Name
	}

	for _, sec := range secondaries {
		fields := []zap.Field{zap.String("service", sec.def.Name), zap.String("object_id", object.ID)}

		existing, i, ok := mapping.ObjectFor(sec.def.Name)
		if !ok {
			created, err := createObject(ctx, sec, object)
			if err != nil {
				failed.add(err, "create missing mapped object", fields...)
				continue
			}
			mapping.MappingsObjects = append(mapping.MappingsObjects, mappingsObject(created, sec.def.Name, now))
			continue
		}

		live, found := findObject(sec.objects, existing.ID, existing.Type)
		switch {
		case !found:
			created, err := createObject(ctx, sec, object)
			if err != nil {
				failed.add(err, "recreate mapped object", fields...)
				continue
			}
			mapping.MappingsObjects[i] = mappingsObject(created, sec.def.Name, now)
		case live.Name != sec.service.FullName(object):
			updated, err := sec.service.UpdateObject(ctx, existing.ID, object)
			if err != nil {
				failed.add(err, "update mapped object", fields...)
				continue
			}
			mapping.MappingsObjects[i].Name = updated.Name
			mapping.MappingsObjects[i].LastUpdated = now
		}
	}
}

// deleteMapping removes the secondary objects of a mapping whose primary
// object is gone. Objects that are already missing count as deleted.
func (j *ConfigSync) deleteMapping(ctx context.Context, mapping model.Mapping, secondaries []secondary, failed *failures) {
	for _, object := range mapping.MappingsObjects {
		sec, ok := findSecondary(secondaries, object.Service)
		if !ok {
			continue
		}
		if err := sec.service.DeleteObject(ctx, object.ID, object.Type); err != nil && !synced.IsNotFound(err) {
			failed.add(err, "delete obsolete object",
				zap.String("service", sec.def.Name),
				zap.String("object_id", object.ID),
				zap.String("mapping", mapping.PrimaryObjectID),
			)
		}
	}
}

// createObject creates object in the secondary service. A 400 answer may mean
// the object already exists, so an existing object with the expected full name
// is adopted instead.
func createObject(ctx context.Context, sec secondary, object model.ServiceObject) (model.ServiceObject, error) {
	created, err := sec.service.CreateObject(ctx, object.ID, object.Name, object.Type)
	if err == nil {
		return created, nil
	}
	if !synced.IsMaybeExists(err) {
		return model.ServiceObject{}, err
	}

	fullName := sec.service.FullName(object)
	for _, candidate := range sec.objects {
		if candidate.Name == fullName && adoptable(object.Type, candidate.Type) {
			return candidate, nil
		}
	}
	return model.ServiceObject{}, err
}

// adoptable reports whether an existing object of candidateType can stand in
// for a primary object of objectType. Services without the primary type keep
// non-project objects as tags.
func adoptable(objectType, candidateType string) bool {
	if candidateType == objectType {
		return true
	}
	return objectType != model.TypeProject && candidateType == model.TypeTag
}

func findObject(objects []model.ServiceObject, id, objectType string) (model.ServiceObject, bool) {
	for _, object := range objects {
		if object.ID == id && object.Type == objectType {
			return object, true
		}
	}
	return model.ServiceObject{}, false
}

func findSecondary(secondaries []secondary, name string) (secondary, bool) {
	for _, sec := range secondaries {
		if sec.def.Name == name {
			return sec, true
		}
	}
	return secondary{}, false
}

func mappingsObject(object model.ServiceObject, service string, now time.Time) model.MappingsObject {
	return model.MappingsObject{
		ID:          object.ID,
		Name:        object.Name,
		Service:     service,
		Type:        object.Type,
		LastUpdated: now,
	}
}
