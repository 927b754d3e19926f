package synced

import (
	"context"
	"time"

	"timer2ticket/model"
)

// Service is the capability every external system exposes to the sync jobs.
//
// DeleteObject and DeleteTimeEntry return nil when the target is already gone.
// CreateTimeEntry returns a nil entry without error when the references do not
// allow the entry to be synced to this service.
type Service interface {
	ListObjects(ctx context.Context) ([]model.ServiceObject, error)
	CreateObject(ctx context.Context, objectID, name, objectType string) (model.ServiceObject, error)
	UpdateObject(ctx context.Context, id string, object model.ServiceObject) (model.ServiceObject, error)
	DeleteObject(ctx context.Context, id, objectType string) error
	FullName(object model.ServiceObject) string

	ListTimeEntries(ctx context.Context, from, to time.Time) ([]model.TimeEntry, error)
	CreateTimeEntry(ctx context.Context, entry model.NewTimeEntry, refs []model.ServiceObject) (*model.TimeEntry, error)
	DeleteTimeEntry(ctx context.Context, id string) error

	// ExtractRefs returns the objects of every other service that the entry
	// references through the user's mappings.
	ExtractRefs(entry model.TimeEntry, mappings []model.Mapping) []model.MappingsObject
}

// OtherServiceObjects returns all objects of the mapping that do not belong to service.
func OtherServiceObjects(mapping model.Mapping, service string) []model.MappingsObject {
	out := make([]model.MappingsObject, 0, len(mapping.MappingsObjects))
	for _, object := range mapping.MappingsObjects {
		if object.Service != service {
			out = append(out, object)
		}
	}
	return out
}
