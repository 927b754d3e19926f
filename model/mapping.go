package model

import "time"

// Well-known structural object types.
const (
	TypeProject  = "project"
	TypeIssue    = "issue"
	TypeTag      = "tag"
	TypeActivity = "activity"
)

// ServiceObject is one structural entity as seen inside one external service.
type ServiceObject struct {
	ID   string `json:"id" bson:"id" mapstructure:"id"`
	Name string `json:"name" bson:"name" mapstructure:"name"`
	Type string `json:"type" bson:"type" mapstructure:"type"`
}

// MappingsObject is the representation of a mapped object in one service.
type MappingsObject struct {
	ID          string    `json:"id" bson:"id" mapstructure:"id"`
	Name        string    `json:"name" bson:"name" mapstructure:"name"`
	Service     string    `json:"service" bson:"service" mapstructure:"service"`
	Type        string    `json:"type" bson:"type" mapstructure:"type"`
	LastUpdated time.Time `json:"lastUpdated" bson:"lastUpdated" mapstructure:"lastUpdated"`
}

// ServiceObject strips the service bookkeeping from the mapped object.
func (o MappingsObject) ServiceObject() ServiceObject {
	return ServiceObject{ID: o.ID, Name: o.Name, Type: o.Type}
}

// Mapping links one primary structural object to its per-service counterparts.
// PrimaryObjectType is empty on records written before it was introduced.
type Mapping struct {
	PrimaryObjectID   string           `json:"primaryObjectId" bson:"primaryObjectId" mapstructure:"primaryObjectId"`
	PrimaryObjectType string           `json:"primaryObjectType,omitempty" bson:"primaryObjectType,omitempty" mapstructure:"primaryObjectType"`
	Name              string           `json:"name" bson:"name" mapstructure:"name"`
	MappingsObjects   []MappingsObject `json:"mappingsObjects" bson:"mappingsObjects" mapstructure:"mappingsObjects"`
}

// ObjectFor returns the mapped object of the given service and its index.
func (m Mapping) ObjectFor(service string) (MappingsObject, int, bool) {
	for i, object := range m.MappingsObjects {
		if object.Service == service {
			return object, i, true
		}
	}
	return MappingsObject{}, -1, false
}

// Clone returns a deep copy so callers can mutate it without aliasing the source.
func (m Mapping) Clone() Mapping {
	out := m
	out.MappingsObjects = append([]MappingsObject(nil), m.MappingsObjects...)
	return out
}

// CloneMappings deep copies a slice of mappings.
func CloneMappings(mappings []Mapping) []Mapping {
	out := make([]Mapping, 0, len(mappings))
	for _, mapping := range mappings {
		out = append(out, mapping.Clone())
	}
	return out
}

// FindMapping locates the mapping of a primary object. Typed records are
// matched on (id, type); legacy records without a primary type are matched
// through the type of the primary service's mapped object.
func FindMapping(mappings []Mapping, primaryService string, object ServiceObject) (int, bool) {
	for i, mapping := range mappings {
		if mapping.PrimaryObjectID != object.ID {
			continue
		}
		var matched bool
		if mapping.PrimaryObjectType != "" {
			matched = matchTyped(mapping, object)
		} else {
			matched = matchLegacy(mapping, primaryService, object)
		}
		if matched {
			return i, true
		}
	}
	return -1, false
}

func matchTyped(mapping Mapping, object ServiceObject) bool {
	return mapping.PrimaryObjectType == object.Type
}

func matchLegacy(mapping Mapping, primaryService string, object ServiceObject) bool {
	primary, _, ok := mapping.ObjectFor(primaryService)
	return ok && primary.Type == object.Type
}
