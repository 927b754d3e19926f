package toggl

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"timer2ticket/model"
	"timer2ticket/synced"
)

// ServiceName is the service definition name handled by this package.
const ServiceName = "TogglTrack"

const (
	defaultBaseURL = "https://api.track.toggl.com"
	createdWith    = "timer2ticket"
)

func init() {
	synced.Register(ServiceName, func(def model.ServiceDefinition, opts synced.Options) (synced.Service, error) {
		return New(def, opts)
	})
}

// Service implements synced.Service against the Toggl Track API v9.
// Structural objects are workspace projects and tags.
type Service struct {
	name        string
	workspaceID int64
	client      *synced.JSONClient
	log         *zap.Logger
}

func New(def model.ServiceDefinition, opts synced.Options) (*Service, error) {
	if strings.TrimSpace(def.APIKey) == "" {
		return nil, errors.New("toggl: api key is required")
	}
	workspaceID, err := strconv.ParseInt(strings.TrimSpace(def.Config.WorkspaceID), 10, 64)
	if err != nil || workspaceID <= 0 {
		return nil, fmt.Errorf("toggl: invalid workspace id %q", def.Config.WorkspaceID)
	}

	baseURL := def.Config.APIPoint
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}

	auth := base64.StdEncoding.EncodeToString([]byte(def.APIKey + ":api_token"))
	client, err := synced.NewJSONClient(baseURL, http.Header{"Authorization": []string{"Basic " + auth}}, opts.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("toggl: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	name := def.Name
	if name == "" {
		name = ServiceName
	}
	return &Service{name: name, workspaceID: workspaceID, client: client, log: log}, nil
}

type rawObject struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type rawTimeEntry struct {
	ID          int64      `json:"id"`
	WorkspaceID int64      `json:"workspace_id"`
	ProjectID   *int64     `json:"project_id"`
	Description string     `json:"description"`
	Start       time.Time  `json:"start"`
	Stop        *time.Time `json:"stop"`
	Duration    int64      `json:"duration"`
	Tags        []string   `json:"tags"`
	At          time.Time  `json:"at"`
}

type createTimeEntryRequest struct {
	CreatedWith string   `json:"created_with"`
	Description string   `json:"description"`
	Duration    int64    `json:"duration"`
	Start       string   `json:"start"`
	Stop        string   `json:"stop"`
	ProjectID   int64    `json:"project_id"`
	Tags        []string `json:"tags"`
	WorkspaceID int64    `json:"workspace_id"`
	Duronly     bool     `json:"duronly"`
}

func (s *Service) workspacePath(format string, args ...any) string {
	return fmt.Sprintf("/api/v9/workspaces/%d", s.workspaceID) + fmt.Sprintf(format, args...)
}

func (s *Service) ListObjects(ctx context.Context) ([]model.ServiceObject, error) {
	projects, err := s.listObjects(ctx, "/projects", model.TypeProject)
	if err != nil {
		return nil, err
	}
	tags, err := s.listObjects(ctx, "/tags", model.TypeTag)
	if err != nil {
		return nil, err
	}
	return append(projects, tags...), nil
}

func (s *Service) listObjects(ctx context.Context, path, objectType string) ([]model.ServiceObject, error) {
	var raw []rawObject
	if err := s.client.Do(ctx, http.MethodGet, s.workspacePath("%s", path), nil, nil, &raw); err != nil {
		return nil, fmt.Errorf("list toggl %ss: %w", objectType, err)
	}
	out := make([]model.ServiceObject, 0, len(raw))
	for _, object := range raw {
		out = append(out, model.ServiceObject{ID: formatID(object.ID), Name: object.Name, Type: objectType})
	}
	return out, nil
}

// CreateObject creates a project for project objects and a tag named by the
// full name for every other object type.
func (s *Service) CreateObject(ctx context.Context, objectID, name, objectType string) (model.ServiceObject, error) {
	if objectType == model.TypeProject {
		return s.writeObject(ctx, http.MethodPost, s.workspacePath("/projects"), name, model.TypeProject)
	}
	fullName := s.FullName(model.ServiceObject{ID: objectID, Name: name, Type: objectType})
	return s.writeObject(ctx, http.MethodPost, s.workspacePath("/tags"), fullName, model.TypeTag)
}

func (s *Service) UpdateObject(ctx context.Context, id string, object model.ServiceObject) (model.ServiceObject, error) {
	if object.Type == model.TypeProject {
		return s.writeObject(ctx, http.MethodPut, s.workspacePath("/projects/%s", url.PathEscape(id)), s.FullName(object), model.TypeProject)
	}
	return s.writeObject(ctx, http.MethodPut, s.workspacePath("/tags/%s", url.PathEscape(id)), s.FullName(object), model.TypeTag)
}

func (s *Service) writeObject(ctx context.Context, method, path, name, objectType string) (model.ServiceObject, error) {
	body := map[string]any{"name": name}
	if objectType == model.TypeProject && method == http.MethodPost {
		body["active"] = true
	}

	var raw rawObject
	if err := s.client.Do(ctx, method, path, nil, body, &raw); err != nil {
		return model.ServiceObject{}, fmt.Errorf("write toggl %s %q: %w", objectType, name, err)
	}
	return model.ServiceObject{ID: formatID(raw.ID), Name: raw.Name, Type: objectType}, nil
}

func (s *Service) DeleteObject(ctx context.Context, id, objectType string) error {
	path := s.workspacePath("/tags/%s", url.PathEscape(id))
	if objectType == model.TypeProject {
		path = s.workspacePath("/projects/%s", url.PathEscape(id))
	}
	if err := s.client.Do(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
		if synced.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete toggl %s %s: %w", objectType, id, err)
	}
	return nil
}

// FullName renders how an object of another service is named inside Toggl.
func (s *Service) FullName(object model.ServiceObject) string {
	switch object.Type {
	case model.TypeProject, model.TypeTag:
		return object.Name
	case model.TypeIssue:
		return fmt.Sprintf("#%s %s (%s)", object.ID, object.Name, object.Type)
	default:
		return fmt.Sprintf("%s (%s)", object.Name, object.Type)
	}
}

func (s *Service) ListTimeEntries(ctx context.Context, from, to time.Time) ([]model.TimeEntry, error) {
	query := url.Values{}
	query.Set("start_date", from.UTC().Format(time.RFC3339))
	query.Set("end_date", to.UTC().Format(time.RFC3339))

	var raw []rawTimeEntry
	if err := s.client.Do(ctx, http.MethodGet, "/api/v9/me/time_entries", query, nil, &raw); err != nil {
		return nil, fmt.Errorf("list toggl time entries: %w", err)
	}

	out := make([]model.TimeEntry, 0, len(raw))
	for _, entry := range raw {
		if entry.Duration < 0 || entry.Stop == nil {
			// still running
			continue
		}
		if entry.WorkspaceID != 0 && entry.WorkspaceID != s.workspaceID {
			continue
		}
		out = append(out, entry.toModel())
	}
	return out, nil
}

// CreateTimeEntry requires a project reference; issue and activity references
// become tags named after them.
func (s *Service) CreateTimeEntry(ctx context.Context, entry model.NewTimeEntry, refs []model.ServiceObject) (*model.TimeEntry, error) {
	var projectID string
	tags := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.Type == model.TypeProject {
			projectID = ref.ID
			continue
		}
		tags = append(tags, ref.Name)
	}
	if projectID == "" {
		return nil, nil
	}
	project, err := strconv.ParseInt(projectID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("toggl project id %q: %w", projectID, err)
	}

	request := createTimeEntryRequest{
		CreatedWith: createdWith,
		Description: entry.Text,
		Duration:    int64(entry.Duration / time.Second),
		Start:       entry.Start.UTC().Format(time.RFC3339),
		Stop:        entry.End.UTC().Format(time.RFC3339),
		ProjectID:   project,
		Tags:        tags,
		WorkspaceID: s.workspaceID,
		Duronly:     true,
	}

	var raw rawTimeEntry
	if err := s.client.Do(ctx, http.MethodPost, s.workspacePath("/time_entries"), nil, request, &raw); err != nil {
		return nil, fmt.Errorf("create toggl time entry: %w", err)
	}
	created := raw.toModel()
	s.log.Debug("created time entry", zap.String("entry_id", created.ID), zap.String("project_id", projectID))
	return &created, nil
}

func (s *Service) DeleteTimeEntry(ctx context.Context, id string) error {
	if err := s.client.Do(ctx, http.MethodDelete, s.workspacePath("/time_entries/%s", url.PathEscape(id)), nil, nil, nil); err != nil {
		if synced.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete toggl time entry %s: %w", id, err)
	}
	return nil
}

// ExtractRefs matches the entry project by id and every other mapped Toggl
// object by tag name.
func (s *Service) ExtractRefs(entry model.TimeEntry, mappings []model.Mapping) []model.MappingsObject {
	var out []model.MappingsObject
	for _, mapping := range mappings {
		object, _, ok := mapping.ObjectFor(s.name)
		if !ok {
			continue
		}
		if object.Type == model.TypeProject {
			if object.ID == entry.ProjectID {
				out = append(out, synced.OtherServiceObjects(mapping, s.name)...)
			}
			continue
		}
		if slices.Contains(entry.Tags, object.Name) {
			out = append(out, synced.OtherServiceObjects(mapping, s.name)...)
		}
	}
	return out
}

func (e rawTimeEntry) toModel() model.TimeEntry {
	entry := model.TimeEntry{
		ID:          formatID(e.ID),
		Text:        e.Description,
		Start:       e.Start,
		Duration:    time.Duration(e.Duration) * time.Second,
		Tags:        e.Tags,
		LastUpdated: e.At,
	}
	if e.ProjectID != nil {
		entry.ProjectID = formatID(*e.ProjectID)
	}
	if e.Stop != nil {
		entry.End = *e.Stop
	} else {
		entry.End = e.Start.Add(entry.Duration)
	}
	return entry
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
