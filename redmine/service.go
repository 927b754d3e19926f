package redmine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"timer2ticket/internal/timeutil"
	"timer2ticket/model"
	"timer2ticket/synced"
)

// ServiceName is the service definition name handled by this package.
const ServiceName = "Redmine"

const pageSize = 100

// minimumHours is the smallest non-zero amount Redmine accepts.
const minimumHours = 0.01

func init() {
	synced.Register(ServiceName, func(def model.ServiceDefinition, opts synced.Options) (synced.Service, error) {
		return New(def, opts)
	})
}

// Service implements synced.Service against the Redmine REST API.
// Projects, issues and time entry activities are read only.
type Service struct {
	name   string
	config model.ServiceConfig
	client *synced.JSONClient
	log    *zap.Logger
}

func New(def model.ServiceDefinition, opts synced.Options) (*Service, error) {
	if strings.TrimSpace(def.Config.APIPoint) == "" {
		return nil, errors.New("redmine: apiPoint is required")
	}
	if strings.TrimSpace(def.APIKey) == "" {
		return nil, errors.New("redmine: api key is required")
	}

	client, err := synced.NewJSONClient(def.Config.APIPoint, http.Header{"X-Redmine-API-Key": []string{def.APIKey}}, opts.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("redmine: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	name := def.Name
	if name == "" {
		name = ServiceName
	}
	return &Service{name: name, config: def.Config, client: client, log: log}, nil
}

type reference struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type rawProject struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type rawIssue struct {
	ID      int64  `json:"id"`
	Subject string `json:"subject"`
}

type rawTimeEntry struct {
	ID        int64      `json:"id"`
	Project   reference  `json:"project"`
	Issue     *reference `json:"issue"`
	Activity  reference  `json:"activity"`
	Hours     float64    `json:"hours"`
	Comments  string     `json:"comments"`
	SpentOn   string     `json:"spent_on"`
	UpdatedOn time.Time  `json:"updated_on"`
}

type page struct {
	TotalCount int `json:"total_count"`
	Offset     int `json:"offset"`
	Limit      int `json:"limit"`
}

type projectsPage struct {
	page
	Projects []rawProject `json:"projects"`
}

type issuesPage struct {
	page
	Issues []rawIssue `json:"issues"`
}

type timeEntriesPage struct {
	page
	TimeEntries []rawTimeEntry `json:"time_entries"`
}

type activitiesResponse struct {
	TimeEntryActivities []reference `json:"time_entry_activities"`
}

type timeEntryBody struct {
	ProjectID  string  `json:"project_id,omitempty"`
	IssueID    string  `json:"issue_id,omitempty"`
	ActivityID string  `json:"activity_id,omitempty"`
	UserID     string  `json:"user_id,omitempty"`
	Hours      float64 `json:"hours"`
	SpentOn    string  `json:"spent_on"`
	Comments   string  `json:"comments"`
}

type timeEntryEnvelope struct {
	TimeEntry timeEntryBody `json:"time_entry"`
}

type createdTimeEntry struct {
	TimeEntry rawTimeEntry `json:"time_entry"`
}

// paginate calls fetch with growing offsets until total_count items were
// read. fetch returns the page size it received and the reported total.
func paginate(fetch func(query url.Values) (count, total int, err error)) error {
	offset := 0
	for {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(pageSize))
		query.Set("offset", strconv.Itoa(offset))

		count, total, err := fetch(query)
		if err != nil {
			return err
		}
		offset += count
		if count == 0 || offset >= total {
			return nil
		}
	}
}

func (s *Service) ListObjects(ctx context.Context) ([]model.ServiceObject, error) {
	var out []model.ServiceObject

	err := paginate(func(query url.Values) (int, int, error) {
		var resp projectsPage
		if err := s.client.Do(ctx, http.MethodGet, "/projects.json", query, nil, &resp); err != nil {
			return 0, 0, err
		}
		for _, project := range resp.Projects {
			out = append(out, model.ServiceObject{ID: formatID(project.ID), Name: project.Name, Type: model.TypeProject})
		}
		return len(resp.Projects), resp.TotalCount, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list redmine projects: %w", err)
	}

	err = paginate(func(query url.Values) (int, int, error) {
		var resp issuesPage
		if err := s.client.Do(ctx, http.MethodGet, "/issues.json", query, nil, &resp); err != nil {
			return 0, 0, err
		}
		for _, issue := range resp.Issues {
			out = append(out, model.ServiceObject{ID: formatID(issue.ID), Name: issue.Subject, Type: model.TypeIssue})
		}
		return len(resp.Issues), resp.TotalCount, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list redmine issues: %w", err)
	}

	var activities activitiesResponse
	if err := s.client.Do(ctx, http.MethodGet, "/enumerations/time_entry_activities.json", nil, nil, &activities); err != nil {
		return nil, fmt.Errorf("list redmine activities: %w", err)
	}
	for _, activity := range activities.TimeEntryActivities {
		out = append(out, model.ServiceObject{ID: formatID(activity.ID), Name: activity.Name, Type: model.TypeActivity})
	}
	return out, nil
}

func (s *Service) CreateObject(context.Context, string, string, string) (model.ServiceObject, error) {
	return model.ServiceObject{}, fmt.Errorf("redmine create object: %w", synced.ErrUnsupported)
}

func (s *Service) UpdateObject(context.Context, string, model.ServiceObject) (model.ServiceObject, error) {
	return model.ServiceObject{}, fmt.Errorf("redmine update object: %w", synced.ErrUnsupported)
}

func (s *Service) DeleteObject(context.Context, string, string) error {
	return fmt.Errorf("redmine delete object: %w", synced.ErrUnsupported)
}

func (s *Service) FullName(object model.ServiceObject) string {
	return object.Name
}

func (s *Service) ListTimeEntries(ctx context.Context, from, to time.Time) ([]model.TimeEntry, error) {
	var out []model.TimeEntry
	err := paginate(func(query url.Values) (int, int, error) {
		query.Set("from", timeutil.DateString(from))
		query.Set("to", timeutil.DateString(to))

		var resp timeEntriesPage
		if err := s.client.Do(ctx, http.MethodGet, "/time_entries.json", query, nil, &resp); err != nil {
			return 0, 0, err
		}
		for _, raw := range resp.TimeEntries {
			entry, err := raw.toModel()
			if err != nil {
				return 0, 0, err
			}
			out = append(out, entry)
		}
		return len(resp.TimeEntries), resp.TotalCount, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list redmine time entries: %w", err)
	}
	return out, nil
}

// CreateTimeEntry needs a project or an issue reference. A missing activity
// falls back to the configured default activity.
func (s *Service) CreateTimeEntry(ctx context.Context, entry model.NewTimeEntry, refs []model.ServiceObject) (*model.TimeEntry, error) {
	body := timeEntryBody{
		Hours:    roundHours(entry.Duration),
		SpentOn:  timeutil.DateString(entry.Start),
		Comments: entry.Text,
		UserID:   s.config.UserID,
	}
	for _, ref := range refs {
		switch ref.Type {
		case model.TypeProject:
			body.ProjectID = ref.ID
		case model.TypeIssue:
			body.IssueID = ref.ID
		case model.TypeActivity:
			body.ActivityID = ref.ID
		}
	}
	if body.ProjectID == "" && body.IssueID == "" {
		return nil, nil
	}
	if body.ActivityID == "" {
		body.ActivityID = s.config.DefaultTimeEntryActivityID
	}

	var created createdTimeEntry
	if err := s.client.Do(ctx, http.MethodPost, "/time_entries.json", nil, timeEntryEnvelope{TimeEntry: body}, &created); err != nil {
		return nil, fmt.Errorf("create redmine time entry: %w", err)
	}
	result, err := created.TimeEntry.toModel()
	if err != nil {
		return nil, fmt.Errorf("create redmine time entry: %w", err)
	}
	// keep the exact duration, Redmine only stores hours with two decimals
	result.Duration = entry.Duration
	result.End = result.Start.Add(entry.Duration)

	s.log.Debug("created time entry", zap.String("entry_id", result.ID), zap.String("project_id", body.ProjectID), zap.String("issue_id", body.IssueID))
	return &result, nil
}

func (s *Service) DeleteTimeEntry(ctx context.Context, id string) error {
	path := fmt.Sprintf("/time_entries/%s.json", url.PathEscape(id))
	if err := s.client.Do(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
		if synced.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("delete redmine time entry %s: %w", id, err)
	}
	return nil
}

// ExtractRefs matches the entry's project, issue and activity ids against the
// Redmine objects of the mappings.
func (s *Service) ExtractRefs(entry model.TimeEntry, mappings []model.Mapping) []model.MappingsObject {
	var out []model.MappingsObject
	for _, mapping := range mappings {
		object, _, ok := mapping.ObjectFor(s.name)
		if !ok {
			continue
		}
		var matched bool
		switch object.Type {
		case model.TypeProject:
			matched = object.ID == entry.ProjectID
		case model.TypeIssue:
			matched = entry.IssueID != "" && object.ID == entry.IssueID
		case model.TypeActivity:
			matched = entry.ActivityID != "" && object.ID == entry.ActivityID
		}
		if matched {
			out = append(out, synced.OtherServiceObjects(mapping, s.name)...)
		}
	}
	return out
}

func roundHours(duration time.Duration) float64 {
	hours := duration.Hours()
	if hours > 0 && hours < minimumHours {
		return minimumHours
	}
	return hours
}

func (e rawTimeEntry) toModel() (model.TimeEntry, error) {
	start, err := timeutil.ParseDate(e.SpentOn)
	if err != nil {
		return model.TimeEntry{}, fmt.Errorf("time entry %d: parse spent_on %q: %w", e.ID, e.SpentOn, err)
	}
	duration := time.Duration(e.Hours * float64(time.Hour))

	entry := model.TimeEntry{
		ID:          formatID(e.ID),
		ProjectID:   formatID(e.Project.ID),
		Text:        e.Comments,
		Start:       start,
		End:         start.Add(duration),
		Duration:    duration,
		LastUpdated: e.UpdatedOn,
		ActivityID:  formatID(e.Activity.ID),
	}
	if e.Issue != nil {
		entry.IssueID = formatID(e.Issue.ID)
	}
	return entry, nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
