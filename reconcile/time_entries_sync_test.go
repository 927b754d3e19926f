package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timer2ticket/model"
)

func projectMapping(ids map[string]string) model.Mapping {
	mapping := model.Mapping{PrimaryObjectID: ids["Alpha"], PrimaryObjectType: model.TypeProject, Name: "Website"}
	for _, service := range []string{"Alpha", "Beta", "Gamma"} {
		id, ok := ids[service]
		if !ok {
			continue
		}
		mapping.MappingsObjects = append(mapping.MappingsObjects, model.MappingsObject{
			ID: id, Name: "Website", Service: service, Type: model.TypeProject,
		})
	}
	return mapping
}

func newTimeEntriesFixture(t *testing.T, names ...string) (*TimeEntriesSync, map[string]*fakeService, *memoryRepo, model.User) {
	t.Helper()

	services := make(map[string]*fakeService, len(names))
	provider := fakeProvider{}
	for _, name := range names {
		services[name] = newFakeService(name)
		provider[name] = services[name]
	}
	repo := newMemoryRepo()
	job := NewTimeEntriesSync(provider, repo, nil)
	job.now = fixedClock(baseTime.Add(8 * time.Hour))
	return job, services, repo, testUser(names...)
}

func entry(id, projectID, text string, updated time.Time) model.TimeEntry {
	return model.TimeEntry{
		ID:          id,
		ProjectID:   projectID,
		Text:        text,
		Start:       baseTime,
		End:         baseTime.Add(time.Hour),
		Duration:    time.Hour,
		LastUpdated: updated,
	}
}

func TestTimeEntriesSync_SkipsEntriesWithoutMappedProject(t *testing.T) {
	t.Parallel()

	job, services, repo, user := newTimeEntriesFixture(t, "Alpha", "Beta")
	services["Beta"].entries = []model.TimeEntry{entry("b1", "unmapped", "lunch", baseTime)}
	user.Mappings = []model.Mapping{projectMapping(map[string]string{"Alpha": "1", "Beta": "10"})}

	result, err := job.Run(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Empty(t, repo.tesos)
	assert.Empty(t, services["Alpha"].writes())
	assert.Contains(t, repo.entriesDone, "user-1")
}

func TestTimeEntriesSync_CopiesNewEntryAndStoresSyncedObject(t *testing.T) {
	t.Parallel()

	job, services, repo, user := newTimeEntriesFixture(t, "Alpha", "Beta")
	services["Alpha"].entries = []model.TimeEntry{entry("a1", "1", "review", baseTime)}
	user.Mappings = []model.Mapping{projectMapping(map[string]string{"Alpha": "1", "Beta": "10"})}

	result, err := job.Run(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())

	require.Len(t, repo.tesos, 1)
	teso := repo.tesos[0]
	assert.Equal(t, "user-1", teso.UserID)
	assert.Equal(t, []model.ServiceTimeEntryObject{
		{ID: "a1", Service: "Alpha", IsOrigin: true},
		{ID: "Beta-1", Service: "Beta"},
	}, teso.ServiceTimeEntryObjects)

	copied := services["Beta"].entries[0]
	assert.Equal(t, "10", copied.ProjectID)
	assert.Equal(t, "review", copied.Text)
	assert.Equal(t, time.Hour, copied.Duration)
	assert.Equal(t, copied.LastUpdated, teso.LastUpdated)
}

func TestTimeEntriesSync_SecondPassIsQuiet(t *testing.T) {
	t.Parallel()

	job, services, repo, user := newTimeEntriesFixture(t, "Alpha", "Beta")
	services["Alpha"].entries = []model.TimeEntry{entry("a1", "1", "review", baseTime)}
	user.Mappings = []model.Mapping{projectMapping(map[string]string{"Alpha": "1", "Beta": "10"})}

	_, err := job.Run(context.Background(), user)
	require.NoError(t, err)
	writes := len(services["Beta"].writes())

	result, err := job.Run(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Len(t, services["Beta"].writes(), writes)
	assert.Empty(t, services["Alpha"].writes())
	assert.Len(t, repo.tesos, 1)
	assert.Empty(t, repo.updatedTESOs)
}

func TestTimeEntriesSync_FailsWhenNoCopyCouldBeCreated(t *testing.T) {
	t.Parallel()

	job, services, repo, user := newTimeEntriesFixture(t, "Alpha", "Beta")
	services["Alpha"].entries = []model.TimeEntry{entry("a1", "1", "review", baseTime)}
	services["Beta"].createEntryErr = errors.New("beta is down")
	user.Mappings = []model.Mapping{projectMapping(map[string]string{"Alpha": "1", "Beta": "10"})}

	result, err := job.Run(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Len(t, result.Errors, 2)
	assert.Empty(t, repo.tesos)
	assert.NotContains(t, repo.entriesDone, "user-1")
}

func TestTimeEntriesSync_NewestCopyWins(t *testing.T) {
	t.Parallel()

	job, services, repo, user := newTimeEntriesFixture(t, "Alpha", "Beta", "Gamma")
	user.Mappings = []model.Mapping{projectMapping(map[string]string{"Alpha": "1", "Beta": "10", "Gamma": "20"})}

	t1 := baseTime.Add(time.Minute)
	t2 := baseTime.Add(2 * time.Minute)
	t3 := baseTime.Add(3 * time.Minute)
	services["Alpha"].entries = []model.TimeEntry{entry("a1", "1", "first", t1)}
	services["Beta"].entries = []model.TimeEntry{entry("b1", "10", "second", t2)}
	services["Gamma"].entries = []model.TimeEntry{entry("c1", "20", "newest", t3)}
	repo.tesos = []model.TimeEntrySyncedObject{{
		ID:          "teso-a",
		UserID:      "user-1",
		LastUpdated: t1,
		ServiceTimeEntryObjects: []model.ServiceTimeEntryObject{
			{ID: "a1", Service: "Alpha", IsOrigin: true},
			{ID: "b1", Service: "Beta"},
			{ID: "c1", Service: "Gamma"},
		},
	}}

	result, err := job.Run(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())

	assert.Equal(t, []string{"deleteEntry:a1", "createEntry:newest"}, services["Alpha"].writes())
	assert.Equal(t, []string{"deleteEntry:b1", "createEntry:newest"}, services["Beta"].writes())
	assert.Empty(t, services["Gamma"].writes())

	teso, ok := repo.teso("teso-a")
	require.True(t, ok)
	origin, ok := teso.Origin()
	require.True(t, ok)
	assert.Equal(t, "Alpha", origin.Service)
	assert.Equal(t, "Alpha-1", origin.ID)

	beta, ok := teso.MemberFor("Beta")
	require.True(t, ok)
	assert.Equal(t, "Beta-1", beta.ID)
	gamma, ok := teso.MemberFor("Gamma")
	require.True(t, ok)
	assert.Equal(t, "c1", gamma.ID)

	betaCopy := services["Beta"].entries[0]
	assert.Equal(t, "newest", betaCopy.Text)
	assert.Equal(t, betaCopy.LastUpdated, teso.LastUpdated)
}

func TestTimeEntriesSync_FailedStaleDeleteKeepsCopy(t *testing.T) {
	t.Parallel()

	job, services, repo, user := newTimeEntriesFixture(t, "Alpha", "Beta")
	user.Mappings = []model.Mapping{projectMapping(map[string]string{"Alpha": "1", "Beta": "10"})}
	services["Alpha"].entries = []model.TimeEntry{entry("a1", "1", "edited", baseTime.Add(2*time.Minute))}
	services["Beta"].entries = []model.TimeEntry{entry("b1", "10", "old", baseTime)}
	services["Beta"].deleteErr["b1"] = errors.New("locked")
	repo.tesos = []model.TimeEntrySyncedObject{{
		ID: "teso-a", UserID: "user-1", LastUpdated: baseTime,
		ServiceTimeEntryObjects: []model.ServiceTimeEntryObject{
			{ID: "a1", Service: "Alpha", IsOrigin: true},
			{ID: "b1", Service: "Beta"},
		},
	}}

	result, err := job.Run(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, []string{"deleteEntry:b1"}, services["Beta"].writes())
	assert.Empty(t, repo.updatedTESOs)
}

func TestTimeEntriesSync_RecreatesMissingCopy(t *testing.T) {
	t.Parallel()

	job, services, repo, user := newTimeEntriesFixture(t, "Alpha", "Beta")
	user.Mappings = []model.Mapping{projectMapping(map[string]string{"Alpha": "1", "Beta": "10"})}
	services["Alpha"].entries = []model.TimeEntry{entry("a1", "1", "review", baseTime)}
	repo.tesos = []model.TimeEntrySyncedObject{{
		ID: "teso-a", UserID: "user-1", LastUpdated: baseTime,
		ServiceTimeEntryObjects: []model.ServiceTimeEntryObject{
			{ID: "a1", Service: "Alpha", IsOrigin: true},
			{ID: "b-deleted", Service: "Beta"},
		},
	}}

	result, err := job.Run(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, []string{"createEntry:review"}, services["Beta"].writes())

	teso, _ := repo.teso("teso-a")
	beta, ok := teso.MemberFor("Beta")
	require.True(t, ok)
	assert.Equal(t, "Beta-1", beta.ID)
	assert.False(t, beta.IsOrigin)
	assert.Equal(t, []string{"teso-a"}, repo.updatedTESOs)
}

func TestTimeEntriesSync_AddsCopyForNewService(t *testing.T) {
	t.Parallel()

	job, services, repo, user := newTimeEntriesFixture(t, "Alpha", "Beta", "Gamma")
	user.Mappings = []model.Mapping{projectMapping(map[string]string{"Alpha": "1", "Beta": "10", "Gamma": "20"})}
	services["Alpha"].entries = []model.TimeEntry{entry("a1", "1", "review", baseTime)}
	services["Beta"].entries = []model.TimeEntry{entry("b1", "10", "review", baseTime)}
	repo.tesos = []model.TimeEntrySyncedObject{{
		ID: "teso-a", UserID: "user-1", LastUpdated: baseTime,
		ServiceTimeEntryObjects: []model.ServiceTimeEntryObject{
			{ID: "a1", Service: "Alpha", IsOrigin: true},
			{ID: "b1", Service: "Beta"},
		},
	}}

	result, err := job.Run(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, []string{"createEntry:review"}, services["Gamma"].writes())

	teso, _ := repo.teso("teso-a")
	assert.Len(t, teso.ServiceTimeEntryObjects, 3)
	gamma, ok := teso.MemberFor("Gamma")
	require.True(t, ok)
	assert.Equal(t, "Gamma-1", gamma.ID)
}

func TestTimeEntriesSync_OriginDeletionRemovesCopies(t *testing.T) {
	t.Parallel()

	job, services, repo, user := newTimeEntriesFixture(t, "Alpha", "Beta")
	user.Mappings = []model.Mapping{projectMapping(map[string]string{"Alpha": "1", "Beta": "10"})}
	services["Beta"].entries = []model.TimeEntry{entry("b1", "10", "review", baseTime)}
	repo.tesos = []model.TimeEntrySyncedObject{{
		ID: "teso-a", UserID: "user-1", LastUpdated: baseTime,
		ServiceTimeEntryObjects: []model.ServiceTimeEntryObject{
			{ID: "a1", Service: "Alpha", IsOrigin: true},
			{ID: "b1", Service: "Beta"},
		},
	}}

	result, err := job.Run(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, []string{"deleteEntry:b1"}, services["Beta"].writes())
	assert.Equal(t, []string{"teso-a"}, repo.deletedTESOs)
	assert.Empty(t, repo.tesos)
}

func TestTimeEntriesSync_PartialOriginDeletionKeepsSyncedObject(t *testing.T) {
	t.Parallel()

	job, services, repo, user := newTimeEntriesFixture(t, "Alpha", "Beta", "Gamma")
	user.Mappings = []model.Mapping{projectMapping(map[string]string{"Alpha": "1", "Beta": "10", "Gamma": "20"})}
	services["Beta"].entries = []model.TimeEntry{entry("b1", "10", "review", baseTime)}
	services["Gamma"].entries = []model.TimeEntry{entry("c1", "20", "review", baseTime)}
	services["Gamma"].deleteErr["c1"] = errors.New("forbidden")
	repo.tesos = []model.TimeEntrySyncedObject{{
		ID: "teso-a", UserID: "user-1", LastUpdated: baseTime,
		ServiceTimeEntryObjects: []model.ServiceTimeEntryObject{
			{ID: "a1", Service: "Alpha", IsOrigin: true},
			{ID: "b1", Service: "Beta"},
			{ID: "c1", Service: "Gamma"},
		},
	}}

	result, err := job.Run(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, []string{"deleteEntry:b1"}, services["Beta"].writes())
	assert.Empty(t, repo.deletedTESOs)
	assert.Len(t, repo.tesos, 1)
}

func TestTimeEntriesSync_IgnoresSyncedObjectsOutsideWindow(t *testing.T) {
	t.Parallel()

	job, services, repo, user := newTimeEntriesFixture(t, "Alpha", "Beta")
	user.Mappings = []model.Mapping{projectMapping(map[string]string{"Alpha": "1", "Beta": "10"})}
	repo.tesos = []model.TimeEntrySyncedObject{{
		ID: "teso-old", UserID: "user-1", LastUpdated: user.Registrated.AddDate(0, 0, -2),
		ServiceTimeEntryObjects: []model.ServiceTimeEntryObject{
			{ID: "a0", Service: "Alpha", IsOrigin: true},
			{ID: "b0", Service: "Beta"},
		},
	}}

	result, err := job.Run(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Empty(t, services["Beta"].writes())
	assert.Empty(t, repo.deletedTESOs)
}

func TestTimeEntriesSync_FailedOriginRecreateMovesOrigin(t *testing.T) {
	t.Parallel()

	job, services, repo, user := newTimeEntriesFixture(t, "Alpha", "Beta")
	user.Mappings = []model.Mapping{projectMapping(map[string]string{"Alpha": "1", "Beta": "10"})}
	services["Alpha"].entries = []model.TimeEntry{entry("a1", "1", "review", baseTime)}
	services["Beta"].entries = []model.TimeEntry{entry("b1", "10", "edited", baseTime.Add(5*time.Minute))}
	services["Alpha"].createEntryErr = errors.New("alpha is down")
	repo.tesos = []model.TimeEntrySyncedObject{{
		ID: "teso-a", UserID: "user-1", LastUpdated: baseTime,
		ServiceTimeEntryObjects: []model.ServiceTimeEntryObject{
			{ID: "a1", Service: "Alpha", IsOrigin: true},
			{ID: "b1", Service: "Beta"},
		},
	}}

	result, err := job.Run(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Equal(t, []string{"deleteEntry:a1", "createEntry:edited"}, services["Alpha"].writes())

	teso, ok := repo.teso("teso-a")
	require.True(t, ok)
	origin, ok := teso.Origin()
	require.True(t, ok)
	assert.Equal(t, "Beta", origin.Service)
	assert.Equal(t, "b1", origin.ID)

	services["Alpha"].createEntryErr = nil
	services["Alpha"].calls = nil

	result, err = job.Run(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, []string{"createEntry:edited"}, services["Alpha"].writes())
	assert.Empty(t, services["Beta"].writes())
	require.Len(t, services["Beta"].entries, 1)
	assert.Equal(t, "edited", services["Beta"].entries[0].Text)
	assert.Empty(t, repo.deletedTESOs)

	teso, ok = repo.teso("teso-a")
	require.True(t, ok)
	alpha, ok := teso.MemberFor("Alpha")
	require.True(t, ok)
	assert.Equal(t, "Alpha-1", alpha.ID)
	assert.False(t, alpha.IsOrigin)
	origin, _ = teso.Origin()
	assert.Equal(t, "Beta", origin.Service)
}
